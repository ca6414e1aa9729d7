package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
)

const contactColumns = `conversation_id, display_name, phone, avatar_ref, last_seen_at, is_online`

func scanContact(row scanner) (model.Contact, error) {
	var (
		c     model.Contact
		phone *string
	)
	if err := row.Scan(&c.ConversationID, &c.DisplayName, &phone, &c.AvatarRef, &c.LastSeenAt, &c.IsOnline); err != nil {
		return model.Contact{}, err
	}
	c.Phone = deref(phone)
	return c, nil
}

func lastSeen(c model.Contact) time.Time {
	if c.LastSeenAt.IsZero() {
		return time.Now().UTC()
	}
	return c.LastSeenAt
}

func (s *PostgresStore) GetContact(ctx context.Context, conversationID string) (model.Contact, error) {
	c, err := scanContact(s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE conversation_id = $1`, conversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Contact{}, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) UpsertContact(ctx context.Context, c model.Contact) (model.Contact, error) {
	return scanContact(s.pool.QueryRow(ctx, `
		INSERT INTO contacts (conversation_id, display_name, phone, avatar_ref, last_seen_at, is_online)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (conversation_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    phone = EXCLUDED.phone,
		    avatar_ref = COALESCE(EXCLUDED.avatar_ref, contacts.avatar_ref),
		    last_seen_at = EXCLUDED.last_seen_at,
		    is_online = contacts.is_online OR EXCLUDED.is_online,
		    updated_at = now()
		RETURNING `+contactColumns,
		c.ConversationID, c.DisplayName, nullable(c.Phone), c.AvatarRef, lastSeen(c), c.IsOnline,
	))
}

func (s *PostgresStore) EnsureContact(ctx context.Context, c model.Contact) (model.Contact, error) {
	return scanContact(s.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO contacts (conversation_id, display_name, phone, avatar_ref, last_seen_at, is_online)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (conversation_id) DO NOTHING
			RETURNING `+contactColumns+`
		)
		SELECT `+contactColumns+` FROM ins
		UNION ALL
		SELECT `+contactColumns+` FROM contacts WHERE conversation_id = $1
		LIMIT 1
	`,
		c.ConversationID, c.DisplayName, nullable(c.Phone), c.AvatarRef, lastSeen(c), c.IsOnline,
	))
}

func (s *PostgresStore) ListContacts(ctx context.Context) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contactColumns+` FROM contacts ORDER BY last_seen_at DESC, conversation_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
