package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
)

const messageColumns = `id, external_id, meta_id, conversation_id, counterpart_phone,
	display_name, body, direction, delivery_state, sender_address,
	recipient_address, content_kind, created_at, updated_at, raw_origin`

// matchByKey selects the single best row for a text[] of candidate ids
// in $1: externalId matches first (in candidate order), then metaId.
const matchByKey = `
	SELECT id FROM messages
	WHERE external_id = ANY($1::text[]) OR meta_id = ANY($1::text[])
	ORDER BY CASE
		WHEN external_id = ANY($1::text[]) THEN array_position($1::text[], external_id)
		ELSE cardinality($1::text[]) + array_position($1::text[], meta_id)
	END, id
	LIMIT 1`

func scanMessage(row scanner) (model.Message, error) {
	var (
		m                  model.Message
		externalID, metaID *string
		sender, recipient  *string
		direction, state   string
		raw                []byte
	)
	if err := row.Scan(
		&m.ID,
		&externalID,
		&metaID,
		&m.ConversationID,
		&m.CounterpartPhone,
		&m.DisplayName,
		&m.Body,
		&direction,
		&state,
		&sender,
		&recipient,
		&m.ContentKind,
		&m.CreatedAt,
		&m.UpdatedAt,
		&raw,
	); err != nil {
		return model.Message{}, err
	}

	m.ExternalID = deref(externalID)
	m.MetaID = deref(metaID)
	m.SenderAddress = deref(sender)
	m.RecipientAddress = deref(recipient)
	m.Direction = model.Direction(direction)
	m.DeliveryState = model.DeliveryState(state)
	if len(raw) > 0 {
		m.RawOrigin = json.RawMessage(raw)
	}
	return m, nil
}

func rawOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte(`{}`)
	}
	return raw
}

func (s *PostgresStore) FindMessage(ctx context.Context, key model.LookupKey) (model.Message, error) {
	cands := key.Candidates()
	if len(cands) == 0 {
		return model.Message{}, ErrNotFound
	}

	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = (`+matchByKey+`)`, cands))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m *model.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.DeliveryState == "" {
		m.DeliveryState = model.Sent
	}
	if m.ContentKind == "" {
		m.ContentKind = model.DefaultContentKind
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (
			external_id, meta_id, conversation_id, counterpart_phone, display_name,
			body, direction, delivery_state, sender_address, recipient_address,
			content_kind, created_at, raw_origin
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, updated_at
	`,
		nullable(m.ExternalID),
		nullable(m.MetaID),
		m.ConversationID,
		m.CounterpartPhone,
		m.DisplayName,
		m.Body,
		string(m.Direction),
		string(m.DeliveryState),
		nullable(m.SenderAddress),
		nullable(m.RecipientAddress),
		m.ContentKind,
		m.CreatedAt,
		rawOrEmpty(m.RawOrigin),
	).Scan(&m.ID, &m.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) ReplaceMessage(ctx context.Context, id int64, m model.Message) (model.Message, error) {
	out, err := scanMessage(s.pool.QueryRow(ctx, `
		UPDATE messages
		SET external_id = COALESCE($2, external_id),
		    meta_id = COALESCE($3, meta_id),
		    conversation_id = $4,
		    counterpart_phone = $5,
		    display_name = $6,
		    body = $7,
		    direction = $8,
		    delivery_state = $9,
		    sender_address = $10,
		    recipient_address = $11,
		    content_kind = $12,
		    created_at = COALESCE($13, created_at),
		    raw_origin = $14,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+messageColumns,
		id,
		nullable(m.ExternalID),
		nullable(m.MetaID),
		m.ConversationID,
		m.CounterpartPhone,
		m.DisplayName,
		m.Body,
		string(m.Direction),
		string(m.DeliveryState),
		nullable(m.SenderAddress),
		nullable(m.RecipientAddress),
		m.ContentKind,
		nullableTime(m.CreatedAt),
		rawOrEmpty(m.RawOrigin),
	))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return model.Message{}, ErrNotFound
	case isUniqueViolation(err):
		return model.Message{}, ErrDuplicate
	}
	return out, err
}

func (s *PostgresStore) SetDeliveryState(ctx context.Context, key model.LookupKey, state model.DeliveryState, note model.StatusAnnotation) (model.Message, error) {
	cands := key.Candidates()
	if len(cands) == 0 {
		return model.Message{}, ErrNotFound
	}

	b, err := json.Marshal(note)
	if err != nil {
		return model.Message{}, err
	}

	m, err := scanMessage(s.pool.QueryRow(ctx, `
		UPDATE messages
		SET delivery_state = $2,
		    raw_origin = jsonb_set(
		        raw_origin,
		        '{statusUpdates}',
		        COALESCE(raw_origin->'statusUpdates', '[]'::jsonb) || jsonb_build_array($3::jsonb)
		    ),
		    updated_at = now()
		WHERE id = (`+matchByKey+`)
		RETURNING `+messageColumns,
		cands, string(state), b,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET delivery_state = 'read', updated_at = now()
		WHERE conversation_id = $1
		  AND direction = 'incoming'
		  AND delivery_state <> 'read'
	`, conversationID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, f MessageFilter) ([]model.Message, error) {
	var limit any
	if f.Limit > 0 {
		limit = f.Limit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE $1::text = '' OR conversation_id = $1::text
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, f.ConversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (model.Stats, error) {
	st := model.Stats{
		ByDirection: make(map[model.Direction]int64),
		ByState:     make(map[model.DeliveryState]int64),
	}

	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM messages`).Scan(&st.Messages); err != nil {
		return model.Stats{}, err
	}
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM contacts`).Scan(&st.Contacts); err != nil {
		return model.Stats{}, err
	}

	if err := s.groupCount(ctx, "direction", func(k string, n int64) {
		st.ByDirection[model.Direction(k)] = n
	}); err != nil {
		return model.Stats{}, err
	}
	if err := s.groupCount(ctx, "delivery_state", func(k string, n int64) {
		st.ByState[model.DeliveryState(k)] = n
	}); err != nil {
		return model.Stats{}, err
	}
	return st, nil
}

// groupCount runs a count grouped by one of a fixed set of columns.
func (s *PostgresStore) groupCount(ctx context.Context, column string, fn func(string, int64)) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgx.Identifier{column}.Sanitize()+`, count(*) FROM messages GROUP BY 1`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			k string
			n int64
		)
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		fn(k, n)
	}
	return rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
