package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, verifies the connection and makes sure the
// schema exists. Any failure here is a startup failure.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("POSTGRES_URL is not set")
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse POSTGRES_URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		external_id TEXT,
		meta_id TEXT,
		conversation_id TEXT NOT NULL,
		counterpart_phone TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL,
		body TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('incoming', 'outgoing')),
		delivery_state TEXT NOT NULL DEFAULT 'sent'
			CHECK (delivery_state IN ('sent', 'delivered', 'read', 'failed')),
		sender_address TEXT,
		recipient_address TEXT,
		content_kind TEXT NOT NULL DEFAULT 'text',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		raw_origin JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS messages_external_id_key
		ON messages (external_id) WHERE external_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS messages_meta_id_idx ON messages (meta_id)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		conversation_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		phone TEXT,
		avatar_ref TEXT,
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		is_online BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type scanner interface {
	Scan(dest ...any) error
}
