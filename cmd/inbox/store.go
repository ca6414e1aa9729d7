package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LeventeLantos/webhook-inbox/internal/config"
	"github.com/LeventeLantos/webhook-inbox/internal/repo"
)

func openStore(ctx context.Context, cfg config.StoreConfig) (repo.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		slog.Warn("using in-memory store; data is lost on exit")
		return repo.NewMemoryStore(), nil
	case config.BackendPostgres:
		st, err := repo.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
