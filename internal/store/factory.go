package store

import (
	"context"
	"fmt"

	"github.com/faexperts/fawizard/internal/config"
)

// New creates a Store based on the configured storage driver.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DSN)
	case "sqlite", "":
		return NewSQLite(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}
