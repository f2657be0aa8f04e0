package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postline/cmd/internal/pgschema"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrNoDatabase is returned by Migrate when no database URL is configured.
var ErrNoDatabase = errors.New("app: database url not configured")

// NewDBPool builds a pgxpool and validates connectivity. It does not migrate.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: parse database url: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 && cfg.DBMinConns <= pcfg.MaxConns {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: database unreachable: %w", err)
	}
	return pool, nil
}

// PingDB checks that a connection can be acquired within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}

// Migrate applies the embedded schema to the configured database.
func Migrate(ctx context.Context, cfg Config, log zerolog.Logger) error {
	if cfg.DatabaseURL == "" {
		return ErrNoDatabase
	}
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pgschema.Apply(ctx, pool, cfg.DBSchema); err != nil {
		return err
	}
	log.Info().Str("schema", cfg.DBSchema).Msg("db.migrate.ok")
	return nil
}
