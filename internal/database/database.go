// Package database opens the PostgreSQL pool and applies the embedded schema
// migrations.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// scheme
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate brings the schema up to the latest embedded version.
func Migrate(ctx context.Context, dsn string, log *slog.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create source instance: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, MigrateURL(dsn))
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	upErr := m.Up()
	version, dirty, verErr := m.Version()
	fields := []any{}
	if verErr == nil {
		fields = append(fields, "version", version, "dirty", dirty)
	} else if !errors.Is(verErr, migrate.ErrNilVersion) {
		log.WarnContext(ctx, "failed to fetch migration version", "error", verErr)
	}
	if upErr != nil {
		if !errors.Is(upErr, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", upErr)
		}
		log.InfoContext(ctx, "no migrations to apply", fields...)
		return nil
	}
	log.InfoContext(ctx, "database migrated", fields...)
	return nil
}

// MigrateURL rewrites a postgres:// DSN for the pgx/v5 migrate driver.
func MigrateURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}
