package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"feedsync/internal/config"
)

// Open connects the backend selected by database.driver and applies the schema
// when database.auto_migrate is set.
func Open(ctx context.Context, cfg config.DatabaseConfig, loc *time.Location) (Backend, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		var pool *pgxpool.Pool
		pool, err = NewPool(ctx, cfg)
		if err == nil {
			backend = NewPostgres(pool, loc)
		}
	case config.DriverSQLite, config.DriverLibSQL:
		var db *SQLite
		db, err = OpenSQLite(cfg.Driver, cfg.DSN, loc)
		if err == nil {
			if cfg.MaxOpenConns > 0 && cfg.Driver == config.DriverLibSQL {
				db.db.SetMaxOpenConns(cfg.MaxOpenConns)
			}
			backend = db
		}
	default:
		err = fmt.Errorf("unsupported database.driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := backend.Migrate(ctx); err != nil {
			_ = backend.Close()
			return nil, err
		}
	}
	return backend, nil
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
