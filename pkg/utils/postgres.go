package utils

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// PostgresPoolConfig sizes the catalog connection pool. Catalog reads sit
// behind a cache, so the defaults are small.
type PostgresPoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration

	// ApplicationName shows up in pg_stat_activity.
	ApplicationName string
	// ReadOnly makes every session default to read-only transactions.
	ReadOnly bool
}

func (c PostgresPoolConfig) withDefaults() PostgresPoolConfig {
	out := c
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = 10
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = 5
	}
	if out.MaxIdleConns > out.MaxOpenConns {
		out.MaxIdleConns = out.MaxOpenConns
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 3 * time.Second
	}
	if out.ApplicationName == "" {
		out.ApplicationName = "voiceagent-lbs"
	}
	return out
}

// OpenPostgres parses dsn with pgx and returns a database/sql pool on the pgx
// stdlib driver.
// dsn must not be logged; it contains secrets.
func OpenPostgres(ctx context.Context, dsn string, pool PostgresPoolConfig) (*sql.DB, error) {
	pool = pool.withDefaults()

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		// pgx redacts the password from parse errors.
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.RuntimeParams["application_name"] = pool.ApplicationName
	if pool.ReadOnly {
		cfg.RuntimeParams["default_transaction_read_only"] = "on"
	}

	db := stdlib.OpenDB(*cfg)
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := HealthCheck(ctx, db, pool.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// HealthCheck pings the DB with a timeout.
func HealthCheck(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("db ping failed: %w", err)
	}
	return nil
}

// TxFunc is the unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// ReadTx runs fn in a read-only repeatable-read transaction, so every query
// in fn sees the same snapshot. The transaction is always rolled back; there
// is nothing to commit. A panic in fn is re-thrown after the rollback.
func ReadTx(ctx context.Context, db *sql.DB, fn TxFunc) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("db begin failed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(ctx, tx)
}
