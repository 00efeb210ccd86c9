// Package db provides the PostgreSQL stores job handlers write to. All
// repositories accept a DBTX so the same code runs on a *pgxpool.Pool or
// inside a pgx.Tx.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobboard/internal/config"
	"jobboard/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens the shared pool once at process start and verifies it with
// a ping bounded by AcquireTimeout. Handlers reuse the pool; there is no
// per-job connect.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "invalid DATABASE_URL", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create connection pool", err)
	}

	pingCtx := ctx
	if cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.AcquireTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("database unreachable at %s", poolCfg.ConnConfig.Host), err)
	}
	return pool, nil
}

// Schema creates the tables owned by the workers. The applications table
// belongs to the web application and is only read.
const Schema = `
CREATE TABLE IF NOT EXISTS assessment_results (
	assessment_id TEXT        NOT NULL,
	user_id       TEXT        NOT NULL,
	score         INTEGER     NOT NULL,
	correct       INTEGER     NOT NULL,
	total         INTEGER     NOT NULL,
	job_id        TEXT        NOT NULL,
	scored_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (assessment_id, user_id)
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	user_id    TEXT        NOT NULL,
	title      TEXT        NOT NULL,
	message    TEXT        NOT NULL,
	type       TEXT        NOT NULL DEFAULT '',
	link       TEXT        NOT NULL DEFAULT '',
	read_at    TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS notifications_user_created_idx ON notifications (user_id, created_at DESC);
`

// EnsureSchema applies Schema. Every statement is idempotent.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply schema", err)
	}
	return nil
}
