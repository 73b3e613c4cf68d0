// Package postgres provides the PostgreSQL stats sink using pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cory-johannsen/matchrelay/internal/config"
)

// ErrSchemaMissing is returned by EnsureSchema when a stats table is absent.
var ErrSchemaMissing = errors.New("stats schema missing")

// statsTables are the tables the stats repository writes to.
var statsTables = []string{"match_sessions", "match_rooms", "match_runs"}

// Pool wraps a pgx connection pool with health-check and lifecycle methods.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool creates a new PostgreSQL connection pool from the given configuration.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a connected Pool or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &Pool{pool: pool}, nil
}

// EnsureSchema checks that the stats migrations have been applied.
//
// Postcondition: Returns an error wrapping ErrSchemaMissing naming the first
// absent table, or nil when every stats table exists.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	for _, table := range statsTables {
		var found bool
		if err := p.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&found); err != nil {
			return fmt.Errorf("checking table %s: %w", table, err)
		}
		if !found {
			return fmt.Errorf("%w: table %s (run cmd/migrate)", ErrSchemaMissing, table)
		}
	}
	return nil
}

// Health checks that the database is reachable within the given timeout.
//
// Precondition: The pool must not be closed.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Monitor pings the database every interval until ctx is done, logging
// failures and pool statistics.
//
// Precondition: interval and timeout must be > 0.
func (p *Pool) Monitor(ctx context.Context, interval, timeout time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Health(ctx, timeout); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("database health check failed", zap.Error(err))
				continue
			}
			st := p.pool.Stat()
			logger.Debug("database healthy",
				zap.Int32("total_conns", st.TotalConns()),
				zap.Int32("idle_conns", st.IdleConns()),
				zap.Int64("acquires", st.AcquireCount()),
			)
		}
	}
}

// Close releases all pool resources.
//
// Postcondition: The pool is no longer usable after calling Close.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool for use by repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
