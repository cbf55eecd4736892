package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions configures NewPool.
type PoolOptions struct {
	URL      string
	MaxConns int32
	MinConns int32
	// SearchPath pins every connection to a schema so background jobs that
	// never pass through the tenant middleware still resolve tenant tables.
	SearchPath string
	// AppName is reported in pg_stat_activity.
	AppName string
	// StatementTimeout bounds every statement; verification rule SQL is
	// operator supplied and must not run unbounded. Zero leaves the server
	// default in place.
	StatementTimeout time.Duration
}

// NewPool opens and pings a pgx pool.
func NewPool(ctx context.Context, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	params := cfg.ConnConfig.RuntimeParams
	if opts.SearchPath != "" {
		params["search_path"] = opts.SearchPath
	}
	if opts.AppName != "" {
		params["application_name"] = opts.AppName
	}
	if opts.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(opts.StatementTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
