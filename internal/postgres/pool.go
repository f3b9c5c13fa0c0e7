// Package postgres opens instrumented pgx connection pools.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultSlowQuery is the duration above which successful queries are logged.
const DefaultSlowQuery = 250 * time.Millisecond

// PoolOptions tunes the pool and its query tracer.
type PoolOptions struct {
	MaxConns  int32
	SlowQuery time.Duration
	Observer  QueryObserver
}

// NewPool parses databaseURL, attaches the otelpgx tracer wrapped with query
// logging, connects and pings.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	slow := opts.SlowQuery
	if slow == 0 {
		slow = DefaultSlowQuery
	}
	cfg.ConnConfig.Tracer = newQueryTracer(otelpgx.NewTracer(), slow, opts.Observer)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// NewQueryHistogram registers sift_db_query_duration_seconds on reg and
// returns an observer feeding it.
func NewQueryHistogram(reg prometheus.Registerer) QueryObserver {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sift_db_query_duration_seconds",
		Help:    "Duration of database queries by operation and outcome.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"operation", "outcome"})
	reg.MustRegister(h)
	return func(operation, outcome string, dur time.Duration) {
		h.WithLabelValues(operation, outcome).Observe(dur.Seconds())
	}
}
