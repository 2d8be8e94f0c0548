// Package postgres provides the Postgres-backed store for service requests.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/citydata/nyc311/internal/nyc311"
)

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the slice of pgxpool.Pool the store depends on; pgxmock
// satisfies it in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
	Close()
}

// Store reads and writes the service_requests table.
type Store struct {
	pool querier
}

// NewStore connects a pool using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
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
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database reachability (used by the readiness endpoint).
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// The schema is applied inline by the loader; there is deliberately no
// migration tooling around a single table.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS service_requests (
	unique_key     BIGINT PRIMARY KEY,
	created_date   TIMESTAMP,
	closed_date    TIMESTAMP,
	agency         VARCHAR(32),
	complaint_type TEXT,
	descriptor     TEXT,
	borough        TEXT NOT NULL DEFAULT 'UNKNOWN',
	latitude       NUMERIC(9,6),
	longitude      NUMERIC(9,6)
)`,
	`CREATE INDEX IF NOT EXISTS idx_service_requests_created_date ON service_requests (created_date)`,
	`CREATE INDEX IF NOT EXISTS idx_service_requests_borough ON service_requests (borough)`,
	`CREATE INDEX IF NOT EXISTS idx_service_requests_agency ON service_requests (agency)`,
	`CREATE INDEX IF NOT EXISTS idx_service_requests_created_borough ON service_requests (created_date, borough)`,
}

// EnsureSchema creates the table and its indexes if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const upsertSQL = `
INSERT INTO service_requests (
	unique_key,
	created_date,
	closed_date,
	agency,
	complaint_type,
	descriptor,
	borough,
	latitude,
	longitude
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (unique_key) DO UPDATE SET
	created_date   = EXCLUDED.created_date,
	closed_date    = EXCLUDED.closed_date,
	agency         = EXCLUDED.agency,
	complaint_type = EXCLUDED.complaint_type,
	descriptor     = EXCLUDED.descriptor,
	borough        = EXCLUDED.borough,
	latitude       = EXCLUDED.latitude,
	longitude      = EXCLUDED.longitude`

// buildUpsertBatch queues one whole-row upsert per request. Every column is
// overwritten on conflict: a re-load replaces the row, it never merges.
func buildUpsertBatch(requests []nyc311.ServiceRequest) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, r := range requests {
		batch.Queue(upsertSQL,
			r.ID,
			r.CreatedAt,
			r.ClosedAt,
			r.Agency,
			r.ComplaintType,
			r.Descriptor,
			r.Borough,
			r.Latitude,
			r.Longitude,
		)
	}
	return batch
}

// UpsertBatch writes one batch of cleaned rows in a single round trip.
// Any statement failure aborts the batch and surfaces to the caller; the
// loader treats that as fatal for the run.
func (s *Store) UpsertBatch(ctx context.Context, requests []nyc311.ServiceRequest) error {
	if len(requests) == 0 {
		return nil
	}
	br := s.pool.SendBatch(ctx, buildUpsertBatch(requests))
	for range requests {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("upsert service request: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close upsert batch: %w", err)
	}
	return nil
}
