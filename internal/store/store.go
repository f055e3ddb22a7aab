// Package store implements the PostgreSQL persistence layer: metric rows,
// domain entities, evaluated site conditions, tenant configuration, and
// the published-ranking ledger.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/worksafe/risk-engine/internal/config"
	"github.com/worksafe/risk-engine/internal/db"
)

// Store bundles the per-concern stores over one connection pool.
type Store struct {
	pool    db.Pool
	closeFn func()

	Metrics        *Metrics
	Entities       *Entities
	SiteConditions *SiteConditions
	Tenants        *TenantLoader
	Rankings       *Rankings
}

// NewPostgres opens a pool against the configured database and wires the
// per-concern stores over it.
func NewPostgres(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if cfg.MaxConns > 0 {
		maxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		minConns = cfg.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	s := NewWithPool(pool)
	s.closeFn = pool.Close
	return s, nil
}

// NewWithPool wires the stores over an existing pool. Used by tests with
// pgxmock.
func NewWithPool(pool db.Pool) *Store {
	return &Store{
		pool:           pool,
		Metrics:        &Metrics{pool: pool},
		Entities:       &Entities{pool: pool},
		SiteConditions: &SiteConditions{pool: pool},
		Tenants:        &TenantLoader{pool: pool},
		Rankings:       &Rankings{pool: pool},
	}
}

// Pool exposes the underlying pool for subsystems needing direct access.
func (s *Store) Pool() db.Pool {
	return s.pool
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *Store) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
