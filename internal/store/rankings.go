package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/worksafe/risk-engine/internal/db"
	"github.com/worksafe/risk-engine/internal/model"
)

// PublishedRanking is one (entity, date, level) ranking as last delivered
// to a tenant's webhook. The publisher diffs fresh rankings against these
// rows so unchanged entities are not re-sent.
type PublishedRanking struct {
	TenantID    uuid.UUID
	Level       string
	EntityID    uuid.UUID
	Date        time.Time
	Ranking     string
	PublishedAt time.Time
}

// Key identifies a published ranking within a tenant.
func (p PublishedRanking) Key() string {
	return p.Level + "/" + p.EntityID.String() + "/" + p.Date.Format("2006-01-02")
}

// Rankings persists the published-ranking ledger.
type Rankings struct {
	pool db.Pool
}

// LastPublished returns the ledger for a tenant keyed by Key().
func (r *Rankings) LastPublished(ctx context.Context, tenantID uuid.UUID) (map[string]PublishedRanking, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT tenant_id, level, entity_id, date, ranking, published_at
		 FROM last_published_rankings WHERE tenant_id = $1`,
		tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "rankings: last published for tenant %s", tenantID)
	}
	defer rows.Close()

	result := make(map[string]PublishedRanking)
	for rows.Next() {
		var p PublishedRanking
		if err := rows.Scan(&p.TenantID, &p.Level, &p.EntityID, &p.Date, &p.Ranking, &p.PublishedAt); err != nil {
			return nil, eris.Wrap(err, "rankings: scan published ranking")
		}
		p.Date = p.Date.UTC()
		result[p.Key()] = p
	}
	return result, eris.Wrap(rows.Err(), "rankings: last published iterate")
}

// MarkPublished upserts the ledger rows for a successful delivery, all in
// one transaction so a crashed publish never records a partial batch.
func (r *Rankings) MarkPublished(ctx context.Context, published []PublishedRanking) error {
	if len(published) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "rankings: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, p := range published {
		_, err := tx.Exec(ctx,
			`INSERT INTO last_published_rankings (tenant_id, level, entity_id, date, ranking, published_at)
			 VALUES ($1, $2, $3, $4, $5, now())
			 ON CONFLICT (tenant_id, level, entity_id, date) DO UPDATE SET ranking = $5, published_at = now()`,
			p.TenantID, p.Level, p.EntityID, model.DateOnly(p.Date), p.Ranking)
		if err != nil {
			return eris.Wrapf(err, "rankings: upsert published ranking %s", p.Key())
		}
	}

	return eris.Wrap(tx.Commit(ctx), "rankings: commit")
}
