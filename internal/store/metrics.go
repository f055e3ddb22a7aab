package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/worksafe/risk-engine/internal/db"
	"github.com/worksafe/risk-engine/internal/metrics"
)

// Metrics persists metric rows. Each kind gets its own append-only table
// named after the kind; calculated_at is assigned server-side so row order
// is decided by the database clock, not by racing writers.
type Metrics struct {
	pool db.Pool
}

var _ metrics.MetricStore = (*Metrics)(nil)

func (m *Metrics) Store(ctx context.Context, row metrics.Row) error {
	var inputsJSON []byte
	if row.Inputs != nil {
		var err error
		inputsJSON, err = json.Marshal(row.Inputs)
		if err != nil {
			return eris.Wrapf(err, "metrics: marshal inputs for %s", row.Kind)
		}
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (id, tenant_id, entity_id, date, value, inputs) VALUES ($1, $2, $3, $4, $5, $6)`,
		row.Kind,
	)
	_, err := m.pool.Exec(ctx, query,
		row.ID,
		row.Subject.TenantID,
		nullableID(row.Subject.EntityID),
		nullableDate(row.Subject.Date),
		row.Value,
		inputsJSON,
	)
	return eris.Wrapf(err, "metrics: insert %s", row.Kind)
}

func (m *Metrics) LoadLatest(ctx context.Context, kind metrics.Kind, subject metrics.SubjectKey, before *time.Time) (metrics.Row, error) {
	query, args := latestQuery(kind, subject, before)

	row, err := scanRow(m.pool.QueryRow(ctx, query, args...), kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return metrics.Row{}, &metrics.MissingMetricError{Kind: kind, Subject: subject}
		}
		return metrics.Row{}, eris.Wrapf(err, "metrics: load latest %s", kind)
	}
	return row, nil
}

func (m *Metrics) LoadBulk(ctx context.Context, kind metrics.Kind, subjects []metrics.SubjectKey, before *time.Time) ([]metrics.Row, error) {
	if len(subjects) == 0 {
		return nil, nil
	}

	// Subjects sharing a tenant and date fetch in one query; the common
	// one-date fan-out is a single round trip.
	type group struct {
		tenantID uuid.UUID
		date     time.Time
	}
	grouped := make(map[group][]uuid.UUID)
	order := make([]group, 0, 1)
	for _, s := range subjects {
		g := group{tenantID: s.TenantID, date: s.Date}
		if _, ok := grouped[g]; !ok {
			order = append(order, g)
		}
		grouped[g] = append(grouped[g], s.EntityID)
	}

	var rows []metrics.Row
	for _, g := range order {
		batch, err := m.loadBulkGroup(ctx, kind, g.tenantID, g.date, grouped[g], before)
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
	return rows, nil
}

func (m *Metrics) loadBulkGroup(ctx context.Context, kind metrics.Kind, tenantID uuid.UUID, date time.Time, entityIDs []uuid.UUID, before *time.Time) ([]metrics.Row, error) {
	query := fmt.Sprintf(
		`SELECT DISTINCT ON (entity_id) id, tenant_id, entity_id, date, value, calculated_at, inputs
		 FROM %s WHERE tenant_id = $1 AND entity_id = ANY($2)`, kind)
	args := []any{tenantID, entityIDs}
	argIdx := 3

	if date.IsZero() {
		query += ` AND date IS NULL`
	} else {
		query += fmt.Sprintf(` AND date = $%d`, argIdx)
		args = append(args, date)
		argIdx++
	}
	if before != nil {
		query += fmt.Sprintf(` AND calculated_at < $%d`, argIdx)
		args = append(args, before.UTC())
	}
	query += ` ORDER BY entity_id, calculated_at DESC, id DESC`

	pgRows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "metrics: load bulk %s", kind)
	}
	defer pgRows.Close()

	var rows []metrics.Row
	for pgRows.Next() {
		row, err := scanRow(pgRows, kind)
		if err != nil {
			return nil, eris.Wrapf(err, "metrics: scan bulk %s", kind)
		}
		rows = append(rows, row)
	}
	return rows, eris.Wrapf(pgRows.Err(), "metrics: load bulk %s iterate", kind)
}

// latestQuery builds the tie-broken single-row query for one subject.
// Ordering is calculated_at DESC then id DESC so concurrent writes within
// one clock tick still resolve deterministically.
func latestQuery(kind metrics.Kind, subject metrics.SubjectKey, before *time.Time) (string, []any) {
	query := fmt.Sprintf(
		`SELECT id, tenant_id, entity_id, date, value, calculated_at, inputs FROM %s WHERE tenant_id = $1`,
		kind)
	args := []any{subject.TenantID}
	argIdx := 2

	if subject.EntityID == uuid.Nil {
		query += ` AND entity_id IS NULL`
	} else {
		query += fmt.Sprintf(` AND entity_id = $%d`, argIdx)
		args = append(args, subject.EntityID)
		argIdx++
	}
	if subject.Date.IsZero() {
		query += ` AND date IS NULL`
	} else {
		query += fmt.Sprintf(` AND date = $%d`, argIdx)
		args = append(args, subject.Date)
		argIdx++
	}
	if before != nil {
		query += fmt.Sprintf(` AND calculated_at < $%d`, argIdx)
		args = append(args, before.UTC())
	}
	query += ` ORDER BY calculated_at DESC, id DESC LIMIT 1`
	return query, args
}

func scanRow(scanner pgx.Row, kind metrics.Kind) (metrics.Row, error) {
	var (
		row        metrics.Row
		entityID   *uuid.UUID
		date       *time.Time
		inputsJSON []byte
	)
	err := scanner.Scan(&row.ID, &row.Subject.TenantID, &entityID, &date,
		&row.Value, &row.CalculatedAt, &inputsJSON)
	if err != nil {
		return metrics.Row{}, err
	}

	row.Kind = kind
	if entityID != nil {
		row.Subject.EntityID = *entityID
	}
	if date != nil {
		row.Subject.Date = date.UTC()
	}
	row.CalculatedAt = row.CalculatedAt.UTC()
	if len(inputsJSON) > 0 {
		if err := json.Unmarshal(inputsJSON, &row.Inputs); err != nil {
			return metrics.Row{}, eris.Wrapf(err, "unmarshal inputs for %s", kind)
		}
	}
	return row, nil
}

func nullableID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func nullableDate(d time.Time) *time.Time {
	if d.IsZero() {
		return nil
	}
	day := d.UTC()
	return &day
}
