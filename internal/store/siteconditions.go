package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/worksafe/risk-engine/internal/db"
	"github.com/worksafe/risk-engine/internal/model"
)

// SiteConditions persists evaluator output. Rows are never updated in
// place: superseded evaluations are archived and fresh rows inserted in
// the same transaction, so readers see either the old set or the new set.
type SiteConditions struct {
	pool db.Pool
}

// ReplaceEvaluations archives the live evaluations for (location, date)
// and inserts the new set atomically.
func (s *SiteConditions) ReplaceEvaluations(ctx context.Context, locationID uuid.UUID, date time.Time, evals []model.EvaluatedSiteCondition) error {
	day := model.DateOnly(date)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "siteconditions: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`UPDATE site_condition_evaluations SET archived_at = now()
		 WHERE location_id = $1 AND date = $2 AND archived_at IS NULL`,
		locationID, day)
	if err != nil {
		return eris.Wrapf(err, "siteconditions: archive for location %s", locationID)
	}

	for _, eval := range evals {
		var payloadJSON []byte
		if eval.Payload != nil {
			payloadJSON, err = json.Marshal(eval.Payload)
			if err != nil {
				return eris.Wrap(err, "siteconditions: marshal payload")
			}
		}
		id := eval.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO site_condition_evaluations
			 (id, location_id, library_site_condition_id, date, applies, alert, multiplier, payload)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, locationID, eval.LibrarySiteConditionID, day,
			eval.Applies, eval.Alert, eval.Multiplier, payloadJSON)
		if err != nil {
			return eris.Wrapf(err, "siteconditions: insert evaluation for location %s", locationID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "siteconditions: commit")
}

// ArchiveForLocation archives every live evaluation at a location,
// regardless of date. Used when a location is removed.
func (s *SiteConditions) ArchiveForLocation(ctx context.Context, locationID uuid.UUID) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE site_condition_evaluations SET archived_at = now()
		 WHERE location_id = $1 AND archived_at IS NULL`,
		locationID)
	if err != nil {
		return 0, eris.Wrapf(err, "siteconditions: archive location %s", locationID)
	}
	return int(tag.RowsAffected()), nil
}

func unmarshalPayload(data []byte, dst *map[string]any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return eris.Wrap(err, "siteconditions: unmarshal payload")
	}
	return nil
}
