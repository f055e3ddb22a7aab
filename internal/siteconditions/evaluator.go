// Package siteconditions evaluates environmental condition predicates for
// every active location of a tenant and persists the per-date
// applicability rows the risk calculators read.
package siteconditions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/worksafe/risk-engine/internal/config"
	"github.com/worksafe/risk-engine/internal/model"
	"github.com/worksafe/risk-engine/internal/tenantcfg"
	"github.com/worksafe/risk-engine/pkg/worlddata"
)

// LocationSource reads the locations and condition catalog of a tenant.
type LocationSource interface {
	LocationsForTenant(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]model.Location, error)
	LibrarySiteConditions(ctx context.Context, tenantID uuid.UUID) ([]model.LibrarySiteCondition, error)
	ManualSiteConditions(ctx context.Context, locationID uuid.UUID) ([]model.ManualSiteCondition, error)
}

// EvaluationWriter atomically replaces a location's evaluation rows.
type EvaluationWriter interface {
	ReplaceEvaluations(ctx context.Context, locationID uuid.UUID, date time.Time, evals []model.EvaluatedSiteCondition) error
}

// TriggerSink receives the change triggers emitted after a location's
// evaluations are replaced. The reactor satisfies this.
type TriggerSink interface {
	HandleTrigger(ctx context.Context, trig model.Trigger) (int, error)
}

// Summary reports one evaluation run.
type Summary struct {
	Locations  int
	Conditions int
	Triggered  int
}

// Evaluator runs the bulk world-data pipeline for a tenant.
type Evaluator struct {
	cfg    config.EvaluatorConfig
	world  worlddata.Client
	source LocationSource
	writer EvaluationWriter
	tenant *tenantcfg.Cache
	sink   TriggerSink
}

// New builds an evaluator. sink may be nil when no reactor is running,
// e.g. in the one-shot CLI path where recalculation follows separately.
func New(cfg config.EvaluatorConfig, world worlddata.Client, source LocationSource,
	writer EvaluationWriter, tenant *tenantcfg.Cache, sink TriggerSink) *Evaluator {
	if cfg.MaxBulkQueries <= 0 {
		cfg.MaxBulkQueries = 50
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	return &Evaluator{cfg: cfg, world: world, source: source, writer: writer, tenant: tenant, sink: sink}
}

// EvaluateTenant evaluates every enabled condition for every location of
// the tenant active on date. Batches run concurrently up to the
// configured limit; a failed batch fails the run and leaves prior
// evaluations in place.
func (e *Evaluator) EvaluateTenant(ctx context.Context, tenantID uuid.UUID, date time.Time) (Summary, error) {
	date = model.DateOnly(date)

	cfg, err := e.tenant.Get(ctx, tenantID)
	if err != nil {
		return Summary{}, err
	}

	conditions, err := e.enabledConditions(ctx, cfg)
	if err != nil {
		return Summary{}, err
	}
	if len(conditions) == 0 {
		zap.L().Info("no evaluable site conditions for tenant",
			zap.String("tenant_id", tenantID.String()))
		return Summary{}, nil
	}

	locations, err := e.source.LocationsForTenant(ctx, tenantID, date)
	if err != nil {
		return Summary{}, err
	}
	if len(locations) == 0 {
		return Summary{}, nil
	}

	var (
		mu      sync.Mutex
		summary Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrent)

	for start := 0; start < len(locations); start += e.cfg.MaxBulkQueries {
		end := start + e.cfg.MaxBulkQueries
		if end > len(locations) {
			end = len(locations)
		}
		batch := locations[start:end]
		g.Go(func() error {
			done, err := e.evaluateBatch(gctx, batch, date, conditions)
			if err != nil {
				return err
			}
			mu.Lock()
			summary.Locations += done.Locations
			summary.Conditions += done.Conditions
			summary.Triggered += done.Triggered
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	zap.L().Info("site conditions evaluated",
		zap.String("tenant_id", tenantID.String()),
		zap.Time("date", date),
		zap.Int("locations", summary.Locations),
		zap.Int("conditions", summary.Conditions))
	return summary, nil
}

// enabledConditions filters the tenant catalog to conditions with a known
// predicate handle and, when the tenant subscribes to a subset, to that
// subset.
func (e *Evaluator) enabledConditions(ctx context.Context, cfg *tenantcfg.TenantConfig) ([]model.LibrarySiteCondition, error) {
	catalog, err := e.source.LibrarySiteConditions(ctx, cfg.TenantID)
	if err != nil {
		return nil, err
	}

	subscribed := map[string]bool{}
	for _, h := range cfg.EnabledSiteConditions {
		subscribed[h] = true
	}

	out := make([]model.LibrarySiteCondition, 0, len(catalog))
	for _, c := range catalog {
		if _, ok := Predicates[c.HandleCode]; !ok {
			zap.L().Warn("library condition has no predicate, skipping",
				zap.String("handle", c.HandleCode))
			continue
		}
		if len(subscribed) > 0 && !subscribed[c.HandleCode] {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (e *Evaluator) evaluateBatch(ctx context.Context, batch []model.Location,
	date time.Time, conditions []model.LibrarySiteCondition) (Summary, error) {

	// One source set covers the whole batch: the request lists every data
	// set any enabled predicate reads.
	sources := sourcesFor(conditions)

	queries := make([]worlddata.LocationQuery, 0, len(batch))
	for _, loc := range batch {
		queries = append(queries, worlddata.LocationQuery{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Date:      date,
			Sources:   sources,
		})
	}

	data, err := e.world.LocationBulk(ctx, queries)
	if err != nil {
		return Summary{}, eris.Wrap(err, "siteconditions: bulk fetch")
	}

	var summary Summary
	for i, loc := range batch {
		n, err := e.evaluateLocation(ctx, loc, date, conditions, data[i])
		if err != nil {
			return Summary{}, err
		}
		summary.Locations++
		summary.Conditions += n

		if e.sink != nil {
			if _, err := e.sink.HandleTrigger(ctx, model.Trigger{
				Kind:     model.LocationSiteConditionsChanged,
				EntityID: loc.ID,
			}); err != nil {
				zap.L().Warn("trigger after evaluation failed",
					zap.String("location_id", loc.ID.String()),
					zap.Error(err))
			} else {
				summary.Triggered++
			}
		}
	}
	return summary, nil
}

// evaluateLocation runs every predicate for one location and replaces its
// rows. Conditions with a manual entry are left to the manual value and
// get no evaluated row.
func (e *Evaluator) evaluateLocation(ctx context.Context, loc model.Location,
	date time.Time, conditions []model.LibrarySiteCondition, data worlddata.LocationData) (int, error) {

	manual, err := e.source.ManualSiteConditions(ctx, loc.ID)
	if err != nil {
		return 0, err
	}
	overridden := map[uuid.UUID]bool{}
	for _, m := range manual {
		overridden[m.LibrarySiteConditionID] = true
	}

	evals := make([]model.EvaluatedSiteCondition, 0, len(conditions))
	for _, cond := range conditions {
		if overridden[cond.ID] {
			continue
		}
		base := cond.DefaultMulti
		if base == 0 {
			base = defaultMultiplier
		}
		result := Predicates[cond.HandleCode](data, base)
		evals = append(evals, model.EvaluatedSiteCondition{
			ID:                     uuid.New(),
			LocationID:             loc.ID,
			LibrarySiteConditionID: cond.ID,
			Date:                   date,
			Applies:                result.Applies,
			Alert:                  result.Alert,
			Multiplier:             result.Multiplier,
			Payload:                result.Payload,
		})
	}

	if err := e.writer.ReplaceEvaluations(ctx, loc.ID, date, evals); err != nil {
		return 0, eris.Wrapf(err, "siteconditions: replace evaluations for location %s", loc.ID)
	}
	return len(evals), nil
}
