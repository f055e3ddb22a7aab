package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/worksafe/risk-engine/internal/model"
	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

// MetricStore is the persistence surface calculators read and write.
// Implemented by store.Metrics.
type MetricStore interface {
	// Store appends one row. Uniqueness conflicts are impossible: rows are
	// append-only with a server-side calculated_at.
	Store(ctx context.Context, row Row) error

	// LoadLatest returns the row with the greatest calculated_at, strictly
	// before the cutoff when one is given. Returns *MissingMetricError
	// when no row exists.
	LoadLatest(ctx context.Context, kind Kind, subject SubjectKey, before *time.Time) (Row, error)

	// LoadBulk is LoadLatest over many subjects; absent subjects are
	// omitted, not errored.
	LoadBulk(ctx context.Context, kind Kind, subjects []SubjectKey, before *time.Time) ([]Row, error)
}

// EntityReader exposes the external domain entities calculators consume.
// Authoring of these entities is outside the engine.
type EntityReader interface {
	WorkPackage(ctx context.Context, id uuid.UUID) (*model.WorkPackage, error)
	Location(ctx context.Context, id uuid.UUID) (*model.Location, error)
	LocationsForWorkPackage(ctx context.Context, workPackageID uuid.UUID) ([]model.Location, error)
	Activity(ctx context.Context, id uuid.UUID) (*model.Activity, error)
	ActivitiesForLocation(ctx context.Context, locationID uuid.UUID, date time.Time) ([]model.Activity, error)
	Task(ctx context.Context, id uuid.UUID) (*model.Task, error)
	TasksForLocation(ctx context.Context, locationID uuid.UUID, date time.Time) ([]model.Task, error)
	TasksForActivity(ctx context.Context, activityID uuid.UUID, date time.Time) ([]model.Task, error)
	LibraryTask(ctx context.Context, id uuid.UUID) (*model.LibraryTask, error)

	Contractor(ctx context.Context, id uuid.UUID) (*model.Contractor, error)
	ContractorsForTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Contractor, error)
	Supervisor(ctx context.Context, id uuid.UUID) (*model.Supervisor, error)
	SupervisorsForTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Supervisor, error)
	SupervisorMonths(ctx context.Context, supervisorID uuid.UUID, until time.Time, months int) ([]model.SupervisorMonth, error)
	Crew(ctx context.Context, id uuid.UUID) (*model.Crew, error)
	CrewsForTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Crew, error)

	LibraryTaskObservationCount(ctx context.Context, tenantID, libraryTaskID uuid.UUID) (int, error)
	SupervisorPrecursorCount(ctx context.Context, supervisorID uuid.UUID) (int, error)
	CrewPrecursorCount(ctx context.Context, crewID uuid.UUID) (int, error)
	DivisionPrecursorCount(ctx context.Context, divisionID uuid.UUID) (int, error)

	ApplicableSiteConditions(ctx context.Context, locationID uuid.UUID, date time.Time) ([]model.EvaluatedSiteCondition, error)
	ManualSiteConditions(ctx context.Context, locationID uuid.UUID) ([]model.ManualSiteCondition, error)
}

// Deps bundles everything a calculator run needs. Injected so tests can
// substitute fakes.
type Deps struct {
	Metrics  MetricStore
	Entities EntityReader
	Tenants  *tenantcfg.Cache
	Clock    func() time.Time
}

// Now returns the current UTC time, via the injected clock when set.
func (d *Deps) Now() time.Time {
	if d.Clock != nil {
		return d.Clock().UTC()
	}
	return time.Now().UTC()
}

// Config resolves the tenant config for a subject.
func (d *Deps) Config(ctx context.Context, tenantID uuid.UUID) (*tenantcfg.TenantConfig, error) {
	return d.Tenants.Get(ctx, tenantID)
}

// Calculator is the unit of work that computes and stores one metric row.
type Calculator interface {
	Instance() Instance
	Run(ctx context.Context, deps *Deps) error
}
