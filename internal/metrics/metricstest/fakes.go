// Package metricstest provides in-memory fakes of the metric store and
// entity reader for calculator and reactor tests.
package metricstest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/model"
)

// FakeStore is an in-memory MetricStore. Rows are kept in insertion order;
// CalculatedAt is assigned from an incrementing fake clock so latest-row
// semantics match the database.
type FakeStore struct {
	mu   sync.Mutex
	rows map[metrics.Kind][]metrics.Row
	tick time.Time
}

// NewFakeStore returns an empty store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		rows: make(map[metrics.Kind][]metrics.Row),
		tick: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *FakeStore) Store(_ context.Context, row metrics.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick = f.tick.Add(time.Second)
	row.CalculatedAt = f.tick
	f.rows[row.Kind] = append(f.rows[row.Kind], row)
	return nil
}

// Seed stores a row directly, for test arrangement.
func (f *FakeStore) Seed(row metrics.Row) {
	f.Store(context.Background(), row) //nolint:errcheck
}

// SeedValue stores a plain value row.
func (f *FakeStore) SeedValue(kind metrics.Kind, subject metrics.SubjectKey, value float64) {
	f.Seed(metrics.NewRow(kind, subject, value, nil))
}

// SeedSentinel stores a could-not-compute sentinel row.
func (f *FakeStore) SeedSentinel(kind metrics.Kind, subject metrics.SubjectKey, reason string) {
	f.Seed(metrics.NewSentinelRow(kind, subject, reason))
}

func (f *FakeStore) LoadLatest(_ context.Context, kind metrics.Kind, subject metrics.SubjectKey, before *time.Time) (metrics.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var found *metrics.Row
	for i := range f.rows[kind] {
		row := f.rows[kind][i]
		if row.Subject != subject {
			continue
		}
		if before != nil && !row.CalculatedAt.Before(*before) {
			continue
		}
		if found == nil || row.CalculatedAt.After(found.CalculatedAt) {
			found = &row
		}
	}
	if found == nil {
		return metrics.Row{}, &metrics.MissingMetricError{Kind: kind, Subject: subject}
	}
	return *found, nil
}

func (f *FakeStore) LoadBulk(ctx context.Context, kind metrics.Kind, subjects []metrics.SubjectKey, before *time.Time) ([]metrics.Row, error) {
	var rows []metrics.Row
	for _, s := range subjects {
		row, err := f.LoadLatest(ctx, kind, s, before)
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Latest is a test convenience wrapper over LoadLatest without a cutoff.
func (f *FakeStore) Latest(kind metrics.Kind, subject metrics.SubjectKey) (metrics.Row, error) {
	return f.LoadLatest(context.Background(), kind, subject, nil)
}

// Count returns how many rows of a kind were stored.
func (f *FakeStore) Count(kind metrics.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[kind])
}

// FakeEntities is an in-memory EntityReader populated by struct literals.
type FakeEntities struct {
	WorkPackages   map[uuid.UUID]model.WorkPackage
	Locations      map[uuid.UUID]model.Location
	Activities     map[uuid.UUID]model.Activity
	Tasks          map[uuid.UUID]model.Task
	LibraryTasks   map[uuid.UUID]model.LibraryTask
	Contractors    map[uuid.UUID]model.Contractor
	Supervisors    map[uuid.UUID]model.Supervisor
	Crews          map[uuid.UUID]model.Crew
	Months         map[uuid.UUID][]model.SupervisorMonth
	ObsCounts      map[uuid.UUID]int // keyed by library task id
	SupPrecursors  map[uuid.UUID]int
	CrewPrecursors map[uuid.UUID]int
	DivPrecursors  map[uuid.UUID]int
	Evaluated      map[uuid.UUID][]model.EvaluatedSiteCondition // keyed by location id
	Manual         map[uuid.UUID][]model.ManualSiteCondition
}

// NewFakeEntities returns an empty reader; populate the maps directly.
func NewFakeEntities() *FakeEntities {
	return &FakeEntities{
		WorkPackages:   map[uuid.UUID]model.WorkPackage{},
		Locations:      map[uuid.UUID]model.Location{},
		Activities:     map[uuid.UUID]model.Activity{},
		Tasks:          map[uuid.UUID]model.Task{},
		LibraryTasks:   map[uuid.UUID]model.LibraryTask{},
		Contractors:    map[uuid.UUID]model.Contractor{},
		Supervisors:    map[uuid.UUID]model.Supervisor{},
		Crews:          map[uuid.UUID]model.Crew{},
		Months:         map[uuid.UUID][]model.SupervisorMonth{},
		ObsCounts:      map[uuid.UUID]int{},
		SupPrecursors:  map[uuid.UUID]int{},
		CrewPrecursors: map[uuid.UUID]int{},
		DivPrecursors:  map[uuid.UUID]int{},
		Evaluated:      map[uuid.UUID][]model.EvaluatedSiteCondition{},
		Manual:         map[uuid.UUID][]model.ManualSiteCondition{},
	}
}

func (f *FakeEntities) WorkPackage(_ context.Context, id uuid.UUID) (*model.WorkPackage, error) {
	if wp, ok := f.WorkPackages[id]; ok {
		return &wp, nil
	}
	return nil, nil
}

func (f *FakeEntities) Location(_ context.Context, id uuid.UUID) (*model.Location, error) {
	if l, ok := f.Locations[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (f *FakeEntities) LocationsForWorkPackage(_ context.Context, workPackageID uuid.UUID) ([]model.Location, error) {
	var out []model.Location
	for _, l := range f.Locations {
		if l.WorkPackageID == workPackageID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *FakeEntities) Activity(_ context.Context, id uuid.UUID) (*model.Activity, error) {
	if a, ok := f.Activities[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (f *FakeEntities) ActivitiesForLocation(_ context.Context, locationID uuid.UUID, date time.Time) ([]model.Activity, error) {
	day := model.DateOnly(date)
	var out []model.Activity
	for _, a := range f.Activities {
		if a.LocationID == locationID &&
			!day.Before(model.DateOnly(a.StartDate)) && !day.After(model.DateOnly(a.EndDate)) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *FakeEntities) Task(_ context.Context, id uuid.UUID) (*model.Task, error) {
	if t, ok := f.Tasks[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func (f *FakeEntities) TasksForLocation(_ context.Context, locationID uuid.UUID, date time.Time) ([]model.Task, error) {
	var out []model.Task
	for _, t := range f.Tasks {
		if t.LocationID == locationID && t.ActiveOn(date) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *FakeEntities) TasksForActivity(_ context.Context, activityID uuid.UUID, date time.Time) ([]model.Task, error) {
	var out []model.Task
	for _, t := range f.Tasks {
		if t.ActivityID != nil && *t.ActivityID == activityID && t.ActiveOn(date) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *FakeEntities) LibraryTask(_ context.Context, id uuid.UUID) (*model.LibraryTask, error) {
	if lt, ok := f.LibraryTasks[id]; ok {
		return &lt, nil
	}
	return nil, nil
}

func (f *FakeEntities) Contractor(_ context.Context, id uuid.UUID) (*model.Contractor, error) {
	if c, ok := f.Contractors[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *FakeEntities) ContractorsForTenant(_ context.Context, tenantID uuid.UUID) ([]model.Contractor, error) {
	var out []model.Contractor
	for _, c := range f.Contractors {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *FakeEntities) Supervisor(_ context.Context, id uuid.UUID) (*model.Supervisor, error) {
	if s, ok := f.Supervisors[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (f *FakeEntities) SupervisorsForTenant(_ context.Context, tenantID uuid.UUID) ([]model.Supervisor, error) {
	var out []model.Supervisor
	for _, s := range f.Supervisors {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *FakeEntities) SupervisorMonths(_ context.Context, supervisorID uuid.UUID, until time.Time, months int) ([]model.SupervisorMonth, error) {
	all := f.Months[supervisorID]
	day := model.DateOnly(until)
	var out []model.SupervisorMonth
	for _, m := range all {
		if m.Month.Before(day) {
			out = append(out, m)
		}
	}
	if len(out) > months {
		out = out[len(out)-months:]
	}
	return out, nil
}

func (f *FakeEntities) Crew(_ context.Context, id uuid.UUID) (*model.Crew, error) {
	if c, ok := f.Crews[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *FakeEntities) CrewsForTenant(_ context.Context, tenantID uuid.UUID) ([]model.Crew, error) {
	var out []model.Crew
	for _, c := range f.Crews {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *FakeEntities) LibraryTaskObservationCount(_ context.Context, _, libraryTaskID uuid.UUID) (int, error) {
	return f.ObsCounts[libraryTaskID], nil
}

func (f *FakeEntities) SupervisorPrecursorCount(_ context.Context, supervisorID uuid.UUID) (int, error) {
	return f.SupPrecursors[supervisorID], nil
}

func (f *FakeEntities) CrewPrecursorCount(_ context.Context, crewID uuid.UUID) (int, error) {
	return f.CrewPrecursors[crewID], nil
}

func (f *FakeEntities) DivisionPrecursorCount(_ context.Context, divisionID uuid.UUID) (int, error) {
	return f.DivPrecursors[divisionID], nil
}

func (f *FakeEntities) ApplicableSiteConditions(_ context.Context, locationID uuid.UUID, date time.Time) ([]model.EvaluatedSiteCondition, error) {
	day := model.DateOnly(date)
	var out []model.EvaluatedSiteCondition
	for _, sc := range f.Evaluated[locationID] {
		if model.DateOnly(sc.Date).Equal(day) {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (f *FakeEntities) ManualSiteConditions(_ context.Context, locationID uuid.UUID) ([]model.ManualSiteCondition, error) {
	return f.Manual[locationID], nil
}
