package reactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksafe/risk-engine/internal/config"
	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/metrics/metricstest"
	"github.com/worksafe/risk-engine/internal/model"
	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

// stubCalc runs a canned error sequence, then succeeds.
type stubCalc struct {
	inst metrics.Instance

	mu   sync.Mutex
	errs []error
	runs int
	done chan struct{}
}

func newStubCalc(errs ...error) *stubCalc {
	return &stubCalc{
		inst: metrics.Instance{
			Kind:    metrics.TaskSpecificRiskScore,
			Subject: metrics.EntitySubject(uuid.New(), uuid.New()),
		},
		errs: errs,
		done: make(chan struct{}),
	}
}

func (s *stubCalc) Instance() metrics.Instance { return s.inst }

func (s *stubCalc) Run(context.Context, *metrics.Deps) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

func (s *stubCalc) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func testDeps(entities metrics.EntityReader, store metrics.MetricStore) *metrics.Deps {
	return &metrics.Deps{
		Metrics:  store,
		Entities: entities,
		Tenants:  tenantcfg.NewCache(&tenantcfg.StaticLoader{}),
		Clock:    func() time.Time { return time.Date(2023, 3, 1, 10, 0, 0, 0, time.UTC) },
	}
}

func testReactor(cfg config.ReactorConfig) *Reactor {
	deps := testDeps(metricstest.NewFakeEntities(), metricstest.NewFakeStore())
	factory := NewFactory(deps, metrics.DefaultRegistry(), 3)
	return New(cfg, deps, factory)
}

func TestReactor_DeduplicatesPendingInstances(t *testing.T) {
	r := testReactor(config.ReactorConfig{QueueCapacity: 8, DedupTTLSecs: 300})

	calc := newStubCalc()
	assert.True(t, r.TryEnqueue(calc))
	assert.False(t, r.TryEnqueue(calc), "identical pending instance must be dropped")
	assert.Equal(t, 1, r.QueueDepth())
}

func TestReactor_DropsWhenQueueFull(t *testing.T) {
	r := testReactor(config.ReactorConfig{QueueCapacity: 1})

	assert.True(t, r.TryEnqueue(newStubCalc()))
	assert.False(t, r.TryEnqueue(newStubCalc()), "full queue must drop, not block")
}

func TestReactor_RetriesMissingMetricBounded(t *testing.T) {
	r := testReactor(config.ReactorConfig{
		Workers:             1,
		QueueCapacity:       8,
		MaxTransientRetries: 2,
	})

	missing := &metrics.MissingMetricError{Kind: metrics.ContractorSafetyScore}
	calc := newStubCalc(missing, missing)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	require.True(t, r.TryEnqueue(calc))

	select {
	case <-calc.done:
	case <-time.After(5 * time.Second):
		t.Fatal("calculator never succeeded")
	}
	r.Stop()
	assert.Equal(t, 3, calc.runCount())
}

func TestReactor_GivesUpAfterRetryBudget(t *testing.T) {
	r := testReactor(config.ReactorConfig{
		Workers:             1,
		QueueCapacity:       8,
		MaxTransientRetries: 1,
	})

	missing := &metrics.MissingMetricError{Kind: metrics.ContractorSafetyScore}
	calc := newStubCalc(missing, missing, missing, missing)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	require.True(t, r.TryEnqueue(calc))
	time.Sleep(100 * time.Millisecond)
	r.Stop()

	// Initial attempt plus one retry.
	assert.Equal(t, 2, calc.runCount())
}

func TestReactor_TerminalOutcomeClearsDedup(t *testing.T) {
	r := testReactor(config.ReactorConfig{Workers: 1, QueueCapacity: 8, DedupTTLSecs: 300})

	calc := newStubCalc()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	require.True(t, r.TryEnqueue(calc))

	select {
	case <-calc.done:
	case <-time.After(5 * time.Second):
		t.Fatal("calculator never ran")
	}
	// The pending entry is cleared once the run completes; allow for the
	// small gap between Run returning and finish().
	require.Eventually(t, func() bool {
		return r.TryEnqueue(calc)
	}, time.Second, 10*time.Millisecond, "completed instance must be accepted again")
	r.Stop()
}

func TestReactor_StopDrainsQueue(t *testing.T) {
	r := testReactor(config.ReactorConfig{Workers: 2, QueueCapacity: 32, DrainGraceSecs: 5})

	calcs := make([]*stubCalc, 10)
	for i := range calcs {
		calcs[i] = newStubCalc()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	for _, c := range calcs {
		require.True(t, r.TryEnqueue(c))
	}
	r.Stop()

	for i, c := range calcs {
		assert.Equal(t, 1, c.runCount(), "calc %d must have run before drain completed", i)
	}
}

func TestFactory_TaskTriggerExpandsBottomUp(t *testing.T) {
	tenantID := uuid.New()
	wpID := uuid.New()
	locID := uuid.New()
	actID := uuid.New()
	taskID := uuid.New()
	libraryTaskID := uuid.New()

	start := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	entities := metricstest.NewFakeEntities()
	entities.WorkPackages[wpID] = model.WorkPackage{
		ID: wpID, TenantID: tenantID, StartDate: start, EndDate: start.AddDate(0, 1, 0),
	}
	entities.Locations[locID] = model.Location{ID: locID, TenantID: tenantID, WorkPackageID: wpID}
	entities.Activities[actID] = model.Activity{
		ID: actID, TenantID: tenantID, LocationID: locID,
		StartDate: start, EndDate: start.AddDate(0, 0, 10),
	}
	// Active on the first two window days only.
	entities.Tasks[taskID] = model.Task{
		ID: taskID, TenantID: tenantID, ActivityID: &actID, LocationID: locID,
		LibraryTaskID: libraryTaskID, StartDate: start, EndDate: start.AddDate(0, 0, 1),
	}

	deps := testDeps(entities, metricstest.NewFakeStore())
	factory := NewFactory(deps, metrics.DefaultRegistry(), 3)

	calcs, err := factory.ForTrigger(context.Background(), model.Trigger{
		Kind: model.TaskChanged, EntityID: taskID,
	})
	require.NoError(t, err)

	// Rule-based family: 3 task kinds, 1 activity kind, 4 location kinds,
	// 1 project kind per active date. The undated safety climate instance
	// dedups across the two dates.
	byKind := map[metrics.Kind]int{}
	for _, c := range calcs {
		byKind[c.Instance().Kind]++
	}
	assert.Equal(t, 2, byKind[metrics.TaskSpecificRiskScore])
	assert.Equal(t, 2, byKind[metrics.TotalActivityRiskScore])
	assert.Equal(t, 2, byKind[metrics.TotalProjectLocationRiskScore])
	assert.Equal(t, 2, byKind[metrics.TotalProjectRiskScore])
	assert.Equal(t, 1, byKind[metrics.ProjectSafetyClimateMultiplier])

	// Children precede parents within each date.
	pos := map[metrics.Instance]int{}
	for i, c := range calcs {
		pos[c.Instance()] = i
	}
	d := model.DateOnly(start)
	assert.Less(t,
		pos[metrics.Instance{Kind: metrics.TaskSpecificRiskScore, Subject: metrics.DatedSubject(tenantID, taskID, d)}],
		pos[metrics.Instance{Kind: metrics.TotalProjectLocationRiskScore, Subject: metrics.DatedSubject(tenantID, locID, d)}])
	assert.Less(t,
		pos[metrics.Instance{Kind: metrics.TotalProjectLocationRiskScore, Subject: metrics.DatedSubject(tenantID, locID, d)}],
		pos[metrics.Instance{Kind: metrics.TotalProjectRiskScore, Subject: metrics.DatedSubject(tenantID, wpID, d)}])
}

func TestFactory_DeletedEntityExpandsToNothing(t *testing.T) {
	deps := testDeps(metricstest.NewFakeEntities(), metricstest.NewFakeStore())
	factory := NewFactory(deps, metrics.DefaultRegistry(), 3)

	calcs, err := factory.ForTrigger(context.Background(), model.Trigger{
		Kind: model.TaskChanged, EntityID: uuid.New(),
	})
	require.NoError(t, err)
	assert.Empty(t, calcs)
}

func TestFactory_FamilySelectionFiltersExpansion(t *testing.T) {
	tenantID := uuid.New()
	supID := uuid.New()
	entities := metricstest.NewFakeEntities()
	entities.Supervisors[supID] = model.Supervisor{ID: supID, TenantID: tenantID}

	deps := testDeps(entities, metricstest.NewFakeStore())
	factory := NewFactory(deps, metrics.DefaultRegistry(), 3)
	trig := model.Trigger{Kind: model.SupervisorDataChanged, EntityID: supID}

	kinds := func(calcs []metrics.Calculator) []metrics.Kind {
		out := make([]metrics.Kind, 0, len(calcs))
		for _, c := range calcs {
			out = append(out, c.Instance().Kind)
		}
		return out
	}

	// Default family is the rule-based engine.
	calcs, err := factory.ForTrigger(context.Background(), trig)
	require.NoError(t, err)
	assert.Equal(t, []metrics.Kind{metrics.SupervisorEngagementFactor}, kinds(calcs))

	// Switching the role's family swaps the expanded kind set entirely.
	cfg := tenantcfg.Defaults(tenantID)
	cfg.Families[tenantcfg.RoleSupervisorMetrics] = tenantcfg.StochasticModel
	deps.Tenants.Put(cfg)

	calcs, err = factory.ForTrigger(context.Background(), trig)
	require.NoError(t, err)
	assert.Equal(t, []metrics.Kind{metrics.SupervisorRelativePrecursorRisk}, kinds(calcs))
}

func TestFactory_TenantContractorTriggerOrdersBaselinesFirst(t *testing.T) {
	tenantID := uuid.New()
	entities := metricstest.NewFakeEntities()
	c1 := uuid.New()
	entities.Contractors[c1] = model.Contractor{ID: c1, TenantID: tenantID}

	deps := testDeps(entities, metricstest.NewFakeStore())
	factory := NewFactory(deps, metrics.DefaultRegistry(), 3)

	calcs, err := factory.ForTrigger(context.Background(), model.Trigger{
		Kind: model.ContractorDataChangedTenant, TenantID: tenantID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, calcs)

	assert.Equal(t, metrics.GblContractorHistoryBaseline, calcs[0].Instance().Kind)
	assert.Equal(t, metrics.GblContractorHistoryBaselineStd, calcs[1].Instance().Kind)
	last := calcs[len(calcs)-1].Instance().Kind
	assert.Equal(t, metrics.GlobalContractorSafetyScoreStd, last)
}
