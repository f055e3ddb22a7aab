package metrics_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/metrics/metricstest"
	"github.com/worksafe/risk-engine/internal/model"
)

func seedContractor(entities *metricstest.FakeEntities, tenantID uuid.UUID, obs, actions int, years float64) uuid.UUID {
	id := uuid.New()
	entities.Contractors[id] = model.Contractor{
		ID: id, TenantID: tenantID,
		SafetyObservations: obs, ActionItems: actions, ExperienceYears: years,
	}
	return id
}

func TestContractorHistoryBaseline_MeanAndStddev(t *testing.T) {
	tenantID := uuid.New()
	entities := metricstest.NewFakeEntities()
	// History scores 3 and 5: mean 4, population stddev 1.
	seedContractor(entities, tenantID, 4, 2, 3)
	seedContractor(entities, tenantID, 6, 4, 3)

	store := metricstest.NewFakeStore()
	deps := newDeps(entities, store)
	subject := metrics.TenantSubject(tenantID)

	require.NoError(t, (&metrics.ContractorHistoryBaselineCalc{Subject: subject}).Run(context.Background(), deps))
	require.NoError(t, (&metrics.ContractorHistoryBaselineCalc{Subject: subject, Stddev: true}).Run(context.Background(), deps))

	baseline, err := store.Latest(metrics.GblContractorHistoryBaseline, subject)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, baseline.Value, 1e-9)

	std, err := store.Latest(metrics.GblContractorHistoryBaselineStd, subject)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, std.Value, 1e-9)
}

func TestContractorHistoryBaseline_NoContractorsIsSentinel(t *testing.T) {
	store := metricstest.NewFakeStore()
	deps := newDeps(metricstest.NewFakeEntities(), store)
	subject := metrics.TenantSubject(uuid.New())

	require.NoError(t, (&metrics.ContractorHistoryBaselineCalc{Subject: subject}).Run(context.Background(), deps))

	row, err := store.Latest(metrics.GblContractorHistoryBaseline, subject)
	require.NoError(t, err)
	assert.True(t, row.IsSentinel())
}

func TestContractorProjectExecution_HistoryWeightTiers(t *testing.T) {
	cases := []struct {
		name  string
		obs   int
		items int
		years float64
		want  float64
	}{
		// History 6.0 sits a full stddev above the 4.0 baseline: +1, tenure
		// over two years adds 0.
		{"strong history, tenured", 8, 4, 3, 1},
		// History 3.0 is below baseline: -1, under one year adds +1.
		{"weak history, new", 4, 2, 0.5, 0},
		// History 5.0 is inside one stddev: 0, under two years adds +0.5.
		{"middling history", 6, 4, 1.5, 0.5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tenantID := uuid.New()
			entities := metricstest.NewFakeEntities()
			contractorID := seedContractor(entities, tenantID, tc.obs, tc.items, tc.years)

			store := metricstest.NewFakeStore()
			tenant := metrics.TenantSubject(tenantID)
			store.SeedValue(metrics.GblContractorHistoryBaseline, tenant, 4.0)
			store.SeedValue(metrics.GblContractorHistoryBaselineStd, tenant, 2.0)

			deps := newDeps(entities, store)
			subject := metrics.EntitySubject(tenantID, contractorID)
			calc := &metrics.ContractorProjectExecutionCalc{Subject: subject}
			require.NoError(t, calc.Run(context.Background(), deps))

			row, err := store.Latest(metrics.ContractorProjectExecution, subject)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, row.Value, 1e-9)
		})
	}
}

func TestContractorProjectExecution_MissingBaselineIsTransient(t *testing.T) {
	tenantID := uuid.New()
	entities := metricstest.NewFakeEntities()
	contractorID := seedContractor(entities, tenantID, 8, 4, 3)

	deps := newDeps(entities, metricstest.NewFakeStore())
	calc := &metrics.ContractorProjectExecutionCalc{
		Subject: metrics.EntitySubject(tenantID, contractorID),
	}

	err := calc.Run(context.Background(), deps)
	var missing *metrics.MissingMetricError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, metrics.GblContractorHistoryBaseline, missing.Kind)
}

func TestContractorSafetyRating_EmptySampleIsSentinel(t *testing.T) {
	tenantID := uuid.New()
	entities := metricstest.NewFakeEntities()
	contractorID := seedContractor(entities, tenantID, 0, 0, 1)

	store := metricstest.NewFakeStore()
	deps := newDeps(entities, store)
	subject := metrics.EntitySubject(tenantID, contractorID)

	require.NoError(t, (&metrics.ContractorSafetyRatingCalc{Subject: subject}).Run(context.Background(), deps))

	row, err := store.Latest(metrics.ContractorSafetyRating, subject)
	require.NoError(t, err)
	_, err = row.Unwrap()
	var cnc *metrics.CouldNotComputeError
	require.ErrorAs(t, err, &cnc)
	assert.Equal(t, "no safety ratings", cnc.Reason)
}

func TestContractorSafetyScore_SumsSubMetrics(t *testing.T) {
	tenantID := uuid.New()
	contractorID := uuid.New()
	subject := metrics.EntitySubject(tenantID, contractorID)

	store := metricstest.NewFakeStore()
	store.SeedValue(metrics.ContractorSafetyHistory, subject, 6.0)
	store.SeedValue(metrics.ContractorProjectExecution, subject, 1.0)
	store.SeedValue(metrics.ContractorSafetyRating, subject, 4.5)

	deps := newDeps(metricstest.NewFakeEntities(), store)
	require.NoError(t, (&metrics.ContractorSafetyScoreCalc{Subject: subject}).Run(context.Background(), deps))

	row, err := store.Latest(metrics.ContractorSafetyScore, subject)
	require.NoError(t, err)
	assert.InDelta(t, 11.5, row.Value, 1e-9)
}

func TestContractorSafetyScore_SentinelDependencyPropagates(t *testing.T) {
	subject := metrics.EntitySubject(uuid.New(), uuid.New())

	store := metricstest.NewFakeStore()
	store.SeedValue(metrics.ContractorSafetyHistory, subject, 6.0)
	store.SeedValue(metrics.ContractorProjectExecution, subject, 1.0)
	store.SeedSentinel(metrics.ContractorSafetyRating, subject, "no safety ratings")

	deps := newDeps(metricstest.NewFakeEntities(), store)
	require.NoError(t, (&metrics.ContractorSafetyScoreCalc{Subject: subject}).Run(context.Background(), deps))

	row, err := store.Latest(metrics.ContractorSafetyScore, subject)
	require.NoError(t, err)
	assert.True(t, row.IsSentinel(), "sentinel input must make the sum a sentinel")
}

func TestGlobalContractorSafetyScore_SkipsSentinels(t *testing.T) {
	tenantID := uuid.New()
	entities := metricstest.NewFakeEntities()
	scored := seedContractor(entities, tenantID, 1, 1, 1)
	broken := seedContractor(entities, tenantID, 1, 1, 1)

	store := metricstest.NewFakeStore()
	store.SeedValue(metrics.ContractorSafetyScore, metrics.EntitySubject(tenantID, scored), 10.0)
	store.SeedSentinel(metrics.ContractorSafetyScore, metrics.EntitySubject(tenantID, broken), "no safety ratings")

	deps := newDeps(entities, store)
	subject := metrics.TenantSubject(tenantID)
	require.NoError(t, (&metrics.GlobalContractorSafetyScoreCalc{Subject: subject}).Run(context.Background(), deps))

	row, err := store.Latest(metrics.GlobalContractorSafetyScore, subject)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, row.Value, 1e-9)
}

func TestContractorSafetyHistory_DeletedContractor(t *testing.T) {
	deps := newDeps(metricstest.NewFakeEntities(), metricstest.NewFakeStore())
	calc := &metrics.ContractorSafetyHistoryCalc{
		Subject: metrics.EntitySubject(uuid.New(), uuid.New()),
	}

	err := calc.Run(context.Background(), deps)
	var missing *metrics.MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "contractor", missing.What)
}
