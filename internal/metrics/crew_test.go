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

func seedCrew(entities *metricstest.FakeEntities, tenantID uuid.UUID) uuid.UUID {
	id := uuid.New()
	entities.Crews[id] = model.Crew{ID: id, TenantID: tenantID}
	return id
}

func TestCrewRelativePrecursorRisk(t *testing.T) {
	tenantID := uuid.New()
	entities := metricstest.NewFakeEntities()
	crewID := seedCrew(entities, tenantID)
	entities.CrewPrecursors[crewID] = 9

	store := metricstest.NewFakeStore()
	tenant := metrics.TenantSubject(tenantID)
	store.SeedValue(metrics.GlobalCrewRelativePrecursor, tenant, 5.0)
	store.SeedValue(metrics.GlobalCrewRelativePrecursorSD, tenant, 2.0)

	deps := newDeps(entities, store)
	subject := metrics.EntitySubject(tenantID, crewID)
	require.NoError(t, (&metrics.CrewRelativePrecursorRiskCalc{Subject: subject}).Run(context.Background(), deps))

	row, err := store.Latest(metrics.CrewRelativePrecursorRisk, subject)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, row.Value, 1e-9)
}

func TestCrewRelativePrecursorRisk_ZeroVarianceIsSentinel(t *testing.T) {
	tenantID := uuid.New()
	entities := metricstest.NewFakeEntities()
	crewID := seedCrew(entities, tenantID)

	store := metricstest.NewFakeStore()
	tenant := metrics.TenantSubject(tenantID)
	store.SeedValue(metrics.GlobalCrewRelativePrecursor, tenant, 5.0)
	store.SeedValue(metrics.GlobalCrewRelativePrecursorSD, tenant, 0.0)

	deps := newDeps(entities, store)
	subject := metrics.EntitySubject(tenantID, crewID)
	require.NoError(t, (&metrics.CrewRelativePrecursorRiskCalc{Subject: subject}).Run(context.Background(), deps))

	row, err := store.Latest(metrics.CrewRelativePrecursorRisk, subject)
	require.NoError(t, err)
	assert.True(t, row.IsSentinel())
}

func TestCrewRelativePrecursorRisk_DeletedCrew(t *testing.T) {
	tenantID := uuid.New()
	deps := newDeps(metricstest.NewFakeEntities(), metricstest.NewFakeStore())

	err := (&metrics.CrewRelativePrecursorRiskCalc{
		Subject: metrics.EntitySubject(tenantID, uuid.New()),
	}).Run(context.Background(), deps)

	var missing *metrics.MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "crew", missing.What)
}

func TestGlobalCrewPrecursor_MeanAndStddev(t *testing.T) {
	tenantID := uuid.New()
	entities := metricstest.NewFakeEntities()
	c1 := seedCrew(entities, tenantID)
	c2 := seedCrew(entities, tenantID)
	entities.CrewPrecursors[c1] = 2
	entities.CrewPrecursors[c2] = 6

	store := metricstest.NewFakeStore()
	deps := newDeps(entities, store)
	subject := metrics.TenantSubject(tenantID)

	require.NoError(t, (&metrics.GlobalCrewPrecursorCalc{Subject: subject}).Run(context.Background(), deps))
	require.NoError(t, (&metrics.GlobalCrewPrecursorCalc{Subject: subject, Stddev: true}).Run(context.Background(), deps))

	mean, err := store.Latest(metrics.GlobalCrewRelativePrecursor, subject)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, mean.Value, 1e-9)

	std, err := store.Latest(metrics.GlobalCrewRelativePrecursorSD, subject)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, std.Value, 1e-9)
}

func TestGlobalCrewPrecursor_NoCrewsIsSentinel(t *testing.T) {
	tenantID := uuid.New()
	store := metricstest.NewFakeStore()
	deps := newDeps(metricstest.NewFakeEntities(), store)
	subject := metrics.TenantSubject(tenantID)

	require.NoError(t, (&metrics.GlobalCrewPrecursorCalc{Subject: subject}).Run(context.Background(), deps))

	row, err := store.Latest(metrics.GlobalCrewRelativePrecursor, subject)
	require.NoError(t, err)
	_, err = row.Unwrap()
	var cnc *metrics.CouldNotComputeError
	require.ErrorAs(t, err, &cnc)
	assert.Equal(t, "no crews for tenant", cnc.Reason)
}
