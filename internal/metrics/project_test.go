package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/metrics/metricstest"
	"github.com/worksafe/risk-engine/internal/model"
)

type projectFixture struct {
	tenantID uuid.UUID
	wpID     uuid.UUID
	date     time.Time
	entities *metricstest.FakeEntities
}

func newProjectFixture() projectFixture {
	f := projectFixture{
		tenantID: uuid.New(),
		wpID:     uuid.New(),
		date:     time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC),
		entities: metricstest.NewFakeEntities(),
	}
	f.entities.WorkPackages[f.wpID] = model.WorkPackage{
		ID: f.wpID, TenantID: f.tenantID,
		StartDate: f.date.AddDate(0, 0, -7), EndDate: f.date.AddDate(0, 1, 0),
	}
	return f
}

func (f projectFixture) addLocation(withActiveTask bool) uuid.UUID {
	locID := uuid.New()
	f.entities.Locations[locID] = model.Location{
		ID: locID, TenantID: f.tenantID, WorkPackageID: f.wpID,
	}
	if withActiveTask {
		taskID := uuid.New()
		f.entities.Tasks[taskID] = model.Task{
			ID: taskID, TenantID: f.tenantID, LocationID: locID,
			LibraryTaskID: uuid.New(),
			StartDate:     f.date, EndDate: f.date.AddDate(0, 0, 1),
		}
	}
	return locID
}

func (f projectFixture) subject() metrics.SubjectKey {
	return metrics.DatedSubject(f.tenantID, f.wpID, f.date)
}

func TestProjectRisk_WeightedAverageOfLocations(t *testing.T) {
	f := newProjectFixture()
	lowLoc := f.addLocation(true)
	midLoc := f.addLocation(true)

	store := metricstest.NewFakeStore()
	store.SeedValue(metrics.ProjectLocationTotalTaskRiskScore,
		metrics.DatedSubject(f.tenantID, lowLoc, f.date), 50)
	store.SeedValue(metrics.ProjectLocationTotalTaskRiskScore,
		metrics.DatedSubject(f.tenantID, midLoc, f.date), 150)

	deps := newDeps(f.entities, store)
	require.NoError(t, (&metrics.ProjectRiskCalc{Subject: f.subject()}).Run(context.Background(), deps))

	// Default thresholds bucket 50 LOW (weight 1) and 150 MEDIUM (weight
	// 2): (1*50 + 2*150) / 3.
	row, err := store.Latest(metrics.TotalProjectRiskScore, f.subject())
	require.NoError(t, err)
	assert.InDelta(t, 350.0/3.0, row.Value, 1e-9)
}

func TestProjectRisk_NoActiveTasksIsSentinel(t *testing.T) {
	f := newProjectFixture()
	f.addLocation(false)

	store := metricstest.NewFakeStore()
	deps := newDeps(f.entities, store)
	require.NoError(t, (&metrics.ProjectRiskCalc{Subject: f.subject()}).Run(context.Background(), deps))

	row, err := store.Latest(metrics.TotalProjectRiskScore, f.subject())
	require.NoError(t, err)
	_, err = row.Unwrap()
	var cnc *metrics.CouldNotComputeError
	require.ErrorAs(t, err, &cnc)
	assert.Equal(t, "no active tasks", cnc.Reason)
}

func TestProjectRisk_UnscoredChildrenAreTransient(t *testing.T) {
	f := newProjectFixture()
	f.addLocation(true)

	// Active tasks exist but no location score has landed yet.
	deps := newDeps(f.entities, metricstest.NewFakeStore())
	err := (&metrics.ProjectRiskCalc{Subject: f.subject()}).Run(context.Background(), deps)

	var missing *metrics.MissingMetricError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, metrics.ProjectLocationTotalTaskRiskScore, missing.Kind)
}

func TestProjectRisk_SentinelChildPropagates(t *testing.T) {
	f := newProjectFixture()
	locID := f.addLocation(true)

	store := metricstest.NewFakeStore()
	store.SeedSentinel(metrics.ProjectLocationTotalTaskRiskScore,
		metrics.DatedSubject(f.tenantID, locID, f.date), "no active tasks")

	deps := newDeps(f.entities, store)
	require.NoError(t, (&metrics.ProjectRiskCalc{Subject: f.subject()}).Run(context.Background(), deps))

	row, err := store.Latest(metrics.TotalProjectRiskScore, f.subject())
	require.NoError(t, err)
	assert.True(t, row.IsSentinel())
}

func TestProjectRisk_OutsideWindow(t *testing.T) {
	f := newProjectFixture()
	outside := metrics.DatedSubject(f.tenantID, f.wpID, f.date.AddDate(1, 0, 0))

	deps := newDeps(f.entities, metricstest.NewFakeStore())
	err := (&metrics.ProjectRiskCalc{Subject: outside}).Run(context.Background(), deps)

	var notAvailable *metrics.NotAvailableForDateError
	require.ErrorAs(t, err, &notAvailable)
	assert.Equal(t, "outside work package window", notAvailable.Reason)
}

func TestActivityRisk_OmitsSentinelChildren(t *testing.T) {
	f := newProjectFixture()
	locID := f.addLocation(false)
	actID := uuid.New()
	f.entities.Activities[actID] = model.Activity{
		ID: actID, TenantID: f.tenantID, LocationID: locID,
		StartDate: f.date, EndDate: f.date.AddDate(0, 0, 5),
	}
	scored := uuid.New()
	broken := uuid.New()
	for _, id := range []uuid.UUID{scored, broken} {
		f.entities.Tasks[id] = model.Task{
			ID: id, TenantID: f.tenantID, ActivityID: &actID, LocationID: locID,
			LibraryTaskID: uuid.New(),
			StartDate:     f.date, EndDate: f.date.AddDate(0, 0, 1),
		}
	}

	store := metricstest.NewFakeStore()
	store.SeedValue(metrics.TaskSpecificRiskScore,
		metrics.DatedSubject(f.tenantID, scored, f.date), 40)
	store.SeedSentinel(metrics.TaskSpecificRiskScore,
		metrics.DatedSubject(f.tenantID, broken, f.date), "no multiplier")

	deps := newDeps(f.entities, store)
	subject := metrics.DatedSubject(f.tenantID, actID, f.date)
	require.NoError(t, (&metrics.ActivityRiskCalc{Subject: subject}).Run(context.Background(), deps))

	row, err := store.Latest(metrics.TotalActivityRiskScore, subject)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, row.Value, 1e-9)
}

func TestLocationTotalTaskRisk_EmptyChildSetIsZero(t *testing.T) {
	f := newProjectFixture()
	locID := f.addLocation(false)

	store := metricstest.NewFakeStore()
	deps := newDeps(f.entities, store)
	subject := metrics.DatedSubject(f.tenantID, locID, f.date)
	require.NoError(t, (&metrics.LocationTotalTaskRiskCalc{Subject: subject}).Run(context.Background(), deps))

	// Unlike the work package total, an empty location is a defined 0.0.
	row, err := store.Latest(metrics.ProjectLocationTotalTaskRiskScore, subject)
	require.NoError(t, err)
	assert.Equal(t, 0.0, row.Value)
}

func TestTotalLocationRisk_ScalesByMultipliers(t *testing.T) {
	f := newProjectFixture()
	locID := f.addLocation(true)
	subject := metrics.DatedSubject(f.tenantID, locID, f.date)

	store := metricstest.NewFakeStore()
	store.SeedValue(metrics.ProjectLocationTotalTaskRiskScore, subject, 100)
	store.SeedValue(metrics.ProjectLocationSiteConditionsMultiplier, subject, 0.2)
	store.SeedValue(metrics.ProjectSafetyClimateMultiplier,
		metrics.EntitySubject(f.tenantID, locID), 0.1)

	deps := newDeps(f.entities, store)
	require.NoError(t, (&metrics.TotalLocationRiskCalc{Subject: subject}).Run(context.Background(), deps))

	row, err := store.Latest(metrics.TotalProjectLocationRiskScore, subject)
	require.NoError(t, err)
	assert.InDelta(t, 130.0, row.Value, 1e-9)
}

func TestTotalLocationRisk_AbsentMultipliersSubstituteZero(t *testing.T) {
	f := newProjectFixture()
	locID := f.addLocation(true)
	subject := metrics.DatedSubject(f.tenantID, locID, f.date)

	store := metricstest.NewFakeStore()
	store.SeedValue(metrics.ProjectLocationTotalTaskRiskScore, subject, 100)

	deps := newDeps(f.entities, store)
	require.NoError(t, (&metrics.TotalLocationRiskCalc{Subject: subject}).Run(context.Background(), deps))

	row, err := store.Latest(metrics.TotalProjectLocationRiskScore, subject)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, row.Value, 1e-9)
}
