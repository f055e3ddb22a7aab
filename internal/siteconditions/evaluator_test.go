package siteconditions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksafe/risk-engine/internal/config"
	"github.com/worksafe/risk-engine/internal/model"
	"github.com/worksafe/risk-engine/internal/tenantcfg"
	"github.com/worksafe/risk-engine/pkg/worlddata"
)

type fakeWorld struct {
	mu      sync.Mutex
	batches [][]worlddata.LocationQuery
	data    worlddata.LocationData
	err     error
}

func (f *fakeWorld) LocationBulk(_ context.Context, qs []worlddata.LocationQuery) ([]worlddata.LocationData, error) {
	f.mu.Lock()
	f.batches = append(f.batches, qs)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]worlddata.LocationData, len(qs))
	for i := range out {
		out[i] = f.data
	}
	return out, nil
}

type fakeSource struct {
	locations  []model.Location
	conditions []model.LibrarySiteCondition
	manual     map[uuid.UUID][]model.ManualSiteCondition
}

func (f *fakeSource) LocationsForTenant(context.Context, uuid.UUID, time.Time) ([]model.Location, error) {
	return f.locations, nil
}

func (f *fakeSource) LibrarySiteConditions(context.Context, uuid.UUID) ([]model.LibrarySiteCondition, error) {
	return f.conditions, nil
}

func (f *fakeSource) ManualSiteConditions(_ context.Context, locationID uuid.UUID) ([]model.ManualSiteCondition, error) {
	return f.manual[locationID], nil
}

type fakeWriter struct {
	mu       sync.Mutex
	replaced map[uuid.UUID][]model.EvaluatedSiteCondition
}

func (f *fakeWriter) ReplaceEvaluations(_ context.Context, locationID uuid.UUID, _ time.Time, evals []model.EvaluatedSiteCondition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaced == nil {
		f.replaced = map[uuid.UUID][]model.EvaluatedSiteCondition{}
	}
	f.replaced[locationID] = evals
	return nil
}

type fakeSink struct {
	mu       sync.Mutex
	triggers []model.Trigger
}

func (f *fakeSink) HandleTrigger(_ context.Context, trig model.Trigger) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trig)
	return 1, nil
}

func condition(handle string, multi float64) model.LibrarySiteCondition {
	return model.LibrarySiteCondition{ID: uuid.New(), Name: handle, HandleCode: handle, DefaultMulti: multi}
}

func TestEvaluateTenant_WritesApplicabilityRows(t *testing.T) {
	tenantID := uuid.New()
	locID := uuid.New()
	date := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

	windy := condition("high_winds", 0.05)
	smoky := condition("air_quality", 0.03)

	world := &fakeWorld{data: worlddata.LocationData{
		Weather:         worlddata.Weather{GustMPH: 35, WindChillF: 60},
		AirQualityIndex: 50,
	}}
	source := &fakeSource{
		locations:  []model.Location{{ID: locID, TenantID: tenantID, Latitude: 40.7, Longitude: -74.0}},
		conditions: []model.LibrarySiteCondition{windy, smoky},
	}
	writer := &fakeWriter{}
	sink := &fakeSink{}

	ev := New(config.EvaluatorConfig{}, world, source, writer,
		tenantcfg.NewCache(&tenantcfg.StaticLoader{}), sink)

	summary, err := ev.EvaluateTenant(context.Background(), tenantID, date)
	require.NoError(t, err)
	assert.Equal(t, Summary{Locations: 1, Conditions: 2, Triggered: 1}, summary)

	rows := writer.replaced[locID]
	require.Len(t, rows, 2)
	byCond := map[uuid.UUID]model.EvaluatedSiteCondition{}
	for _, r := range rows {
		byCond[r.LibrarySiteConditionID] = r
	}

	// 35 mph gust is past the alert tier, doubling the multiplier.
	wind := byCond[windy.ID]
	assert.True(t, wind.Applies)
	assert.True(t, wind.Alert)
	assert.Equal(t, 0.1, wind.Multiplier)
	assert.Equal(t, 35.0, wind.Payload["gust_mph"])

	// AQI 50 is clean air.
	air := byCond[smoky.ID]
	assert.False(t, air.Applies)
	assert.Equal(t, 0.0, air.Multiplier)

	require.Len(t, sink.triggers, 1)
	assert.Equal(t, model.LocationSiteConditionsChanged, sink.triggers[0].Kind)
	assert.Equal(t, locID, sink.triggers[0].EntityID)
}

func TestEvaluateTenant_ManualConditionIsAuthoritative(t *testing.T) {
	tenantID := uuid.New()
	locID := uuid.New()
	cond := condition("high_winds", 0.05)

	source := &fakeSource{
		locations:  []model.Location{{ID: locID, TenantID: tenantID}},
		conditions: []model.LibrarySiteCondition{cond},
		manual: map[uuid.UUID][]model.ManualSiteCondition{
			locID: {{LibrarySiteConditionID: cond.ID, Multiplier: 0.2}},
		},
	}
	writer := &fakeWriter{}

	ev := New(config.EvaluatorConfig{}, &fakeWorld{}, source, writer,
		tenantcfg.NewCache(&tenantcfg.StaticLoader{}), nil)

	summary, err := ev.EvaluateTenant(context.Background(), tenantID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Conditions)
	assert.Empty(t, writer.replaced[locID], "manually entered conditions must not be overwritten")
}

func TestEvaluateTenant_SubscriptionFiltersCatalog(t *testing.T) {
	tenantID := uuid.New()
	locID := uuid.New()
	windy := condition("high_winds", 0.05)
	humid := condition("high_humidity", 0.05)

	cache := tenantcfg.NewCache(&tenantcfg.StaticLoader{})
	cfg := tenantcfg.Defaults(tenantID)
	cfg.EnabledSiteConditions = []string{"high_winds"}
	cache.Put(cfg)

	source := &fakeSource{
		locations:  []model.Location{{ID: locID, TenantID: tenantID}},
		conditions: []model.LibrarySiteCondition{windy, humid},
	}
	writer := &fakeWriter{}

	ev := New(config.EvaluatorConfig{}, &fakeWorld{}, source, writer, cache, nil)
	summary, err := ev.EvaluateTenant(context.Background(), tenantID, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Conditions)
	require.Len(t, writer.replaced[locID], 1)
	assert.Equal(t, windy.ID, writer.replaced[locID][0].LibrarySiteConditionID)
}

func TestEvaluateTenant_QueriesCarryEnabledSources(t *testing.T) {
	tenantID := uuid.New()
	locID := uuid.New()

	source := &fakeSource{
		locations: []model.Location{{ID: locID, TenantID: tenantID}},
		conditions: []model.LibrarySiteCondition{
			condition("high_winds", 0.05),
			condition("heat_index", 0.05),
			condition("air_quality", 0.03),
		},
	}
	world := &fakeWorld{}

	ev := New(config.EvaluatorConfig{}, world, source, &fakeWriter{},
		tenantcfg.NewCache(&tenantcfg.StaticLoader{}), nil)
	_, err := ev.EvaluateTenant(context.Background(), tenantID, time.Now())
	require.NoError(t, err)

	require.Len(t, world.batches, 1)
	require.Len(t, world.batches[0], 1)
	assert.ElementsMatch(t, []string{"weather", "air_quality"}, world.batches[0][0].Sources,
		"request must list every data set an enabled predicate reads")
}

func TestEvaluateTenant_SubscriptionNarrowsSources(t *testing.T) {
	tenantID := uuid.New()
	locID := uuid.New()

	cache := tenantcfg.NewCache(&tenantcfg.StaticLoader{})
	cfg := tenantcfg.Defaults(tenantID)
	cfg.EnabledSiteConditions = []string{"air_quality"}
	cache.Put(cfg)

	source := &fakeSource{
		locations: []model.Location{{ID: locID, TenantID: tenantID}},
		conditions: []model.LibrarySiteCondition{
			condition("high_winds", 0.05),
			condition("air_quality", 0.03),
		},
	}
	world := &fakeWorld{}

	ev := New(config.EvaluatorConfig{}, world, source, &fakeWriter{}, cache, nil)
	_, err := ev.EvaluateTenant(context.Background(), tenantID, time.Now())
	require.NoError(t, err)

	require.Len(t, world.batches, 1)
	require.Len(t, world.batches[0], 1)
	assert.Equal(t, []string{"air_quality"}, world.batches[0][0].Sources)
}

func TestEvaluateTenant_BatchesByMaxBulkQueries(t *testing.T) {
	tenantID := uuid.New()
	source := &fakeSource{conditions: []model.LibrarySiteCondition{condition("high_winds", 0.05)}}
	for i := 0; i < 5; i++ {
		source.locations = append(source.locations, model.Location{ID: uuid.New(), TenantID: tenantID})
	}

	world := &fakeWorld{}
	ev := New(config.EvaluatorConfig{MaxBulkQueries: 2, MaxConcurrent: 1}, world, source,
		&fakeWriter{}, tenantcfg.NewCache(&tenantcfg.StaticLoader{}), nil)

	summary, err := ev.EvaluateTenant(context.Background(), tenantID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Locations)
	require.Len(t, world.batches, 3)
	for _, b := range world.batches {
		assert.LessOrEqual(t, len(b), 2)
	}
}

func TestEvaluateTenant_FailedBatchFailsRun(t *testing.T) {
	tenantID := uuid.New()
	source := &fakeSource{
		locations:  []model.Location{{ID: uuid.New(), TenantID: tenantID}},
		conditions: []model.LibrarySiteCondition{condition("high_winds", 0.05)},
	}
	world := &fakeWorld{err: eris.New("provider down")}
	writer := &fakeWriter{}

	ev := New(config.EvaluatorConfig{}, world, source, writer,
		tenantcfg.NewCache(&tenantcfg.StaticLoader{}), nil)

	_, err := ev.EvaluateTenant(context.Background(), tenantID, time.Now())
	require.Error(t, err)
	assert.Empty(t, writer.replaced, "no rows may be written for a failed batch")
}

func TestPredicates_Tiers(t *testing.T) {
	cases := []struct {
		name    string
		handle  string
		data    worlddata.LocationData
		applies bool
		alert   bool
	}{
		{"calm winds", "high_winds", worlddata.LocationData{Weather: worlddata.Weather{GustMPH: 10}}, false, false},
		{"breezy", "high_winds", worlddata.LocationData{Weather: worlddata.Weather{GustMPH: 25}}, true, false},
		{"dangerous heat", "heat_index", worlddata.LocationData{Weather: worlddata.Weather{HeatIndexF: 105}}, true, true},
		{"freezing", "cold_index", worlddata.LocationData{Weather: worlddata.Weather{WindChillF: 20}}, true, false},
		{"mild", "cold_index", worlddata.LocationData{Weather: worlddata.Weather{WindChillF: 50}}, false, false},
		{"storm risk", "lightning", worlddata.LocationData{Weather: worlddata.Weather{LightningProb: 0.4}}, true, true},
		{"downpour", "heavy_precipitation", worlddata.LocationData{Weather: worlddata.Weather{PrecipIntensityIn: 0.7}}, true, false},
		{"dense fog", "fog_low_visibility", worlddata.LocationData{Weather: worlddata.Weather{VisibilityMiles: 0.1}}, true, true},
		{"muggy", "high_humidity", worlddata.LocationData{Weather: worlddata.Weather{HumidityPct: 85}}, true, false},
		{"unhealthy air", "air_quality", worlddata.LocationData{AirQualityIndex: 160}, true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Predicates[tc.handle](tc.data, 0.05)
			assert.Equal(t, tc.applies, result.Applies, "applies")
			assert.Equal(t, tc.alert, result.Alert, "alert")
			if tc.alert {
				assert.Equal(t, 0.1, result.Multiplier)
			} else if tc.applies {
				assert.Equal(t, 0.05, result.Multiplier)
			} else {
				assert.Equal(t, 0.0, result.Multiplier)
			}
		})
	}
}
