package metrics_test

import (
	"time"

	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/metrics/metricstest"
	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

// testClock keeps calculator runs on a fixed date so window checks are
// deterministic.
var testClock = func() time.Time {
	return time.Date(2023, 3, 1, 10, 0, 0, 0, time.UTC)
}

func newDeps(entities *metricstest.FakeEntities, store *metricstest.FakeStore) *metrics.Deps {
	return &metrics.Deps{
		Metrics:  store,
		Entities: entities,
		Tenants:  tenantcfg.NewCache(&tenantcfg.StaticLoader{}),
		Clock:    testClock,
	}
}
