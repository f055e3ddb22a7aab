package ranking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/metrics/metricstest"
	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

func TestClassify_Thresholds(t *testing.T) {
	thresholds := tenantcfg.RankingThresholds{Low: 100, Medium: 250}

	assert.Equal(t, Low, Classify(0, thresholds))
	assert.Equal(t, Low, Classify(99.9, thresholds))
	assert.Equal(t, Medium, Classify(100, thresholds))
	assert.Equal(t, Medium, Classify(249.9, thresholds))
	assert.Equal(t, High, Classify(250, thresholds))
	assert.Equal(t, High, Classify(10000, thresholds))
}

func TestKindForLevel_FollowsFamilySelection(t *testing.T) {
	cfg := tenantcfg.Defaults(uuid.New())
	assert.Equal(t, metrics.TaskSpecificRiskScore, KindForLevel(cfg, tenantcfg.LevelTask))
	assert.Equal(t, metrics.TotalProjectLocationRiskScore, KindForLevel(cfg, tenantcfg.LevelLocation))
	assert.Equal(t, metrics.TotalProjectRiskScore, KindForLevel(cfg, tenantcfg.LevelWorkPackage))

	cfg.Families[tenantcfg.RoleTaskRiskScore] = tenantcfg.StochasticModel
	cfg.Families[tenantcfg.RoleLocationRiskScore] = tenantcfg.StochasticModel
	assert.Equal(t, metrics.StochasticTaskSpecificRiskScore, KindForLevel(cfg, tenantcfg.LevelTask))
	assert.Equal(t, metrics.StochasticTotalLocationRiskScore, KindForLevel(cfg, tenantcfg.LevelLocation))
	// The work package total is shared by both families.
	assert.Equal(t, metrics.TotalProjectRiskScore, KindForLevel(cfg, tenantcfg.LevelWorkPackage))
}

func TestClassifier_Rank(t *testing.T) {
	tenantID := uuid.New()
	date := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

	scored := metrics.DatedSubject(tenantID, uuid.New(), date)
	sentinel := metrics.DatedSubject(tenantID, uuid.New(), date)
	absent := metrics.DatedSubject(tenantID, uuid.New(), date)

	store := metricstest.NewFakeStore()
	store.SeedValue(metrics.TotalProjectLocationRiskScore, scored, 300)
	store.SeedSentinel(metrics.TotalProjectLocationRiskScore, sentinel, "no active tasks")

	classifier := NewClassifier(store, tenantcfg.NewCache(&tenantcfg.StaticLoader{}))
	ranked, err := classifier.Rank(context.Background(), tenantcfg.LevelLocation,
		[]metrics.SubjectKey{scored, sentinel, absent})
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	assert.Equal(t, High, ranked[0].Ranking)
	assert.Equal(t, 300.0, ranked[0].Score)
	assert.Equal(t, Recalculating, ranked[1].Ranking)
	assert.Equal(t, Recalculating, ranked[2].Ranking)
}

func TestClassifier_Rank_Empty(t *testing.T) {
	classifier := NewClassifier(metricstest.NewFakeStore(), tenantcfg.NewCache(&tenantcfg.StaticLoader{}))
	ranked, err := classifier.Rank(context.Background(), tenantcfg.LevelTask, nil)
	require.NoError(t, err)
	assert.Nil(t, ranked)
}
