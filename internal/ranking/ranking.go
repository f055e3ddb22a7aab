// Package ranking maps stored risk scores onto the LOW / MEDIUM / HIGH
// buckets a tenant configures, with RECALCULATING standing in for scores
// that are absent or known-uncomputable.
package ranking

import (
	"context"

	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

// Ranking is the classified bucket of one score.
type Ranking string

const (
	Low           Ranking = "LOW"
	Medium        Ranking = "MEDIUM"
	High          Ranking = "HIGH"
	Recalculating Ranking = "RECALCULATING"
)

// Classify buckets a score: below Low is LOW, below Medium is MEDIUM,
// else HIGH.
func Classify(score float64, t tenantcfg.RankingThresholds) Ranking {
	switch {
	case score < t.Low:
		return Low
	case score < t.Medium:
		return Medium
	default:
		return High
	}
}

// KindForLevel resolves which metric kind carries the ranked score at a
// level under the tenant's family selection.
func KindForLevel(cfg *tenantcfg.TenantConfig, level tenantcfg.RankingLevel) metrics.Kind {
	switch level {
	case tenantcfg.LevelTask:
		if cfg.FamilyFor(tenantcfg.RoleTaskRiskScore) == tenantcfg.StochasticModel {
			return metrics.StochasticTaskSpecificRiskScore
		}
		return metrics.TaskSpecificRiskScore
	case tenantcfg.LevelLocation:
		if cfg.FamilyFor(tenantcfg.RoleLocationRiskScore) == tenantcfg.StochasticModel {
			return metrics.StochasticTotalLocationRiskScore
		}
		return metrics.TotalProjectLocationRiskScore
	default:
		return metrics.TotalProjectRiskScore
	}
}

// Ranked is one subject's classified score. Score is meaningless when
// Ranking is RECALCULATING.
type Ranked struct {
	Subject metrics.SubjectKey
	Score   float64
	Ranking Ranking
}

// Classifier ranks subjects in bulk against stored metric rows.
type Classifier struct {
	store   metrics.MetricStore
	tenants *tenantcfg.Cache
}

// NewClassifier builds a classifier over the metric store.
func NewClassifier(store metrics.MetricStore, tenants *tenantcfg.Cache) *Classifier {
	return &Classifier{store: store, tenants: tenants}
}

// Rank classifies every subject at a level. Subjects with no stored row
// and subjects whose latest row is a could-not-compute sentinel come back
// RECALCULATING rather than erroring, so one stale entity never blocks a
// listing.
func (c *Classifier) Rank(ctx context.Context, level tenantcfg.RankingLevel, subjects []metrics.SubjectKey) ([]Ranked, error) {
	if len(subjects) == 0 {
		return nil, nil
	}

	cfg, err := c.tenants.Get(ctx, subjects[0].TenantID)
	if err != nil {
		return nil, err
	}
	kind := KindForLevel(cfg, level)
	thresholds := cfg.ThresholdsFor(level)

	rows, err := c.store.LoadBulk(ctx, kind, subjects, nil)
	if err != nil {
		return nil, err
	}
	byKey := make(map[metrics.SubjectKey]metrics.Row, len(rows))
	for _, row := range rows {
		byKey[row.Subject] = row
	}

	ranked := make([]Ranked, 0, len(subjects))
	for _, s := range subjects {
		row, ok := byKey[s]
		if !ok {
			ranked = append(ranked, Ranked{Subject: s, Ranking: Recalculating})
			continue
		}
		value, err := row.Unwrap()
		if err != nil {
			ranked = append(ranked, Ranked{Subject: s, Ranking: Recalculating})
			continue
		}
		ranked = append(ranked, Ranked{Subject: s, Score: value, Ranking: Classify(value, thresholds)})
	}
	return ranked, nil
}
