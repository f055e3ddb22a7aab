package metrics

import (
	"math"

	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddevPop is the population standard deviation.
func stddevPop(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// weightedAverage averages child scores, weighting each child by the
// tenant weight of its ranking bucket at the child level. An empty input
// yields 0.0; callers that must fail on empty check before calling.
func weightedAverage(scores []float64, thresholds tenantcfg.RankingThresholds, weights tenantcfg.AggregationWeights) float64 {
	if len(scores) == 0 {
		return 0
	}
	var num, den float64
	for _, s := range scores {
		w := weightFor(s, thresholds, weights)
		num += w * s
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func weightFor(score float64, t tenantcfg.RankingThresholds, w tenantcfg.AggregationWeights) float64 {
	switch {
	case score < t.Low:
		return w.Low
	case score < t.Medium:
		return w.Medium
	default:
		return w.High
	}
}
