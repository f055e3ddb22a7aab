package metrics

import (
	"context"
	"errors"
)

// contractorHistoryScore is the per-contractor history score over the
// trailing five years of aggregates.
func contractorHistoryScore(observations, actionItems int) float64 {
	return 0.5*float64(observations) + 0.5*float64(actionItems)
}

// ContractorHistoryBaselineCalc computes the tenant-wide arithmetic mean
// of per-contractor history scores. With Stddev set it emits the
// population standard deviation of the same sample instead.
type ContractorHistoryBaselineCalc struct {
	Subject SubjectKey
	Stddev  bool
}

func (c *ContractorHistoryBaselineCalc) Instance() Instance {
	kind := GblContractorHistoryBaseline
	if c.Stddev {
		kind = GblContractorHistoryBaselineStd
	}
	return Instance{Kind: kind, Subject: c.Subject}
}

func (c *ContractorHistoryBaselineCalc) Run(ctx context.Context, d *Deps) error {
	contractors, err := d.Entities.ContractorsForTenant(ctx, c.Subject.TenantID)
	if err != nil {
		return err
	}
	if len(contractors) == 0 {
		return writeSentinel(ctx, d, c.Instance(), "no contractors for tenant")
	}

	scores := make([]float64, 0, len(contractors))
	for _, ct := range contractors {
		scores = append(scores, contractorHistoryScore(ct.SafetyObservations, ct.ActionItems))
	}

	value := mean(scores)
	if c.Stddev {
		value = stddevPop(scores)
	}
	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"contractor_count": len(contractors),
	})
}

// ContractorSafetyHistoryCalc stores one contractor's history score.
type ContractorSafetyHistoryCalc struct {
	Subject SubjectKey
}

func (c *ContractorSafetyHistoryCalc) Instance() Instance {
	return Instance{Kind: ContractorSafetyHistory, Subject: c.Subject}
}

func (c *ContractorSafetyHistoryCalc) Run(ctx context.Context, d *Deps) error {
	contractor, err := d.Entities.Contractor(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if contractor == nil {
		return &MissingDependencyError{What: "contractor", ID: c.Subject.EntityID.String()}
	}

	value := contractorHistoryScore(contractor.SafetyObservations, contractor.ActionItems)
	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"safety_observations": contractor.SafetyObservations,
		"action_items":        contractor.ActionItems,
	})
}

// ContractorProjectExecutionCalc scores a contractor's history against the
// tenant baseline plus a tenure factor.
type ContractorProjectExecutionCalc struct {
	Subject SubjectKey
}

func (c *ContractorProjectExecutionCalc) Instance() Instance {
	return Instance{Kind: ContractorProjectExecution, Subject: c.Subject}
}

func (c *ContractorProjectExecutionCalc) Run(ctx context.Context, d *Deps) error {
	contractor, err := d.Entities.Contractor(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if contractor == nil {
		return &MissingDependencyError{What: "contractor", ID: c.Subject.EntityID.String()}
	}

	cfg, err := d.Config(ctx, c.Subject.TenantID)
	if err != nil {
		return err
	}

	tenant := TenantSubject(c.Subject.TenantID)
	baseline, err := loadValue(ctx, d, GblContractorHistoryBaseline, tenant, nil)
	if err != nil {
		return err
	}
	baselineStd, err := loadValue(ctx, d, GblContractorHistoryBaselineStd, tenant, nil)
	if err != nil {
		return err
	}

	history := contractorHistoryScore(contractor.SafetyObservations, contractor.ActionItems)

	params := cfg.Contractor
	var historyWeight float64
	switch {
	case history <= baseline:
		historyWeight = params.CPHWeightLow
	case history >= baseline+baselineStd:
		historyWeight = params.CPHWeightHigh
	default:
		historyWeight = params.CPHWeightMid
	}

	var expFactor float64
	switch {
	case contractor.ExperienceYears < 1:
		expFactor = params.ExpFactorUnder1
	case contractor.ExperienceYears < 2:
		expFactor = params.ExpFactorUnder2
	default:
		expFactor = params.ExpFactorOver2
	}

	value := historyWeight + expFactor
	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"history":          history,
		"baseline":         baseline,
		"baseline_stddev":  baselineStd,
		"history_weight":   historyWeight,
		"experience_years": contractor.ExperienceYears,
	})
}

// ContractorSafetyRatingCalc averages a contractor's safety ratings.
type ContractorSafetyRatingCalc struct {
	Subject SubjectKey
}

func (c *ContractorSafetyRatingCalc) Instance() Instance {
	return Instance{Kind: ContractorSafetyRating, Subject: c.Subject}
}

func (c *ContractorSafetyRatingCalc) Run(ctx context.Context, d *Deps) error {
	contractor, err := d.Entities.Contractor(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if contractor == nil {
		return &MissingDependencyError{What: "contractor", ID: c.Subject.EntityID.String()}
	}
	if len(contractor.SafetyRatingsSample) == 0 {
		return writeSentinel(ctx, d, c.Instance(), "no safety ratings")
	}

	value := mean(contractor.SafetyRatingsSample)
	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"rating_count": len(contractor.SafetyRatingsSample),
	})
}

// ContractorSafetyScoreCalc sums the three contractor sub-metrics. Missing
// dependencies surface as missing metric; sentinel dependencies make the
// sum itself a sentinel.
type ContractorSafetyScoreCalc struct {
	Subject SubjectKey
}

func (c *ContractorSafetyScoreCalc) Instance() Instance {
	return Instance{Kind: ContractorSafetyScore, Subject: c.Subject}
}

func (c *ContractorSafetyScoreCalc) Run(ctx context.Context, d *Deps) error {
	var sum float64
	inputs := map[string]any{}
	for _, dep := range []Kind{ContractorSafetyHistory, ContractorProjectExecution, ContractorSafetyRating} {
		v, err := loadValue(ctx, d, dep, c.Subject, nil)
		if err != nil {
			var cnc *CouldNotComputeError
			if errors.As(err, &cnc) {
				return writeSentinel(ctx, d, c.Instance(), cnc.Reason)
			}
			return err
		}
		sum += v
		inputs[string(dep)] = v
	}
	return writeResult(ctx, d, c.Instance(), sum, inputs)
}

// GlobalContractorSafetyScoreCalc emits the tenant-wide mean (or, with
// Stddev, population standard deviation) of contractor safety scores.
type GlobalContractorSafetyScoreCalc struct {
	Subject SubjectKey
	Stddev  bool
}

func (c *GlobalContractorSafetyScoreCalc) Instance() Instance {
	kind := GlobalContractorSafetyScore
	if c.Stddev {
		kind = GlobalContractorSafetyScoreStd
	}
	return Instance{Kind: kind, Subject: c.Subject}
}

func (c *GlobalContractorSafetyScoreCalc) Run(ctx context.Context, d *Deps) error {
	contractors, err := d.Entities.ContractorsForTenant(ctx, c.Subject.TenantID)
	if err != nil {
		return err
	}

	subjects := make([]SubjectKey, 0, len(contractors))
	for _, ct := range contractors {
		subjects = append(subjects, EntitySubject(c.Subject.TenantID, ct.ID))
	}

	rows, err := d.Metrics.LoadBulk(ctx, ContractorSafetyScore, subjects, nil)
	if err != nil {
		return err
	}

	var scores []float64
	for _, row := range rows {
		if v, err := row.Unwrap(); err == nil {
			scores = append(scores, v)
		}
	}
	if len(scores) == 0 {
		return writeSentinel(ctx, d, c.Instance(), "no contractor safety scores")
	}

	value := mean(scores)
	if c.Stddev {
		value = stddevPop(scores)
	}
	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"sample_size": len(scores),
	})
}
