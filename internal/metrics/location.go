package metrics

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

// LocationSiteConditionsCalc totals applicable condition multipliers for a
// (location, date).
type LocationSiteConditionsCalc struct {
	Subject SubjectKey
}

func (c *LocationSiteConditionsCalc) Instance() Instance {
	return Instance{Kind: ProjectLocationSiteConditionsMultiplier, Subject: c.Subject}
}

func (c *LocationSiteConditionsCalc) Run(ctx context.Context, d *Deps) error {
	loc, err := d.Entities.Location(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if loc == nil {
		return &MissingDependencyError{What: "location", ID: c.Subject.EntityID.String()}
	}

	value, conditionIDs, err := siteConditionsMultiplier(ctx, d, loc.ID, c.Subject)
	if err != nil {
		return err
	}
	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"condition_ids": conditionIDs,
	})
}

// SafetyClimateCalc computes sef * SupervisorEngagementFactor +
// csr * ContractorSafetyScore for a location. Absent actors and absent or
// sentinel inputs substitute zero, so the metric is defined when only one
// actor is known.
type SafetyClimateCalc struct {
	Subject SubjectKey
}

func (c *SafetyClimateCalc) Instance() Instance {
	// Undated: actor history does not vary by plan date, so a dated
	// trigger subject collapses to one row per location.
	return Instance{
		Kind:    ProjectSafetyClimateMultiplier,
		Subject: EntitySubject(c.Subject.TenantID, c.Subject.EntityID),
	}
}

func (c *SafetyClimateCalc) Run(ctx context.Context, d *Deps) error {
	loc, err := d.Entities.Location(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if loc == nil {
		return &MissingDependencyError{What: "location", ID: c.Subject.EntityID.String()}
	}

	cfg, err := d.Config(ctx, c.Subject.TenantID)
	if err != nil {
		return err
	}

	wp, err := d.Entities.WorkPackage(ctx, loc.WorkPackageID)
	if err != nil {
		return err
	}
	if wp == nil {
		return &MissingDependencyError{What: "work_package", ID: loc.WorkPackageID.String()}
	}

	inputs := map[string]any{}

	var sef float64
	supervisorID, err := supervisorForLocation(ctx, d, loc)
	if err != nil {
		return err
	}
	if supervisorID != nil {
		v, ok, err := loadValueOrZero(ctx, d, SupervisorEngagementFactor,
			EntitySubject(c.Subject.TenantID, *supervisorID), nil)
		if err != nil {
			return err
		}
		sef = v
		inputs["supervisor_id"] = supervisorID.String()
		inputs["supervisor_engagement_factor"] = v
		if !ok {
			inputs["supervisor_engagement_factor_substituted"] = true
		}
	}

	var css float64
	if wp.ContractorID != nil {
		v, ok, err := loadValueOrZero(ctx, d, ContractorSafetyScore,
			EntitySubject(c.Subject.TenantID, *wp.ContractorID), nil)
		if err != nil {
			return err
		}
		css = v
		inputs["contractor_id"] = wp.ContractorID.String()
		inputs["contractor_safety_score"] = v
		if !ok {
			inputs["contractor_safety_score_substituted"] = true
		}
	}

	value := cfg.SafetyClimate.SEF*sef + cfg.SafetyClimate.CSR*css
	return writeResult(ctx, d, c.Instance(), value, inputs)
}

// LocationTotalTaskRiskCalc takes the weighted average of child task risk
// scores at a (location, date). An empty child set is a defined 0.0.
type LocationTotalTaskRiskCalc struct {
	Subject SubjectKey
}

func (c *LocationTotalTaskRiskCalc) Instance() Instance {
	return Instance{Kind: ProjectLocationTotalTaskRiskScore, Subject: c.Subject}
}

func (c *LocationTotalTaskRiskCalc) Run(ctx context.Context, d *Deps) error {
	loc, err := d.Entities.Location(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if loc == nil {
		return &MissingDependencyError{What: "location", ID: c.Subject.EntityID.String()}
	}

	cfg, err := d.Config(ctx, c.Subject.TenantID)
	if err != nil {
		return err
	}

	tasks, err := d.Entities.TasksForLocation(ctx, loc.ID, c.Subject.Date)
	if err != nil {
		return err
	}

	subjects := make([]SubjectKey, 0, len(tasks))
	taskIDs := make([]string, 0, len(tasks))
	for _, t := range tasks {
		subjects = append(subjects, DatedSubject(c.Subject.TenantID, t.ID, c.Subject.Date))
		taskIDs = append(taskIDs, t.ID.String())
	}

	rows, err := d.Metrics.LoadBulk(ctx, TaskSpecificRiskScore, subjects, nil)
	if err != nil {
		return err
	}

	var scores []float64
	for _, row := range rows {
		v, err := row.Unwrap()
		if err != nil {
			zap.L().Warn("omitting sentinel task score from location aggregate",
				zap.String("subject", row.Subject.String()))
			continue
		}
		scores = append(scores, v)
	}

	value := weightedAverage(scores,
		cfg.ThresholdsFor(tenantcfg.LevelTask), cfg.WeightsFor(tenantcfg.LevelLocation))

	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"task_ids":    taskIDs,
		"score_count": len(scores),
	})
}

// TotalLocationRiskCalc scales the location's total task risk by its site
// condition and safety climate multipliers. Sentinel children propagate.
type TotalLocationRiskCalc struct {
	Subject SubjectKey
}

func (c *TotalLocationRiskCalc) Instance() Instance {
	return Instance{Kind: TotalProjectLocationRiskScore, Subject: c.Subject}
}

func (c *TotalLocationRiskCalc) Run(ctx context.Context, d *Deps) error {
	base, err := loadValue(ctx, d, ProjectLocationTotalTaskRiskScore, c.Subject, nil)
	if err != nil {
		var cnc *CouldNotComputeError
		if errors.As(err, &cnc) {
			return writeSentinel(ctx, d, c.Instance(), cnc.Reason)
		}
		return err
	}

	siteConditions, _, err := loadValueOrZero(ctx, d, ProjectLocationSiteConditionsMultiplier, c.Subject, nil)
	if err != nil {
		return err
	}
	climate, _, err := loadValueOrZero(ctx, d, ProjectSafetyClimateMultiplier,
		EntitySubject(c.Subject.TenantID, c.Subject.EntityID), nil)
	if err != nil {
		return err
	}

	value := base * (1 + siteConditions + climate)
	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"total_task_risk":            base,
		"site_conditions_multiplier": siteConditions,
		"safety_climate_multiplier":  climate,
	})
}
