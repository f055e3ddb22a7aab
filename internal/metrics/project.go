package metrics

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

// ActivityRiskCalc takes the weighted average of child task risk scores
// for an (activity, date).
type ActivityRiskCalc struct {
	Subject SubjectKey
}

func (c *ActivityRiskCalc) Instance() Instance {
	return Instance{Kind: TotalActivityRiskScore, Subject: c.Subject}
}

func (c *ActivityRiskCalc) Run(ctx context.Context, d *Deps) error {
	activity, err := d.Entities.Activity(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if activity == nil {
		return &MissingDependencyError{What: "activity", ID: c.Subject.EntityID.String()}
	}

	cfg, err := d.Config(ctx, c.Subject.TenantID)
	if err != nil {
		return err
	}

	tasks, err := d.Entities.TasksForActivity(ctx, activity.ID, c.Subject.Date)
	if err != nil {
		return err
	}

	subjects := make([]SubjectKey, 0, len(tasks))
	for _, t := range tasks {
		subjects = append(subjects, DatedSubject(c.Subject.TenantID, t.ID, c.Subject.Date))
	}

	rows, err := d.Metrics.LoadBulk(ctx, TaskSpecificRiskScore, subjects, nil)
	if err != nil {
		return err
	}

	var scores []float64
	for _, row := range rows {
		v, err := row.Unwrap()
		if err != nil {
			zap.L().Warn("omitting sentinel task score from activity aggregate",
				zap.String("subject", row.Subject.String()))
			continue
		}
		scores = append(scores, v)
	}

	value := weightedAverage(scores,
		cfg.ThresholdsFor(tenantcfg.LevelTask), cfg.WeightsFor(tenantcfg.LevelLocation))

	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"task_count":  len(tasks),
		"score_count": len(scores),
	})
}

// ProjectRiskCalc takes the weighted average of child location risk scores
// for a (work package, date). Unlike the lower layers, an empty input set
// is an error here: a work package with no active tasks has no meaningful
// total, and missing child scores with active tasks mean the children have
// not been recomputed yet.
type ProjectRiskCalc struct {
	Subject SubjectKey
}

func (c *ProjectRiskCalc) Instance() Instance {
	return Instance{Kind: TotalProjectRiskScore, Subject: c.Subject}
}

func (c *ProjectRiskCalc) Run(ctx context.Context, d *Deps) error {
	wp, err := d.Entities.WorkPackage(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if wp == nil {
		return &MissingDependencyError{What: "work_package", ID: c.Subject.EntityID.String()}
	}
	if !wp.ContainsDate(c.Subject.Date) {
		return &NotAvailableForDateError{
			Kind:    TotalProjectRiskScore,
			Subject: c.Subject,
			Date:    c.Subject.Date,
			Reason:  "outside work package window",
		}
	}

	cfg, err := d.Config(ctx, c.Subject.TenantID)
	if err != nil {
		return err
	}

	locations, err := d.Entities.LocationsForWorkPackage(ctx, wp.ID)
	if err != nil {
		return err
	}

	subjects := make([]SubjectKey, 0, len(locations))
	locationIDs := make([]string, 0, len(locations))
	activeTasks := 0
	for _, loc := range locations {
		subjects = append(subjects, DatedSubject(c.Subject.TenantID, loc.ID, c.Subject.Date))
		locationIDs = append(locationIDs, loc.ID.String())

		tasks, err := d.Entities.TasksForLocation(ctx, loc.ID, c.Subject.Date)
		if err != nil {
			return err
		}
		activeTasks += len(tasks)
	}

	if activeTasks == 0 {
		return writeSentinel(ctx, d, c.Instance(), "no active tasks")
	}

	rows, err := d.Metrics.LoadBulk(ctx, ProjectLocationTotalTaskRiskScore, subjects, nil)
	if err != nil {
		return err
	}

	var scores []float64
	for _, row := range rows {
		v, err := row.Unwrap()
		if err != nil {
			// Sentinel children propagate at the total-risk layer.
			var cnc *CouldNotComputeError
			if errors.As(err, &cnc) {
				return writeSentinel(ctx, d, c.Instance(), cnc.Reason)
			}
			return err
		}
		scores = append(scores, v)
	}

	if len(scores) == 0 {
		// Active tasks exist but no child has a score yet: transient.
		return &MissingMetricError{Kind: ProjectLocationTotalTaskRiskScore, Subject: subjects[0]}
	}

	value := weightedAverage(scores,
		cfg.ThresholdsFor(tenantcfg.LevelLocation), cfg.WeightsFor(tenantcfg.LevelWorkPackage))

	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"project_location_ids": locationIDs,
		"score_count":          len(scores),
		"active_tasks":         activeTasks,
	})
}
