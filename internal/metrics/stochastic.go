package metrics

import (
	"context"

	"go.uber.org/zap"

	"github.com/worksafe/risk-engine/internal/model"
)

// Stochastic signal names a tenant can include in the additive
// composition.
const (
	SignalActivityTask           = "activity_task"
	SignalSiteConditionPrecursor = "site_condition_precursor"
	SignalCrewRelative           = "crew_relative"
	SignalSupervisorRelative     = "supervisor_relative"
	SignalDivisionRelative       = "division_relative"
)

// StochasticTaskRiskCalc composes a (task, date) score additively from the
// tenant-configured child signals. Missing child signals are logged and
// omitted, not propagated as errors.
type StochasticTaskRiskCalc struct {
	Subject SubjectKey
}

func (c *StochasticTaskRiskCalc) Instance() Instance {
	return Instance{Kind: StochasticTaskSpecificRiskScore, Subject: c.Subject}
}

func (c *StochasticTaskRiskCalc) Run(ctx context.Context, d *Deps) error {
	task, err := d.Entities.Task(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if task == nil {
		return &MissingDependencyError{What: "task", ID: c.Subject.EntityID.String()}
	}

	cfg, err := d.Config(ctx, c.Subject.TenantID)
	if err != nil {
		return err
	}

	loc, err := d.Entities.Location(ctx, task.LocationID)
	if err != nil {
		return err
	}
	if loc == nil {
		return &MissingDependencyError{What: "location", ID: task.LocationID.String()}
	}

	var sum float64
	inputs := map[string]any{}
	for _, signal := range cfg.StochasticSignals {
		v, ok, err := stochasticTaskSignal(ctx, d, signal, c.Subject, task, loc)
		if err != nil {
			return err
		}
		if !ok {
			zap.L().Debug("omitting missing stochastic signal",
				zap.String("signal", signal),
				zap.String("subject", c.Subject.String()))
			continue
		}
		sum += v
		inputs[signal] = v
	}

	return writeResult(ctx, d, c.Instance(), sum, inputs)
}

// stochasticTaskSignal resolves one child signal for a task. ok is false
// when the signal's actor or metric is absent.
func stochasticTaskSignal(ctx context.Context, d *Deps, signal string, subject SubjectKey, task *model.Task, loc *model.Location) (float64, bool, error) {
	switch signal {
	case SignalActivityTask:
		return loadValueOrZeroAsSignal(ctx, d, TaskSpecificSafetyClimateMultiplier,
			EntitySubject(subject.TenantID, task.LibraryTaskID))

	case SignalSiteConditionPrecursor:
		return loadValueOrZeroAsSignal(ctx, d, TaskSpecificSiteConditionsMultiplier, subject)

	case SignalCrewRelative:
		if task.ActivityID == nil {
			return 0, false, nil
		}
		activity, err := d.Entities.Activity(ctx, *task.ActivityID)
		if err != nil {
			return 0, false, err
		}
		if activity == nil || activity.CrewID == nil {
			return 0, false, nil
		}
		return loadValueOrZeroAsSignal(ctx, d, CrewRelativePrecursorRisk,
			EntitySubject(subject.TenantID, *activity.CrewID))

	case SignalSupervisorRelative:
		supervisorID, err := supervisorForLocation(ctx, d, loc)
		if err != nil {
			return 0, false, err
		}
		if supervisorID == nil {
			return 0, false, nil
		}
		return loadValueOrZeroAsSignal(ctx, d, SupervisorRelativePrecursorRisk,
			EntitySubject(subject.TenantID, *supervisorID))

	case SignalDivisionRelative:
		wp, err := d.Entities.WorkPackage(ctx, loc.WorkPackageID)
		if err != nil {
			return 0, false, err
		}
		if wp == nil || wp.DivisionID == nil {
			return 0, false, nil
		}
		n, err := d.Entities.DivisionPrecursorCount(ctx, *wp.DivisionID)
		if err != nil {
			return 0, false, err
		}
		return float64(n), true, nil

	default:
		zap.L().Warn("unknown stochastic signal in tenant config", zap.String("signal", signal))
		return 0, false, nil
	}
}

func loadValueOrZeroAsSignal(ctx context.Context, d *Deps, kind Kind, subject SubjectKey) (float64, bool, error) {
	v, ok, err := loadValueOrZero(ctx, d, kind, subject, nil)
	if err != nil {
		return 0, false, err
	}
	return v, ok, nil
}

// StochasticActivityTaskRiskCalc sums child stochastic task scores for an
// (activity, date). Absent children are omitted with a warning.
type StochasticActivityTaskRiskCalc struct {
	Subject SubjectKey
}

func (c *StochasticActivityTaskRiskCalc) Instance() Instance {
	return Instance{Kind: StochasticActivityTotalTaskRiskScore, Subject: c.Subject}
}

func (c *StochasticActivityTaskRiskCalc) Run(ctx context.Context, d *Deps) error {
	activity, err := d.Entities.Activity(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if activity == nil {
		return &MissingDependencyError{What: "activity", ID: c.Subject.EntityID.String()}
	}

	tasks, err := d.Entities.TasksForActivity(ctx, activity.ID, c.Subject.Date)
	if err != nil {
		return err
	}

	subjects := make([]SubjectKey, 0, len(tasks))
	for _, t := range tasks {
		subjects = append(subjects, DatedSubject(c.Subject.TenantID, t.ID, c.Subject.Date))
	}

	rows, err := d.Metrics.LoadBulk(ctx, StochasticTaskSpecificRiskScore, subjects, nil)
	if err != nil {
		return err
	}
	if len(rows) < len(subjects) {
		zap.L().Warn("stochastic activity aggregate missing child scores",
			zap.String("subject", c.Subject.String()),
			zap.Int("expected", len(subjects)),
			zap.Int("found", len(rows)))
	}

	var sum float64
	count := 0
	for _, row := range rows {
		if v, err := row.Unwrap(); err == nil {
			sum += v
			count++
		}
	}

	return writeResult(ctx, d, c.Instance(), sum, map[string]any{
		"task_count":  len(tasks),
		"score_count": count,
	})
}

// StochasticActivitySCPrecursorCalc sums the multipliers of alerting
// evaluated site conditions at the activity's location.
type StochasticActivitySCPrecursorCalc struct {
	Subject SubjectKey
}

func (c *StochasticActivitySCPrecursorCalc) Instance() Instance {
	return Instance{Kind: StochasticActivitySCPrecursorRisk, Subject: c.Subject}
}

func (c *StochasticActivitySCPrecursorCalc) Run(ctx context.Context, d *Deps) error {
	activity, err := d.Entities.Activity(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if activity == nil {
		return &MissingDependencyError{What: "activity", ID: c.Subject.EntityID.String()}
	}

	conditions, err := d.Entities.ApplicableSiteConditions(ctx, activity.LocationID, c.Subject.Date)
	if err != nil {
		return err
	}

	var sum float64
	count := 0
	for _, sc := range conditions {
		if !sc.Applies || !sc.Alert || sc.ArchivedAt != nil {
			continue
		}
		sum += sc.Multiplier
		count++
	}

	return writeResult(ctx, d, c.Instance(), sum, map[string]any{
		"alerting_conditions": count,
	})
}

// StochasticLocationTaskRiskCalc sums child activity scores for a
// (location, date).
type StochasticLocationTaskRiskCalc struct {
	Subject SubjectKey
}

func (c *StochasticLocationTaskRiskCalc) Instance() Instance {
	return Instance{Kind: StochasticLocationTotalTaskRiskScore, Subject: c.Subject}
}

func (c *StochasticLocationTaskRiskCalc) Run(ctx context.Context, d *Deps) error {
	loc, err := d.Entities.Location(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if loc == nil {
		return &MissingDependencyError{What: "location", ID: c.Subject.EntityID.String()}
	}

	activities, err := d.Entities.ActivitiesForLocation(ctx, loc.ID, c.Subject.Date)
	if err != nil {
		return err
	}

	subjects := make([]SubjectKey, 0, len(activities))
	for _, a := range activities {
		subjects = append(subjects, DatedSubject(c.Subject.TenantID, a.ID, c.Subject.Date))
	}

	rows, err := d.Metrics.LoadBulk(ctx, StochasticActivityTotalTaskRiskScore, subjects, nil)
	if err != nil {
		return err
	}
	if len(rows) < len(subjects) {
		zap.L().Warn("stochastic location aggregate missing child scores",
			zap.String("subject", c.Subject.String()),
			zap.Int("expected", len(subjects)),
			zap.Int("found", len(rows)))
	}

	var sum float64
	count := 0
	for _, row := range rows {
		if v, err := row.Unwrap(); err == nil {
			sum += v
			count++
		}
	}

	return writeResult(ctx, d, c.Instance(), sum, map[string]any{
		"activity_count": len(activities),
		"score_count":    count,
	})
}

// StochasticTotalLocationRiskCalc composes the location total additively
// from the task aggregate and the actor relative signals.
type StochasticTotalLocationRiskCalc struct {
	Subject SubjectKey
}

func (c *StochasticTotalLocationRiskCalc) Instance() Instance {
	return Instance{Kind: StochasticTotalLocationRiskScore, Subject: c.Subject}
}

func (c *StochasticTotalLocationRiskCalc) Run(ctx context.Context, d *Deps) error {
	loc, err := d.Entities.Location(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if loc == nil {
		return &MissingDependencyError{What: "location", ID: c.Subject.EntityID.String()}
	}

	var sum float64
	inputs := map[string]any{}

	base, ok, err := loadValueOrZero(ctx, d, StochasticLocationTotalTaskRiskScore, c.Subject, nil)
	if err != nil {
		return err
	}
	if ok {
		sum += base
		inputs["location_total_task_risk"] = base
	} else {
		zap.L().Debug("omitting missing stochastic location task aggregate",
			zap.String("subject", c.Subject.String()))
	}

	supervisorID, err := supervisorForLocation(ctx, d, loc)
	if err != nil {
		return err
	}
	if supervisorID != nil {
		v, ok, err := loadValueOrZero(ctx, d, SupervisorRelativePrecursorRisk,
			EntitySubject(c.Subject.TenantID, *supervisorID), nil)
		if err != nil {
			return err
		}
		if ok {
			sum += v
			inputs[SignalSupervisorRelative] = v
		}
	}

	return writeResult(ctx, d, c.Instance(), sum, inputs)
}
