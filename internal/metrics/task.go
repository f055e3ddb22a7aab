package metrics

import (
	"context"

	"github.com/google/uuid"
)

// TaskClimateCalc tiers the safety-climate multiplier by tenant-wide
// observation volume on the referenced library task. Subject is the
// triggering (task, date), but the row is written under the library task
// so every task sharing the catalog entry reads one value.
type TaskClimateCalc struct {
	Subject SubjectKey
}

func (c *TaskClimateCalc) Instance() Instance {
	return Instance{Kind: TaskSpecificSafetyClimateMultiplier, Subject: c.Subject}
}

func (c *TaskClimateCalc) Run(ctx context.Context, d *Deps) error {
	task, err := d.Entities.Task(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if task == nil {
		return &MissingDependencyError{What: "task", ID: c.Subject.EntityID.String()}
	}
	libraryTask, err := d.Entities.LibraryTask(ctx, task.LibraryTaskID)
	if err != nil {
		return err
	}
	if libraryTask == nil {
		return &MissingDependencyError{What: "library_task", ID: task.LibraryTaskID.String()}
	}

	cfg, err := d.Config(ctx, c.Subject.TenantID)
	if err != nil {
		return err
	}

	count, err := d.Entities.LibraryTaskObservationCount(ctx, c.Subject.TenantID, libraryTask.ID)
	if err != nil {
		return err
	}

	p := cfg.TaskClimate
	var value float64
	switch {
	case count == 0:
		value = p.NoDataMultiplier
	case count <= p.LowMaxCount:
		value = p.LowMultiplier
	default:
		value = p.HighMultiplier
	}

	target := Instance{
		Kind:    TaskSpecificSafetyClimateMultiplier,
		Subject: EntitySubject(c.Subject.TenantID, libraryTask.ID),
	}
	return writeResult(ctx, d, target, value, map[string]any{
		"observation_count": count,
	})
}

// TaskSiteConditionsCalc sums the multipliers of every site condition
// applicable at the task's location on the date: evaluated rows that
// apply plus manually-added conditions.
type TaskSiteConditionsCalc struct {
	Subject SubjectKey
}

func (c *TaskSiteConditionsCalc) Instance() Instance {
	return Instance{Kind: TaskSpecificSiteConditionsMultiplier, Subject: c.Subject}
}

func (c *TaskSiteConditionsCalc) Run(ctx context.Context, d *Deps) error {
	task, err := d.Entities.Task(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if task == nil {
		return &MissingDependencyError{What: "task", ID: c.Subject.EntityID.String()}
	}

	value, conditionIDs, err := siteConditionsMultiplier(ctx, d, task.LocationID, c.Subject)
	if err != nil {
		return err
	}

	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"location_id":   task.LocationID.String(),
		"condition_ids": conditionIDs,
	})
}

// siteConditionsMultiplier totals applicable evaluated and manual
// condition multipliers at a location for the subject's date.
func siteConditionsMultiplier(ctx context.Context, d *Deps, locationID uuid.UUID, subject SubjectKey) (float64, []string, error) {
	evaluated, err := d.Entities.ApplicableSiteConditions(ctx, locationID, subject.Date)
	if err != nil {
		return 0, nil, err
	}
	manual, err := d.Entities.ManualSiteConditions(ctx, locationID)
	if err != nil {
		return 0, nil, err
	}

	var sum float64
	ids := make([]string, 0, len(evaluated)+len(manual))
	for _, sc := range evaluated {
		if !sc.Applies || sc.ArchivedAt != nil {
			continue
		}
		sum += sc.Multiplier
		ids = append(ids, sc.LibrarySiteConditionID.String())
	}
	for _, sc := range manual {
		sum += sc.Multiplier
		ids = append(ids, sc.LibrarySiteConditionID.String())
	}
	return sum, ids, nil
}

// TaskRiskScoreCalc computes hesp * (1 + site conditions + safety climate)
// for a (task, date). HESP stays integral until the final product.
type TaskRiskScoreCalc struct {
	Subject SubjectKey
}

func (c *TaskRiskScoreCalc) Instance() Instance {
	return Instance{Kind: TaskSpecificRiskScore, Subject: c.Subject}
}

func (c *TaskRiskScoreCalc) Run(ctx context.Context, d *Deps) error {
	task, err := d.Entities.Task(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if task == nil {
		return &MissingDependencyError{What: "task", ID: c.Subject.EntityID.String()}
	}
	if !task.ActiveOn(c.Subject.Date) {
		return &NotAvailableForDateError{
			Kind:    TaskSpecificRiskScore,
			Subject: c.Subject,
			Date:    c.Subject.Date,
			Reason:  "task not active",
		}
	}

	libraryTask, err := d.Entities.LibraryTask(ctx, task.LibraryTaskID)
	if err != nil {
		return err
	}
	if libraryTask == nil {
		return &MissingDependencyError{What: "library_task", ID: task.LibraryTaskID.String()}
	}

	siteConditions, err := loadValue(ctx, d, TaskSpecificSiteConditionsMultiplier, c.Subject, nil)
	if err != nil {
		return err
	}
	climate, err := loadValue(ctx, d, TaskSpecificSafetyClimateMultiplier,
		EntitySubject(c.Subject.TenantID, task.LibraryTaskID), nil)
	if err != nil {
		return err
	}

	hesp := libraryTask.HESP
	value := float64(hesp) * (1 + siteConditions + climate)

	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"hesp":                       hesp,
		"site_conditions_multiplier": siteConditions,
		"safety_climate_multiplier":  climate,
		"library_task_id":            task.LibraryTaskID.String(),
	})
}
