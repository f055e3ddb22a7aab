package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/worksafe/risk-engine/internal/db"
	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/model"
)

// Entities reads the domain entities the calculators consume. The engine
// never writes these tables; they are synced in by the upstream product.
type Entities struct {
	pool db.Pool
}

var _ metrics.EntityReader = (*Entities)(nil)

const workPackageColumns = `id, tenant_id, name, status, start_date, end_date,
	contractor_id, supervisor_id, division_id, work_type_ids, external_key`

func (e *Entities) WorkPackage(ctx context.Context, id uuid.UUID) (*model.WorkPackage, error) {
	row := e.pool.QueryRow(ctx,
		`SELECT `+workPackageColumns+` FROM work_packages WHERE id = $1`, id)

	var wp model.WorkPackage
	err := row.Scan(&wp.ID, &wp.TenantID, &wp.Name, &wp.Status, &wp.StartDate, &wp.EndDate,
		&wp.ContractorID, &wp.SupervisorID, &wp.DivisionID, &wp.WorkTypeIDs, &wp.ExternalKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "entities: get work package %s", id)
	}
	return &wp, nil
}

const locationColumns = `id, tenant_id, work_package_id, name, latitude, longitude, supervisor_id, external_key`

func scanLocation(row pgx.Row) (model.Location, error) {
	var l model.Location
	err := row.Scan(&l.ID, &l.TenantID, &l.WorkPackageID, &l.Name,
		&l.Latitude, &l.Longitude, &l.SupervisorID, &l.ExternalKey)
	return l, err
}

func (e *Entities) Location(ctx context.Context, id uuid.UUID) (*model.Location, error) {
	l, err := scanLocation(e.pool.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM project_locations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "entities: get location %s", id)
	}
	return &l, nil
}

func (e *Entities) LocationsForWorkPackage(ctx context.Context, workPackageID uuid.UUID) ([]model.Location, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT `+locationColumns+` FROM project_locations WHERE work_package_id = $1 ORDER BY id`,
		workPackageID)
	if err != nil {
		return nil, eris.Wrapf(err, "entities: locations for work package %s", workPackageID)
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "entities: scan location")
		}
		locations = append(locations, l)
	}
	return locations, eris.Wrap(rows.Err(), "entities: locations iterate")
}

const activityColumns = `id, tenant_id, location_id, name, start_date, end_date, crew_id`

func scanActivity(row pgx.Row) (model.Activity, error) {
	var a model.Activity
	err := row.Scan(&a.ID, &a.TenantID, &a.LocationID, &a.Name, &a.StartDate, &a.EndDate, &a.CrewID)
	return a, err
}

func (e *Entities) Activity(ctx context.Context, id uuid.UUID) (*model.Activity, error) {
	a, err := scanActivity(e.pool.QueryRow(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "entities: get activity %s", id)
	}
	return &a, nil
}

func (e *Entities) ActivitiesForLocation(ctx context.Context, locationID uuid.UUID, date time.Time) ([]model.Activity, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activities
		 WHERE location_id = $1 AND start_date <= $2 AND end_date >= $2 ORDER BY id`,
		locationID, model.DateOnly(date))
	if err != nil {
		return nil, eris.Wrapf(err, "entities: activities for location %s", locationID)
	}
	defer rows.Close()

	var activities []model.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "entities: scan activity")
		}
		activities = append(activities, a)
	}
	return activities, eris.Wrap(rows.Err(), "entities: activities iterate")
}

const taskColumns = `id, tenant_id, activity_id, location_id, library_task_id, start_date, end_date`

func scanTask(row pgx.Row) (model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.TenantID, &t.ActivityID, &t.LocationID,
		&t.LibraryTaskID, &t.StartDate, &t.EndDate)
	return t, err
}

func (e *Entities) Task(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	t, err := scanTask(e.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "entities: get task %s", id)
	}
	return &t, nil
}

func (e *Entities) tasksWhere(ctx context.Context, clause string, args ...any) ([]model.Task, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE `+clause+` ORDER BY id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "entities: query tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "entities: scan task")
		}
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "entities: tasks iterate")
}

func (e *Entities) TasksForLocation(ctx context.Context, locationID uuid.UUID, date time.Time) ([]model.Task, error) {
	return e.tasksWhere(ctx,
		`location_id = $1 AND start_date <= $2 AND end_date >= $2`,
		locationID, model.DateOnly(date))
}

func (e *Entities) TasksForActivity(ctx context.Context, activityID uuid.UUID, date time.Time) ([]model.Task, error) {
	return e.tasksWhere(ctx,
		`activity_id = $1 AND start_date <= $2 AND end_date >= $2`,
		activityID, model.DateOnly(date))
}

func (e *Entities) LibraryTask(ctx context.Context, id uuid.UUID) (*model.LibraryTask, error) {
	var lt model.LibraryTask
	err := e.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, hesp FROM library_tasks WHERE id = $1`, id).
		Scan(&lt.ID, &lt.TenantID, &lt.Name, &lt.HESP)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "entities: get library task %s", id)
	}
	return &lt, nil
}

const contractorColumns = `id, tenant_id, name, safety_observations, action_items,
	experience_years, project_count, safety_ratings`

func scanContractor(row pgx.Row) (model.Contractor, error) {
	var c model.Contractor
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.SafetyObservations, &c.ActionItems,
		&c.ExperienceYears, &c.ProjectCount, &c.SafetyRatingsSample)
	return c, err
}

func (e *Entities) Contractor(ctx context.Context, id uuid.UUID) (*model.Contractor, error) {
	c, err := scanContractor(e.pool.QueryRow(ctx,
		`SELECT `+contractorColumns+` FROM contractors WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "entities: get contractor %s", id)
	}
	return &c, nil
}

func (e *Entities) ContractorsForTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Contractor, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT `+contractorColumns+` FROM contractors WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "entities: contractors for tenant %s", tenantID)
	}
	defer rows.Close()

	var contractors []model.Contractor
	for rows.Next() {
		c, err := scanContractor(rows)
		if err != nil {
			return nil, eris.Wrap(err, "entities: scan contractor")
		}
		contractors = append(contractors, c)
	}
	return contractors, eris.Wrap(rows.Err(), "entities: contractors iterate")
}

func (e *Entities) Supervisor(ctx context.Context, id uuid.UUID) (*model.Supervisor, error) {
	var s model.Supervisor
	err := e.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name FROM supervisors WHERE id = $1`, id).
		Scan(&s.ID, &s.TenantID, &s.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "entities: get supervisor %s", id)
	}
	return &s, nil
}

func (e *Entities) SupervisorsForTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Supervisor, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT id, tenant_id, name FROM supervisors WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "entities: supervisors for tenant %s", tenantID)
	}
	defer rows.Close()

	var supervisors []model.Supervisor
	for rows.Next() {
		var s model.Supervisor
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Name); err != nil {
			return nil, eris.Wrap(err, "entities: scan supervisor")
		}
		supervisors = append(supervisors, s)
	}
	return supervisors, eris.Wrap(rows.Err(), "entities: supervisors iterate")
}

// SupervisorMonths returns up to months of monthly aggregates ending before
// until, newest first.
func (e *Entities) SupervisorMonths(ctx context.Context, supervisorID uuid.UUID, until time.Time, months int) ([]model.SupervisorMonth, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT supervisor_id, month, observations, esds, late_observations, late_esds
		 FROM supervisor_observation_months
		 WHERE supervisor_id = $1 AND month < $2
		 ORDER BY month DESC LIMIT $3`,
		supervisorID, model.DateOnly(until), months)
	if err != nil {
		return nil, eris.Wrapf(err, "entities: supervisor months %s", supervisorID)
	}
	defer rows.Close()

	var result []model.SupervisorMonth
	for rows.Next() {
		var m model.SupervisorMonth
		if err := rows.Scan(&m.SupervisorID, &m.Month, &m.Observations, &m.ESDs,
			&m.LateObservations, &m.LateESDs); err != nil {
			return nil, eris.Wrap(err, "entities: scan supervisor month")
		}
		result = append(result, m)
	}
	return result, eris.Wrap(rows.Err(), "entities: supervisor months iterate")
}

func (e *Entities) Crew(ctx context.Context, id uuid.UUID) (*model.Crew, error) {
	var c model.Crew
	err := e.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name FROM crews WHERE id = $1`, id).
		Scan(&c.ID, &c.TenantID, &c.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "entities: get crew %s", id)
	}
	return &c, nil
}

func (e *Entities) CrewsForTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Crew, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT id, tenant_id, name FROM crews WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "entities: crews for tenant %s", tenantID)
	}
	defer rows.Close()

	var crews []model.Crew
	for rows.Next() {
		var c model.Crew
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name); err != nil {
			return nil, eris.Wrap(err, "entities: scan crew")
		}
		crews = append(crews, c)
	}
	return crews, eris.Wrap(rows.Err(), "entities: crews iterate")
}

func (e *Entities) LibraryTaskObservationCount(ctx context.Context, tenantID, libraryTaskID uuid.UUID) (int, error) {
	var count int
	err := e.pool.QueryRow(ctx,
		`SELECT observation_count FROM library_task_observation_counts
		 WHERE tenant_id = $1 AND library_task_id = $2`,
		tenantID, libraryTaskID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "entities: observation count for library task %s", libraryTaskID)
	}
	return count, nil
}

func (e *Entities) precursorCount(ctx context.Context, column string, id uuid.UUID) (int, error) {
	var count int
	err := e.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM precursor_events WHERE `+column+` = $1`, id).Scan(&count)
	return count, eris.Wrapf(err, "entities: precursor count by %s", column)
}

func (e *Entities) SupervisorPrecursorCount(ctx context.Context, supervisorID uuid.UUID) (int, error) {
	return e.precursorCount(ctx, "supervisor_id", supervisorID)
}

func (e *Entities) CrewPrecursorCount(ctx context.Context, crewID uuid.UUID) (int, error) {
	return e.precursorCount(ctx, "crew_id", crewID)
}

func (e *Entities) DivisionPrecursorCount(ctx context.Context, divisionID uuid.UUID) (int, error) {
	return e.precursorCount(ctx, "division_id", divisionID)
}

func (e *Entities) ApplicableSiteConditions(ctx context.Context, locationID uuid.UUID, date time.Time) ([]model.EvaluatedSiteCondition, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT id, location_id, library_site_condition_id, date, applies, alert, multiplier, payload, archived_at
		 FROM site_condition_evaluations
		 WHERE location_id = $1 AND date = $2 AND archived_at IS NULL
		 ORDER BY library_site_condition_id`,
		locationID, model.DateOnly(date))
	if err != nil {
		return nil, eris.Wrapf(err, "entities: site conditions for location %s", locationID)
	}
	defer rows.Close()

	return collectEvaluations(rows)
}

func (e *Entities) ManualSiteConditions(ctx context.Context, locationID uuid.UUID) ([]model.ManualSiteCondition, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT id, location_id, library_site_condition_id, multiplier
		 FROM manual_site_conditions WHERE location_id = $1 ORDER BY id`,
		locationID)
	if err != nil {
		return nil, eris.Wrapf(err, "entities: manual site conditions for location %s", locationID)
	}
	defer rows.Close()

	var conditions []model.ManualSiteCondition
	for rows.Next() {
		var c model.ManualSiteCondition
		if err := rows.Scan(&c.ID, &c.LocationID, &c.LibrarySiteConditionID, &c.Multiplier); err != nil {
			return nil, eris.Wrap(err, "entities: scan manual site condition")
		}
		conditions = append(conditions, c)
	}
	return conditions, eris.Wrap(rows.Err(), "entities: manual site conditions iterate")
}

// LibrarySiteConditions lists the catalog conditions for a tenant. Used by
// the evaluator, not by calculators.
func (e *Entities) LibrarySiteConditions(ctx context.Context, tenantID uuid.UUID) ([]model.LibrarySiteCondition, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT id, tenant_id, name, handle_code, default_multiplier
		 FROM library_site_conditions WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "entities: library site conditions for tenant %s", tenantID)
	}
	defer rows.Close()

	var conditions []model.LibrarySiteCondition
	for rows.Next() {
		var c model.LibrarySiteCondition
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.HandleCode, &c.DefaultMulti); err != nil {
			return nil, eris.Wrap(err, "entities: scan library site condition")
		}
		conditions = append(conditions, c)
	}
	return conditions, eris.Wrap(rows.Err(), "entities: library site conditions iterate")
}

// LocationsForTenant lists every location under a tenant's in-window work
// packages. The evaluator walks this set daily.
func (e *Entities) LocationsForTenant(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]model.Location, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT l.id, l.tenant_id, l.work_package_id, l.name, l.latitude, l.longitude, l.supervisor_id, l.external_key
		 FROM project_locations l
		 JOIN work_packages w ON w.id = l.work_package_id
		 WHERE l.tenant_id = $1 AND w.start_date <= $2 AND w.end_date >= $2
		 ORDER BY l.id`,
		tenantID, model.DateOnly(date))
	if err != nil {
		return nil, eris.Wrapf(err, "entities: locations for tenant %s", tenantID)
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "entities: scan location")
		}
		locations = append(locations, l)
	}
	return locations, eris.Wrap(rows.Err(), "entities: tenant locations iterate")
}

// WorkPackagesForTenant lists work packages whose window contains date.
func (e *Entities) WorkPackagesForTenant(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]model.WorkPackage, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT `+workPackageColumns+` FROM work_packages
		 WHERE tenant_id = $1 AND start_date <= $2 AND end_date >= $2 ORDER BY id`,
		tenantID, model.DateOnly(date))
	if err != nil {
		return nil, eris.Wrapf(err, "entities: work packages for tenant %s", tenantID)
	}
	defer rows.Close()

	var packages []model.WorkPackage
	for rows.Next() {
		var wp model.WorkPackage
		if err := rows.Scan(&wp.ID, &wp.TenantID, &wp.Name, &wp.Status, &wp.StartDate, &wp.EndDate,
			&wp.ContractorID, &wp.SupervisorID, &wp.DivisionID, &wp.WorkTypeIDs, &wp.ExternalKey); err != nil {
			return nil, eris.Wrap(err, "entities: scan work package")
		}
		packages = append(packages, wp)
	}
	return packages, eris.Wrap(rows.Err(), "entities: tenant work packages iterate")
}

func collectEvaluations(rows pgx.Rows) ([]model.EvaluatedSiteCondition, error) {
	var conditions []model.EvaluatedSiteCondition
	for rows.Next() {
		var (
			c           model.EvaluatedSiteCondition
			payloadJSON []byte
		)
		if err := rows.Scan(&c.ID, &c.LocationID, &c.LibrarySiteConditionID, &c.Date,
			&c.Applies, &c.Alert, &c.Multiplier, &payloadJSON, &c.ArchivedAt); err != nil {
			return nil, eris.Wrap(err, "entities: scan site condition evaluation")
		}
		c.Date = c.Date.UTC()
		if len(payloadJSON) > 0 {
			if err := unmarshalPayload(payloadJSON, &c.Payload); err != nil {
				return nil, err
			}
		}
		conditions = append(conditions, c)
	}
	return conditions, eris.Wrap(rows.Err(), "entities: site condition evaluations iterate")
}
