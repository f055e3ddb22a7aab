// Package reactor turns domain events into metric recomputation: a factory
// expands each trigger into the affected calculator instances, and a
// bounded worker pool runs them with dedup and transient retry.
package reactor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/model"
	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

// Factory expands triggers into ordered calculator lists. Children precede
// parents so a fresh expansion computes bottom-up; structurally identical
// instances within one expansion are emitted once.
type Factory struct {
	deps       *metrics.Deps
	registry   *metrics.Registry
	windowDays int
}

// NewFactory builds a factory over the given dependency bundle.
func NewFactory(deps *metrics.Deps, registry *metrics.Registry, windowDays int) *Factory {
	if windowDays <= 0 {
		windowDays = 14
	}
	return &Factory{deps: deps, registry: registry, windowDays: windowDays}
}

// ForTrigger expands one trigger. An empty result with a nil error means
// the trigger resolved to nothing, for example a deleted entity.
func (f *Factory) ForTrigger(ctx context.Context, trig model.Trigger) ([]metrics.Calculator, error) {
	switch trig.Kind {
	case model.TaskChanged:
		return f.forTask(ctx, trig.EntityID)
	case model.TaskDeleted:
		// The task row is gone; the trigger carries the location it
		// belonged to so its aggregates shed the removed score.
		return f.forLocationSubtree(ctx, trig.EntityID, false)
	case model.ProjectChanged:
		return f.forProject(ctx, trig.EntityID)
	case model.LocationSiteConditionsChanged:
		return f.forLocationSubtree(ctx, trig.EntityID, true)
	case model.SupervisorDataChanged:
		return f.forSupervisor(ctx, trig.EntityID)
	case model.SupervisorDataChangedTenant:
		return f.forTenantSupervisors(ctx, trig.TenantID)
	case model.ContractorDataChanged:
		return f.forContractor(ctx, trig.EntityID)
	case model.ContractorDataChangedTenant:
		return f.forTenantContractors(ctx, trig.TenantID)
	case model.CrewDataChanged:
		return f.forCrew(ctx, trig.EntityID)
	default:
		return nil, eris.Errorf("reactor: unknown trigger kind %q", trig.Kind)
	}
}

// window returns the dates the engine keeps current: today through
// windowDays-1 days ahead, UTC calendar days.
func (f *Factory) window() []time.Time {
	today := model.DateOnly(f.deps.Now())
	dates := make([]time.Time, 0, f.windowDays)
	for i := 0; i < f.windowDays; i++ {
		dates = append(dates, today.AddDate(0, 0, i))
	}
	return dates
}

// expansion accumulates calculators, dropping structural duplicates.
type expansion struct {
	calcs []metrics.Calculator
	seen  map[metrics.Instance]struct{}
}

func newExpansion() *expansion {
	return &expansion{seen: make(map[metrics.Instance]struct{})}
}

func (e *expansion) add(calcs ...metrics.Calculator) {
	for _, c := range calcs {
		inst := c.Instance()
		if _, dup := e.seen[inst]; dup {
			continue
		}
		e.seen[inst] = struct{}{}
		e.calcs = append(e.calcs, c)
	}
}

// roleCalcs builds the calculators servicing a role under the tenant's
// configured family. Nil when the selection enables nothing for the role.
func (f *Factory) roleCalcs(cfg *tenantcfg.TenantConfig, role tenantcfg.Role, subject metrics.SubjectKey) []metrics.Calculator {
	regs := f.registry.For(role, cfg.FamilyFor(role))
	calcs := make([]metrics.Calculator, 0, len(regs))
	for _, reg := range regs {
		calcs = append(calcs, reg.Build(subject))
	}
	return calcs
}

func (f *Factory) forTask(ctx context.Context, taskID uuid.UUID) ([]metrics.Calculator, error) {
	task, err := f.deps.Entities.Task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		zap.L().Info("trigger references deleted task", zap.String("task_id", taskID.String()))
		return nil, nil
	}

	cfg, err := f.deps.Config(ctx, task.TenantID)
	if err != nil {
		return nil, err
	}
	loc, err := f.deps.Entities.Location(ctx, task.LocationID)
	if err != nil {
		return nil, err
	}

	exp := newExpansion()
	for _, d := range f.window() {
		if !task.ActiveOn(d) {
			continue
		}
		exp.add(f.roleCalcs(cfg, tenantcfg.RoleTaskRiskScore,
			metrics.DatedSubject(task.TenantID, task.ID, d))...)
		if task.ActivityID != nil {
			exp.add(f.roleCalcs(cfg, tenantcfg.RoleActivityRiskScore,
				metrics.DatedSubject(task.TenantID, *task.ActivityID, d))...)
		}
		exp.add(f.roleCalcs(cfg, tenantcfg.RoleLocationRiskScore,
			metrics.DatedSubject(task.TenantID, task.LocationID, d))...)
		if loc != nil {
			exp.add(f.roleCalcs(cfg, tenantcfg.RoleProjectRiskScore,
				metrics.DatedSubject(task.TenantID, loc.WorkPackageID, d))...)
		}
	}
	return exp.calcs, nil
}

// forLocationSubtree recomputes everything at and above a location. When
// includeTasks is set the per-task metrics are refreshed too, which is
// what a site-condition change requires.
func (f *Factory) forLocationSubtree(ctx context.Context, locationID uuid.UUID, includeTasks bool) ([]metrics.Calculator, error) {
	loc, err := f.deps.Entities.Location(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		zap.L().Info("trigger references deleted location", zap.String("location_id", locationID.String()))
		return nil, nil
	}

	cfg, err := f.deps.Config(ctx, loc.TenantID)
	if err != nil {
		return nil, err
	}

	exp := newExpansion()
	for _, d := range f.window() {
		if includeTasks {
			tasks, err := f.deps.Entities.TasksForLocation(ctx, loc.ID, d)
			if err != nil {
				return nil, err
			}
			for _, t := range tasks {
				exp.add(f.roleCalcs(cfg, tenantcfg.RoleTaskRiskScore,
					metrics.DatedSubject(loc.TenantID, t.ID, d))...)
				if t.ActivityID != nil {
					exp.add(f.roleCalcs(cfg, tenantcfg.RoleActivityRiskScore,
						metrics.DatedSubject(loc.TenantID, *t.ActivityID, d))...)
				}
			}
		}
		exp.add(f.roleCalcs(cfg, tenantcfg.RoleLocationRiskScore,
			metrics.DatedSubject(loc.TenantID, loc.ID, d))...)
		exp.add(f.roleCalcs(cfg, tenantcfg.RoleProjectRiskScore,
			metrics.DatedSubject(loc.TenantID, loc.WorkPackageID, d))...)
	}
	return exp.calcs, nil
}

func (f *Factory) forProject(ctx context.Context, workPackageID uuid.UUID) ([]metrics.Calculator, error) {
	wp, err := f.deps.Entities.WorkPackage(ctx, workPackageID)
	if err != nil {
		return nil, err
	}
	if wp == nil {
		zap.L().Info("trigger references deleted work package",
			zap.String("work_package_id", workPackageID.String()))
		return nil, nil
	}

	cfg, err := f.deps.Config(ctx, wp.TenantID)
	if err != nil {
		return nil, err
	}
	locations, err := f.deps.Entities.LocationsForWorkPackage(ctx, wp.ID)
	if err != nil {
		return nil, err
	}

	exp := newExpansion()
	for _, d := range f.window() {
		if !wp.ContainsDate(d) {
			continue
		}
		for _, loc := range locations {
			tasks, err := f.deps.Entities.TasksForLocation(ctx, loc.ID, d)
			if err != nil {
				return nil, err
			}
			for _, t := range tasks {
				exp.add(f.roleCalcs(cfg, tenantcfg.RoleTaskRiskScore,
					metrics.DatedSubject(wp.TenantID, t.ID, d))...)
				if t.ActivityID != nil {
					exp.add(f.roleCalcs(cfg, tenantcfg.RoleActivityRiskScore,
						metrics.DatedSubject(wp.TenantID, *t.ActivityID, d))...)
				}
			}
			exp.add(f.roleCalcs(cfg, tenantcfg.RoleLocationRiskScore,
				metrics.DatedSubject(wp.TenantID, loc.ID, d))...)
		}
		exp.add(f.roleCalcs(cfg, tenantcfg.RoleProjectRiskScore,
			metrics.DatedSubject(wp.TenantID, wp.ID, d))...)
	}
	return exp.calcs, nil
}

func (f *Factory) forSupervisor(ctx context.Context, supervisorID uuid.UUID) ([]metrics.Calculator, error) {
	sup, err := f.deps.Entities.Supervisor(ctx, supervisorID)
	if err != nil {
		return nil, err
	}
	if sup == nil {
		zap.L().Info("trigger references deleted supervisor", zap.String("supervisor_id", supervisorID.String()))
		return nil, nil
	}
	cfg, err := f.deps.Config(ctx, sup.TenantID)
	if err != nil {
		return nil, err
	}
	exp := newExpansion()
	exp.add(f.roleCalcs(cfg, tenantcfg.RoleSupervisorMetrics,
		metrics.EntitySubject(sup.TenantID, sup.ID))...)
	return exp.calcs, nil
}

func (f *Factory) forTenantSupervisors(ctx context.Context, tenantID uuid.UUID) ([]metrics.Calculator, error) {
	cfg, err := f.deps.Config(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	supervisors, err := f.deps.Entities.SupervisorsForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	exp := newExpansion()
	// Baselines first so the per-actor z-scores read fresh values.
	subject := metrics.TenantSubject(tenantID)
	exp.add(
		&metrics.GlobalSupervisorPrecursorCalc{Subject: subject},
		&metrics.GlobalSupervisorPrecursorCalc{Subject: subject, Stddev: true},
	)
	for _, sup := range supervisors {
		exp.add(f.roleCalcs(cfg, tenantcfg.RoleSupervisorMetrics,
			metrics.EntitySubject(tenantID, sup.ID))...)
	}
	return exp.calcs, nil
}

func (f *Factory) forContractor(ctx context.Context, contractorID uuid.UUID) ([]metrics.Calculator, error) {
	contractor, err := f.deps.Entities.Contractor(ctx, contractorID)
	if err != nil {
		return nil, err
	}
	if contractor == nil {
		zap.L().Info("trigger references deleted contractor", zap.String("contractor_id", contractorID.String()))
		return nil, nil
	}
	cfg, err := f.deps.Config(ctx, contractor.TenantID)
	if err != nil {
		return nil, err
	}
	exp := newExpansion()
	exp.add(f.roleCalcs(cfg, tenantcfg.RoleContractorMetrics,
		metrics.EntitySubject(contractor.TenantID, contractor.ID))...)
	return exp.calcs, nil
}

func (f *Factory) forTenantContractors(ctx context.Context, tenantID uuid.UUID) ([]metrics.Calculator, error) {
	cfg, err := f.deps.Config(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	contractors, err := f.deps.Entities.ContractorsForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	exp := newExpansion()
	subject := metrics.TenantSubject(tenantID)
	exp.add(
		&metrics.ContractorHistoryBaselineCalc{Subject: subject},
		&metrics.ContractorHistoryBaselineCalc{Subject: subject, Stddev: true},
	)
	for _, c := range contractors {
		exp.add(f.roleCalcs(cfg, tenantcfg.RoleContractorMetrics,
			metrics.EntitySubject(tenantID, c.ID))...)
	}
	// The population score trails the per-contractor recompute.
	exp.add(
		&metrics.GlobalContractorSafetyScoreCalc{Subject: subject},
		&metrics.GlobalContractorSafetyScoreCalc{Subject: subject, Stddev: true},
	)
	return exp.calcs, nil
}

func (f *Factory) forCrew(ctx context.Context, crewID uuid.UUID) ([]metrics.Calculator, error) {
	crew, err := f.deps.Entities.Crew(ctx, crewID)
	if err != nil {
		return nil, err
	}
	if crew == nil {
		zap.L().Info("trigger references deleted crew", zap.String("crew_id", crewID.String()))
		return nil, nil
	}
	cfg, err := f.deps.Config(ctx, crew.TenantID)
	if err != nil {
		return nil, err
	}
	exp := newExpansion()
	exp.add(f.roleCalcs(cfg, tenantcfg.RoleCrewMetrics,
		metrics.EntitySubject(crew.TenantID, crew.ID))...)
	return exp.calcs, nil
}
