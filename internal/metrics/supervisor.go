package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/worksafe/risk-engine/internal/model"
)

const engagementMonths = 12

// SupervisorEngagementFactorCalc walks twelve trailing months of a
// supervisor's observation history. Each month contributes four additive
// sub-scores; the four channels are averaged across months and summed.
type SupervisorEngagementFactorCalc struct {
	Subject SubjectKey
}

func (c *SupervisorEngagementFactorCalc) Instance() Instance {
	return Instance{Kind: SupervisorEngagementFactor, Subject: c.Subject}
}

func (c *SupervisorEngagementFactorCalc) Run(ctx context.Context, d *Deps) error {
	supervisor, err := d.Entities.Supervisor(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if supervisor == nil {
		return &MissingDependencyError{What: "supervisor", ID: c.Subject.EntityID.String()}
	}

	cfg, err := d.Config(ctx, c.Subject.TenantID)
	if err != nil {
		return err
	}

	months, err := d.Entities.SupervisorMonths(ctx, c.Subject.EntityID, d.Now(), engagementMonths)
	if err != nil {
		return err
	}

	byMonth := make(map[time.Time]model.SupervisorMonth, len(months))
	for _, m := range months {
		byMonth[model.DateOnly(m.Month)] = m
	}

	p := cfg.Engagement
	var obsSum, esdSum, obsTimingSum, esdTimingSum float64
	now := d.Now()
	for i := 0; i < engagementMonths; i++ {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -i, 0)
		m := byMonth[monthStart] // zero value scores the "none" buckets

		obsSum += countBucket(m.Observations, p.ObsNone, p.ObsLow, p.ObsHigh, p.ObsLowMax)
		esdSum += countBucket(m.ESDs, p.ESDNone, p.ESDLow, p.ESDHigh, p.ESDLowMax)
		obsTimingSum += timingBucket(m.Observations, m.LateObservations,
			p.ObsTimingNone, p.ObsTimingPoor, p.ObsTimingGood, p.ObsLateMaxFraction)
		esdTimingSum += timingBucket(m.ESDs, m.LateESDs,
			p.ESDTimingNone, p.ESDTimingPoor, p.ESDTimingGood, p.ESDLateMaxFraction)
	}

	n := float64(engagementMonths)
	value := obsSum/n + esdSum/n + obsTimingSum/n + esdTimingSum/n

	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"months_with_data": len(months),
	})
}

func countBucket(count int, none, low, high float64, lowMax int) float64 {
	switch {
	case count == 0:
		return none
	case count <= lowMax:
		return low
	default:
		return high
	}
}

// timingBucket compares the fraction of events falling in the last part
// of the month against the tenant threshold.
func timingBucket(total, late int, none, poor, good float64, lateMaxFraction float64) float64 {
	if total == 0 {
		return none
	}
	if float64(late)/float64(total) <= lateMaxFraction {
		return good
	}
	return poor
}

// SupervisorRelativePrecursorRiskCalc scores a supervisor's precursor
// event volume relative to the tenant-wide distribution.
type SupervisorRelativePrecursorRiskCalc struct {
	Subject SubjectKey
}

func (c *SupervisorRelativePrecursorRiskCalc) Instance() Instance {
	return Instance{Kind: SupervisorRelativePrecursorRisk, Subject: c.Subject}
}

func (c *SupervisorRelativePrecursorRiskCalc) Run(ctx context.Context, d *Deps) error {
	supervisor, err := d.Entities.Supervisor(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if supervisor == nil {
		return &MissingDependencyError{What: "supervisor", ID: c.Subject.EntityID.String()}
	}

	count, err := d.Entities.SupervisorPrecursorCount(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}

	tenant := TenantSubject(c.Subject.TenantID)
	globalMean, err := loadValue(ctx, d, GlobalSupervisorRelativePrecursor, tenant, nil)
	if err != nil {
		return err
	}
	globalStd, err := loadValue(ctx, d, GlobalSupervisorRelativePrecursorSD, tenant, nil)
	if err != nil {
		return err
	}
	if globalStd == 0 {
		return writeSentinel(ctx, d, c.Instance(), "zero variance in tenant precursor distribution")
	}

	value := (float64(count) - globalMean) / globalStd
	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"precursor_count": count,
		"global_mean":     globalMean,
		"global_stddev":   globalStd,
	})
}

// GlobalSupervisorPrecursorCalc emits the tenant-wide mean (or stddev) of
// supervisor precursor counts.
type GlobalSupervisorPrecursorCalc struct {
	Subject SubjectKey
	Stddev  bool
}

func (c *GlobalSupervisorPrecursorCalc) Instance() Instance {
	kind := GlobalSupervisorRelativePrecursor
	if c.Stddev {
		kind = GlobalSupervisorRelativePrecursorSD
	}
	return Instance{Kind: kind, Subject: c.Subject}
}

func (c *GlobalSupervisorPrecursorCalc) Run(ctx context.Context, d *Deps) error {
	supervisors, err := d.Entities.SupervisorsForTenant(ctx, c.Subject.TenantID)
	if err != nil {
		return err
	}
	if len(supervisors) == 0 {
		return writeSentinel(ctx, d, c.Instance(), "no supervisors for tenant")
	}

	counts := make([]float64, 0, len(supervisors))
	for _, s := range supervisors {
		n, err := d.Entities.SupervisorPrecursorCount(ctx, s.ID)
		if err != nil {
			return err
		}
		counts = append(counts, float64(n))
	}

	value := mean(counts)
	if c.Stddev {
		value = stddevPop(counts)
	}
	return writeResult(ctx, d, c.Instance(), value, map[string]any{
		"sample_size": len(counts),
	})
}

// supervisorForLocation resolves the acting supervisor of a location,
// falling back to the work package's primary supervisor.
func supervisorForLocation(ctx context.Context, d *Deps, loc *model.Location) (*uuid.UUID, error) {
	if loc.SupervisorID != nil {
		return loc.SupervisorID, nil
	}
	wp, err := d.Entities.WorkPackage(ctx, loc.WorkPackageID)
	if err != nil {
		return nil, err
	}
	if wp == nil {
		return nil, nil
	}
	return wp.SupervisorID, nil
}
