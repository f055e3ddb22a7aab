package metrics

import "context"

// CrewRelativePrecursorRiskCalc scores a crew's precursor event volume
// relative to the tenant-wide distribution.
type CrewRelativePrecursorRiskCalc struct {
	Subject SubjectKey
}

func (c *CrewRelativePrecursorRiskCalc) Instance() Instance {
	return Instance{Kind: CrewRelativePrecursorRisk, Subject: c.Subject}
}

func (c *CrewRelativePrecursorRiskCalc) Run(ctx context.Context, d *Deps) error {
	crew, err := d.Entities.Crew(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}
	if crew == nil {
		return &MissingDependencyError{What: "crew", ID: c.Subject.EntityID.String()}
	}

	count, err := d.Entities.CrewPrecursorCount(ctx, c.Subject.EntityID)
	if err != nil {
		return err
	}

	tenant := TenantSubject(c.Subject.TenantID)
	globalMean, err := loadValue(ctx, d, GlobalCrewRelativePrecursor, tenant, nil)
	if err != nil {
		return err
	}
	globalStd, err := loadValue(ctx, d, GlobalCrewRelativePrecursorSD, tenant, nil)
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

// GlobalCrewPrecursorCalc emits the tenant-wide mean (or stddev) of crew
// precursor counts.
type GlobalCrewPrecursorCalc struct {
	Subject SubjectKey
	Stddev  bool
}

func (c *GlobalCrewPrecursorCalc) Instance() Instance {
	kind := GlobalCrewRelativePrecursor
	if c.Stddev {
		kind = GlobalCrewRelativePrecursorSD
	}
	return Instance{Kind: kind, Subject: c.Subject}
}

func (c *GlobalCrewPrecursorCalc) Run(ctx context.Context, d *Deps) error {
	crews, err := d.Entities.CrewsForTenant(ctx, c.Subject.TenantID)
	if err != nil {
		return err
	}
	if len(crews) == 0 {
		return writeSentinel(ctx, d, c.Instance(), "no crews for tenant")
	}

	counts := make([]float64, 0, len(crews))
	for _, cr := range crews {
		n, err := d.Entities.CrewPrecursorCount(ctx, cr.ID)
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
