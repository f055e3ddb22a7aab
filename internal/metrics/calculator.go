package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// writeResult persists a computed value and logs the run outcome.
func writeResult(ctx context.Context, d *Deps, inst Instance, value float64, inputs map[string]any) error {
	row := NewRow(inst.Kind, inst.Subject, value, inputs)
	if err := d.Metrics.Store(ctx, row); err != nil {
		return eris.Wrapf(err, "metrics: store %s", inst)
	}
	zap.L().Info("metric calculated",
		zap.String("metric", string(inst.Kind)),
		zap.String("tenant", inst.Subject.TenantID.String()),
		zap.String("subject", inst.Subject.String()),
		zap.Float64("value", value),
	)
	return nil
}

// writeSentinel persists a could-not-compute sentinel so downstream layers
// see "known-unknown" instead of "not yet computed". The run is a normal
// terminal outcome, not an error.
func writeSentinel(ctx context.Context, d *Deps, inst Instance, reason string) error {
	row := NewSentinelRow(inst.Kind, inst.Subject, reason)
	if err := d.Metrics.Store(ctx, row); err != nil {
		return eris.Wrapf(err, "metrics: store sentinel %s", inst)
	}
	zap.L().Warn("metric could not be computed",
		zap.String("metric", string(inst.Kind)),
		zap.String("tenant", inst.Subject.TenantID.String()),
		zap.String("subject", inst.Subject.String()),
		zap.String("reason", reason),
	)
	return nil
}

// loadValue fetches the latest dependency row and unwraps it. Absent rows
// surface as *MissingMetricError, sentinels as *CouldNotComputeError.
func loadValue(ctx context.Context, d *Deps, kind Kind, subject SubjectKey, before *time.Time) (float64, error) {
	row, err := d.Metrics.LoadLatest(ctx, kind, subject, before)
	if err != nil {
		return 0, err
	}
	return row.Unwrap()
}

// loadValueOrZero fetches a dependency, substituting 0.0 when it is absent
// or a sentinel. Used at layers that are defined with partial inputs.
func loadValueOrZero(ctx context.Context, d *Deps, kind Kind, subject SubjectKey, before *time.Time) (float64, bool, error) {
	row, err := d.Metrics.LoadLatest(ctx, kind, subject, before)
	if err != nil {
		var missing *MissingMetricError
		if errors.As(err, &missing) {
			return 0, false, nil
		}
		return 0, false, err
	}
	v, err := row.Unwrap()
	if err != nil {
		var cnc *CouldNotComputeError
		if errors.As(err, &cnc) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return v, true, nil
}
