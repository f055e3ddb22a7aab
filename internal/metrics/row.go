package metrics

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// sentinelInputKey flags a row written by a calculator whose inputs were
// present but whose formula was undefined.
const sentinelInputKey = "could_not_compute"

// Row is one immutable metric observation. Updates are modeled as new rows
// with a later CalculatedAt.
type Row struct {
	ID           uuid.UUID
	Kind         Kind
	Subject      SubjectKey
	Value        float64
	CalculatedAt time.Time
	Inputs       map[string]any
}

// NewRow builds a row for storage. Inputs may be nil.
func NewRow(kind Kind, subject SubjectKey, value float64, inputs map[string]any) Row {
	return Row{
		ID:      uuid.New(),
		Kind:    kind,
		Subject: subject,
		Value:   value,
		Inputs:  inputs,
	}
}

// NewSentinelRow builds a "known-unknown" row for a formula that could not
// be computed. The value is NaN and the inputs carry the reason.
func NewSentinelRow(kind Kind, subject SubjectKey, reason string) Row {
	return Row{
		ID:      uuid.New(),
		Kind:    kind,
		Subject: subject,
		Value:   math.NaN(),
		Inputs:  map[string]any{sentinelInputKey: reason},
	}
}

// IsSentinel reports whether the row is a could-not-compute sentinel.
func (r Row) IsSentinel() bool {
	if r.Inputs != nil {
		if _, ok := r.Inputs[sentinelInputKey]; ok {
			return true
		}
	}
	return math.IsNaN(r.Value)
}

// Unwrap returns the row's value, or a CouldNotComputeError when the row
// is a sentinel. Callers that can substitute a default inspect the error;
// callers that cannot propagate it.
func (r Row) Unwrap() (float64, error) {
	if r.IsSentinel() {
		reason := "stored sentinel"
		if r.Inputs != nil {
			if s, ok := r.Inputs[sentinelInputKey].(string); ok {
				reason = s
			}
		}
		return 0, &CouldNotComputeError{Kind: r.Kind, Subject: r.Subject, Reason: reason}
	}
	return r.Value, nil
}
