package metrics

import (
	"fmt"
	"time"
)

// MissingMetricError reports that a required dependency metric has no
// stored row. The reactor treats it as transient and requeues a bounded
// number of times.
type MissingMetricError struct {
	Kind    Kind
	Subject SubjectKey
}

func (e *MissingMetricError) Error() string {
	return fmt.Sprintf("missing metric %s for %s", e.Kind, e.Subject)
}

// MissingDependencyError reports an absent non-metric input (a deleted
// work package, contractor, and so on). Fatal for the instance; not
// retried.
type MissingDependencyError struct {
	What string
	ID   string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing dependency %s %s", e.What, e.ID)
}

// NotAvailableForDateError reports that the requested date falls outside
// the subject's validity window. Logged at INFO; no write; no retry.
type NotAvailableForDateError struct {
	Kind    Kind
	Subject SubjectKey
	Date    time.Time
	Reason  string
}

func (e *NotAvailableForDateError) Error() string {
	return fmt.Sprintf("metric %s not available for %s on %s: %s",
		e.Kind, e.Subject, e.Date.Format("2006-01-02"), e.Reason)
}

// CouldNotComputeError reports that inputs were present but the formula is
// undefined for them. A sentinel row is written so downstream layers can
// tell "known-unknown" from "not yet computed".
type CouldNotComputeError struct {
	Kind    Kind
	Subject SubjectKey
	Reason  string
}

func (e *CouldNotComputeError) Error() string {
	return fmt.Sprintf("could not compute %s for %s: %s", e.Kind, e.Subject, e.Reason)
}
