// Package model defines the domain entities the risk engine consumes:
// work packages, locations, activities, tasks, site conditions, and the
// actors (contractors, supervisors, crews) whose history feeds the metrics.
package model

import (
	"time"

	"github.com/google/uuid"
)

// WorkPackageStatus is the lifecycle state of a work package.
type WorkPackageStatus string

const (
	WorkPackagePending   WorkPackageStatus = "pending"
	WorkPackageActive    WorkPackageStatus = "active"
	WorkPackageCompleted WorkPackageStatus = "completed"
)

// WorkPackage is the top subject level of the risk hierarchy.
type WorkPackage struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	Status       WorkPackageStatus
	StartDate    time.Time
	EndDate      time.Time
	ContractorID *uuid.UUID
	SupervisorID *uuid.UUID
	DivisionID   *uuid.UUID
	WorkTypeIDs  []uuid.UUID
	ExternalKey  string
}

// ContainsDate reports whether d falls inside the work package's
// [start, end] window. Both endpoints are in-window.
func (w WorkPackage) ContainsDate(d time.Time) bool {
	day := DateOnly(d)
	return !day.Before(DateOnly(w.StartDate)) && !day.After(DateOnly(w.EndDate))
}

// Location belongs to one work package and carries a point geometry.
type Location struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	WorkPackageID uuid.UUID
	Name          string
	Latitude      float64
	Longitude     float64
	SupervisorID  *uuid.UUID
	ExternalKey   string
}

// Activity groups tasks under a location for a date range.
type Activity struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	LocationID uuid.UUID
	Name       string
	StartDate  time.Time
	EndDate    time.Time
	CrewID     *uuid.UUID
}

// Task references a library task which carries the fixed HESP score.
type Task struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	ActivityID    *uuid.UUID // nil for legacy rows attached directly to a location
	LocationID    uuid.UUID
	LibraryTaskID uuid.UUID
	StartDate     time.Time
	EndDate       time.Time
}

// ActiveOn reports whether the task is active on the given date.
func (t Task) ActiveOn(d time.Time) bool {
	day := DateOnly(d)
	return !day.Before(DateOnly(t.StartDate)) && !day.After(DateOnly(t.EndDate))
}

// LibraryTask is a tenant-scoped catalog task. HESP is an integer by
// contract; it must stay integral until the final multiplier product.
type LibraryTask struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	HESP     int
}

// LibrarySiteCondition is a catalog site condition a tenant can enable.
type LibrarySiteCondition struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	HandleCode   string // predicate handle, e.g. "high_winds"
	DefaultMulti float64
}

// Contractor carries trailing history aggregates used by contractor metrics.
type Contractor struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	Name                string
	SafetyObservations  int // trailing 5 years
	ActionItems         int // trailing 5 years
	ExperienceYears     float64
	ProjectCount        int
	SafetyRatingsSample []float64
}

// Supervisor carries per-month observation history for engagement scoring.
type Supervisor struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
}

// SupervisorMonth aggregates one supervisor's observations for one month.
type SupervisorMonth struct {
	SupervisorID uuid.UUID
	Month        time.Time // first of month, UTC
	Observations int
	ESDs         int
	// Counts of events occurring in the last fraction of the month,
	// used by the timing sub-scores.
	LateObservations int
	LateESDs         int
}

// Crew is a labor crew referenced by activities.
type Crew struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
}

// SiteConditionResult is the outcome of evaluating one condition predicate.
type SiteConditionResult struct {
	Applies    bool
	Alert      bool
	Multiplier float64
	Payload    map[string]any
}

// EvaluatedSiteCondition is one per-date applicability row.
type EvaluatedSiteCondition struct {
	ID                     uuid.UUID
	LocationID             uuid.UUID
	LibrarySiteConditionID uuid.UUID
	Date                   time.Time
	Applies                bool
	Alert                  bool
	Multiplier             float64
	Payload                map[string]any
	ArchivedAt             *time.Time
}

// ManualSiteCondition is an operator-entered condition, authoritative as
// entered and never overwritten by the evaluator.
type ManualSiteCondition struct {
	ID                     uuid.UUID
	LocationID             uuid.UUID
	LibrarySiteConditionID uuid.UUID
	Multiplier             float64
}

// DateOnly truncates a timestamp to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
