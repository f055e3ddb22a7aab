// Package metrics defines the metric kinds of the risk model, their
// dependency relationships, and the calculators that evaluate them.
package metrics

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/worksafe/risk-engine/internal/model"
)

// Kind identifies a metric kind. The string doubles as the storage table
// name.
type Kind string

const (
	// Contractor metrics.
	ContractorSafetyHistory         Kind = "contractor_safety_history"
	ContractorProjectExecution      Kind = "contractor_project_execution"
	ContractorSafetyRating          Kind = "contractor_safety_rating"
	ContractorSafetyScore           Kind = "contractor_safety_score"
	GlobalContractorSafetyScore     Kind = "global_contractor_safety_score"
	GlobalContractorSafetyScoreStd  Kind = "global_contractor_safety_score_stddev"
	GblContractorHistoryBaseline    Kind = "gbl_contractor_project_history_baseline"
	GblContractorHistoryBaselineStd Kind = "gbl_contractor_project_history_baseline_stddev"

	// Supervisor metrics.
	SupervisorEngagementFactor          Kind = "supervisor_engagement_factor"
	SupervisorRelativePrecursorRisk     Kind = "supervisor_relative_precursor_risk"
	GlobalSupervisorRelativePrecursor   Kind = "global_supervisor_relative_precursor_risk"
	GlobalSupervisorRelativePrecursorSD Kind = "global_supervisor_relative_precursor_risk_stddev"

	// Crew metrics.
	CrewRelativePrecursorRisk     Kind = "crew_relative_precursor_risk"
	GlobalCrewRelativePrecursor   Kind = "global_crew_relative_precursor_risk"
	GlobalCrewRelativePrecursorSD Kind = "global_crew_relative_precursor_risk_stddev"

	// Task metrics.
	TaskSpecificSafetyClimateMultiplier  Kind = "task_specific_safety_climate_multiplier"
	TaskSpecificSiteConditionsMultiplier Kind = "task_specific_site_conditions_multiplier"
	TaskSpecificRiskScore                Kind = "task_specific_risk_score"
	StochasticTaskSpecificRiskScore      Kind = "stochastic_task_specific_risk_score"

	// Location metrics.
	ProjectLocationSiteConditionsMultiplier Kind = "project_location_site_conditions_multiplier"
	ProjectLocationTotalTaskRiskScore       Kind = "project_location_total_task_risk_score"
	StochasticLocationTotalTaskRiskScore    Kind = "stochastic_location_total_task_risk_score"
	ProjectSafetyClimateMultiplier          Kind = "project_safety_climate_multiplier"
	TotalProjectLocationRiskScore           Kind = "total_project_location_risk_score"
	StochasticTotalLocationRiskScore        Kind = "stochastic_total_location_risk_score"

	// Activity metrics.
	StochasticActivityTotalTaskRiskScore Kind = "stochastic_activity_total_task_risk_score"
	StochasticActivitySCPrecursorRisk    Kind = "stochastic_activity_site_condition_relative_precursor_risk"
	TotalActivityRiskScore               Kind = "total_activity_risk_score"

	// Work package metrics.
	TotalProjectRiskScore Kind = "total_project_risk_score"
)

// AllKinds lists every metric kind. The storage layer creates one table
// per kind from this list.
func AllKinds() []Kind {
	return []Kind{
		ContractorSafetyHistory, ContractorProjectExecution, ContractorSafetyRating,
		ContractorSafetyScore, GlobalContractorSafetyScore, GlobalContractorSafetyScoreStd,
		GblContractorHistoryBaseline, GblContractorHistoryBaselineStd,
		SupervisorEngagementFactor, SupervisorRelativePrecursorRisk,
		GlobalSupervisorRelativePrecursor, GlobalSupervisorRelativePrecursorSD,
		CrewRelativePrecursorRisk, GlobalCrewRelativePrecursor, GlobalCrewRelativePrecursorSD,
		TaskSpecificSafetyClimateMultiplier, TaskSpecificSiteConditionsMultiplier,
		TaskSpecificRiskScore, StochasticTaskSpecificRiskScore,
		ProjectLocationSiteConditionsMultiplier, ProjectLocationTotalTaskRiskScore,
		StochasticLocationTotalTaskRiskScore, ProjectSafetyClimateMultiplier,
		TotalProjectLocationRiskScore, StochasticTotalLocationRiskScore,
		StochasticActivityTotalTaskRiskScore, StochasticActivitySCPrecursorRisk,
		TotalActivityRiskScore, TotalProjectRiskScore,
	}
}

// SubjectKey is the tuple that uniquely identifies what a metric row is
// about. EntityID is the primary subject (contractor, task, location, ...)
// and is nil for tenant-wide metrics. Date is zero for undated kinds and
// is always normalized to UTC midnight.
type SubjectKey struct {
	TenantID uuid.UUID
	EntityID uuid.UUID
	Date     time.Time
}

// TenantSubject keys a tenant-wide metric.
func TenantSubject(tenantID uuid.UUID) SubjectKey {
	return SubjectKey{TenantID: tenantID}
}

// EntitySubject keys an undated per-entity metric.
func EntitySubject(tenantID, entityID uuid.UUID) SubjectKey {
	return SubjectKey{TenantID: tenantID, EntityID: entityID}
}

// DatedSubject keys a per-entity, per-date metric.
func DatedSubject(tenantID, entityID uuid.UUID, date time.Time) SubjectKey {
	return SubjectKey{TenantID: tenantID, EntityID: entityID, Date: model.DateOnly(date)}
}

// Dated reports whether the subject carries a date component.
func (k SubjectKey) Dated() bool { return !k.Date.IsZero() }

func (k SubjectKey) String() string {
	if k.Dated() {
		return fmt.Sprintf("%s/%s@%s", k.TenantID, k.EntityID, k.Date.Format("2006-01-02"))
	}
	if k.EntityID == uuid.Nil {
		return k.TenantID.String()
	}
	return fmt.Sprintf("%s/%s", k.TenantID, k.EntityID)
}

// Instance pairs a kind with a concrete subject. It is the structural
// identity the reactor deduplicates on.
type Instance struct {
	Kind    Kind
	Subject SubjectKey
}

func (i Instance) String() string {
	return fmt.Sprintf("%s[%s]", i.Kind, i.Subject)
}
