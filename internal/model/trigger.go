package model

import "github.com/google/uuid"

// TriggerKind tags a domain event delivered to the reactor.
type TriggerKind string

const (
	TaskChanged                   TriggerKind = "task_changed"
	TaskDeleted                   TriggerKind = "task_deleted"
	ProjectChanged                TriggerKind = "project_changed"
	LocationSiteConditionsChanged TriggerKind = "location_site_conditions_changed"
	SupervisorDataChanged         TriggerKind = "supervisor_data_changed"
	SupervisorDataChangedTenant   TriggerKind = "supervisor_data_changed_for_tenant"
	ContractorDataChanged         TriggerKind = "contractor_data_changed"
	ContractorDataChangedTenant   TriggerKind = "contractor_data_changed_for_tenant"
	CrewDataChanged               TriggerKind = "crew_data_changed"
)

// Trigger is a tagged record describing a domain event. Exactly one of the
// ID fields is set, depending on the kind.
type Trigger struct {
	Kind     TriggerKind
	EntityID uuid.UUID // task, project, location, supervisor, contractor, or crew id
	TenantID uuid.UUID // set for *ForTenant kinds; resolved otherwise
}

// ParseTriggerKind validates a wire string against the known kinds.
func ParseTriggerKind(s string) (TriggerKind, bool) {
	switch k := TriggerKind(s); k {
	case TaskChanged, TaskDeleted, ProjectChanged, LocationSiteConditionsChanged,
		SupervisorDataChanged, SupervisorDataChangedTenant,
		ContractorDataChanged, ContractorDataChangedTenant, CrewDataChanged:
		return k, true
	default:
		return "", false
	}
}
