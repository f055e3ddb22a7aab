// Package tenantcfg holds the per-tenant knobs of the risk engine: which
// metric family services each logical role, the numeric parameters each
// formula consumes, and the ranking thresholds and aggregation weights.
package tenantcfg

import "github.com/google/uuid"

// Family is one of the concrete implementations a tenant can choose for a
// logical metric role.
type Family string

const (
	RuleBasedEngine Family = "RULE_BASED_ENGINE"
	StochasticModel Family = "STOCHASTIC_MODEL"
)

// Role names a logical metric slot a tenant configures a family for.
type Role string

const (
	RoleTaskRiskScore      Role = "task_risk_score"
	RoleActivityRiskScore  Role = "activity_risk_score"
	RoleLocationRiskScore  Role = "location_risk_score"
	RoleProjectRiskScore   Role = "project_risk_score"
	RoleSupervisorMetrics  Role = "supervisor_metrics"
	RoleContractorMetrics  Role = "contractor_metrics"
	RoleCrewMetrics        Role = "crew_metrics"
)

// RankingLevel is a subject level rankings are computed at.
type RankingLevel string

const (
	LevelWorkPackage RankingLevel = "work_package"
	LevelLocation    RankingLevel = "location"
	LevelTask        RankingLevel = "task"
)

// RankingThresholds partition the real line into LOW / MEDIUM / HIGH.
// A score below Low is LOW, below Medium is MEDIUM, else HIGH.
type RankingThresholds struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
}

// AggregationWeights assign a weight per ranking bucket when averaging
// child scores. The thresholds of the child level decide the bucket.
type AggregationWeights struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
	High   float64 `json:"high"`
}

// ContractorParams hold the contractor project-execution constants.
type ContractorParams struct {
	CPHWeightLow  float64 `json:"cph_weight_low"`
	CPHWeightMid  float64 `json:"cph_weight_mid"`
	CPHWeightHigh float64 `json:"cph_weight_high"`
	// Experience factor by tenure bucket: under one year, under two
	// years, two or more years.
	ExpFactorUnder1 float64 `json:"exp_factor_under_1"`
	ExpFactorUnder2 float64 `json:"exp_factor_under_2"`
	ExpFactorOver2  float64 `json:"exp_factor_over_2"`
}

// EngagementParams hold the SupervisorEngagementFactor thresholds. Each of
// the four monthly channels scores one of three constants depending on
// counts or timing fractions.
type EngagementParams struct {
	ObsNone   float64 `json:"obs_none"`
	ObsLow    float64 `json:"obs_low"`
	ObsHigh   float64 `json:"obs_high"`
	ObsLowMax int     `json:"obs_low_max"`

	ESDNone   float64 `json:"esd_none"`
	ESDLow    float64 `json:"esd_low"`
	ESDHigh   float64 `json:"esd_high"`
	ESDLowMax int     `json:"esd_low_max"`

	ObsTimingNone       float64 `json:"obs_timing_none"`
	ObsTimingPoor       float64 `json:"obs_timing_poor"`
	ObsTimingGood       float64 `json:"obs_timing_good"`
	ObsLateMaxFraction  float64 `json:"obs_late_max_fraction"`

	ESDTimingNone      float64 `json:"esd_timing_none"`
	ESDTimingPoor      float64 `json:"esd_timing_poor"`
	ESDTimingGood      float64 `json:"esd_timing_good"`
	ESDLateMaxFraction float64 `json:"esd_late_max_fraction"`
}

// SafetyClimateParams weight the two actor inputs of the project safety
// climate multiplier.
type SafetyClimateParams struct {
	SEF float64 `json:"sef"`
	CSR float64 `json:"csr"`
}

// TaskClimateParams tier the library-task safety-climate multiplier by
// observation volume.
type TaskClimateParams struct {
	NoDataMultiplier float64 `json:"no_data_multiplier"`
	LowMultiplier    float64 `json:"low_multiplier"`
	HighMultiplier   float64 `json:"high_multiplier"`
	LowMaxCount      int     `json:"low_max_count"`
}

// TenantConfig is the resolved configuration snapshot for one tenant.
type TenantConfig struct {
	TenantID   uuid.UUID
	Families   map[Role]Family
	Thresholds map[RankingLevel]RankingThresholds
	Weights    map[RankingLevel]AggregationWeights

	Contractor    ContractorParams
	Engagement    EngagementParams
	SafetyClimate SafetyClimateParams
	TaskClimate   TaskClimateParams

	// StochasticSignals names the child signals a tenant includes in the
	// stochastic composition.
	StochasticSignals []string

	// WebhookURL is the integration endpoint; empty disables publishing.
	WebhookURL string

	// EnabledSiteConditions lists the library condition handles the
	// tenant subscribes to; empty means all catalog predicates.
	EnabledSiteConditions []string
}

// FamilyFor resolves the family configured for a role, defaulting to the
// rule-based engine when the tenant has no explicit selection.
func (c *TenantConfig) FamilyFor(role Role) Family {
	if f, ok := c.Families[role]; ok {
		return f
	}
	return RuleBasedEngine
}

// ThresholdsFor returns the ranking thresholds at a level.
func (c *TenantConfig) ThresholdsFor(level RankingLevel) RankingThresholds {
	if t, ok := c.Thresholds[level]; ok {
		return t
	}
	return defaultThresholds
}

// WeightsFor returns the aggregation weights at a level.
func (c *TenantConfig) WeightsFor(level RankingLevel) AggregationWeights {
	if w, ok := c.Weights[level]; ok {
		return w
	}
	return defaultWeights
}

var (
	defaultThresholds = RankingThresholds{Low: 100, Medium: 250}
	defaultWeights    = AggregationWeights{Low: 1, Medium: 2, High: 3}
)

// Defaults returns a tenant config with the stock parameter set. Admin
// writes overlay these at onboarding.
func Defaults(tenantID uuid.UUID) *TenantConfig {
	return &TenantConfig{
		TenantID: tenantID,
		Families: map[Role]Family{},
		Thresholds: map[RankingLevel]RankingThresholds{
			LevelWorkPackage: defaultThresholds,
			LevelLocation:    defaultThresholds,
			LevelTask:        defaultThresholds,
		},
		Weights: map[RankingLevel]AggregationWeights{
			LevelWorkPackage: defaultWeights,
			LevelLocation:    defaultWeights,
			LevelTask:        defaultWeights,
		},
		Contractor: ContractorParams{
			CPHWeightLow:    -1,
			CPHWeightMid:    0,
			CPHWeightHigh:   1,
			ExpFactorUnder1: 1,
			ExpFactorUnder2: 0.5,
			ExpFactorOver2:  0,
		},
		Engagement: EngagementParams{
			ObsNone: 2, ObsLow: 1, ObsHigh: 0, ObsLowMax: 5,
			ESDNone: 2, ESDLow: 1, ESDHigh: 0, ESDLowMax: 2,
			ObsTimingNone: 1, ObsTimingPoor: 1, ObsTimingGood: 0, ObsLateMaxFraction: 0.5,
			ESDTimingNone: 1, ESDTimingPoor: 1, ESDTimingGood: 0, ESDLateMaxFraction: 0.5,
		},
		SafetyClimate: SafetyClimateParams{SEF: 0.05, CSR: 0.05},
		TaskClimate: TaskClimateParams{
			NoDataMultiplier: 0.1,
			LowMultiplier:    0.05,
			HighMultiplier:   0,
			LowMaxCount:      10,
		},
		StochasticSignals: []string{
			"activity_task", "site_condition_precursor",
			"crew_relative", "supervisor_relative", "division_relative",
		},
	}
}
