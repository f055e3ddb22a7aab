package metrics

import (
	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

// DefaultRegistry builds the full metric catalog. Called once from
// bootstrap; the registry is immutable afterwards.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	// Contractor metrics service the rule-based family only.
	r.Register(tenantcfg.RoleContractorMetrics, tenantcfg.RuleBasedEngine, Registration{
		Kind: ContractorSafetyHistory,
		Build: func(s SubjectKey) Calculator { return &ContractorSafetyHistoryCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleContractorMetrics, tenantcfg.RuleBasedEngine, Registration{
		Kind:    ContractorProjectExecution,
		Depends: []Kind{GblContractorHistoryBaseline, GblContractorHistoryBaselineStd},
		Build:   func(s SubjectKey) Calculator { return &ContractorProjectExecutionCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleContractorMetrics, tenantcfg.RuleBasedEngine, Registration{
		Kind: ContractorSafetyRating,
		Build: func(s SubjectKey) Calculator { return &ContractorSafetyRatingCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleContractorMetrics, tenantcfg.RuleBasedEngine, Registration{
		Kind:    ContractorSafetyScore,
		Depends: []Kind{ContractorSafetyHistory, ContractorProjectExecution, ContractorSafetyRating},
		Build:   func(s SubjectKey) Calculator { return &ContractorSafetyScoreCalc{Subject: s} },
	})

	// Supervisor metrics: engagement factor for the rule-based family,
	// relative precursor risk for the stochastic family.
	r.Register(tenantcfg.RoleSupervisorMetrics, tenantcfg.RuleBasedEngine, Registration{
		Kind: SupervisorEngagementFactor,
		Build: func(s SubjectKey) Calculator { return &SupervisorEngagementFactorCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleSupervisorMetrics, tenantcfg.StochasticModel, Registration{
		Kind:    SupervisorRelativePrecursorRisk,
		Depends: []Kind{GlobalSupervisorRelativePrecursor, GlobalSupervisorRelativePrecursorSD},
		Build:   func(s SubjectKey) Calculator { return &SupervisorRelativePrecursorRiskCalc{Subject: s} },
	})

	r.Register(tenantcfg.RoleCrewMetrics, tenantcfg.StochasticModel, Registration{
		Kind:    CrewRelativePrecursorRisk,
		Depends: []Kind{GlobalCrewRelativePrecursor, GlobalCrewRelativePrecursorSD},
		Build:   func(s SubjectKey) Calculator { return &CrewRelativePrecursorRiskCalc{Subject: s} },
	})

	// Task level.
	r.Register(tenantcfg.RoleTaskRiskScore, tenantcfg.RuleBasedEngine, Registration{
		Kind: TaskSpecificSafetyClimateMultiplier,
		Build: func(s SubjectKey) Calculator { return &TaskClimateCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleTaskRiskScore, tenantcfg.RuleBasedEngine, Registration{
		Kind: TaskSpecificSiteConditionsMultiplier,
		Build: func(s SubjectKey) Calculator { return &TaskSiteConditionsCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleTaskRiskScore, tenantcfg.RuleBasedEngine, Registration{
		Kind:    TaskSpecificRiskScore,
		Depends: []Kind{TaskSpecificSiteConditionsMultiplier, TaskSpecificSafetyClimateMultiplier},
		Build:   func(s SubjectKey) Calculator { return &TaskRiskScoreCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleTaskRiskScore, tenantcfg.StochasticModel, Registration{
		Kind: StochasticTaskSpecificRiskScore,
		Depends: []Kind{
			TaskSpecificSafetyClimateMultiplier, TaskSpecificSiteConditionsMultiplier,
			CrewRelativePrecursorRisk, SupervisorRelativePrecursorRisk,
		},
		Build: func(s SubjectKey) Calculator { return &StochasticTaskRiskCalc{Subject: s} },
	})

	// Activity level.
	r.Register(tenantcfg.RoleActivityRiskScore, tenantcfg.RuleBasedEngine, Registration{
		Kind:    TotalActivityRiskScore,
		Depends: []Kind{TaskSpecificRiskScore},
		Build:   func(s SubjectKey) Calculator { return &ActivityRiskCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleActivityRiskScore, tenantcfg.StochasticModel, Registration{
		Kind:    StochasticActivityTotalTaskRiskScore,
		Depends: []Kind{StochasticTaskSpecificRiskScore},
		Build:   func(s SubjectKey) Calculator { return &StochasticActivityTaskRiskCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleActivityRiskScore, tenantcfg.StochasticModel, Registration{
		Kind:  StochasticActivitySCPrecursorRisk,
		Build: func(s SubjectKey) Calculator { return &StochasticActivitySCPrecursorCalc{Subject: s} },
	})

	// Location level.
	r.Register(tenantcfg.RoleLocationRiskScore, tenantcfg.RuleBasedEngine, Registration{
		Kind: ProjectLocationSiteConditionsMultiplier,
		Build: func(s SubjectKey) Calculator { return &LocationSiteConditionsCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleLocationRiskScore, tenantcfg.RuleBasedEngine, Registration{
		Kind:    ProjectSafetyClimateMultiplier,
		Depends: []Kind{SupervisorEngagementFactor, ContractorSafetyScore},
		Build:   func(s SubjectKey) Calculator { return &SafetyClimateCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleLocationRiskScore, tenantcfg.RuleBasedEngine, Registration{
		Kind:    ProjectLocationTotalTaskRiskScore,
		Depends: []Kind{TaskSpecificRiskScore},
		Build:   func(s SubjectKey) Calculator { return &LocationTotalTaskRiskCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleLocationRiskScore, tenantcfg.RuleBasedEngine, Registration{
		Kind: TotalProjectLocationRiskScore,
		Depends: []Kind{
			ProjectLocationTotalTaskRiskScore,
			ProjectLocationSiteConditionsMultiplier, ProjectSafetyClimateMultiplier,
		},
		Build: func(s SubjectKey) Calculator { return &TotalLocationRiskCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleLocationRiskScore, tenantcfg.StochasticModel, Registration{
		Kind:    StochasticLocationTotalTaskRiskScore,
		Depends: []Kind{StochasticActivityTotalTaskRiskScore},
		Build:   func(s SubjectKey) Calculator { return &StochasticLocationTaskRiskCalc{Subject: s} },
	})
	r.Register(tenantcfg.RoleLocationRiskScore, tenantcfg.StochasticModel, Registration{
		Kind:    StochasticTotalLocationRiskScore,
		Depends: []Kind{StochasticLocationTotalTaskRiskScore, SupervisorRelativePrecursorRisk},
		Build:   func(s SubjectKey) Calculator { return &StochasticTotalLocationRiskCalc{Subject: s} },
	})

	// Work package level. The weighted-average total is shared by both
	// families; weights are tied to the aggregation level, not the family.
	projectReg := Registration{
		Kind:    TotalProjectRiskScore,
		Depends: []Kind{ProjectLocationTotalTaskRiskScore},
		Build:   func(s SubjectKey) Calculator { return &ProjectRiskCalc{Subject: s} },
	}
	r.Register(tenantcfg.RoleProjectRiskScore, tenantcfg.RuleBasedEngine, projectReg)
	r.Register(tenantcfg.RoleProjectRiskScore, tenantcfg.StochasticModel, projectReg)

	return r
}

// TenantBaselineCalculators are the tenant-wide baselines recomputed when
// actor data changes for a tenant. They precede the per-actor kinds in a
// trigger's expansion so parents read fresh values.
func TenantBaselineCalculators(subject SubjectKey) []Calculator {
	return []Calculator{
		&ContractorHistoryBaselineCalc{Subject: subject},
		&ContractorHistoryBaselineCalc{Subject: subject, Stddev: true},
		&GlobalSupervisorPrecursorCalc{Subject: subject},
		&GlobalSupervisorPrecursorCalc{Subject: subject, Stddev: true},
		&GlobalCrewPrecursorCalc{Subject: subject},
		&GlobalCrewPrecursorCalc{Subject: subject, Stddev: true},
		&GlobalContractorSafetyScoreCalc{Subject: subject},
		&GlobalContractorSafetyScoreCalc{Subject: subject, Stddev: true},
	}
}
