package models

import "time"

// GovernanceDecision is the deterministic verdict computed from stage 5
// residual risks, recorded on the charter.
type GovernanceDecision string

const (
	GovernanceProceed               GovernanceDecision = "PROCEED"
	GovernanceProceedWithMonitoring GovernanceDecision = "PROCEED_WITH_MONITORING"
	GovernanceRevise                GovernanceDecision = "REVISE"
	GovernanceSubmitToCommittee     GovernanceDecision = "SUBMIT_TO_COMMITTEE"
	GovernanceHalt                  GovernanceDecision = "HALT"
)

// Charter is the terminal artifact of a completed session.
type Charter struct {
	SessionID              string                `json:"session_id"`
	ProjectName            string                `json:"project_name"`
	CreatedAt              time.Time             `json:"created_at"`
	CompletedAt            time.Time             `json:"completed_at"`
	ProblemStatement       *ProblemStatement     `json:"problem_statement"`
	MetricAlignment        *MetricAlignment      `json:"metric_alignment"`
	DataQuality            *DataQualityScorecard `json:"data_quality_scorecard"`
	UserContext            *UserContext          `json:"user_context"`
	EthicalRisk            *EthicalRiskReport    `json:"ethical_risk_report"`
	GovernanceDecision     GovernanceDecision    `json:"governance_decision"`
	Feasibility            Feasibility           `json:"feasibility"`
	CriticalSuccessFactors []string              `json:"critical_success_factors,omitempty"`
	MajorRisks             []string              `json:"major_risks,omitempty"`
}
