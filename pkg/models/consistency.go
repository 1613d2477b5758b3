package models

import "time"

// Feasibility is the overall verdict of the cross-stage consistency check.
type Feasibility string

const (
	FeasibilityHigh       Feasibility = "HIGH"
	FeasibilityMedium     Feasibility = "MEDIUM"
	FeasibilityLow        Feasibility = "LOW"
	FeasibilityInfeasible Feasibility = "INFEASIBLE"
)

// Contradiction is one cross-stage conflict found by the checker.
type Contradiction struct {
	Rule        string `json:"rule"`
	Description string `json:"description"`
	Stages      []int  `json:"stages,omitempty"`
	Critical    bool   `json:"critical"`
}

// ConsistencyReport is produced once per session before the charter.
type ConsistencyReport struct {
	SessionID       string          `json:"session_id"`
	IsConsistent    bool            `json:"is_consistent"`
	Feasibility     Feasibility     `json:"overall_feasibility"`
	Contradictions  []Contradiction `json:"contradictions,omitempty"`
	RiskAreas       []string        `json:"risk_areas,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// DeriveFeasibility applies the fixed derivation rule to a contradiction
// set: INFEASIBLE on any critical finding, LOW at three or more
// non-critical findings, MEDIUM at one or two, HIGH otherwise.
func DeriveFeasibility(contradictions []Contradiction) Feasibility {
	nonCritical := 0
	for _, c := range contradictions {
		if c.Critical {
			return FeasibilityInfeasible
		}
		nonCritical++
	}
	switch {
	case nonCritical >= 3:
		return FeasibilityLow
	case nonCritical >= 1:
		return FeasibilityMedium
	default:
		return FeasibilityHigh
	}
}
