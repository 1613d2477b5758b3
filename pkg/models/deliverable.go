package models

import (
	"encoding/json"
	"fmt"
)

// Deliverable is the tagged union over the five stage record types.
// Each concrete type is a closed record; field identity (the JSON tag) is
// part of the stage-gate contract.
type Deliverable interface {
	// Stage returns the 1-based stage number that produces this record.
	Stage() int
}

// MLArchetype classifies the modelling problem declared in stage 1.
type MLArchetype string

const (
	ArchetypeClassification MLArchetype = "classification"
	ArchetypeRegression     MLArchetype = "regression"
	ArchetypeTimeseries     MLArchetype = "timeseries"
	ArchetypeAnomaly        MLArchetype = "anomaly"
	ArchetypeClustering     MLArchetype = "clustering"
	ArchetypeNLP            MLArchetype = "nlp"
	ArchetypeVision         MLArchetype = "vision"
	ArchetypeRecommendation MLArchetype = "recommendation"
)

// IsValid reports whether the archetype is one of the closed enum values.
func (a MLArchetype) IsValid() bool {
	switch a {
	case ArchetypeClassification, ArchetypeRegression, ArchetypeTimeseries,
		ArchetypeAnomaly, ArchetypeClustering, ArchetypeNLP,
		ArchetypeVision, ArchetypeRecommendation:
		return true
	}
	return false
}

// ProblemStatement is the stage 1 deliverable.
type ProblemStatement struct {
	BusinessObjective        string      `json:"business_objective"`
	AINecessityJustification string      `json:"ai_necessity_justification"`
	InputFeatures            []string    `json:"input_features"`
	TargetOutput             string      `json:"target_output"`
	MLArchetype              MLArchetype `json:"ml_archetype"`
	OutOfScope               string      `json:"out_of_scope"`
	Constraints              string      `json:"constraints"`
}

func (*ProblemStatement) Stage() int { return 1 }

// BusinessKPI is one business indicator with its measurement contract.
type BusinessKPI struct {
	Name     string `json:"name"`
	Baseline string `json:"baseline"`
	Target   string `json:"target"`
	Cadence  string `json:"cadence"`
}

// MLMetric is one model metric with its acceptable range.
type MLMetric struct {
	Name            string `json:"name"`
	AcceptableRange string `json:"acceptable_range"`
}

// MetricKPIAlignment maps one ML metric to the business KPIs it supports.
type MetricKPIAlignment struct {
	MLMetric string   `json:"ml_metric"`
	KPIs     []string `json:"kpis"`
}

// MetricAlignment is the stage 2 deliverable.
type MetricAlignment struct {
	BusinessKPIs []BusinessKPI        `json:"business_kpis"`
	MLMetrics    []MLMetric           `json:"ml_metrics"`
	Alignments   []MetricKPIAlignment `json:"alignments"`
	Tradeoffs    string               `json:"tradeoffs"`
}

func (*MetricAlignment) Stage() int { return 2 }

// QualityDimensions are the six scorecard dimensions of stage 3.
var QualityDimensions = []string{
	"completeness", "accuracy", "consistency", "timeliness", "validity", "uniqueness",
}

// DataGap is one identified data deficiency with its mitigation.
type DataGap struct {
	Description string `json:"description"`
	Mitigation  string `json:"mitigation"`
}

// DataQualityScorecard is the stage 3 deliverable.
type DataQualityScorecard struct {
	AvailabilityReport string             `json:"availability_report"`
	DimensionScores    map[string]float64 `json:"dimension_scores"`
	OverallScore       float64            `json:"overall_score"`
	Gaps               []DataGap          `json:"gaps"`
}

func (*DataQualityScorecard) Stage() int { return 3 }

// ComputeOverallScore returns the arithmetic mean of the six dimension
// scores. Missing dimensions count as zero so an incomplete scorecard
// cannot inflate its overall score.
func (d *DataQualityScorecard) ComputeOverallScore() float64 {
	var sum float64
	for _, dim := range QualityDimensions {
		sum += d.DimensionScores[dim]
	}
	return sum / float64(len(QualityDimensions))
}

// DecisionLoop describes how model output reaches a decision.
type DecisionLoop string

const (
	DecisionLoopAutomated   DecisionLoop = "automated"
	DecisionLoopHumanInLoop DecisionLoop = "human_in_loop"
	DecisionLoopAdvisory    DecisionLoop = "advisory"
)

// IsValid reports whether the decision loop is a known value.
func (d DecisionLoop) IsValid() bool {
	switch d {
	case DecisionLoopAutomated, DecisionLoopHumanInLoop, DecisionLoopAdvisory:
		return true
	}
	return false
}

// Persona describes one primary user group.
type Persona struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UserContext is the stage 4 deliverable.
type UserContext struct {
	PrimaryUsers               []Persona    `json:"primary_users"`
	Proficiency                string       `json:"proficiency"`
	DecisionLoop               DecisionLoop `json:"decision_loop"`
	ExplainabilityRequirements string       `json:"explainability_requirements"`
	UnintendedConsequences     string       `json:"unintended_consequences"`
}

func (*UserContext) Stage() int { return 4 }

// EthicalPrinciples are the five assessed principles of stage 5.
var EthicalPrinciples = []string{
	"human_agency", "technical_robustness", "privacy", "transparency", "fairness",
}

// PrincipleAssessment holds the risk evaluation for one ethical principle.
// Risk levels are integers 1..5.
type PrincipleAssessment struct {
	InitialRisk  int      `json:"initial_risk"`
	Mitigations  []string `json:"mitigations"`
	ResidualRisk int      `json:"residual_risk"`
}

// EthicalRiskReport is the stage 5 deliverable.
type EthicalRiskReport struct {
	Principles         map[string]PrincipleAssessment `json:"principles"`
	GovernanceDecision GovernanceDecision             `json:"governance_decision"`
}

func (*EthicalRiskReport) Stage() int { return 5 }

// DecideGovernance applies the deterministic governance rule to the
// residual-risk map. It is a pure function of the principle assessments;
// the stored GovernanceDecision field must always equal its output.
func (r *EthicalRiskReport) DecideGovernance() GovernanceDecision {
	fours := 0
	monitored := false
	for _, p := range r.Principles {
		if p.ResidualRisk == 5 {
			return GovernanceHalt
		}
		if p.ResidualRisk == 4 {
			fours++
		}
		if (p.ResidualRisk == 2 || p.ResidualRisk == 3) && len(p.Mitigations) > 0 {
			monitored = true
		}
	}
	switch {
	case fours >= 3:
		return GovernanceSubmitToCommittee
	case fours >= 1:
		return GovernanceRevise
	case monitored:
		return GovernanceProceedWithMonitoring
	default:
		return GovernanceProceed
	}
}

// NewDeliverable returns a zero value of the deliverable type for the given
// stage number.
func NewDeliverable(stage int) (Deliverable, error) {
	switch stage {
	case 1:
		return &ProblemStatement{}, nil
	case 2:
		return &MetricAlignment{}, nil
	case 3:
		return &DataQualityScorecard{}, nil
	case 4:
		return &UserContext{}, nil
	case 5:
		return &EthicalRiskReport{}, nil
	}
	return nil, fmt.Errorf("unknown stage number: %d", stage)
}

// DecodeDeliverable unmarshals a stored deliverable payload into the typed
// record for its stage.
func DecodeDeliverable(stage int, data []byte) (Deliverable, error) {
	d, err := NewDeliverable(stage)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("failed to decode stage %d deliverable: %w", stage, err)
	}
	return d, nil
}

// FieldMap flattens a deliverable into its named top-level fields.
// The stage-gate validator inspects these names, so they are part of the
// deliverable contract.
func FieldMap(d Deliverable) (map[string]any, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal deliverable: %w", err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten deliverable: %w", err)
	}
	return fields, nil
}
