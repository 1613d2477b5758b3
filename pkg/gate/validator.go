// Package gate validates stage deliverables before advancement. Validation
// is pure: same deliverable in, same verdict out, no I/O and no LLM calls.
package gate

import (
	"fmt"
	"strings"

	"github.com/charter-works/charterd/pkg/models"
)

// MinCompleteness is the completeness bar for advancement. A deliverable
// also needs zero structural violations to proceed.
const MinCompleteness = 0.9

// Minimum collection sizes per deliverable.
const (
	MinInputFeatures = 2
	MinBusinessKPIs  = 1
	MinMLMetrics     = 2
	MinPrimaryUsers  = 1
)

// Validate checks one deliverable against its stage requirements and
// returns the verdict. An unknown deliverable type never proceeds.
func Validate(d models.Deliverable) *models.StageValidation {
	switch v := d.(type) {
	case *models.ProblemStatement:
		return validateProblemStatement(v)
	case *models.MetricAlignment:
		return validateMetricAlignment(v)
	case *models.DataQualityScorecard:
		return validateScorecard(v)
	case *models.UserContext:
		return validateUserContext(v)
	case *models.EthicalRiskReport:
		return validateRiskReport(v)
	default:
		return &models.StageValidation{
			CanProceed: false,
			Concerns:   []string{fmt.Sprintf("unknown deliverable type %T", d)},
		}
	}
}

// check accumulates requirement results for one deliverable.
type check struct {
	mandatory  int
	missing    []string
	violations []string
	concerns   []string
	recs       []string
}

func (c *check) require(name string, present bool) {
	c.mandatory++
	if !present {
		c.missing = append(c.missing, name)
	}
}

func (c *check) requireText(name, value string) {
	c.require(name, strings.TrimSpace(value) != "")
}

func (c *check) violate(format string, args ...any) {
	c.violations = append(c.violations, fmt.Sprintf(format, args...))
}

func (c *check) concern(format string, args ...any) {
	c.concerns = append(c.concerns, fmt.Sprintf(format, args...))
}

func (c *check) verdict() *models.StageValidation {
	completeness := 1.0
	if c.mandatory > 0 {
		completeness = 1.0 - float64(len(c.missing))/float64(c.mandatory)
	}
	return &models.StageValidation{
		CanProceed:        completeness >= MinCompleteness && len(c.violations) == 0,
		CompletenessScore: completeness,
		MissingItems:      c.missing,
		Concerns:          append(c.violations, c.concerns...),
		Recommendations:   c.recs,
	}
}

func validateProblemStatement(p *models.ProblemStatement) *models.StageValidation {
	var c check
	c.requireText("business_objective", p.BusinessObjective)
	c.requireText("ai_necessity_justification", p.AINecessityJustification)
	c.require(fmt.Sprintf("input_features (need at least %d)", MinInputFeatures),
		countNonEmpty(p.InputFeatures) >= MinInputFeatures)
	c.requireText("target_output", p.TargetOutput)
	c.require("ml_archetype", p.MLArchetype != "")
	c.requireText("out_of_scope", p.OutOfScope)
	c.requireText("constraints", p.Constraints)

	if p.MLArchetype != "" && !p.MLArchetype.IsValid() {
		c.violate("ml_archetype %q is not a recognized archetype", p.MLArchetype)
	}
	checkArchetypeTarget(&c, p.MLArchetype, p.TargetOutput)
	return c.verdict()
}

// checkArchetypeTarget flags target outputs that read like a different
// archetype. This is a heuristic, so mismatches are concerns, not blocks.
func checkArchetypeTarget(c *check, archetype models.MLArchetype, target string) {
	t := strings.ToLower(target)
	hasAny := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(t, w) {
				return true
			}
		}
		return false
	}
	switch archetype {
	case models.ArchetypeRegression, models.ArchetypeTimeseries:
		if hasAny("category", "class", "label", "yes/no", "boolean") {
			c.concern("target_output describes discrete categories but ml_archetype is %s", archetype)
		}
	case models.ArchetypeClassification, models.ArchetypeAnomaly:
		if hasAny("continuous", "numeric value", "amount", "forecast") {
			c.concern("target_output describes a continuous quantity but ml_archetype is %s", archetype)
		}
	}
}

func validateMetricAlignment(m *models.MetricAlignment) *models.StageValidation {
	var c check
	c.require(fmt.Sprintf("business_kpis (need at least %d)", MinBusinessKPIs),
		len(m.BusinessKPIs) >= MinBusinessKPIs)
	c.require(fmt.Sprintf("ml_metrics (need at least %d)", MinMLMetrics),
		len(m.MLMetrics) >= MinMLMetrics)
	c.require("alignments", len(m.Alignments) >= 1)
	c.requireText("tradeoffs", m.Tradeoffs)

	kpis := make(map[string]bool, len(m.BusinessKPIs))
	for _, k := range m.BusinessKPIs {
		if strings.TrimSpace(k.Name) == "" {
			c.violate("business KPI with empty name")
			continue
		}
		kpis[k.Name] = true
		if strings.TrimSpace(k.Baseline) == "" || strings.TrimSpace(k.Target) == "" {
			c.concern("KPI %q is missing a baseline or target", k.Name)
		}
	}
	metrics := make(map[string]bool, len(m.MLMetrics))
	for _, metric := range m.MLMetrics {
		if strings.TrimSpace(metric.Name) == "" {
			c.violate("ML metric with empty name")
			continue
		}
		metrics[metric.Name] = true
		if strings.TrimSpace(metric.AcceptableRange) == "" {
			c.concern("metric %q has no acceptable range", metric.Name)
		}
	}
	for _, a := range m.Alignments {
		if !metrics[a.MLMetric] {
			c.violate("alignment references unknown ML metric %q", a.MLMetric)
		}
		if len(a.KPIs) == 0 {
			c.violate("alignment for metric %q maps to no KPIs", a.MLMetric)
		}
		for _, kpi := range a.KPIs {
			if !kpis[kpi] {
				c.violate("alignment for metric %q references unknown KPI %q", a.MLMetric, kpi)
			}
		}
	}
	return c.verdict()
}

func validateScorecard(s *models.DataQualityScorecard) *models.StageValidation {
	var c check
	c.requireText("availability_report", s.AvailabilityReport)
	for _, dim := range models.QualityDimensions {
		score, ok := s.DimensionScores[dim]
		c.require("dimension_scores."+dim, ok)
		if ok && (score < 0 || score > 1) {
			c.violate("dimension %q score %.2f is outside [0,1]", dim, score)
		}
	}
	c.require("overall_score", s.OverallScore > 0 || len(s.DimensionScores) > 0)

	// The overall score is derived, never free-entered.
	if want := s.ComputeOverallScore(); !floatsClose(s.OverallScore, want) {
		c.violate("overall_score %.4f does not equal the dimension mean %.4f", s.OverallScore, want)
	}
	for i, gap := range s.Gaps {
		if strings.TrimSpace(gap.Description) == "" {
			c.violate("gap %d has no description", i+1)
		}
		if strings.TrimSpace(gap.Mitigation) == "" {
			c.concern("gap %q has no mitigation plan", gap.Description)
		}
	}
	return c.verdict()
}

func validateUserContext(u *models.UserContext) *models.StageValidation {
	var c check
	c.require(fmt.Sprintf("primary_users (need at least %d)", MinPrimaryUsers),
		len(u.PrimaryUsers) >= MinPrimaryUsers)
	c.requireText("proficiency", u.Proficiency)
	c.require("decision_loop", u.DecisionLoop != "")
	c.requireText("explainability_requirements", u.ExplainabilityRequirements)
	c.requireText("unintended_consequences", u.UnintendedConsequences)

	if u.DecisionLoop != "" && !u.DecisionLoop.IsValid() {
		c.violate("decision_loop %q is not a recognized value", u.DecisionLoop)
	}
	for i, p := range u.PrimaryUsers {
		if strings.TrimSpace(p.Name) == "" {
			c.violate("primary user %d has no name", i+1)
		}
	}
	if u.DecisionLoop == models.DecisionLoopAutomated &&
		strings.TrimSpace(u.ExplainabilityRequirements) != "" &&
		strings.Contains(strings.ToLower(u.ExplainabilityRequirements), "none") {
		c.concern("fully automated decision loop with no explainability requirements")
	}
	return c.verdict()
}

func validateRiskReport(r *models.EthicalRiskReport) *models.StageValidation {
	var c check
	for _, principle := range models.EthicalPrinciples {
		assessment, ok := r.Principles[principle]
		c.require("principles."+principle, ok)
		if !ok {
			continue
		}
		if assessment.InitialRisk < 1 || assessment.InitialRisk > 5 {
			c.violate("principle %q initial risk %d is outside 1..5", principle, assessment.InitialRisk)
		}
		if assessment.ResidualRisk < 1 || assessment.ResidualRisk > 5 {
			c.violate("principle %q residual risk %d is outside 1..5", principle, assessment.ResidualRisk)
		}
		if assessment.ResidualRisk > assessment.InitialRisk {
			c.violate("principle %q residual risk exceeds its initial risk", principle)
		}
		if assessment.InitialRisk >= 3 && len(assessment.Mitigations) == 0 {
			c.concern("principle %q has initial risk %d with no mitigations", principle, assessment.InitialRisk)
		}
	}
	c.require("governance_decision", r.GovernanceDecision != "")

	// The decision is a pure function of the residual risks; a stored value
	// that disagrees is corrupt.
	if r.GovernanceDecision != "" && len(r.Principles) > 0 {
		if want := r.DecideGovernance(); r.GovernanceDecision != want {
			c.violate("governance_decision %q does not match the derived decision %q",
				r.GovernanceDecision, want)
		}
	}
	return c.verdict()
}

func countNonEmpty(items []string) int {
	n := 0
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			n++
		}
	}
	return n
}

func floatsClose(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-6
}
