package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/charter-works/charterd/pkg/consistency"
	"github.com/charter-works/charterd/pkg/models"
)

// composeCharter assembles the terminal artifact from the committed
// deliverables and the consistency report. Critical success factors come
// from the KPI targets and gap mitigations; major risks merge the report's
// risk areas with high residual ethical risks.
func composeCharter(session *models.Session, d consistency.Deliverables,
	report *models.ConsistencyReport) *models.Charter {
	now := time.Now().UTC()
	charter := &models.Charter{
		SessionID:          session.ID,
		ProjectName:        session.ProjectName,
		CreatedAt:          session.StartedAt,
		CompletedAt:        now,
		ProblemStatement:   d.Problem,
		MetricAlignment:    d.Metrics,
		DataQuality:        d.Data,
		UserContext:        d.Users,
		EthicalRisk:        d.Ethics,
		GovernanceDecision: d.Ethics.GovernanceDecision,
		Feasibility:        report.Feasibility,
	}

	for _, kpi := range d.Metrics.BusinessKPIs {
		charter.CriticalSuccessFactors = append(charter.CriticalSuccessFactors,
			fmt.Sprintf("%s reaches %s (from %s)", kpi.Name, kpi.Target, kpi.Baseline))
	}
	for _, g := range d.Data.Gaps {
		if strings.TrimSpace(g.Mitigation) != "" {
			charter.CriticalSuccessFactors = append(charter.CriticalSuccessFactors,
				fmt.Sprintf("data gap resolved: %s", g.Mitigation))
		}
	}

	charter.MajorRisks = append(charter.MajorRisks, report.RiskAreas...)
	for _, principle := range models.EthicalPrinciples {
		if p, ok := d.Ethics.Principles[principle]; ok && p.ResidualRisk >= 3 {
			charter.MajorRisks = append(charter.MajorRisks,
				fmt.Sprintf("%s carries residual risk %d after mitigation", principle, p.ResidualRisk))
		}
	}

	return charter
}

// RenderMarkdown renders a charter as a human-readable document, the export
// format the CLI writes.
func RenderMarkdown(c *models.Charter, report *models.ConsistencyReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Project Charter: %s\n\n", c.ProjectName)
	fmt.Fprintf(&sb, "Completed %s. Governance decision: **%s**. Feasibility: **%s**.\n\n",
		c.CompletedAt.Format("2006-01-02"), c.GovernanceDecision, c.Feasibility)

	sb.WriteString("## Problem Statement\n\n")
	fmt.Fprintf(&sb, "**Objective:** %s\n\n", c.ProblemStatement.BusinessObjective)
	fmt.Fprintf(&sb, "**Why ML:** %s\n\n", c.ProblemStatement.AINecessityJustification)
	fmt.Fprintf(&sb, "**Archetype:** %s — predicts %s\n\n",
		c.ProblemStatement.MLArchetype, c.ProblemStatement.TargetOutput)
	fmt.Fprintf(&sb, "**Inputs:** %s\n\n", strings.Join(c.ProblemStatement.InputFeatures, ", "))
	fmt.Fprintf(&sb, "**Out of scope:** %s\n\n", c.ProblemStatement.OutOfScope)
	fmt.Fprintf(&sb, "**Constraints:** %s\n\n", c.ProblemStatement.Constraints)

	sb.WriteString("## Metrics\n\n| Business KPI | Baseline | Target | Cadence |\n|---|---|---|---|\n")
	for _, kpi := range c.MetricAlignment.BusinessKPIs {
		fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", kpi.Name, kpi.Baseline, kpi.Target, kpi.Cadence)
	}
	sb.WriteString("\n| ML Metric | Acceptable Range |\n|---|---|\n")
	for _, m := range c.MetricAlignment.MLMetrics {
		fmt.Fprintf(&sb, "| %s | %s |\n", m.Name, m.AcceptableRange)
	}
	fmt.Fprintf(&sb, "\n**Tradeoffs:** %s\n\n", c.MetricAlignment.Tradeoffs)

	fmt.Fprintf(&sb, "## Data Quality\n\nOverall score: %.2f\n\n", c.DataQuality.OverallScore)
	sb.WriteString("| Dimension | Score |\n|---|---|\n")
	for _, dim := range models.QualityDimensions {
		fmt.Fprintf(&sb, "| %s | %.2f |\n", dim, c.DataQuality.DimensionScores[dim])
	}
	if len(c.DataQuality.Gaps) > 0 {
		sb.WriteString("\n**Gaps:**\n\n")
		for _, g := range c.DataQuality.Gaps {
			fmt.Fprintf(&sb, "- %s (mitigation: %s)\n", g.Description, g.Mitigation)
		}
	}

	sb.WriteString("\n## Users\n\n")
	for _, u := range c.UserContext.PrimaryUsers {
		fmt.Fprintf(&sb, "- **%s:** %s\n", u.Name, u.Description)
	}
	fmt.Fprintf(&sb, "\nDecision loop: %s. Proficiency: %s.\n\n",
		c.UserContext.DecisionLoop, c.UserContext.Proficiency)
	fmt.Fprintf(&sb, "**Explainability:** %s\n\n", c.UserContext.ExplainabilityRequirements)

	sb.WriteString("## Ethical Risk\n\n| Principle | Initial | Residual | Mitigations |\n|---|---|---|---|\n")
	for _, principle := range models.EthicalPrinciples {
		p := c.EthicalRisk.Principles[principle]
		fmt.Fprintf(&sb, "| %s | %d | %d | %s |\n",
			principle, p.InitialRisk, p.ResidualRisk, strings.Join(p.Mitigations, "; "))
	}

	if len(c.CriticalSuccessFactors) > 0 {
		sb.WriteString("\n## Critical Success Factors\n\n")
		for _, csf := range c.CriticalSuccessFactors {
			fmt.Fprintf(&sb, "- %s\n", csf)
		}
	}
	if len(c.MajorRisks) > 0 {
		sb.WriteString("\n## Major Risks\n\n")
		for _, risk := range c.MajorRisks {
			fmt.Fprintf(&sb, "- %s\n", risk)
		}
	}

	if report != nil && len(report.Contradictions) > 0 {
		sb.WriteString("\n## Open Consistency Findings\n\n")
		for _, f := range report.Contradictions {
			fmt.Fprintf(&sb, "- [%s] %s\n", f.Rule, f.Description)
		}
	}

	return sb.String()
}
