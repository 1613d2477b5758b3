package consistency

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charter-works/charterd/pkg/llm"
	"github.com/charter-works/charterd/pkg/models"
)

type fakeCompleter struct {
	reply    string
	err      error
	requests []llm.CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Text: f.reply, ModelUsed: "checker", ProviderUsed: "fake"}, nil
}

const emptyFindings = `{"contradictions": []}`

func consistentDeliverables() Deliverables {
	problem := &models.ProblemStatement{
		BusinessObjective: "Reduce monthly churn from 4% to 3%",
		InputFeatures:     []string{"tenure_months", "support_tickets_90d"},
		TargetOutput:      "churn risk score",
		MLArchetype:       models.ArchetypeClassification,
	}
	metrics := &models.MetricAlignment{
		BusinessKPIs: []models.BusinessKPI{{Name: "monthly churn rate", Baseline: "4%", Target: "3%"}},
		MLMetrics:    []models.MLMetric{{Name: "AUC", AcceptableRange: "0.80-1.00"}},
		Alignments:   []models.MetricKPIAlignment{{MLMetric: "AUC", KPIs: []string{"monthly churn rate"}}},
	}
	data := &models.DataQualityScorecard{
		AvailabilityReport: "tenure_months and support_tickets_90d live in the warehouse, refreshed nightly",
		DimensionScores: map[string]float64{
			"completeness": 0.9, "accuracy": 0.9, "consistency": 0.9,
			"timeliness": 0.9, "validity": 0.9, "uniqueness": 0.9,
		},
		OverallScore: 0.9,
	}
	users := &models.UserContext{
		PrimaryUsers:               []models.Persona{{Name: "retention specialist"}},
		Proficiency:                "comfortable with dashboards",
		DecisionLoop:               models.DecisionLoopHumanInLoop,
		ExplainabilityRequirements: "top churn drivers per account",
	}
	ethics := &models.EthicalRiskReport{
		Principles: map[string]models.PrincipleAssessment{
			"human_agency":         {InitialRisk: 1, ResidualRisk: 1},
			"technical_robustness": {InitialRisk: 1, ResidualRisk: 1},
			"privacy":              {InitialRisk: 1, ResidualRisk: 1},
			"transparency":         {InitialRisk: 1, ResidualRisk: 1},
			"fairness":             {InitialRisk: 1, ResidualRisk: 1},
		},
	}
	ethics.GovernanceDecision = ethics.DecideGovernance()
	return Deliverables{Problem: problem, Metrics: metrics, Data: data, Users: users, Ethics: ethics}
}

func TestChecker_ConsistentPacket(t *testing.T) {
	router := &fakeCompleter{reply: emptyFindings}
	checker := NewChecker(router)

	report, err := checker.Check(context.Background(), "sess-1", consistentDeliverables())
	require.NoError(t, err)

	assert.True(t, report.IsConsistent)
	assert.Equal(t, models.FeasibilityHigh, report.Feasibility)
	assert.Empty(t, report.Contradictions)
	assert.Equal(t, "sess-1", report.SessionID)
}

func TestChecker_UnalignedMetric(t *testing.T) {
	d := consistentDeliverables()
	d.Metrics.MLMetrics = append(d.Metrics.MLMetrics, models.MLMetric{Name: "latency_p99"})

	checker := NewChecker(&fakeCompleter{reply: emptyFindings})
	report, err := checker.Check(context.Background(), "sess-1", d)
	require.NoError(t, err)

	assert.False(t, report.IsConsistent)
	assert.Equal(t, models.FeasibilityMedium, report.Feasibility)
	require.Len(t, report.Contradictions, 1)
	assert.Equal(t, "metric_unaligned", report.Contradictions[0].Rule)
	assert.False(t, report.Contradictions[0].Critical)
}

func TestChecker_FeatureNotInAvailabilityReport(t *testing.T) {
	d := consistentDeliverables()
	d.Problem.InputFeatures = append(d.Problem.InputFeatures, "call_transcripts")

	checker := NewChecker(&fakeCompleter{reply: emptyFindings})
	report, err := checker.Check(context.Background(), "sess-1", d)
	require.NoError(t, err)

	require.Len(t, report.Contradictions, 1)
	assert.Equal(t, "feature_unassessed", report.Contradictions[0].Rule)
	assert.Equal(t, []int{1, 3}, report.Contradictions[0].Stages)
}

func TestChecker_NoviceUsersWithoutExplainability(t *testing.T) {
	d := consistentDeliverables()
	d.Users.Proficiency = "non-technical call agents"
	d.Users.ExplainabilityRequirements = ""

	checker := NewChecker(&fakeCompleter{reply: emptyFindings})
	report, err := checker.Check(context.Background(), "sess-1", d)
	require.NoError(t, err)

	require.Len(t, report.Contradictions, 1)
	assert.Equal(t, "proficiency_gap", report.Contradictions[0].Rule)
}

func TestChecker_AutomationWithHighResidualRiskIsCritical(t *testing.T) {
	d := consistentDeliverables()
	d.Users.DecisionLoop = models.DecisionLoopAutomated
	d.Ethics.Principles["fairness"] = models.PrincipleAssessment{InitialRisk: 4, ResidualRisk: 4}
	d.Ethics.GovernanceDecision = d.Ethics.DecideGovernance()

	checker := NewChecker(&fakeCompleter{reply: emptyFindings})
	report, err := checker.Check(context.Background(), "sess-1", d)
	require.NoError(t, err)

	assert.Equal(t, models.FeasibilityInfeasible, report.Feasibility)

	var found bool
	for _, c := range report.Contradictions {
		if c.Rule == "automation_high_risk" {
			found = true
			assert.True(t, c.Critical)
		}
	}
	assert.True(t, found)
}

func TestChecker_GovernanceHaltIsCritical(t *testing.T) {
	d := consistentDeliverables()
	d.Ethics.Principles["privacy"] = models.PrincipleAssessment{InitialRisk: 5, ResidualRisk: 5}
	d.Ethics.GovernanceDecision = d.Ethics.DecideGovernance()
	require.Equal(t, models.GovernanceHalt, d.Ethics.GovernanceDecision)

	checker := NewChecker(&fakeCompleter{reply: emptyFindings})
	report, err := checker.Check(context.Background(), "sess-1", d)
	require.NoError(t, err)

	assert.Equal(t, models.FeasibilityInfeasible, report.Feasibility)
	require.Len(t, report.Contradictions, 1)
	assert.Equal(t, "governance_halt", report.Contradictions[0].Rule)
}

func TestChecker_LLMFindingsMergeTagged(t *testing.T) {
	reply := `{"contradictions": [
	  {"rule": "anything", "description": "the KPI cadence is monthly but the data refreshes quarterly", "stages": [2, 3], "critical": false},
	  {"rule": "semantic", "description": "   ", "critical": true}
	]}`
	checker := NewChecker(&fakeCompleter{reply: reply})

	report, err := checker.Check(context.Background(), "sess-1", consistentDeliverables())
	require.NoError(t, err)

	// Blank-description findings are dropped; the rest are tagged semantic.
	require.Len(t, report.Contradictions, 1)
	assert.Equal(t, "semantic", report.Contradictions[0].Rule)
	assert.Equal(t, models.FeasibilityMedium, report.Feasibility)
	assert.False(t, report.IsConsistent)
}

func TestChecker_LLMFailureDegradesToRules(t *testing.T) {
	d := consistentDeliverables()
	d.Metrics.MLMetrics = append(d.Metrics.MLMetrics, models.MLMetric{Name: "latency_p99"})

	checker := NewChecker(&fakeCompleter{err: errors.New("provider down")})
	report, err := checker.Check(context.Background(), "sess-1", d)
	require.NoError(t, err, "an LLM outage must not block the consistency check")

	require.Len(t, report.Contradictions, 1)
	assert.Equal(t, "metric_unaligned", report.Contradictions[0].Rule)
}

func TestChecker_SummaryRecommendations(t *testing.T) {
	t.Run("low data quality", func(t *testing.T) {
		d := consistentDeliverables()
		for dim := range d.Data.DimensionScores {
			d.Data.DimensionScores[dim] = 0.3
		}
		d.Data.OverallScore = d.Data.ComputeOverallScore()

		checker := NewChecker(&fakeCompleter{reply: emptyFindings})
		report, err := checker.Check(context.Background(), "sess-1", d)
		require.NoError(t, err)

		assert.NotEmpty(t, report.RiskAreas)
		require.NotEmpty(t, report.Recommendations)
		assert.Contains(t, report.Recommendations[0], "data remediation")
	})

	t.Run("revise decision", func(t *testing.T) {
		d := consistentDeliverables()
		d.Ethics.Principles["fairness"] = models.PrincipleAssessment{InitialRisk: 4, ResidualRisk: 4}
		d.Ethics.GovernanceDecision = d.Ethics.DecideGovernance()
		require.Equal(t, models.GovernanceRevise, d.Ethics.GovernanceDecision)

		checker := NewChecker(&fakeCompleter{reply: emptyFindings})
		report, err := checker.Check(context.Background(), "sess-1", d)
		require.NoError(t, err)

		require.NotEmpty(t, report.Recommendations)
		assert.Contains(t, report.Recommendations[0], "residual risk 4")
	})
}
