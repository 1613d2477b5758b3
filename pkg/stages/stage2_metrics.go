package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/charter-works/charterd/pkg/config"
	"github.com/charter-works/charterd/pkg/models"
)

// MetricsAgent conducts stage 2: aligning business KPIs with ML metrics.
type MetricsAgent struct {
	router Completer
	plan   []planQuestion
}

// NewMetricsAgent creates the stage 2 agent.
func NewMetricsAgent(router Completer) *MetricsAgent {
	return &MetricsAgent{
		router: router,
		plan: []planQuestion{
			{ID: "s2_kpis", Build: func(prior map[int]models.Deliverable) string {
				if p := priorProblem(prior); p != nil {
					return fmt.Sprintf("Your stated objective is %q. Which business KPIs will tell you it is being met? For each, give the current baseline, the target, and how often it is measured.", p.BusinessObjective)
				}
				return "Which business KPIs will tell you the project objective is being met? For each, give the current baseline, the target, and how often it is measured."
			}},
			{ID: "s2_ml_metrics", Build: func(prior map[int]models.Deliverable) string {
				if p := priorProblem(prior); p != nil && p.MLArchetype != "" {
					return fmt.Sprintf("For a %s model, which ML metrics matter here (at least two), and what range is acceptable for each?", p.MLArchetype)
				}
				return "Which ML metrics matter for this model (at least two), and what range is acceptable for each?"
			}},
			{ID: "s2_alignment", Text: "For each ML metric you named, which business KPI does improving it actually move, and how?"},
			{ID: "s2_tradeoffs", Text: "Where do these metrics pull against each other (for example precision versus recall, freshness versus cost), and which side wins when they conflict?"},
		},
	}
}

func (a *MetricsAgent) Stage() int   { return 2 }
func (a *MetricsAgent) Name() string { return "metric-alignment" }
func (a *MetricsAgent) Goal() string {
	return "tie model metrics to measurable business KPIs"
}

const metricsSchema = `{
  "business_kpis": [{"name": "string", "baseline": "string", "target": "string", "cadence": "string"}],
  "ml_metrics": [{"name": "string", "acceptable_range": "string"}],
  "alignments": [{"ml_metric": "name from ml_metrics", "kpis": ["names from business_kpis"]}],
  "tradeoffs": "string"
}`

// ConductInterview runs the plan and synthesizes the metric alignment.
// Alignment names are normalized against the declared KPI and metric lists
// so a sloppy synthesis cannot dangle references.
func (a *MetricsAgent) ConductInterview(ctx context.Context, sessionID string,
	interviewer Interviewer, prior map[int]models.Deliverable) (models.Deliverable, error) {
	exchanges, err := runPlan(ctx, sessionID, a.Stage(), a.Goal(), interviewer, a.plan, prior)
	if err != nil {
		return nil, err
	}
	out := &models.MetricAlignment{}
	if err := synthesize(ctx, a.router, config.TierBalanced, a.Stage(), metricsSchema, exchanges, out); err != nil {
		return nil, err
	}
	normalizeAlignments(out)
	return out, nil
}

// normalizeAlignments repairs case and whitespace drift between the
// alignment references and the declared names.
func normalizeAlignments(m *models.MetricAlignment) {
	canonical := func(names []string, ref string) string {
		trimmed := strings.TrimSpace(ref)
		for _, name := range names {
			if strings.EqualFold(name, trimmed) {
				return name
			}
		}
		return trimmed
	}
	metricNames := make([]string, 0, len(m.MLMetrics))
	for _, metric := range m.MLMetrics {
		metricNames = append(metricNames, metric.Name)
	}
	kpiNames := make([]string, 0, len(m.BusinessKPIs))
	for _, kpi := range m.BusinessKPIs {
		kpiNames = append(kpiNames, kpi.Name)
	}
	for i := range m.Alignments {
		m.Alignments[i].MLMetric = canonical(metricNames, m.Alignments[i].MLMetric)
		for j := range m.Alignments[i].KPIs {
			m.Alignments[i].KPIs[j] = canonical(kpiNames, m.Alignments[i].KPIs[j])
		}
	}
}
