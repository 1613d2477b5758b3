package stages

import (
	"context"

	"github.com/charter-works/charterd/pkg/config"
	"github.com/charter-works/charterd/pkg/models"
)

// ProblemAgent conducts stage 1: framing the business problem as an ML
// problem.
type ProblemAgent struct {
	router Completer
	plan   []planQuestion
}

// NewProblemAgent creates the stage 1 agent.
func NewProblemAgent(router Completer) *ProblemAgent {
	return &ProblemAgent{
		router: router,
		plan: []planQuestion{
			{ID: "s1_objective", Text: "What business objective should this project achieve? Describe the outcome you want, not the technology."},
			{ID: "s1_ai_necessity", Text: "Why does this problem need machine learning rather than rules, heuristics, or a process change? What have you tried already?"},
			{ID: "s1_inputs", Text: "What input data or signals would the model see when making a prediction? List every feature source you can name."},
			{ID: "s1_target", Text: "What exactly should the model output for each input? Be precise about the unit, range, or categories."},
			{ID: "s1_archetype", Text: "Which kind of ML problem does this look like to you: classification, regression, timeseries forecasting, anomaly detection, clustering, NLP, vision, or recommendation? Why?"},
			{ID: "s1_scope", Text: "What is explicitly out of scope for this project, and what constraints (budget, latency, regulation, data residency) must it respect?"},
		},
	}
}

func (a *ProblemAgent) Stage() int   { return 1 }
func (a *ProblemAgent) Name() string { return "problem-framing" }
func (a *ProblemAgent) Goal() string {
	return "frame the business problem as a well-posed ML problem"
}

const problemSchema = `{
  "business_objective": "string",
  "ai_necessity_justification": "string",
  "input_features": ["string", "..."],
  "target_output": "string",
  "ml_archetype": "one of: classification|regression|timeseries|anomaly|clustering|nlp|vision|recommendation",
  "out_of_scope": "string",
  "constraints": "string"
}`

// ConductInterview runs the plan and synthesizes the problem statement.
func (a *ProblemAgent) ConductInterview(ctx context.Context, sessionID string,
	interviewer Interviewer, prior map[int]models.Deliverable) (models.Deliverable, error) {
	exchanges, err := runPlan(ctx, sessionID, a.Stage(), a.Goal(), interviewer, a.plan, prior)
	if err != nil {
		return nil, err
	}
	out := &models.ProblemStatement{}
	if err := synthesize(ctx, a.router, config.TierBalanced, a.Stage(), problemSchema, exchanges, out); err != nil {
		return nil, err
	}
	return out, nil
}
