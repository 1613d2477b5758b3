package stages

import (
	"context"
	"fmt"

	"github.com/charter-works/charterd/pkg/config"
	"github.com/charter-works/charterd/pkg/models"
)

// UserAgent conducts stage 4: who uses the model output and how.
type UserAgent struct {
	router Completer
	plan   []planQuestion
}

// NewUserAgent creates the stage 4 agent.
func NewUserAgent(router Completer) *UserAgent {
	return &UserAgent{
		router: router,
		plan: []planQuestion{
			{ID: "s4_users", Build: func(prior map[int]models.Deliverable) string {
				if p := priorProblem(prior); p != nil {
					return fmt.Sprintf("Who are the primary users of the %s output? Describe each user group and what they do with a prediction.", p.TargetOutput)
				}
				return "Who are the primary users of the model output? Describe each user group and what they do with a prediction."
			}},
			{ID: "s4_proficiency", Text: "How technically and statistically proficient are these users? Can they interpret probabilities, confidence intervals, or raw scores?"},
			{ID: "s4_loop", Text: "When the model produces an output, does a decision happen automatically, does a human approve it first, or is it purely advisory?"},
			{ID: "s4_explain", Text: "What do users need explained about a prediction before they will trust or act on it?"},
			{ID: "s4_consequences", Text: "How could this system be misused, over-trusted, or cause harm if it works exactly as designed? What unintended consequences worry you?"},
		},
	}
}

func (a *UserAgent) Stage() int   { return 4 }
func (a *UserAgent) Name() string { return "user-context" }
func (a *UserAgent) Goal() string {
	return "establish who consumes the model output and under what decision loop"
}

const userSchema = `{
  "primary_users": [{"name": "string", "description": "string"}],
  "proficiency": "string",
  "decision_loop": "one of: automated|human_in_loop|advisory",
  "explainability_requirements": "string",
  "unintended_consequences": "string"
}`

// ConductInterview runs the plan and synthesizes the user context.
func (a *UserAgent) ConductInterview(ctx context.Context, sessionID string,
	interviewer Interviewer, prior map[int]models.Deliverable) (models.Deliverable, error) {
	exchanges, err := runPlan(ctx, sessionID, a.Stage(), a.Goal(), interviewer, a.plan, prior)
	if err != nil {
		return nil, err
	}
	out := &models.UserContext{}
	if err := synthesize(ctx, a.router, config.TierBalanced, a.Stage(), userSchema, exchanges, out); err != nil {
		return nil, err
	}
	return out, nil
}
