package stages

import (
	"context"
	"fmt"

	"github.com/charter-works/charterd/pkg/config"
	"github.com/charter-works/charterd/pkg/models"
)

// EthicsAgent conducts stage 5: ethical risk assessment across the five
// principles. Synthesis runs on the powerful tier; risk scoring benefits
// from the strongest available model.
type EthicsAgent struct {
	router Completer
	plan   []planQuestion
}

// NewEthicsAgent creates the stage 5 agent.
func NewEthicsAgent(router Completer) *EthicsAgent {
	return &EthicsAgent{
		router: router,
		plan: []planQuestion{
			{ID: "s5_agency", Build: func(prior map[int]models.Deliverable) string {
				loop := "the decision loop you described"
				if u, ok := prior[4].(*models.UserContext); ok && u.DecisionLoop != "" {
					loop = fmt.Sprintf("a %s decision loop", u.DecisionLoop)
				}
				return fmt.Sprintf("With %s, can affected people understand, contest, or opt out of decisions this system makes about them? Where could human agency be undermined?", loop)
			}},
			{ID: "s5_robustness", Text: "How could this system fail technically: adversarial inputs, data drift, edge cases? What happens downstream when it is wrong?"},
			{ID: "s5_privacy", Text: "What personal or sensitive data does this system touch, and under what legal basis? Who can see predictions about individuals?"},
			{ID: "s5_transparency", Text: "Will affected people know an algorithm was involved in decisions about them? What is disclosed, to whom, and when?"},
			{ID: "s5_fairness", Text: "Which groups could this system treat systematically worse, and why? What historical bias might the training data carry?"},
			{ID: "s5_mitigations", Text: "For each risk you rated 3 or higher, what concrete mitigation will you put in place, and how much risk remains after it?"},
		},
	}
}

func (a *EthicsAgent) Stage() int   { return 5 }
func (a *EthicsAgent) Name() string { return "ethical-risk" }
func (a *EthicsAgent) Goal() string {
	return "assess ethical risk across the five principles and derive a governance decision"
}

const ethicsSchema = `{
  "principles": {
    "human_agency": {"initial_risk": 1, "mitigations": ["string"], "residual_risk": 1},
    "technical_robustness": {"initial_risk": 1, "mitigations": ["string"], "residual_risk": 1},
    "privacy": {"initial_risk": 1, "mitigations": ["string"], "residual_risk": 1},
    "transparency": {"initial_risk": 1, "mitigations": ["string"], "residual_risk": 1},
    "fairness": {"initial_risk": 1, "mitigations": ["string"], "residual_risk": 1}
  }
}
All risk values are integers 1 (negligible) to 5 (severe).`

// ConductInterview runs the plan, synthesizes the risk report, and derives
// the governance decision. The decision is never taken from the model; it
// is a pure function of the residual risks.
func (a *EthicsAgent) ConductInterview(ctx context.Context, sessionID string,
	interviewer Interviewer, prior map[int]models.Deliverable) (models.Deliverable, error) {
	exchanges, err := runPlan(ctx, sessionID, a.Stage(), a.Goal(), interviewer, a.plan, prior)
	if err != nil {
		return nil, err
	}
	out := &models.EthicalRiskReport{}
	if err := synthesize(ctx, a.router, config.TierPowerful, a.Stage(), ethicsSchema, exchanges, out); err != nil {
		return nil, err
	}
	clampRisks(out)
	out.GovernanceDecision = out.DecideGovernance()
	return out, nil
}

func clampRisks(r *models.EthicalRiskReport) {
	for name, p := range r.Principles {
		if p.InitialRisk < 1 {
			p.InitialRisk = 1
		} else if p.InitialRisk > 5 {
			p.InitialRisk = 5
		}
		if p.ResidualRisk < 1 {
			p.ResidualRisk = 1
		} else if p.ResidualRisk > 5 {
			p.ResidualRisk = 5
		}
		if p.ResidualRisk > p.InitialRisk {
			p.ResidualRisk = p.InitialRisk
		}
		r.Principles[name] = p
	}
}
