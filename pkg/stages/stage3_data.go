package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/charter-works/charterd/pkg/config"
	"github.com/charter-works/charterd/pkg/models"
)

// DataAgent conducts stage 3: data availability and quality assessment.
type DataAgent struct {
	router Completer
	plan   []planQuestion
}

// NewDataAgent creates the stage 3 agent.
func NewDataAgent(router Completer) *DataAgent {
	return &DataAgent{
		router: router,
		plan: []planQuestion{
			{ID: "s3_availability", Build: func(prior map[int]models.Deliverable) string {
				if p := priorProblem(prior); p != nil && len(p.InputFeatures) > 0 {
					return fmt.Sprintf("You listed these input features: %s. For each, where does the data live today, who owns it, and how do you get access?",
						strings.Join(p.InputFeatures, ", "))
				}
				return "For each input feature the model needs, where does the data live today, who owns it, and how do you get access?"
			}},
			{ID: "s3_dimensions", Text: "Rate your data honestly from 0 to 1 on each of: completeness, accuracy, consistency, timeliness, validity, uniqueness. Give a number and a one-line justification for each."},
			{ID: "s3_gaps", Text: "What data is missing, stale, or untrustworthy for this project, and what would it take to fix each gap?"},
		},
	}
}

func (a *DataAgent) Stage() int   { return 3 }
func (a *DataAgent) Name() string { return "data-quality" }
func (a *DataAgent) Goal() string {
	return "assess whether the data can support the model"
}

const dataSchema = `{
  "availability_report": "string",
  "dimension_scores": {"completeness": 0.0, "accuracy": 0.0, "consistency": 0.0, "timeliness": 0.0, "validity": 0.0, "uniqueness": 0.0},
  "overall_score": 0.0,
  "gaps": [{"description": "string", "mitigation": "string"}]
}`

// ConductInterview runs the plan and synthesizes the scorecard. The overall
// score is always recomputed from the dimensions; the model's own value is
// discarded.
func (a *DataAgent) ConductInterview(ctx context.Context, sessionID string,
	interviewer Interviewer, prior map[int]models.Deliverable) (models.Deliverable, error) {
	exchanges, err := runPlan(ctx, sessionID, a.Stage(), a.Goal(), interviewer, a.plan, prior)
	if err != nil {
		return nil, err
	}
	out := &models.DataQualityScorecard{}
	if err := synthesize(ctx, a.router, config.TierBalanced, a.Stage(), dataSchema, exchanges, out); err != nil {
		return nil, err
	}
	clampDimensionScores(out)
	out.OverallScore = out.ComputeOverallScore()
	return out, nil
}

func clampDimensionScores(s *models.DataQualityScorecard) {
	for dim, score := range s.DimensionScores {
		if score < 0 {
			s.DimensionScores[dim] = 0
		} else if score > 1 {
			s.DimensionScores[dim] = 1
		}
	}
}
