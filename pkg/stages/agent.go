// Package stages implements the five interview agents. Each agent owns a
// declarative question plan, conducts it through the conversation loop, and
// synthesizes the collected answers into its typed deliverable. Agents hold
// no per-session state and never touch persistence; the orchestrator owns
// both.
package stages

import (
	"context"
	"fmt"

	"github.com/charter-works/charterd/pkg/conversation"
	"github.com/charter-works/charterd/pkg/llm"
	"github.com/charter-works/charterd/pkg/models"
)

// Completer is the slice of the LLM router the agents need for synthesis.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error)
}

// Interviewer runs one question to completion. Satisfied by
// conversation.Loop; faked in tests.
type Interviewer interface {
	AskQuestion(ctx context.Context, sessionID string, stage int, q conversation.Question) (*conversation.Answer, error)
}

// Agent is one interview stage.
type Agent interface {
	// Stage returns the 1-based stage number.
	Stage() int

	// Name is the short agent identifier used in logs.
	Name() string

	// Goal is the one-line stage purpose shown to the quality judge.
	Goal() string

	// ConductInterview runs the stage's question plan and synthesizes the
	// deliverable. prior holds the committed deliverables of earlier stages
	// so plans can parameterize questions on previous answers.
	ConductInterview(ctx context.Context, sessionID string, interviewer Interviewer,
		prior map[int]models.Deliverable) (models.Deliverable, error)
}

// Registry holds the agents keyed by stage number. It is populated once at
// startup and read-only afterwards.
type Registry struct {
	agents map[int]Agent
}

// NewRegistry builds the full agent set over one router.
func NewRegistry(router Completer) *Registry {
	agents := []Agent{
		NewProblemAgent(router),
		NewMetricsAgent(router),
		NewDataAgent(router),
		NewUserAgent(router),
		NewEthicsAgent(router),
	}
	byStage := make(map[int]Agent, len(agents))
	for _, a := range agents {
		byStage[a.Stage()] = a
	}
	return &Registry{agents: byStage}
}

// Get returns the agent for a stage number.
func (r *Registry) Get(stage int) (Agent, error) {
	a, ok := r.agents[stage]
	if !ok {
		return nil, fmt.Errorf("no agent registered for stage %d", stage)
	}
	return a, nil
}

// planQuestion is one entry in an agent's declarative question plan. When
// Build is set, the question text is derived from earlier deliverables.
type planQuestion struct {
	ID    string
	Text  string
	Build func(prior map[int]models.Deliverable) string
}

// asked is one resolved question with its accepted answer.
type asked struct {
	ID       string
	Question string
	Answer   *conversation.Answer
}

// runPlan executes a question plan in order.
func runPlan(ctx context.Context, sessionID string, stage int, goal string,
	interviewer Interviewer, plan []planQuestion,
	prior map[int]models.Deliverable) ([]asked, error) {
	exchanges := make([]asked, 0, len(plan))
	for _, pq := range plan {
		text := pq.Text
		if pq.Build != nil {
			text = pq.Build(prior)
		}
		answer, err := interviewer.AskQuestion(ctx, sessionID, stage, conversation.Question{
			ID:        pq.ID,
			Text:      text,
			StageGoal: goal,
		})
		if err != nil {
			return nil, fmt.Errorf("question %s failed: %w", pq.ID, err)
		}
		exchanges = append(exchanges, asked{ID: pq.ID, Question: text, Answer: answer})
	}
	return exchanges, nil
}

// priorProblem extracts the stage 1 deliverable when present.
func priorProblem(prior map[int]models.Deliverable) *models.ProblemStatement {
	if p, ok := prior[1].(*models.ProblemStatement); ok {
		return p
	}
	return nil
}
