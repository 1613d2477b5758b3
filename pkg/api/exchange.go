package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/charter-works/charterd/pkg/conversation"
	"github.com/charter-works/charterd/pkg/orchestrator"
)

// Exchange bridges the synchronous conversation loop to the HTTP API. The
// loop blocks in Ask; the API exposes the pending prompt via GET and feeds
// the user's answer back via POST. One exchange serves all sessions.
type Exchange struct {
	mu      sync.Mutex
	pending map[string]*pendingPrompt
}

type pendingPrompt struct {
	prompt conversation.Prompt
	answer chan string
}

// NewExchange creates an empty exchange.
func NewExchange() *Exchange {
	return &Exchange{pending: make(map[string]*pendingPrompt)}
}

// Ask implements conversation.Responder: it publishes the prompt and blocks
// until an answer is delivered or the run context ends.
func (e *Exchange) Ask(ctx context.Context, prompt conversation.Prompt) (string, error) {
	p := &pendingPrompt{prompt: prompt, answer: make(chan string, 1)}

	e.mu.Lock()
	e.pending[prompt.SessionID] = p
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.pending[prompt.SessionID] == p {
			delete(e.pending, prompt.SessionID)
		}
		e.mu.Unlock()
	}()

	select {
	case answer := <-p.answer:
		return answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pending returns the prompt currently waiting for an answer, if any.
func (e *Exchange) Pending(sessionID string) (conversation.Prompt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[sessionID]
	if !ok {
		return conversation.Prompt{}, false
	}
	return p.prompt, true
}

// Deliver hands an answer to the blocked loop. It fails when no prompt is
// waiting or when an answer for this prompt was already delivered.
func (e *Exchange) Deliver(sessionID, answer string) error {
	e.mu.Lock()
	p, ok := e.pending[sessionID]
	if ok {
		// One answer per prompt; drop the entry before unblocking the loop.
		delete(e.pending, sessionID)
	}
	e.mu.Unlock()

	if !ok {
		return orchestrator.NewError(orchestrator.CodeNotFound,
			"no question is awaiting an answer for this session", nil)
	}
	select {
	case p.answer <- answer:
		return nil
	default:
		return orchestrator.NewError(orchestrator.CodeInvalidRequest,
			"an answer was already delivered for this question", nil)
	}
}

// runTracker records the state of asynchronous stage runs keyed by session.
type runTracker struct {
	mu   sync.Mutex
	runs map[string]*stageRun
}

type stageRun struct {
	Stage  int                       `json:"stage"`
	Status string                    `json:"status"` // running | done | error
	Result *orchestrator.StageResult `json:"result,omitempty"`
	Err    *orchestrator.Error       `json:"-"`
}

func newRunTracker() *runTracker {
	return &runTracker{runs: make(map[string]*stageRun)}
}

// start registers a run; a second concurrent run for the session is refused.
func (t *runTracker) start(sessionID string, stage int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if run, ok := t.runs[sessionID]; ok && run.Status == "running" {
		return orchestrator.NewError(orchestrator.CodeInvalidRequest,
			fmt.Sprintf("stage %d is already running for this session", run.Stage), nil)
	}
	t.runs[sessionID] = &stageRun{Stage: stage, Status: "running"}
	return nil
}

func (t *runTracker) finish(sessionID string, result *orchestrator.StageResult, err *orchestrator.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[sessionID]
	if !ok {
		return
	}
	if err != nil {
		run.Status = "error"
		run.Err = err
		return
	}
	run.Status = "done"
	run.Result = result
}

func (t *runTracker) get(sessionID string) (*stageRun, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[sessionID]
	return run, ok
}
