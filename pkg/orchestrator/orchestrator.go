// Package orchestrator coordinates the session lifecycle: it owns the
// per-session serialization lock, drives the stage agents through the
// conversation loop, applies the stage gate before any commit, and produces
// the terminal charter. All persistence goes through the services layer.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charter-works/charterd/pkg/config"
	"github.com/charter-works/charterd/pkg/consistency"
	"github.com/charter-works/charterd/pkg/conversation"
	"github.com/charter-works/charterd/pkg/gate"
	"github.com/charter-works/charterd/pkg/models"
	"github.com/charter-works/charterd/pkg/quality"
	"github.com/charter-works/charterd/pkg/sanitize"
	"github.com/charter-works/charterd/pkg/services"
	"github.com/charter-works/charterd/pkg/stages"
)

// Stores bundles the persistence services the orchestrator writes through.
type Stores struct {
	Sessions     *services.SessionService
	Stages       *services.StageService
	Conversation *services.ConversationService
	Checkpoints  *services.CheckpointService
	Charters     *services.CharterService
}

// StageResult is the outcome of one stage interview run: the collected
// deliverable plus a gate preview. The deliverable is held in memory only
// until AdvanceStage commits it.
type StageResult struct {
	Stage       int                     `json:"stage"`
	Deliverable models.Deliverable      `json:"deliverable"`
	Validation  *models.StageValidation `json:"validation"`
}

// Orchestrator is the session engine. One instance serves all sessions;
// per-session operations are serialized through the state registry.
type Orchestrator struct {
	stores    Stores
	registry  *stages.Registry
	evaluator *quality.Evaluator
	checker   *consistency.Checker
	screener  *sanitize.Screener
	interview config.InterviewConfig

	states *stateRegistry
}

// New wires the orchestrator.
func New(stores Stores, registry *stages.Registry, evaluator *quality.Evaluator,
	checker *consistency.Checker, screener *sanitize.Screener, interview config.InterviewConfig) *Orchestrator {
	return &Orchestrator{
		stores:    stores,
		registry:  registry,
		evaluator: evaluator,
		checker:   checker,
		screener:  screener,
		interview: interview,
		states:    newStateRegistry(),
	}
}

// CreateSession starts a new interview at stage 1.
func (o *Orchestrator) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	session, err := o.stores.Sessions.CreateSession(ctx, req)
	if err != nil {
		return nil, Classify(err)
	}
	slog.Info("Session created", "session_id", session.ID, "owner", session.Owner)
	return session, nil
}

// RunStage conducts the interview for one stage. The stage must be the
// session's current stage: a lower stage is already committed and immutable,
// a higher one has unmet prerequisites. The collected deliverable is cached
// in memory with a gate preview; nothing is persisted until AdvanceStage.
func (o *Orchestrator) RunStage(ctx context.Context, sessionID string, stage int,
	responder conversation.Responder) (*StageResult, error) {
	state := o.states.get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	session, err := o.loadActiveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if stage < session.CurrentStage {
		return nil, NewError(CodeStageAlreadyCommitted,
			fmt.Sprintf("stage %d is committed and cannot be re-run", stage), nil)
	}
	if stage > session.CurrentStage {
		return nil, NewError(CodeStageNotCurrent,
			fmt.Sprintf("stage %d cannot run before stage %d completes", stage, session.CurrentStage), nil)
	}
	if stage > models.StageCount {
		return nil, NewError(CodeStageNotCurrent, "all stages are complete", nil)
	}

	agent, err := o.registry.Get(stage)
	if err != nil {
		return nil, Classify(err)
	}
	prior, err := o.stores.Stages.LoadAllDeliverables(ctx, sessionID)
	if err != nil {
		return nil, Classify(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	state.setCancel(cancel)
	defer func() {
		cancel()
		state.setCancel(nil)
	}()

	loop := conversation.NewLoop(responder, o.stores.Conversation, o.evaluator, o.screener,
		conversation.Limits{
			MaxAttempts:      o.interview.MaxAttempts,
			MaxResponseChars: o.interview.MaxResponseChars,
			MaxQuestionChars: o.interview.MaxQuestionChars,
			MaxFollowUpChars: o.interview.MaxFollowUpChars,
		})

	slog.Info("Stage interview starting",
		"session_id", sessionID, "stage", stage, "agent", agent.Name())
	deliverable, err := agent.ConductInterview(runCtx, sessionID, loop, prior)
	if err != nil {
		return nil, Classify(err)
	}

	validation := gate.Validate(deliverable)
	state.pending[stage] = deliverable

	if err := o.stores.Sessions.Touch(ctx, sessionID); err != nil {
		slog.Warn("Failed to touch session after stage run", "session_id", sessionID, "error", err)
	}
	slog.Info("Stage interview finished",
		"session_id", sessionID, "stage", stage,
		"can_proceed", validation.CanProceed, "completeness", validation.CompletenessScore)
	return &StageResult{Stage: stage, Deliverable: deliverable, Validation: validation}, nil
}

// AdvanceStage validates the pending deliverable for the session's current
// stage and commits the advancement atomically. A failing gate returns a
// coded error carrying the verdict; the pending deliverable stays cached so
// the stage can be re-run or amended.
func (o *Orchestrator) AdvanceStage(ctx context.Context, sessionID string, stage int) (*models.StageValidation, error) {
	state := o.states.get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	session, err := o.loadActiveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if stage != session.CurrentStage {
		if stage < session.CurrentStage {
			return nil, NewError(CodeStageAlreadyCommitted,
				fmt.Sprintf("stage %d is already committed", stage), nil)
		}
		return nil, NewError(CodeStageNotCurrent,
			fmt.Sprintf("stage %d is not the current stage", stage), nil)
	}

	deliverable, ok := state.pending[stage]
	if !ok {
		return nil, NewError(CodeNotFound,
			fmt.Sprintf("no collected deliverable for stage %d; run the stage first", stage), nil)
	}

	validation := gate.Validate(deliverable)
	if !validation.CanProceed {
		return validation, &Error{
			Code:    CodeGateFailed,
			Message: fmt.Sprintf("stage %d gate failed", stage),
			Details: validation,
		}
	}

	checkpoint, err := o.buildCheckpoint(ctx, sessionID, stage, deliverable, validation)
	if err != nil {
		return nil, Classify(err)
	}
	if err := o.stores.Stages.CommitAdvancement(ctx, sessionID, stage, deliverable, nil, checkpoint); err != nil {
		return nil, Classify(err)
	}
	delete(state.pending, stage)

	slog.Info("Stage advanced", "session_id", sessionID, "stage", stage)
	return validation, nil
}

// buildCheckpoint snapshots every committed deliverable plus the one being
// committed, and the history length at this moment.
func (o *Orchestrator) buildCheckpoint(ctx context.Context, sessionID string, stage int,
	deliverable models.Deliverable, validation *models.StageValidation) (*models.Checkpoint, error) {
	prior, err := o.stores.Stages.LoadAllDeliverables(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	prior[stage] = deliverable

	snapshot := models.CheckpointSnapshot{Deliverables: make(map[int]json.RawMessage, len(prior))}
	for st, d := range prior {
		raw, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot stage %d deliverable: %w", st, err)
		}
		snapshot.Deliverables[st] = raw
	}
	if snapshot.HistoryLength, err = o.stores.Conversation.Length(ctx, sessionID); err != nil {
		return nil, err
	}

	return &models.Checkpoint{
		SessionID:        sessionID,
		Stage:            stage,
		CreatedAt:        time.Now().UTC(),
		Snapshot:         snapshot,
		ValidationPassed: true,
		Feedback:         validation,
	}, nil
}

// ResumeSession restores a paused or interrupted session from its latest
// checkpoint and returns it with the committed deliverables loaded.
func (o *Orchestrator) ResumeSession(ctx context.Context, sessionID string) (*models.Session, error) {
	state := o.states.get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	session, err := o.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, Classify(err)
	}
	if session.Status.IsTerminal() {
		return nil, NewError(CodeInvalidRequest,
			fmt.Sprintf("session is %s and cannot resume", session.Status), nil)
	}

	if session.Status == models.SessionStatusPaused {
		if err := o.stores.Sessions.UpdateStatus(ctx, sessionID, models.SessionStatusInProgress); err != nil {
			return nil, Classify(err)
		}
		session.Status = models.SessionStatusInProgress
	}

	if session.Deliverables, err = o.stores.Stages.LoadAllDeliverables(ctx, sessionID); err != nil {
		return nil, Classify(err)
	}

	// The latest checkpoint and current_stage must agree; drift means a
	// corrupt store and resuming would compound it.
	latest, err := o.stores.Checkpoints.Latest(ctx, sessionID)
	switch {
	case err == nil:
		if latest.Stage+1 != session.CurrentStage {
			return nil, NewError(CodeInternal,
				fmt.Sprintf("checkpoint stage %d disagrees with current stage %d", latest.Stage, session.CurrentStage), nil)
		}
	case errors.Is(err, services.ErrNotFound):
		if session.CurrentStage != 1 {
			return nil, NewError(CodeInternal,
				fmt.Sprintf("session is at stage %d but has no checkpoint", session.CurrentStage), nil)
		}
	default:
		return nil, Classify(err)
	}

	slog.Info("Session resumed", "session_id", sessionID, "current_stage", session.CurrentStage)
	return session, nil
}

// CheckConsistency runs the cross-stage check over the committed
// deliverables and stores the report. Requires all five stages committed.
func (o *Orchestrator) CheckConsistency(ctx context.Context, sessionID string) (*models.ConsistencyReport, error) {
	state := o.states.get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()
	return o.checkConsistencyLocked(ctx, sessionID)
}

func (o *Orchestrator) checkConsistencyLocked(ctx context.Context, sessionID string) (*models.ConsistencyReport, error) {
	session, err := o.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, Classify(err)
	}
	if session.CurrentStage != models.StageCount+1 {
		return nil, NewError(CodeGateFailed,
			fmt.Sprintf("consistency check requires all %d stages committed; session is at stage %d",
				models.StageCount, session.CurrentStage), nil)
	}

	bundle, err := o.loadBundle(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	report, err := o.checker.Check(ctx, sessionID, *bundle)
	if err != nil {
		return nil, Classify(err)
	}
	if err := o.stores.Charters.SaveConsistencyReport(ctx, report); err != nil {
		return nil, Classify(err)
	}
	return report, nil
}

// GenerateCharter runs the consistency check and, unless the project is
// INFEASIBLE, composes and persists the charter and completes the session.
func (o *Orchestrator) GenerateCharter(ctx context.Context, sessionID string) (*models.Charter, error) {
	state := o.states.get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	session, err := o.loadActiveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	report, err := o.checkConsistencyLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if report.Feasibility == models.FeasibilityInfeasible {
		return nil, &Error{
			Code:    CodeCharterBlockedInconsistent,
			Message: "charter blocked: the scoping packet is internally inconsistent",
			Details: report,
		}
	}

	bundle, err := o.loadBundle(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	charter := composeCharter(session, *bundle, report)
	if err := o.stores.Charters.SaveCharter(ctx, charter); err != nil {
		return nil, Classify(err)
	}
	if err := o.stores.Sessions.UpdateStatus(ctx, sessionID, models.SessionStatusCompleted); err != nil {
		return nil, Classify(err)
	}

	// Terminal audit entry.
	if _, err := o.stores.Conversation.AppendTurn(ctx, models.ConversationTurn{
		SessionID: sessionID,
		Role:      models.RoleSystem,
		Content:   "charter generated; session completed",
		Stage:     models.StageCount,
		Timestamp: time.Now().UTC(),
		Metadata:  &models.TurnMetadata{Outcome: "completed"},
	}); err != nil {
		slog.Warn("Failed to append terminal turn", "session_id", sessionID, "error", err)
	}

	slog.Info("Charter generated",
		"session_id", sessionID, "governance", charter.GovernanceDecision, "feasibility", charter.Feasibility)
	return charter, nil
}

// AbortSession cancels any in-flight stage run and marks the session
// ABANDONED. The reason is recorded as a system turn in the audit log.
func (o *Orchestrator) AbortSession(ctx context.Context, sessionID, reason string) error {
	state := o.states.get(sessionID)
	state.interrupt()

	state.mu.Lock()
	defer state.mu.Unlock()

	session, err := o.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Classify(err)
	}
	if session.Status.IsTerminal() {
		return NewError(CodeInvalidRequest,
			fmt.Sprintf("session is already %s", session.Status), nil)
	}
	if err := o.stores.Sessions.UpdateStatus(ctx, sessionID, models.SessionStatusAbandoned); err != nil {
		return Classify(err)
	}

	if reason == "" {
		reason = "no reason given"
	}
	if _, err := o.stores.Conversation.AppendTurn(ctx, models.ConversationTurn{
		SessionID: sessionID,
		Role:      models.RoleSystem,
		Content:   fmt.Sprintf("session abandoned: %s", reason),
		Stage:     session.CurrentStage,
		Timestamp: time.Now().UTC(),
		Metadata:  &models.TurnMetadata{Outcome: conversation.OutcomeCancelled},
	}); err != nil {
		slog.Warn("Failed to append abandonment turn", "session_id", sessionID, "error", err)
	}

	slog.Info("Session abandoned", "session_id", sessionID, "reason", reason)
	return nil
}

// PauseSession marks the session PAUSED. Any in-flight run is interrupted;
// committed state is untouched and ResumeSession restores it.
func (o *Orchestrator) PauseSession(ctx context.Context, sessionID string) error {
	state := o.states.get(sessionID)
	state.interrupt()

	state.mu.Lock()
	defer state.mu.Unlock()

	session, err := o.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Classify(err)
	}
	if session.Status != models.SessionStatusInProgress {
		return NewError(CodeInvalidRequest,
			fmt.Sprintf("cannot pause a %s session", session.Status), nil)
	}
	if err := o.stores.Sessions.UpdateStatus(ctx, sessionID, models.SessionStatusPaused); err != nil {
		return Classify(err)
	}
	slog.Info("Session paused", "session_id", sessionID)
	return nil
}

// loadActiveSession loads a session and rejects terminal states.
func (o *Orchestrator) loadActiveSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := o.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, Classify(err)
	}
	switch session.Status {
	case models.SessionStatusAbandoned:
		return nil, NewError(CodeCancelled, "session was abandoned", nil)
	case models.SessionStatusCompleted, models.SessionStatusFailed:
		return nil, NewError(CodeInvalidRequest,
			fmt.Sprintf("session is %s", session.Status), nil)
	}
	return session, nil
}

// loadBundle loads all five committed deliverables into the typed bundle.
func (o *Orchestrator) loadBundle(ctx context.Context, sessionID string) (*consistency.Deliverables, error) {
	all, err := o.stores.Stages.LoadAllDeliverables(ctx, sessionID)
	if err != nil {
		return nil, Classify(err)
	}
	bundle := &consistency.Deliverables{}
	for stage := 1; stage <= models.StageCount; stage++ {
		d, ok := all[stage]
		if !ok {
			return nil, NewError(CodeGateFailed,
				fmt.Sprintf("stage %d has no committed deliverable", stage), nil)
		}
		switch v := d.(type) {
		case *models.ProblemStatement:
			bundle.Problem = v
		case *models.MetricAlignment:
			bundle.Metrics = v
		case *models.DataQualityScorecard:
			bundle.Data = v
		case *models.UserContext:
			bundle.Users = v
		case *models.EthicalRiskReport:
			bundle.Ethics = v
		}
	}
	return bundle, nil
}
