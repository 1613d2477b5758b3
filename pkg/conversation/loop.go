// Package conversation runs the bounded question loop: ask, screen, judge,
// follow up, and force-accept when the attempt budget runs out. The loop
// owns the history appends for each question so the audit log stays exact.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/charter-works/charterd/pkg/models"
	"github.com/charter-works/charterd/pkg/quality"
	"github.com/charter-works/charterd/pkg/sanitize"
)

// Answer outcomes.
const (
	OutcomeAccepted    = "accepted"
	OutcomeForceAccept = "force_accept"
	OutcomeCancelled   = "cancelled"
)

// Prompt is what the loop presents to the user for one exchange. Notice is
// non-empty when the previous input was rejected and must be re-entered.
type Prompt struct {
	SessionID  string `json:"session_id"`
	Stage      int    `json:"stage"`
	QuestionID string `json:"question_id"`
	Question   string `json:"question"`
	Attempt    int    `json:"attempt"`
	Notice     string `json:"notice,omitempty"`
	NoticeCode string `json:"notice_code,omitempty"`
}

// Responder delivers a prompt to the user and blocks until a response
// arrives. Implementations bridge to the HTTP API or to a terminal.
type Responder interface {
	Ask(ctx context.Context, prompt Prompt) (string, error)
}

// HistoryWriter appends turns to the audit log.
type HistoryWriter interface {
	AppendTurn(ctx context.Context, turn models.ConversationTurn) (int, error)
}

// Evaluator judges one response. Satisfied by quality.Evaluator.
type Evaluator interface {
	Evaluate(ctx context.Context, in quality.Input) (*models.QualityAssessment, error)
}

// Question is one planned interview question.
type Question struct {
	ID        string
	Text      string
	StageGoal string
}

// Answer is the accepted response for one question.
type Answer struct {
	QuestionID string
	Text       string
	Score      int
	Attempts   int
	Outcome    string
	Issues     []string
}

// Limits bounds the loop. Values come from InterviewConfig.
type Limits struct {
	MaxAttempts      int
	MaxResponseChars int
	MaxQuestionChars int
	MaxFollowUpChars int
}

// Loop drives the question state machine for one session's stage.
type Loop struct {
	responder Responder
	history   HistoryWriter
	evaluator Evaluator
	screener  *sanitize.Screener
	limits    Limits
}

// NewLoop wires the loop's collaborators.
func NewLoop(responder Responder, history HistoryWriter, evaluator Evaluator,
	screener *sanitize.Screener, limits Limits) *Loop {
	return &Loop{
		responder: responder,
		history:   history,
		evaluator: evaluator,
		screener:  screener,
		limits:    limits,
	}
}

// AskQuestion runs one question to completion: exactly one assistant turn
// per ask or follow-up, one user turn per evaluated response, and one
// terminal system turn recording the outcome. Rejected inputs (too long,
// injection match) are bounced back to the responder without burning an
// attempt and without touching the history.
func (l *Loop) AskQuestion(ctx context.Context, sessionID string, stage int, q Question) (*Answer, error) {
	questionText := truncate(q.Text, l.limits.MaxQuestionChars)
	if err := l.appendAssistant(ctx, sessionID, stage, q.ID, questionText); err != nil {
		return nil, err
	}

	transcript := []models.ConversationTurn{{
		Role: models.RoleAssistant, Content: questionText, Stage: stage,
	}}

	currentPrompt := questionText
	var last *models.QualityAssessment
	var lastResponse string

	for attempt := 1; attempt <= l.limits.MaxAttempts; attempt++ {
		response, err := l.collectResponse(ctx, Prompt{
			SessionID:  sessionID,
			Stage:      stage,
			QuestionID: q.ID,
			Question:   currentPrompt,
			Attempt:    attempt,
		})
		if err != nil {
			l.recordCancellation(ctx, sessionID, stage, q.ID, attempt, err)
			return nil, err
		}

		assessment, err := l.evaluator.Evaluate(ctx, quality.Input{
			Stage:      stage,
			StageGoal:  q.StageGoal,
			Attempt:    attempt,
			Question:   questionText,
			Response:   response,
			Transcript: transcript,
		})
		if err != nil {
			l.recordCancellation(ctx, sessionID, stage, q.ID, attempt, err)
			return nil, err
		}

		score := assessment.Score
		if err := l.appendUser(ctx, sessionID, stage, q.ID, response, &score, assessment); err != nil {
			return nil, err
		}
		transcript = append(transcript, models.ConversationTurn{
			Role: models.RoleUser, Content: response, Stage: stage,
		})

		last = assessment
		lastResponse = response

		if assessment.Acceptable {
			if err := l.appendOutcome(ctx, sessionID, stage, q.ID, OutcomeAccepted, attempt); err != nil {
				return nil, err
			}
			return &Answer{
				QuestionID: q.ID,
				Text:       response,
				Score:      assessment.Score,
				Attempts:   attempt,
				Outcome:    OutcomeAccepted,
				Issues:     assessment.Issues,
			}, nil
		}

		if attempt == l.limits.MaxAttempts {
			break
		}

		followUp := truncate(assessment.FollowUp, l.limits.MaxFollowUpChars)
		if followUp == "" {
			followUp = fmt.Sprintf("Could you be more specific? Your previous answer scored below the bar (%s).",
				issueSummary(assessment.Issues))
		}
		if err := l.appendAssistant(ctx, sessionID, stage, q.ID, followUp); err != nil {
			return nil, err
		}
		transcript = append(transcript, models.ConversationTurn{
			Role: models.RoleAssistant, Content: followUp, Stage: stage,
		})
		currentPrompt = followUp
	}

	// Attempt budget spent: keep the best we have rather than stalling the
	// interview.
	slog.Info("Force-accepting response after attempt budget",
		"stage", stage, "question_id", q.ID, "score", last.Score)
	if err := l.appendOutcome(ctx, sessionID, stage, q.ID, OutcomeForceAccept, l.limits.MaxAttempts); err != nil {
		return nil, err
	}
	return &Answer{
		QuestionID: q.ID,
		Text:       lastResponse,
		Score:      last.Score,
		Attempts:   l.limits.MaxAttempts,
		Outcome:    OutcomeForceAccept,
		Issues:     last.Issues,
	}, nil
}

// recordCancellation appends the system turn for an externally cancelled
// question. The audit append runs on a detached context: the cancelled one
// would refuse the write.
func (l *Loop) recordCancellation(ctx context.Context, sessionID string, stage int, questionID string, attempt int, cause error) {
	if !errors.Is(cause, context.Canceled) {
		return
	}
	if _, err := l.history.AppendTurn(context.WithoutCancel(ctx), models.ConversationTurn{
		SessionID: sessionID,
		Role:      models.RoleSystem,
		Content:   fmt.Sprintf("question %s cancelled", questionID),
		Stage:     stage,
		Timestamp: time.Now().UTC(),
		Metadata: &models.TurnMetadata{
			QuestionID: questionID,
			Outcome:    OutcomeCancelled,
			Attempt:    attempt,
		},
	}); err != nil {
		slog.Warn("Failed to record cancellation turn",
			"session_id", sessionID, "stage", stage, "question_id", questionID, "error", err)
	}
}

// collectResponse asks until an input passes the length and injection
// screens. Rejections re-ask with a notice and do not count as attempts.
// Limits are in characters, not bytes.
func (l *Loop) collectResponse(ctx context.Context, prompt Prompt) (string, error) {
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		response, err := l.responder.Ask(ctx, prompt)
		if err != nil {
			return "", err
		}

		if chars := utf8.RuneCountInString(response); chars > l.limits.MaxResponseChars {
			prompt.Notice = fmt.Sprintf("Your response is %d characters; the maximum is %d. Please shorten it.",
				chars, l.limits.MaxResponseChars)
			prompt.NoticeCode = "response_too_long"
			continue
		}
		if pattern := l.screener.Detect(response); pattern != "" {
			slog.Warn("Rejected response matching injection pattern",
				"stage", prompt.Stage, "question_id", prompt.QuestionID, "pattern", pattern)
			prompt.Notice = "Your response was flagged by input screening. Please rephrase and answer the question directly."
			prompt.NoticeCode = "suspected_injection"
			continue
		}
		return response, nil
	}
}

func (l *Loop) appendAssistant(ctx context.Context, sessionID string, stage int, questionID, content string) error {
	_, err := l.history.AppendTurn(ctx, models.ConversationTurn{
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   content,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
		Metadata:  &models.TurnMetadata{QuestionID: questionID},
	})
	return err
}

func (l *Loop) appendUser(ctx context.Context, sessionID string, stage int, questionID, content string,
	score *int, assessment *models.QualityAssessment) error {
	_, err := l.history.AppendTurn(ctx, models.ConversationTurn{
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   content,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
		Metadata: &models.TurnMetadata{
			QuestionID:   questionID,
			QualityScore: score,
			Attempt:      assessment.Attempt,
			Issues:       assessment.Issues,
		},
	})
	return err
}

func (l *Loop) appendOutcome(ctx context.Context, sessionID string, stage int, questionID, outcome string, attempt int) error {
	_, err := l.history.AppendTurn(ctx, models.ConversationTurn{
		SessionID: sessionID,
		Role:      models.RoleSystem,
		Content:   fmt.Sprintf("question %s resolved: %s", questionID, outcome),
		Stage:     stage,
		Timestamp: time.Now().UTC(),
		Metadata: &models.TurnMetadata{
			QuestionID: questionID,
			Outcome:    outcome,
			Attempt:    attempt,
		},
	})
	return err
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func issueSummary(issues []string) string {
	if len(issues) == 0 {
		return "needs more detail"
	}
	out := issues[0]
	for _, issue := range issues[1:] {
		out += ", " + issue
	}
	return out
}
