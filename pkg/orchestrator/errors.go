package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/charter-works/charterd/pkg/llm"
	"github.com/charter-works/charterd/pkg/quality"
	"github.com/charter-works/charterd/pkg/services"
	"github.com/charter-works/charterd/pkg/stages"
)

// Stable error codes. These are API contract: clients branch on them, so
// they never change meaning.
const (
	CodeNotFound                   = "not_found"
	CodeInvalidRequest             = "invalid_request"
	CodeDuplicateStageWrite        = "duplicate_stage_write"
	CodeStageAlreadyCommitted      = "stage_already_committed"
	CodeStageNotCurrent            = "stage_not_current"
	CodeProviderTransient          = "provider_transient"
	CodeProviderExhausted          = "provider_exhausted"
	CodeProviderMalformedReply     = "provider_malformed_reply"
	CodeSuspectedInjection         = "suspected_injection"
	CodeResponseTooLong            = "response_too_long"
	CodeEvaluationTimeout          = "evaluation_timeout"
	CodeAttemptsExhausted          = "attempts_exhausted"
	CodeGateFailed                 = "gate_failed"
	CodeCharterBlockedInconsistent = "charter_blocked_inconsistent"
	CodeSynthesisFailed            = "synthesis_failed"
	CodeCancelled                  = "cancelled"
	CodeInternal                   = "internal"
)

// Error is the orchestrator's coded error. Details carries structured
// payload for codes that have one (the gate verdict, the consistency
// report).
type Error struct {
	Code    string
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a coded error.
func NewError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Classify wraps an arbitrary error from a lower layer into a coded error.
// Already-coded errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}

	switch {
	case errors.Is(err, services.ErrNotFound):
		return NewError(CodeNotFound, "resource not found", err)
	case errors.Is(err, services.ErrDuplicateStageWrite):
		return NewError(CodeDuplicateStageWrite, "stage data already committed", err)
	case errors.Is(err, llm.ErrProviderExhausted):
		return NewError(CodeProviderExhausted, "all providers for the tier failed", err)
	case errors.Is(err, quality.ErrEvaluationTimeout):
		return NewError(CodeEvaluationTimeout, "response evaluation timed out", err)
	case errors.Is(err, stages.ErrSynthesisFailed):
		return NewError(CodeSynthesisFailed, "deliverable synthesis failed", err)
	case errors.Is(err, context.Canceled):
		return NewError(CodeCancelled, "operation cancelled", err)
	}

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		return NewError(CodeInvalidRequest, verr.Error(), err)
	}

	var lerr *llm.Error
	if errors.As(err, &lerr) {
		switch lerr.Kind {
		case llm.ErrKindMalformedRequest:
			return NewError(CodeProviderMalformedReply, lerr.Message, err)
		default:
			return NewError(CodeProviderTransient, lerr.Message, err)
		}
	}

	return NewError(CodeInternal, "internal error", err)
}
