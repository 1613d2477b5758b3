// Package models defines the domain types shared across the charter
// interview engine: sessions, stage deliverables, conversation history,
// checkpoints, and the terminal charter artifact.
package models

import "time"

// SessionStatus is the lifecycle state of an interview session.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusPaused     SessionStatus = "paused"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusAbandoned  SessionStatus = "abandoned"
	SessionStatusFailed     SessionStatus = "failed"
)

// IsValid reports whether the status is a known lifecycle state.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusInProgress, SessionStatusPaused, SessionStatusCompleted,
		SessionStatusAbandoned, SessionStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further mutation is permitted.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAbandoned || s == SessionStatusFailed
}

// StageCount is the number of interview stages. CurrentStage ranges 1..6;
// StageCount+1 means every stage gate has been passed.
const StageCount = 5

// Session is the root aggregate for one charter interview.
type Session struct {
	ID          string        `json:"session_id"`
	Owner       string        `json:"owner"`
	ProjectName string        `json:"project_name"`
	StartedAt   time.Time     `json:"started_at"`
	LastUpdated time.Time     `json:"last_updated"`
	// CurrentStage is 1..6; 6 means all five stage gates have passed.
	CurrentStage int           `json:"current_stage"`
	Status       SessionStatus `json:"status"`

	// Loaded on demand; nil/empty when not requested.
	Deliverables map[int]Deliverable `json:"deliverables,omitempty"`
	History      []ConversationTurn  `json:"history,omitempty"`
	Checkpoints  []Checkpoint        `json:"checkpoints,omitempty"`
	Charter      *Charter            `json:"charter,omitempty"`
	Consistency  *ConsistencyReport  `json:"consistency_report,omitempty"`
}

// Completed reports whether the session reached the terminal COMPLETED state.
// The invariant is CurrentStage == StageCount+1 AND a charter exists.
func (s *Session) Completed() bool {
	return s.Status == SessionStatusCompleted
}

// CreateSessionRequest contains fields for creating a new session.
type CreateSessionRequest struct {
	Owner       string `json:"owner"`
	ProjectName string `json:"project_name"`
}

// SessionFilters contains paging options for listing sessions.
// Results are ordered by started_at descending.
type SessionFilters struct {
	Owner string `json:"owner,omitempty"`
	Limit int    `json:"limit,omitempty"`
	Skip  int    `json:"skip,omitempty"`
}

// SessionListResponse contains a paginated session list.
type SessionListResponse struct {
	Sessions   []*Session `json:"sessions"`
	TotalCount int        `json:"total_count"`
	Limit      int        `json:"limit"`
	Skip       int        `json:"skip"`
}
