package models

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
)

// TurnMetadata carries optional audit detail for a conversation turn.
type TurnMetadata struct {
	QualityScore *int     `json:"quality_score,omitempty"`
	Attempt      int      `json:"attempt,omitempty"`
	Issues       []string `json:"issues,omitempty"`
	QuestionID   string   `json:"question_id,omitempty"`
	Outcome      string   `json:"outcome,omitempty"`
}

// ConversationTurn is one append-only audit log entry. Turns are never
// mutated once appended; Seq is dense and monotonic per session.
type ConversationTurn struct {
	SessionID string        `json:"session_id"`
	Seq       int           `json:"seq"`
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Stage     int           `json:"stage"`
	Timestamp time.Time     `json:"timestamp"`
	Metadata  *TurnMetadata `json:"metadata,omitempty"`
}
