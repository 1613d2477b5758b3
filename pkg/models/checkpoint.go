package models

import (
	"encoding/json"
	"time"
)

// CheckpointSnapshot is the resumable state captured when a stage gate
// passes: every deliverable up to and including the checkpointed stage,
// plus the conversation history length at that moment.
type CheckpointSnapshot struct {
	// Deliverables maps stage number to the raw JSON of the committed record.
	Deliverables  map[int]json.RawMessage `json:"deliverables"`
	HistoryLength int                     `json:"history_length"`
}

// Checkpoint is created exactly once per successful stage advancement.
// Checkpoints for a session appear in monotonically increasing stage order.
type Checkpoint struct {
	SessionID        string             `json:"session_id"`
	Stage            int                `json:"stage"`
	CreatedAt        time.Time          `json:"created_at"`
	Snapshot         CheckpointSnapshot `json:"snapshot"`
	ValidationPassed bool               `json:"validation_passed"`
	Feedback         *StageValidation   `json:"feedback,omitempty"`
}
