package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charter-works/charterd/pkg/models"
)

// ConversationService manages the append-only conversation audit log.
type ConversationService struct {
	db *sql.DB
}

// NewConversationService creates a new ConversationService.
func NewConversationService(db *sql.DB) *ConversationService {
	return &ConversationService{db: db}
}

// AppendTurn appends one turn with the next dense sequence number.
// Appends never reject on content; sequence density is guaranteed by the
// per-session serialization the orchestrator provides.
func (s *ConversationService) AppendTurn(ctx context.Context, turn models.ConversationTurn) (int, error) {
	var metadata []byte
	if turn.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(turn.Metadata); err != nil {
			return 0, fmt.Errorf("failed to marshal turn metadata: %w", err)
		}
	}

	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var seq int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO conversation_history (session_id, seq, role, content, stage_number, ts, metadata)
		 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6
		 FROM conversation_history WHERE session_id = $1
		 RETURNING seq`,
		turn.SessionID, turn.Role, turn.Content, turn.Stage, ts, metadata).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to append conversation turn: %w", err)
	}
	return seq, nil
}

// History returns the full ordered conversation for a session.
func (s *ConversationService) History(ctx context.Context, sessionID string) ([]models.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, seq, role, content, stage_number, ts, metadata
		 FROM conversation_history WHERE session_id = $1 ORDER BY seq ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation history: %w", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var (
			turn     models.ConversationTurn
			metadata []byte
		)
		if err := rows.Scan(&turn.SessionID, &turn.Seq, &turn.Role, &turn.Content,
			&turn.Stage, &turn.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan conversation turn: %w", err)
		}
		if len(metadata) > 0 {
			turn.Metadata = &models.TurnMetadata{}
			if err := json.Unmarshal(metadata, turn.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode turn metadata: %w", err)
			}
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation history: %w", err)
	}
	return turns, nil
}

// Length returns the number of turns recorded for a session.
func (s *ConversationService) Length(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_history WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count conversation turns: %w", err)
	}
	return n, nil
}
