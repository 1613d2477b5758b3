package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charter-works/charterd/pkg/models"
)

// CheckpointService reads checkpoint rows. Writes happen inside the stage
// advancement transaction (StageService.CommitAdvancement).
type CheckpointService struct {
	db *sql.DB
}

// NewCheckpointService creates a new CheckpointService.
func NewCheckpointService(db *sql.DB) *CheckpointService {
	return &CheckpointService{db: db}
}

// List returns all checkpoints for a session in stage order.
func (s *CheckpointService) List(ctx context.Context, sessionID string) ([]models.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, stage_number, created_at, snapshot, validation_passed, feedback
		 FROM checkpoints WHERE session_id = $1 ORDER BY stage_number ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []models.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return checkpoints, nil
}

// Latest returns the highest-stage checkpoint, or ErrNotFound when the
// session has none yet.
func (s *CheckpointService) Latest(ctx context.Context, sessionID string) (*models.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, stage_number, created_at, snapshot, validation_passed, feedback
		 FROM checkpoints WHERE session_id = $1 ORDER BY stage_number DESC LIMIT 1`,
		sessionID)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return cp, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*models.Checkpoint, error) {
	var (
		cp       models.Checkpoint
		snapshot []byte
		feedback []byte
	)
	if err := row.Scan(&cp.SessionID, &cp.Stage, &cp.CreatedAt,
		&snapshot, &cp.ValidationPassed, &feedback); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	if err := json.Unmarshal(snapshot, &cp.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint snapshot: %w", err)
	}
	if len(feedback) > 0 {
		cp.Feedback = &models.StageValidation{}
		if err := json.Unmarshal(feedback, cp.Feedback); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint feedback: %w", err)
		}
	}
	return &cp, nil
}
