package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charter-works/charterd/pkg/models"
)

// StageService manages stage deliverable rows and the atomic stage
// advancement transaction.
type StageService struct {
	db *sql.DB
}

// NewStageService creates a new StageService.
func NewStageService(db *sql.DB) *StageService {
	return &StageService{db: db}
}

// CommitAdvancement persists a passed stage gate as a single transaction:
// the deliverable rows, the checkpoint row, and the session's current_stage
// bump. Either all three happen or none.
//
// fieldScores may be nil; when present it attaches a per-field quality
// score where one is known.
func (s *StageService) CommitAdvancement(
	ctx context.Context,
	sessionID string,
	stage int,
	deliverable models.Deliverable,
	fieldScores map[string]int,
	checkpoint *models.Checkpoint,
) error {
	if stage < 1 || stage > models.StageCount {
		return NewValidationError("stage", fmt.Sprintf("stage %d out of range", stage))
	}
	if deliverable.Stage() != stage {
		return NewValidationError("deliverable", "deliverable stage tag does not match target stage")
	}

	fields, err := models.FieldMap(deliverable)
	if err != nil {
		return fmt.Errorf("failed to flatten deliverable: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for name, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal field %q: %w", name, err)
		}
		var score any
		if v, ok := fieldScores[name]; ok {
			score = v
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stage_data (session_id, stage_number, field_name, field_value, quality_score, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			sessionID, stage, name, raw, score, now); err != nil {
			if isConstraintError(err) {
				return ErrDuplicateStageWrite
			}
			return fmt.Errorf("failed to insert stage field %q: %w", name, err)
		}
	}

	snapshot, err := json.Marshal(checkpoint.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint snapshot: %w", err)
	}
	var feedback []byte
	if checkpoint.Feedback != nil {
		if feedback, err = json.Marshal(checkpoint.Feedback); err != nil {
			return fmt.Errorf("failed to marshal checkpoint feedback: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (session_id, stage_number, created_at, snapshot, validation_passed, feedback)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionID, stage, now, snapshot, checkpoint.ValidationPassed, feedback); err != nil {
		if isConstraintError(err) {
			return ErrDuplicateStageWrite
		}
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET current_stage = $1, last_updated = $2 WHERE session_id = $3 AND current_stage = $4`,
		stage+1, now, sessionID, stage)
	if err != nil {
		return fmt.Errorf("failed to advance session stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check advancement result: %w", err)
	}
	if affected == 0 {
		// Session gone or current_stage moved underneath us.
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stage advancement: %w", err)
	}
	return nil
}

// ResetStage removes uncommitted-stage rows so a failed gate can be
// re-collected. It refuses to touch stages at or below the last checkpoint.
func (s *StageService) ResetStage(ctx context.Context, sessionID string, stage int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM stage_data WHERE session_id = $1 AND stage_number = $2
		 AND NOT EXISTS (
		     SELECT 1 FROM checkpoints
		     WHERE checkpoints.session_id = $1 AND checkpoints.stage_number = $2
		 )`,
		sessionID, stage)
	if err != nil {
		return fmt.Errorf("failed to reset stage %d: %w", stage, err)
	}
	return nil
}

// LoadDeliverable reassembles the typed deliverable for one stage from its
// field rows. Returns ErrNotFound when no rows exist.
func (s *StageService) LoadDeliverable(ctx context.Context, sessionID string, stage int) (models.Deliverable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_name, field_value FROM stage_data
		 WHERE session_id = $1 AND stage_number = $2`,
		sessionID, stage)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage data: %w", err)
	}
	defer rows.Close()

	fields := make(map[string]json.RawMessage)
	for rows.Next() {
		var (
			name string
			raw  []byte
		)
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan stage field: %w", err)
		}
		fields[name] = json.RawMessage(raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stage data: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	assembled, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble deliverable: %w", err)
	}
	return models.DecodeDeliverable(stage, assembled)
}

// LoadAllDeliverables returns every committed deliverable keyed by stage.
func (s *StageService) LoadAllDeliverables(ctx context.Context, sessionID string) (map[int]models.Deliverable, error) {
	deliverables := make(map[int]models.Deliverable)
	for stage := 1; stage <= models.StageCount; stage++ {
		d, err := s.LoadDeliverable(ctx, sessionID, stage)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		deliverables[stage] = d
	}
	return deliverables, nil
}
