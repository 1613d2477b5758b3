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

// CharterService persists the terminal charter artifact and the
// consistency report that precedes it.
type CharterService struct {
	db *sql.DB
}

// NewCharterService creates a new CharterService.
func NewCharterService(db *sql.DB) *CharterService {
	return &CharterService{db: db}
}

// SaveCharter writes the charter. One charter per session; a second write
// returns ErrAlreadyExists.
func (s *CharterService) SaveCharter(ctx context.Context, charter *models.Charter) error {
	content, err := json.Marshal(charter)
	if err != nil {
		return fmt.Errorf("failed to marshal charter: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO charters (session_id, content, governance_decision, created_at)
		 VALUES ($1, $2, $3, $4)`,
		charter.SessionID, content, charter.GovernanceDecision, time.Now().UTC())
	if err != nil {
		if isConstraintError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to save charter: %w", err)
	}
	return nil
}

// GetCharter loads the charter for a session.
func (s *CharterService) GetCharter(ctx context.Context, sessionID string) (*models.Charter, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM charters WHERE session_id = $1`, sessionID).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get charter: %w", err)
	}
	var charter models.Charter
	if err := json.Unmarshal(content, &charter); err != nil {
		return nil, fmt.Errorf("failed to decode charter: %w", err)
	}
	return &charter, nil
}

// SaveConsistencyReport writes the consistency report, replacing any
// earlier on-demand run for the same session.
func (s *CharterService) SaveConsistencyReport(ctx context.Context, report *models.ConsistencyReport) error {
	findings, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal consistency report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO consistency_reports (session_id, is_consistent, feasibility, findings, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO UPDATE
		 SET is_consistent = EXCLUDED.is_consistent,
		     feasibility = EXCLUDED.feasibility,
		     findings = EXCLUDED.findings,
		     created_at = EXCLUDED.created_at`,
		report.SessionID, report.IsConsistent, report.Feasibility, findings, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save consistency report: %w", err)
	}
	return nil
}

// GetConsistencyReport loads the stored consistency report.
func (s *CharterService) GetConsistencyReport(ctx context.Context, sessionID string) (*models.ConsistencyReport, error) {
	var findings []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT findings FROM consistency_reports WHERE session_id = $1`, sessionID).Scan(&findings)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get consistency report: %w", err)
	}
	var report models.ConsistencyReport
	if err := json.Unmarshal(findings, &report); err != nil {
		return nil, fmt.Errorf("failed to decode consistency report: %w", err)
	}
	return &report, nil
}
