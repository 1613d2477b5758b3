package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/charter-works/charterd/pkg/models"
)

// SessionService manages the session row lifecycle.
type SessionService struct {
	db *sql.DB
}

// NewSessionService creates a new SessionService.
func NewSessionService(db *sql.DB) *SessionService {
	return &SessionService{db: db}
}

// CreateSession inserts a new session at stage 1, IN_PROGRESS.
func (s *SessionService) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	if req.Owner == "" {
		return nil, NewValidationError("owner", "required")
	}
	if req.ProjectName == "" {
		return nil, NewValidationError("project_name", "required")
	}

	now := time.Now().UTC()
	session := &models.Session{
		ID:           uuid.New().String(),
		Owner:        req.Owner,
		ProjectName:  req.ProjectName,
		StartedAt:    now,
		LastUpdated:  now,
		CurrentStage: 1,
		Status:       models.SessionStatusInProgress,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, owner, project_name, started_at, last_updated, current_stage, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		session.ID, session.Owner, session.ProjectName,
		session.StartedAt, session.LastUpdated, session.CurrentStage, session.Status)
	if err != nil {
		if isConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// GetSession retrieves a session by ID.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, owner, project_name, started_at, last_updated, current_stage, status
		 FROM sessions WHERE session_id = $1`, sessionID)

	var session models.Session
	err := row.Scan(&session.ID, &session.Owner, &session.ProjectName,
		&session.StartedAt, &session.LastUpdated, &session.CurrentStage, &session.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// ListSessions returns sessions ordered by started_at descending, paged.
func (s *SessionService) ListSessions(ctx context.Context, filters models.SessionFilters) (*models.SessionListResponse, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	skip := filters.Skip
	if skip < 0 {
		skip = 0
	}

	var (
		total int
		rows  *sql.Rows
		err   error
	)
	if filters.Owner != "" {
		if err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions WHERE owner = $1`, filters.Owner).Scan(&total); err != nil {
			return nil, fmt.Errorf("failed to count sessions: %w", err)
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT session_id, owner, project_name, started_at, last_updated, current_stage, status
			 FROM sessions WHERE owner = $1
			 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
			filters.Owner, limit, skip)
	} else {
		if err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
			return nil, fmt.Errorf("failed to count sessions: %w", err)
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT session_id, owner, project_name, started_at, last_updated, current_stage, status
			 FROM sessions
			 ORDER BY started_at DESC LIMIT $1 OFFSET $2`,
			limit, skip)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0, limit)
	for rows.Next() {
		var session models.Session
		if err := rows.Scan(&session.ID, &session.Owner, &session.ProjectName,
			&session.StartedAt, &session.LastUpdated, &session.CurrentStage, &session.Status); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return &models.SessionListResponse{
		Sessions:   sessions,
		TotalCount: total,
		Limit:      limit,
		Skip:       skip,
	}, nil
}

// UpdateStatus transitions the session lifecycle state.
func (s *SessionService) UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	if !status.IsValid() {
		return NewValidationError("status", fmt.Sprintf("unknown status: %s", status))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = $1, last_updated = $2 WHERE session_id = $3`,
		status, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AbandonStale marks non-terminal sessions idle for longer than idleFor as
// abandoned. Idempotent; safe to run from multiple replicas.
func (s *SessionService) AbandonStale(ctx context.Context, idleFor time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = $1, last_updated = $2
		 WHERE status IN ($3, $4) AND last_updated < $5`,
		models.SessionStatusAbandoned, time.Now().UTC(),
		models.SessionStatusInProgress, models.SessionStatusPaused,
		time.Now().UTC().Add(-idleFor))
	if err != nil {
		return 0, fmt.Errorf("failed to abandon stale sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count abandoned sessions: %w", err)
	}
	return int(affected), nil
}

// Touch bumps last_updated without changing anything else.
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_updated = $1 WHERE session_id = $2`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}
