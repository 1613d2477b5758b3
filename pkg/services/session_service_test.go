package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charter-works/charterd/pkg/models"
)

func newMockDB(t *testing.T) (*SessionService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSessionService(db), mock
}

func sessionColumns() []string {
	return []string{"session_id", "owner", "project_name", "started_at", "last_updated", "current_stage", "status"}
}

func TestSessionService_CreateSession(t *testing.T) {
	t.Run("creates at stage 1 in progress", func(t *testing.T) {
		svc, mock := newMockDB(t)
		mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(0, 1))

		session, err := svc.CreateSession(context.Background(), models.CreateSessionRequest{
			Owner: "pat", ProjectName: "churn-predictor",
		})
		require.NoError(t, err)

		assert.NotEmpty(t, session.ID)
		assert.Equal(t, 1, session.CurrentStage)
		assert.Equal(t, models.SessionStatusInProgress, session.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects missing owner", func(t *testing.T) {
		svc, _ := newMockDB(t)
		_, err := svc.CreateSession(context.Background(), models.CreateSessionRequest{ProjectName: "p"})
		assert.True(t, IsValidationError(err))
	})

	t.Run("rejects missing project name", func(t *testing.T) {
		svc, _ := newMockDB(t)
		_, err := svc.CreateSession(context.Background(), models.CreateSessionRequest{Owner: "pat"})
		assert.True(t, IsValidationError(err))
	})

	t.Run("duplicate id maps to ErrAlreadyExists", func(t *testing.T) {
		svc, mock := newMockDB(t)
		mock.ExpectExec("INSERT INTO sessions").
			WillReturnError(&pgconn.PgError{Code: uniqueViolation})

		_, err := svc.CreateSession(context.Background(), models.CreateSessionRequest{
			Owner: "pat", ProjectName: "churn-predictor",
		})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})
}

func TestSessionService_GetSession(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		svc, mock := newMockDB(t)
		now := time.Now().UTC()
		mock.ExpectQuery("SELECT session_id, owner, project_name").
			WithArgs("sess-1").
			WillReturnRows(sqlmock.NewRows(sessionColumns()).
				AddRow("sess-1", "pat", "churn-predictor", now, now, 3, "in_progress"))

		session, err := svc.GetSession(context.Background(), "sess-1")
		require.NoError(t, err)
		assert.Equal(t, "sess-1", session.ID)
		assert.Equal(t, 3, session.CurrentStage)
		assert.Equal(t, models.SessionStatusInProgress, session.Status)
	})

	t.Run("missing maps to ErrNotFound", func(t *testing.T) {
		svc, mock := newMockDB(t)
		mock.ExpectQuery("SELECT session_id, owner, project_name").
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows(sessionColumns()))

		_, err := svc.GetSession(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSessionService_UpdateStatus(t *testing.T) {
	t.Run("updates", func(t *testing.T) {
		svc, mock := newMockDB(t)
		mock.ExpectExec("UPDATE sessions SET status").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.UpdateStatus(context.Background(), "sess-1", models.SessionStatusPaused))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		svc, _ := newMockDB(t)
		err := svc.UpdateStatus(context.Background(), "sess-1", "sleeping")
		assert.True(t, IsValidationError(err))
	})

	t.Run("zero rows maps to ErrNotFound", func(t *testing.T) {
		svc, mock := newMockDB(t)
		mock.ExpectExec("UPDATE sessions SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := svc.UpdateStatus(context.Background(), "ghost", models.SessionStatusAbandoned)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSessionService_AbandonStale(t *testing.T) {
	svc, mock := newMockDB(t)
	mock.ExpectExec("UPDATE sessions SET status").
		WillReturnResult(sqlmock.NewResult(0, 4))

	count, err := svc.AbandonStale(context.Background(), 14*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestSessionService_ListSessions(t *testing.T) {
	svc, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT COUNT").WithArgs("pat").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT session_id, owner, project_name").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow("sess-2", "pat", "later", now, now, 1, "in_progress").
			AddRow("sess-1", "pat", "earlier", now.Add(-time.Hour), now, 6, "completed"))

	resp, err := svc.ListSessions(context.Background(), models.SessionFilters{Owner: "pat"})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.TotalCount)
	assert.Equal(t, 20, resp.Limit, "limit defaults when unset")
	require.Len(t, resp.Sessions, 2)
	assert.Equal(t, "sess-2", resp.Sessions[0].ID)
}
