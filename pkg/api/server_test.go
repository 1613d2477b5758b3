package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charter-works/charterd/pkg/config"
	"github.com/charter-works/charterd/pkg/database"
	"github.com/charter-works/charterd/pkg/models"
	"github.com/charter-works/charterd/pkg/orchestrator"
	"github.com/charter-works/charterd/pkg/services"
)

func newTestServer(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	stores := orchestrator.Stores{
		Sessions:     services.NewSessionService(db),
		Stages:       services.NewStageService(db),
		Conversation: services.NewConversationService(db),
		Checkpoints:  services.NewCheckpointService(db),
		Charters:     services.NewCharterService(db),
	}
	orch := orchestrator.New(stores, nil, nil, nil, nil, config.InterviewConfig{})
	server := NewServer(orch, database.NewClientFromDB(db), stores)
	return server.Handler(), mock
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func expectSessionRow(mock sqlmock.Sqlmock, id string, stage int, status models.SessionStatus) {
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT session_id, owner, project_name").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(
			[]string{"session_id", "owner", "project_name", "started_at", "last_updated", "current_stage", "status"}).
			AddRow(id, "pat", "churn-predictor", now, now, stage, string(status)))
}

func TestAPI_CreateSession(t *testing.T) {
	t.Run("creates and returns the session", func(t *testing.T) {
		handler, mock := newTestServer(t)
		mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(0, 1))

		rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions",
			`{"owner": "pat", "project_name": "churn-predictor"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		body := decodeBody(t, rec)
		assert.NotEmpty(t, body["session_id"])
		assert.Equal(t, float64(1), body["current_stage"])
		assert.Equal(t, "in_progress", body["status"])
	})

	t.Run("malformed body is a 400", func(t *testing.T) {
		handler, _ := newTestServer(t)
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions", `{"owner": `)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request", decodeBody(t, rec)["error_code"])
	})

	t.Run("missing owner is a 400", func(t *testing.T) {
		handler, _ := newTestServer(t)
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions",
			`{"project_name": "churn-predictor"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request", decodeBody(t, rec)["error_code"])
	})
}

func TestAPI_GetSession(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		handler, mock := newTestServer(t)
		expectSessionRow(mock, "sess-1", 3, models.SessionStatusInProgress)

		rec := doJSON(t, handler, http.MethodGet, "/api/v1/sessions/sess-1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "sess-1", decodeBody(t, rec)["session_id"])
	})

	t.Run("missing is a 404", func(t *testing.T) {
		handler, mock := newTestServer(t)
		mock.ExpectQuery("SELECT session_id, owner, project_name").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(
				[]string{"session_id", "owner", "project_name", "started_at", "last_updated", "current_stage", "status"}))

		rec := doJSON(t, handler, http.MethodGet, "/api/v1/sessions/ghost", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeBody(t, rec)["error_code"])
	})
}

func TestAPI_ExecuteStage(t *testing.T) {
	t.Run("non-integer stage is a 400", func(t *testing.T) {
		handler, _ := newTestServer(t)
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/sess-1/stages/two/execute", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("run starts async and surfaces its failure through the prompt poll", func(t *testing.T) {
		handler, mock := newTestServer(t)
		// The session is already past stage 2, so the run fails fast.
		expectSessionRow(mock, "sess-1", 3, models.SessionStatusInProgress)

		rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/sess-1/stages/2/execute", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "running", decodeBody(t, rec)["status"])

		require.Eventually(t, func() bool {
			poll := doJSON(t, handler, http.MethodGet, "/api/v1/sessions/sess-1/prompt", "")
			return decodeBody(t, poll)["state"] == "error"
		}, time.Second, 5*time.Millisecond)

		poll := doJSON(t, handler, http.MethodGet, "/api/v1/sessions/sess-1/prompt", "")
		body := decodeBody(t, poll)
		errBody, ok := body["error"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "stage_already_committed", errBody["error_code"])
	})
}

func TestAPI_Prompt_IdleWithoutRun(t *testing.T) {
	handler, _ := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sessions/sess-1/prompt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decodeBody(t, rec)["state"])
}

func TestAPI_Answer(t *testing.T) {
	t.Run("no pending question is a 404", func(t *testing.T) {
		handler, _ := newTestServer(t)
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/sess-1/answer",
			`{"answer": "Reduce churn."}`)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeBody(t, rec)["error_code"])
	})

	t.Run("empty answer is a 400", func(t *testing.T) {
		handler, _ := newTestServer(t)
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/sess-1/answer", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAPI_AdvanceStage_WithoutRun(t *testing.T) {
	handler, mock := newTestServer(t)
	expectSessionRow(mock, "sess-1", 2, models.SessionStatusInProgress)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/sess-1/stages/2/advance", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "run the stage first")
}

func TestAPI_CancelSession(t *testing.T) {
	expectAbandon := func(mock sqlmock.Sqlmock) {
		expectSessionRow(mock, "sess-1", 2, models.SessionStatusInProgress)
		mock.ExpectExec("UPDATE sessions SET status").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO conversation_history").
			WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(3))
	}

	t.Run("records the caller's reason", func(t *testing.T) {
		handler, mock := newTestServer(t)
		expectAbandon(mock)

		rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/sess-1/cancel",
			`{"reason": "project descoped"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "abandoned", decodeBody(t, rec)["status"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("body is optional", func(t *testing.T) {
		handler, mock := newTestServer(t)
		expectAbandon(mock)

		rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/sess-1/cancel", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed body is a 400", func(t *testing.T) {
		handler, _ := newTestServer(t)
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/sess-1/cancel", `{"reason": `)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAPI_PauseConflicts(t *testing.T) {
	handler, mock := newTestServer(t)
	expectSessionRow(mock, "sess-1", 2, models.SessionStatusPaused)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/sess-1/pause", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_GetCharter(t *testing.T) {
	charterContent := func(t *testing.T) []byte {
		t.Helper()
		raw, err := json.Marshal(map[string]any{
			"session_id":          "sess-1",
			"project_name":        "churn-predictor",
			"governance_decision": "PROCEED",
			"feasibility":         "HIGH",
			"problem_statement": map[string]any{
				"business_objective": "Reduce churn", "input_features": []string{"tenure"},
			},
			"metric_alignment":       map[string]any{},
			"data_quality_scorecard": map[string]any{},
			"user_context":           map[string]any{},
			"ethical_risk_report":    map[string]any{"principles": map[string]any{}},
		})
		require.NoError(t, err)
		return raw
	}

	t.Run("json by default", func(t *testing.T) {
		handler, mock := newTestServer(t)
		mock.ExpectQuery("SELECT content FROM charters").
			WithArgs("sess-1").
			WillReturnRows(sqlmock.NewRows([]string{"content"}).AddRow(charterContent(t)))

		rec := doJSON(t, handler, http.MethodGet, "/api/v1/sessions/sess-1/charter", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "churn-predictor", decodeBody(t, rec)["project_name"])
	})

	t.Run("markdown rendering", func(t *testing.T) {
		handler, mock := newTestServer(t)
		mock.ExpectQuery("SELECT content FROM charters").
			WithArgs("sess-1").
			WillReturnRows(sqlmock.NewRows([]string{"content"}).AddRow(charterContent(t)))
		// No stored consistency report; the renderer just omits the findings.
		mock.ExpectQuery("SELECT findings FROM consistency_reports").
			WithArgs("sess-1").
			WillReturnRows(sqlmock.NewRows([]string{"findings"}))

		rec := doJSON(t, handler, http.MethodGet, "/api/v1/sessions/sess-1/charter?format=markdown", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
		assert.Contains(t, rec.Body.String(), "# Project Charter: churn-predictor")
	})

	t.Run("missing charter is a 404", func(t *testing.T) {
		handler, mock := newTestServer(t)
		mock.ExpectQuery("SELECT content FROM charters").
			WithArgs("sess-1").
			WillReturnRows(sqlmock.NewRows([]string{"content"}))

		rec := doJSON(t, handler, http.MethodGet, "/api/v1/sessions/sess-1/charter", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAPI_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		handler, mock := newTestServer(t)
		mock.ExpectPing()

		rec := doJSON(t, handler, http.MethodGet, "/healthz", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
	})

	t.Run("database down", func(t *testing.T) {
		handler, mock := newTestServer(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		rec := doJSON(t, handler, http.MethodGet, "/healthz", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "unhealthy", decodeBody(t, rec)["status"])
	})
}

func TestAPI_RequestIDPropagation(t *testing.T) {
	handler, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-1/prompt", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sessions/sess-1/prompt", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), "an id is assigned when the client sends none")
}
