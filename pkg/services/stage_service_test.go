package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charter-works/charterd/pkg/models"
)

func newStageMock(t *testing.T) (*StageService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStageService(db), mock
}

func testProblem() *models.ProblemStatement {
	return &models.ProblemStatement{
		BusinessObjective:        "Reduce churn",
		AINecessityJustification: "Patterns span many signals",
		InputFeatures:            []string{"tenure", "usage"},
		TargetOutput:             "churn risk score",
		MLArchetype:              models.ArchetypeClassification,
		OutOfScope:               "pricing",
		Constraints:              "nightly refresh",
	}
}

func testCheckpoint(stage int) *models.Checkpoint {
	return &models.Checkpoint{
		SessionID:        "sess-1",
		Stage:            stage,
		ValidationPassed: true,
		Snapshot: models.CheckpointSnapshot{
			Deliverables:  map[int]json.RawMessage{stage: json.RawMessage(`{}`)},
			HistoryLength: 12,
		},
	}
}

// A ProblemStatement flattens into seven stage_data field rows.
const problemFieldCount = 7

func TestStageService_CommitAdvancement(t *testing.T) {
	t.Run("commits fields, checkpoint, and stage bump atomically", func(t *testing.T) {
		svc, mock := newStageMock(t)

		mock.ExpectBegin()
		for i := 0; i < problemFieldCount; i++ {
			mock.ExpectExec("INSERT INTO stage_data").WillReturnResult(sqlmock.NewResult(0, 1))
		}
		mock.ExpectExec("INSERT INTO checkpoints").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE sessions SET current_stage").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := svc.CommitAdvancement(context.Background(), "sess-1", 1, testProblem(), nil, testCheckpoint(1))
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate stage write rolls back", func(t *testing.T) {
		svc, mock := newStageMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO stage_data").
			WillReturnError(&pgconn.PgError{Code: uniqueViolation})
		mock.ExpectRollback()

		err := svc.CommitAdvancement(context.Background(), "sess-1", 1, testProblem(), nil, testCheckpoint(1))
		assert.ErrorIs(t, err, ErrDuplicateStageWrite)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stage moved underneath rolls back", func(t *testing.T) {
		svc, mock := newStageMock(t)

		mock.ExpectBegin()
		for i := 0; i < problemFieldCount; i++ {
			mock.ExpectExec("INSERT INTO stage_data").WillReturnResult(sqlmock.NewResult(0, 1))
		}
		mock.ExpectExec("INSERT INTO checkpoints").WillReturnResult(sqlmock.NewResult(0, 1))
		// The guarded UPDATE matches no row: current_stage is not the
		// expected value any more.
		mock.ExpectExec("UPDATE sessions SET current_stage").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := svc.CommitAdvancement(context.Background(), "sess-1", 1, testProblem(), nil, testCheckpoint(1))
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects out-of-range stage", func(t *testing.T) {
		svc, _ := newStageMock(t)
		err := svc.CommitAdvancement(context.Background(), "sess-1", 6, testProblem(), nil, testCheckpoint(6))
		assert.True(t, IsValidationError(err))
	})

	t.Run("rejects mismatched deliverable stage", func(t *testing.T) {
		svc, _ := newStageMock(t)
		err := svc.CommitAdvancement(context.Background(), "sess-1", 2, testProblem(), nil, testCheckpoint(2))
		assert.True(t, IsValidationError(err))
	})
}

func TestStageService_LoadDeliverable(t *testing.T) {
	t.Run("reassembles typed record from field rows", func(t *testing.T) {
		svc, mock := newStageMock(t)
		mock.ExpectQuery("SELECT field_name, field_value FROM stage_data").
			WithArgs("sess-1", 1).
			WillReturnRows(sqlmock.NewRows([]string{"field_name", "field_value"}).
				AddRow("business_objective", []byte(`"Reduce churn"`)).
				AddRow("ai_necessity_justification", []byte(`"many signals"`)).
				AddRow("input_features", []byte(`["tenure","usage"]`)).
				AddRow("target_output", []byte(`"risk score"`)).
				AddRow("ml_archetype", []byte(`"classification"`)).
				AddRow("out_of_scope", []byte(`"pricing"`)).
				AddRow("constraints", []byte(`"nightly"`)))

		d, err := svc.LoadDeliverable(context.Background(), "sess-1", 1)
		require.NoError(t, err)

		problem, ok := d.(*models.ProblemStatement)
		require.True(t, ok)
		assert.Equal(t, "Reduce churn", problem.BusinessObjective)
		assert.Equal(t, []string{"tenure", "usage"}, problem.InputFeatures)
		assert.Equal(t, models.ArchetypeClassification, problem.MLArchetype)
	})

	t.Run("no rows maps to ErrNotFound", func(t *testing.T) {
		svc, mock := newStageMock(t)
		mock.ExpectQuery("SELECT field_name, field_value FROM stage_data").
			WithArgs("sess-1", 4).
			WillReturnRows(sqlmock.NewRows([]string{"field_name", "field_value"}))

		_, err := svc.LoadDeliverable(context.Background(), "sess-1", 4)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStageService_LoadAllDeliverables(t *testing.T) {
	svc, mock := newStageMock(t)

	// Stage 1 committed, stages 2-5 empty.
	mock.ExpectQuery("SELECT field_name, field_value FROM stage_data").
		WithArgs("sess-1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"field_name", "field_value"}).
			AddRow("business_objective", []byte(`"Reduce churn"`)))
	for stage := 2; stage <= models.StageCount; stage++ {
		mock.ExpectQuery("SELECT field_name, field_value FROM stage_data").
			WithArgs("sess-1", stage).
			WillReturnRows(sqlmock.NewRows([]string{"field_name", "field_value"}))
	}

	deliverables, err := svc.LoadAllDeliverables(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, deliverables, 1)
	assert.Contains(t, deliverables, 1)
}
