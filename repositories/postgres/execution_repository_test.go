package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/finetunelab/toolgate/models"
	"github.com/finetunelab/toolgate/repositories"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockRepo(t *testing.T) (repositories.ExecutionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	wrapped := NewDBWithConn(db, zap.NewNop())
	return NewExecutionRepository(wrapped, zap.NewNop()), mock
}

func executionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "tool_name", "started_at", "completed_at", "duration_ms",
		"status", "error_type", "error_message", "args", "result_summary",
	})
}

func TestExecutionRepository_Insert(t *testing.T) {
	repo, mock := newMockRepo(t)

	exec := models.NewToolExecution(uuid.New(), "evaluate_messages").
		WithArgs(map[string]interface{}{"session_id": "s1"})

	mock.ExpectExec("INSERT INTO tool_executions").
		WithArgs(
			exec.ID, exec.UserID, exec.ToolName, exec.StartedAt,
			nil, nil, exec.Status, nil, nil, exec.Args, nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), exec)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_GetByID(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	userID := uuid.New()
	started := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		rows := executionRows().AddRow(
			id, userID, "session_metrics", started, nil, nil,
			"pending", nil, nil, []byte(`{}`), nil,
		)
		mock.ExpectQuery("SELECT (.+) FROM tool_executions").
			WithArgs(id).
			WillReturnRows(rows)

		exec, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, exec.ID)
		assert.Equal(t, userID, exec.UserID)
		assert.Equal(t, models.ExecutionStatusPending, exec.Status)
		assert.Nil(t, exec.CompletedAt)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM tool_executions").
			WithArgs(id).
			WillReturnRows(executionRows())

		_, err := repo.GetByID(context.Background(), id)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_MarkSuccess(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	completed := time.Now().UTC()
	summary := json.RawMessage(`{"count":3}`)

	mock.ExpectExec("UPDATE tool_executions").
		WithArgs(id, models.ExecutionStatusSuccess, completed, int64(120), []byte(summary), models.ExecutionStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkSuccess(context.Background(), id, completed, 120, summary)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_MarkSuccess_AlreadyTerminal(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	completed := time.Now().UTC()

	// Guarded update matches zero rows; the call still succeeds.
	mock.ExpectExec("UPDATE tool_executions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkSuccess(context.Background(), id, completed, 120, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_MarkFailure(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	completed := time.Now().UTC()

	mock.ExpectExec("UPDATE tool_executions").
		WithArgs(id, models.ExecutionStatusError, completed, int64(55), "timeout", "request timed out", models.ExecutionStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkFailure(context.Background(), id, completed, 55, "timeout", "request timed out")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_ListByUser(t *testing.T) {
	repo, mock := newMockRepo(t)

	userID := uuid.New()
	started := time.Now().UTC()

	t.Run("no filters uses default limit", func(t *testing.T) {
		rows := executionRows().AddRow(
			uuid.New(), userID, "session_metrics", started, nil, nil,
			"pending", nil, nil, []byte(`{}`), nil,
		)
		mock.ExpectQuery("SELECT (.+) FROM tool_executions").
			WithArgs(userID, 50, 0).
			WillReturnRows(rows)

		execs, err := repo.ListByUser(context.Background(), userID, repositories.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, execs, 1)
	})

	t.Run("tool and status filters", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM tool_executions").
			WithArgs(userID, "evaluate_messages", models.ExecutionStatusError, 10, 20).
			WillReturnRows(executionRows())

		execs, err := repo.ListByUser(context.Background(), userID, repositories.ListFilter{
			ToolName: "evaluate_messages",
			Status:   models.ExecutionStatusError,
			Limit:    10,
			Offset:   20,
		})
		require.NoError(t, err)
		assert.Empty(t, execs)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_ListForMetrics(t *testing.T) {
	repo, mock := newMockRepo(t)

	userID := uuid.New()
	start := time.Now().UTC().Add(-24 * time.Hour)
	end := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM tool_executions").
		WithArgs(userID, "session_metrics", start, end).
		WillReturnRows(executionRows())

	_, err := repo.ListForMetrics(context.Background(), userID, models.MetricsFilter{
		ToolName:  "session_metrics",
		StartDate: &start,
		EndDate:   &end,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_MarkAbandoned(t *testing.T) {
	repo, mock := newMockRepo(t)

	cutoff := time.Now().UTC().Add(-time.Hour)

	mock.ExpectExec("UPDATE tool_executions").
		WithArgs(models.ExecutionStatusError, models.ErrorTypeAbandoned, models.ExecutionStatusPending, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.MarkAbandoned(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
