package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/finetunelab/toolgate/models"
	"github.com/finetunelab/toolgate/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const executionColumns = `id, user_id, tool_name, started_at, completed_at, duration_ms,
	       status, error_type, error_message, args, result_summary`

// ExecutionRepository implements the repositories.ExecutionRepository interface
type ExecutionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db *DB, logger *zap.Logger) repositories.ExecutionRepository {
	return &ExecutionRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new pending execution record
func (r *ExecutionRepository) Insert(ctx context.Context, exec *models.ToolExecution) error {
	query := `
		INSERT INTO tool_executions (
			id, user_id, tool_name, started_at, completed_at, duration_ms,
			status, error_type, error_message, args, result_summary
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		exec.ID,
		exec.UserID,
		exec.ToolName,
		exec.StartedAt,
		exec.CompletedAt,
		exec.DurationMs,
		exec.Status,
		exec.ErrorType,
		exec.ErrorMessage,
		exec.Args,
		exec.ResultSummary,
	)

	if err != nil {
		return fmt.Errorf("failed to insert tool execution: %w", err)
	}

	r.logger.Debug("tool execution inserted",
		zap.String("id", exec.ID.String()),
		zap.String("tool_name", exec.ToolName))
	return nil
}

// GetByID retrieves an execution by ID
func (r *ExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ToolExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM tool_executions
		WHERE id = $1
	`

	exec := &models.ToolExecution{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&exec.ID,
		&exec.UserID,
		&exec.ToolName,
		&exec.StartedAt,
		&exec.CompletedAt,
		&exec.DurationMs,
		&exec.Status,
		&exec.ErrorType,
		&exec.ErrorMessage,
		&exec.Args,
		&exec.ResultSummary,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tool execution %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get tool execution: %w", err)
	}

	return exec, nil
}

// GetStartedAt retrieves only the started_at timestamp for an execution
func (r *ExecutionRepository) GetStartedAt(ctx context.Context, id uuid.UUID) (time.Time, error) {
	var startedAt time.Time
	err := r.db.QueryRowContext(ctx,
		"SELECT started_at FROM tool_executions WHERE id = $1", id).Scan(&startedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, fmt.Errorf("tool execution %s: %w", id, repositories.ErrNotFound)
		}
		return time.Time{}, fmt.Errorf("failed to get started_at: %w", err)
	}
	return startedAt, nil
}

// MarkSuccess transitions a pending execution to success.
// The status predicate makes the terminal transition first-writer-wins: a
// second completion (or a completion racing a failure) updates zero rows.
func (r *ExecutionRepository) MarkSuccess(ctx context.Context, id uuid.UUID, completedAt time.Time, durationMs int64, resultSummary json.RawMessage) error {
	query := `
		UPDATE tool_executions
		SET status = $2, completed_at = $3, duration_ms = $4, result_summary = $5
		WHERE id = $1 AND status = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		id, models.ExecutionStatusSuccess, completedAt, durationMs, resultSummary,
		models.ExecutionStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark execution success: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		r.logger.Debug("execution already terminal, success update skipped",
			zap.String("id", id.String()))
	}
	return nil
}

// MarkFailure transitions a pending execution to error.
// Same first-writer-wins semantics as MarkSuccess.
func (r *ExecutionRepository) MarkFailure(ctx context.Context, id uuid.UUID, completedAt time.Time, durationMs int64, errorType, errorMessage string) error {
	query := `
		UPDATE tool_executions
		SET status = $2, completed_at = $3, duration_ms = $4, error_type = $5, error_message = $6
		WHERE id = $1 AND status = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		id, models.ExecutionStatusError, completedAt, durationMs, errorType, errorMessage,
		models.ExecutionStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark execution failure: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		r.logger.Debug("execution already terminal, failure update skipped",
			zap.String("id", id.String()))
	}
	return nil
}

// ListByUser retrieves executions owned by a user, newest first
func (r *ExecutionRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter repositories.ListFilter) ([]*models.ToolExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM tool_executions
		WHERE user_id = $1
	`
	args := []interface{}{userID}

	if filter.ToolName != "" {
		args = append(args, filter.ToolName)
		query += " AND tool_name = $" + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += " AND status = $" + strconv.Itoa(len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += " ORDER BY started_at DESC LIMIT $" + strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	query += " OFFSET $" + strconv.Itoa(len(args))

	return r.queryExecutions(ctx, query, args...)
}

// ListForMetrics retrieves executions feeding the metrics aggregation
func (r *ExecutionRepository) ListForMetrics(ctx context.Context, userID uuid.UUID, filter models.MetricsFilter) ([]*models.ToolExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM tool_executions
		WHERE user_id = $1
	`
	args := []interface{}{userID}

	if filter.ToolName != "" {
		args = append(args, filter.ToolName)
		query += " AND tool_name = $" + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += " AND status = $" + strconv.Itoa(len(args))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		query += " AND started_at >= $" + strconv.Itoa(len(args))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		query += " AND started_at <= $" + strconv.Itoa(len(args))
	}

	query += " ORDER BY started_at DESC"

	return r.queryExecutions(ctx, query, args...)
}

// MarkAbandoned flags pending executions started before the cutoff as error/abandoned
func (r *ExecutionRepository) MarkAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE tool_executions
		SET status = $1, error_type = $2, error_message = 'execution abandoned without completion',
		    completed_at = NOW()
		WHERE status = $3 AND started_at < $4
	`

	result, err := r.db.ExecContext(ctx, query,
		models.ExecutionStatusError, models.ErrorTypeAbandoned,
		models.ExecutionStatusPending, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark abandoned executions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// queryExecutions is a helper method to query multiple executions
func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]*models.ToolExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.ToolExecution
	for rows.Next() {
		exec := &models.ToolExecution{}
		err := rows.Scan(
			&exec.ID,
			&exec.UserID,
			&exec.ToolName,
			&exec.StartedAt,
			&exec.CompletedAt,
			&exec.DurationMs,
			&exec.Status,
			&exec.ErrorType,
			&exec.ErrorMessage,
			&exec.Args,
			&exec.ResultSummary,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tool execution: %w", err)
		}
		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool execution rows: %w", err)
	}

	return execs, nil
}
