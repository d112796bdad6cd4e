package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/finetunelab/toolgate/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// ListFilter narrows execution listings. Zero values mean "no filter".
type ListFilter struct {
	ToolName string
	Status   models.ExecutionStatus
	Limit    int
	Offset   int
}

// ExecutionRepository handles tool execution log data operations
type ExecutionRepository interface {
	// Insert inserts a new pending execution record
	Insert(ctx context.Context, exec *models.ToolExecution) error

	// GetByID retrieves an execution by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.ToolExecution, error)

	// GetStartedAt retrieves only the started_at timestamp for an execution
	GetStartedAt(ctx context.Context, id uuid.UUID) (time.Time, error)

	// MarkSuccess transitions a pending execution to success.
	// Rows already in a terminal state are left untouched.
	MarkSuccess(ctx context.Context, id uuid.UUID, completedAt time.Time, durationMs int64, resultSummary json.RawMessage) error

	// MarkFailure transitions a pending execution to error.
	// Rows already in a terminal state are left untouched.
	MarkFailure(ctx context.Context, id uuid.UUID, completedAt time.Time, durationMs int64, errorType, errorMessage string) error

	// ListByUser retrieves executions owned by a user, newest first
	ListByUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]*models.ToolExecution, error)

	// ListForMetrics retrieves executions feeding the metrics aggregation,
	// scoped to a user with optional tool/status/date predicates
	ListForMetrics(ctx context.Context, userID uuid.UUID, filter models.MetricsFilter) ([]*models.ToolExecution, error)

	// MarkAbandoned flags pending executions started before the cutoff as
	// error/abandoned. Returns the number of rows updated.
	MarkAbandoned(ctx context.Context, cutoff time.Time) (int64, error)
}
