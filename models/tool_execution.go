package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of a tool execution
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "pending"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusError   ExecutionStatus = "error"
)

// Error categories assigned by the logger when a tool body fails
const (
	ErrorTypeAuth       = "auth_error"
	ErrorTypeNotFound   = "not_found"
	ErrorTypeTimeout    = "timeout"
	ErrorTypeNetwork    = "network_error"
	ErrorTypeValidation = "validation_error"
	ErrorTypeRateLimit  = "rate_limit"
	ErrorTypeExecution  = "execution_error"
	ErrorTypeAbandoned  = "abandoned"
	ErrorTypeUnknown    = "unknown"
)

// ToolExecution represents one lifecycle-tracked tool invocation
type ToolExecution struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	UserID        uuid.UUID       `json:"user_id" db:"user_id"`
	ToolName      string          `json:"tool_name" db:"tool_name"`
	StartedAt     time.Time       `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	DurationMs    *int64          `json:"duration_ms,omitempty" db:"duration_ms"`
	Status        ExecutionStatus `json:"status" db:"status"`
	ErrorType     *string         `json:"error_type,omitempty" db:"error_type"`
	ErrorMessage  *string         `json:"error_message,omitempty" db:"error_message"`
	Args          json.RawMessage `json:"args" db:"args"`
	ResultSummary json.RawMessage `json:"result_summary,omitempty" db:"result_summary"`
}

// TableName returns the table name for the ToolExecution model
func (ToolExecution) TableName() string {
	return "tool_executions"
}

// NewToolExecution creates a pending execution record
func NewToolExecution(userID uuid.UUID, toolName string) *ToolExecution {
	return &ToolExecution{
		ID:        uuid.New(),
		UserID:    userID,
		ToolName:  toolName,
		StartedAt: time.Now().UTC(),
		Status:    ExecutionStatusPending,
	}
}

// WithArgs sets the sanitized argument snapshot
func (e *ToolExecution) WithArgs(args interface{}) *ToolExecution {
	if data, err := json.Marshal(args); err == nil {
		e.Args = data
	}
	return e
}

// IsTerminal reports whether the execution has reached a final state
func (e *ToolExecution) IsTerminal() bool {
	return e.Status == ExecutionStatusSuccess || e.Status == ExecutionStatusError
}
