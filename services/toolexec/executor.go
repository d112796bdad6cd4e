package toolexec

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/finetunelab/toolgate/models"
	"github.com/finetunelab/toolgate/services/ratelimit"
	"github.com/finetunelab/toolgate/services/toollog"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ToolFunc is the body of a named tool
type ToolFunc func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// Summarizer condenses a tool result into the snapshot stored with the log
// entry. Tools with large payloads register one to record counts and flags
// instead of contents.
type Summarizer func(result map[string]interface{}) map[string]interface{}

// RateLimitPolicy caps invocations of a tool per user inside a sliding window
type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

// Tool is a named backend operation registered with the executor
type Tool struct {
	Name      string
	Handler   ToolFunc
	RateLimit *RateLimitPolicy // nil means unlimited
	Summarize Summarizer       // nil falls back to the logger's generic sanitization
}

// Limiter is the admission gate consulted for rate-limited tools
type Limiter interface {
	CheckLimit(ctx context.Context, identity, action string, limit int, window time.Duration) (*ratelimit.Result, error)
}

// Logger tracks the lifecycle of each invocation
type Logger interface {
	Start(ctx context.Context, userID uuid.UUID, toolName string, args map[string]interface{}) *uuid.UUID
	Complete(ctx context.Context, logID *uuid.UUID, resultSummary map[string]interface{})
	Fail(ctx context.Context, logID *uuid.UUID, errorType, errorMessage string)
}

// RateLimitError is returned when a rate-limited tool is denied admission
type RateLimitError struct {
	ToolName   string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: limit %d per window, retry in %d minute(s)",
		e.ToolName, e.Limit, e.RetryAfterMinutes())
}

// RetryAfterMinutes returns the human-readable retry delay, rounded up
func (e *RateLimitError) RetryAfterMinutes() int {
	minutes := int(math.Ceil(e.RetryAfter.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// Executor composes the logger and the rate limiter around registered tool
// bodies, presenting a single call-site pattern for every operation.
type Executor struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	limiter Limiter
	logs    Logger
	logger  *zap.Logger
}

// NewExecutor creates a new tool executor
func NewExecutor(limiter Limiter, logs Logger, logger *zap.Logger) *Executor {
	return &Executor{
		tools:   make(map[string]*Tool),
		limiter: limiter,
		logs:    logs,
		logger:  logger,
	}
}

// Register adds a tool to the registry
func (e *Executor) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool handler is required")
	}
	if tool.RateLimit != nil && (tool.RateLimit.Limit <= 0 || tool.RateLimit.Window <= 0) {
		return fmt.Errorf("invalid rate limit policy for tool %s", tool.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tools[tool.Name]; exists {
		return fmt.Errorf("tool already registered: %s", tool.Name)
	}
	e.tools[tool.Name] = &tool

	e.logger.Info("tool registered",
		zap.String("tool_name", tool.Name),
		zap.Bool("rate_limited", tool.RateLimit != nil))
	return nil
}

// Names returns the registered tool names
func (e *Executor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	return names
}

// Lookup returns a registered tool by name
func (e *Executor) Lookup(name string) (*Tool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tool, ok := e.tools[name]
	return tool, ok
}

// Execute runs a registered tool for a user: opens the log entry, consults
// the rate limiter when the tool carries a policy, runs the body, then closes
// the entry with success or categorized failure. The tool's own result and
// errors pass through unchanged; only the logging is shielded from failing
// the call.
func (e *Executor) Execute(ctx context.Context, userID uuid.UUID, toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	tool, ok := e.Lookup(toolName)
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", toolName)
	}

	logID := e.logs.Start(ctx, userID, toolName, args)

	if tool.RateLimit != nil {
		check, err := e.limiter.CheckLimit(ctx, userID.String(), toolName,
			tool.RateLimit.Limit, tool.RateLimit.Window)
		if err != nil {
			// Invalid policy configuration, not a store failure (those fail open)
			e.logs.Fail(ctx, logID, models.ErrorTypeExecution, err.Error())
			return nil, fmt.Errorf("rate limit check failed: %w", err)
		}
		if !check.Allowed {
			rlErr := &RateLimitError{
				ToolName:   toolName,
				Limit:      check.Limit,
				Remaining:  check.Remaining,
				ResetAt:    check.ResetAt,
				RetryAfter: check.RetryAfter,
			}
			e.logs.Fail(ctx, logID, models.ErrorTypeRateLimit, rlErr.Error())
			return nil, rlErr
		}
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		e.logs.Fail(ctx, logID, toollog.CategorizeError(err), err.Error())
		return nil, err
	}

	summary := result
	if tool.Summarize != nil {
		summary = tool.Summarize(result)
	}
	e.logs.Complete(ctx, logID, summary)

	return result, nil
}
