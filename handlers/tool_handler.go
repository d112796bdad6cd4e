package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/finetunelab/toolgate/middleware"
	"github.com/finetunelab/toolgate/services/toolexec"
	"github.com/finetunelab/toolgate/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ToolRunner defines the execution surface the HTTP layer drives
type ToolRunner interface {
	// Execute runs a registered tool for a user
	Execute(ctx context.Context, userID uuid.UUID, toolName string, args map[string]interface{}) (map[string]interface{}, error)

	// Lookup returns a registered tool by name
	Lookup(name string) (*toolexec.Tool, bool)

	// Names returns the names of all registered tools
	Names() []string
}

// InvokeToolRequest represents a tool invocation request body
type InvokeToolRequest struct {
	Args map[string]interface{} `json:"args"`
}

// InvokeToolResponse represents a successful tool invocation
type InvokeToolResponse struct {
	ToolName string                 `json:"tool_name"`
	Result   map[string]interface{} `json:"result"`
}

// ToolInfo describes a registered tool in listing responses
type ToolInfo struct {
	Name      string         `json:"name"`
	RateLimit *RateLimitInfo `json:"rate_limit,omitempty"`
}

// RateLimitInfo describes a tool's admission policy
type RateLimitInfo struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds"`
}

// rateLimitDeniedResponse is the 429 body for a denied invocation
type rateLimitDeniedResponse struct {
	Error     bool                 `json:"error"`
	Message   string               `json:"message"`
	RateLimit rateLimitDeniedState `json:"rate_limit"`
}

type rateLimitDeniedState struct {
	Limit             int    `json:"limit"`
	Remaining         int    `json:"remaining"`
	ResetAt           string `json:"reset_at"`
	RetryAfterMinutes int    `json:"retry_after_minutes"`
}

// ToolHandler handles tool registry and invocation HTTP requests
type ToolHandler struct {
	runner ToolRunner
	logger *zap.Logger
}

// NewToolHandler creates a new ToolHandler
func NewToolHandler(runner ToolRunner, logger *zap.Logger) *ToolHandler {
	return &ToolHandler{
		runner: runner,
		logger: logger,
	}
}

// HandleListTools handles GET /api/v1/tools
func (h *ToolHandler) HandleListTools(w http.ResponseWriter, r *http.Request) {
	names := h.runner.Names()

	tools := make([]ToolInfo, 0, len(names))
	for _, name := range names {
		info := ToolInfo{Name: name}
		if tool, ok := h.runner.Lookup(name); ok && tool.RateLimit != nil {
			info.RateLimit = &RateLimitInfo{
				Limit:         tool.RateLimit.Limit,
				WindowSeconds: int(tool.RateLimit.Window.Seconds()),
			}
		}
		tools = append(tools, info)
	}

	_ = utils.WriteOK(w, map[string]interface{}{"tools": tools})
}

// HandleInvoke handles POST /api/v1/tools/{name}
func (h *ToolHandler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	toolName := chi.URLParam(r, "name")
	if err := utils.ValidateToolName(toolName); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	if _, ok := h.runner.Lookup(toolName); !ok {
		_ = utils.WriteNotFound(w, "Unknown tool: "+toolName)
		return
	}

	var req InvokeToolRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			_ = utils.WriteBadRequest(w, "Invalid request body", nil)
			return
		}
	}

	result, err := h.runner.Execute(ctx, userID, toolName, req.Args)
	if err != nil {
		var rateLimitErr *toolexec.RateLimitError
		if errors.As(err, &rateLimitErr) {
			h.logger.Info("tool invocation rate limited",
				zap.String("request_id", requestID),
				zap.String("tool_name", toolName),
				zap.String("user_id", userID.String()))
			h.writeRateLimited(w, rateLimitErr)
			return
		}

		h.logger.Warn("tool invocation failed",
			zap.String("request_id", requestID),
			zap.String("tool_name", toolName),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		_ = utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse{
			Error:   "execution_error",
			Message: err.Error(),
		})
		return
	}

	_ = utils.WriteOK(w, InvokeToolResponse{
		ToolName: toolName,
		Result:   result,
	})
}

func (h *ToolHandler) writeRateLimited(w http.ResponseWriter, rlErr *toolexec.RateLimitError) {
	_ = utils.WriteTooManyRequests(w, rateLimitDeniedResponse{
		Error:   true,
		Message: rlErr.Error(),
		RateLimit: rateLimitDeniedState{
			Limit:             rlErr.Limit,
			Remaining:         rlErr.Remaining,
			ResetAt:           rlErr.ResetAt.UTC().Format(time.RFC3339),
			RetryAfterMinutes: rlErr.RetryAfterMinutes(),
		},
	})
}
