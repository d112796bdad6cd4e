package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/finetunelab/toolgate/middleware"
	"github.com/finetunelab/toolgate/models"
	"github.com/finetunelab/toolgate/repositories"
	"github.com/finetunelab/toolgate/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExecutionListResponse represents a page of execution records
type ExecutionListResponse struct {
	Executions []*models.ToolExecution `json:"executions"`
	Limit      int                     `json:"limit"`
	Offset     int                     `json:"offset"`
}

// executionListQuery captures the list endpoint's query parameters
type executionListQuery struct {
	ToolName string `validate:"omitempty,max=128"`
	Status   string `validate:"omitempty,oneof=pending success error"`
	Limit    int    `validate:"min=0,max=200"`
	Offset   int    `validate:"min=0"`
}

// ExecutionHandler handles execution log HTTP requests
type ExecutionHandler struct {
	repo   repositories.ExecutionRepository
	logger *zap.Logger
}

// NewExecutionHandler creates a new ExecutionHandler
func NewExecutionHandler(repo repositories.ExecutionRepository, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		repo:   repo,
		logger: logger,
	}
}

// HandleList handles GET /api/v1/tools/executions
func (h *ExecutionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	q := executionListQuery{Limit: 50}

	if toolName := r.URL.Query().Get("tool_name"); toolName != "" {
		if err := utils.ValidateToolName(toolName); err != nil {
			_ = utils.WriteBadRequest(w, err.Error(), nil)
			return
		}
		q.ToolName = toolName
	}
	q.Status = r.URL.Query().Get("status")

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid limit parameter", nil)
			return
		}
		q.Limit = n
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid offset parameter", nil)
			return
		}
		q.Offset = n
	}

	if err := utils.ValidateStruct(&q); err != nil {
		h.logger.Warn("list query validation failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	filter := repositories.ListFilter{
		ToolName: q.ToolName,
		Status:   models.ExecutionStatus(q.Status),
		Limit:    q.Limit,
		Offset:   q.Offset,
	}

	executions, err := h.repo.ListByUser(ctx, userID, filter)
	if err != nil {
		h.logger.Error("failed to list executions",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteOK(w, ExecutionListResponse{
		Executions: executions,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// HandleGet handles GET /api/v1/tools/executions/{id}
func (h *ExecutionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid execution ID", nil)
		return
	}

	exec, err := h.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "")
			return
		}
		h.logger.Error("failed to get execution",
			zap.String("execution_id", id.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	// Ownership check: records belong to the user that ran the tool.
	// Leaking existence to other users is avoided by answering 404.
	if exec.UserID != userID {
		_ = utils.WriteNotFound(w, "")
		return
	}

	_ = utils.WriteOK(w, exec)
}
