package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/finetunelab/toolgate/middleware"
	"github.com/finetunelab/toolgate/models"
	"github.com/finetunelab/toolgate/services/metrics"
	"github.com/finetunelab/toolgate/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricsProvider defines the aggregation surface the HTTP layer reads
type MetricsProvider interface {
	GetMetrics(ctx context.Context, userID uuid.UUID, filter models.MetricsFilter) (*metrics.Result, error)
}

// metricsQuery captures the validated metrics filter parameters
type metricsQuery struct {
	ToolName string `validate:"omitempty,max=128"`
	Status   string `validate:"omitempty,oneof=pending success error"`
}

// MetricsHandler handles tool metrics HTTP requests
type MetricsHandler struct {
	provider MetricsProvider
	logger   *zap.Logger
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler(provider MetricsProvider, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{
		provider: provider,
		logger:   logger,
	}
}

// HandleGetMetrics handles GET /api/v1/tools/metrics
//
// Query parameters: tool_name, start_date, end_date (RFC 3339 or
// YYYY-MM-DD), status.
func (h *MetricsHandler) HandleGetMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	q := metricsQuery{
		ToolName: r.URL.Query().Get("tool_name"),
		Status:   r.URL.Query().Get("status"),
	}
	if q.ToolName != "" {
		if err := utils.ValidateToolName(q.ToolName); err != nil {
			_ = utils.WriteBadRequest(w, err.Error(), nil)
			return
		}
	}
	if err := utils.ValidateStruct(&q); err != nil {
		h.logger.Warn("metrics query validation failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	filter := models.MetricsFilter{
		ToolName: q.ToolName,
		Status:   models.ExecutionStatus(q.Status),
	}

	if raw := r.URL.Query().Get("start_date"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid start_date format", nil)
			return
		}
		filter.StartDate = &t
	}

	if raw := r.URL.Query().Get("end_date"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid end_date format", nil)
			return
		}
		filter.EndDate = &t
	}

	result, err := h.provider.GetMetrics(ctx, userID, filter)
	if err != nil {
		h.logger.Error("failed to compute metrics",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	// Response shape is {metrics, total_tools, date_range} at the top
	// level, unwrapped, matching what the dashboard consumes
	_ = utils.WriteJSON(w, http.StatusOK, result)
}

// parseDate accepts RFC 3339 timestamps and bare dates
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
