package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/finetunelab/toolgate/middleware"
	"github.com/finetunelab/toolgate/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LimitStore defines the admission-state operations the HTTP layer uses
type LimitStore interface {
	// Reset clears all recorded attempts for an identity and action
	Reset(ctx context.Context, identity, action string) error

	// Usage counts attempts currently inside the window
	Usage(ctx context.Context, identity, action string, window time.Duration) (int64, error)
}

// UsageResponse reports in-window consumption for one action
type UsageResponse struct {
	Action        string `json:"action"`
	Used          int64  `json:"used"`
	Limit         int    `json:"limit"`
	Remaining     int64  `json:"remaining"`
	WindowSeconds int    `json:"window_seconds"`
}

// RateLimitHandler handles rate limit HTTP requests
type RateLimitHandler struct {
	store         LimitStore
	defaultLimit  int
	defaultWindow time.Duration
	logger        *zap.Logger
}

// NewRateLimitHandler creates a new RateLimitHandler
func NewRateLimitHandler(s LimitStore, defaultLimit int, defaultWindow time.Duration, logger *zap.Logger) *RateLimitHandler {
	return &RateLimitHandler{
		store:         s,
		defaultLimit:  defaultLimit,
		defaultWindow: defaultWindow,
		logger:        logger,
	}
}

// HandleUsage handles GET /api/v1/tools/limits/{action}
func (h *RateLimitHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	action := chi.URLParam(r, "action")
	if err := utils.ValidateToolName(action); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	used, err := h.store.Usage(ctx, userID.String(), action, h.defaultWindow)
	if err != nil {
		h.logger.Error("failed to read rate limit usage",
			zap.String("user_id", userID.String()),
			zap.String("action", action),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	remaining := int64(h.defaultLimit) - used
	if remaining < 0 {
		remaining = 0
	}

	_ = utils.WriteOK(w, UsageResponse{
		Action:        action,
		Used:          used,
		Limit:         h.defaultLimit,
		Remaining:     remaining,
		WindowSeconds: int(h.defaultWindow.Seconds()),
	})
}

// HandleAdminReset handles DELETE /api/v1/admin/ratelimits/{action}/{identity}
func (h *RateLimitHandler) HandleAdminReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	action := chi.URLParam(r, "action")
	if err := utils.ValidateToolName(action); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	identity := chi.URLParam(r, "identity")
	if identity == "" {
		_ = utils.WriteBadRequest(w, "identity is required", nil)
		return
	}

	if err := h.store.Reset(ctx, identity, action); err != nil {
		h.logger.Error("failed to reset rate limit",
			zap.String("request_id", requestID),
			zap.String("action", action),
			zap.String("identity", identity),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	h.logger.Info("rate limit reset",
		zap.String("request_id", requestID),
		zap.String("action", action),
		zap.String("identity", identity))

	utils.WriteNoContent(w)
}
