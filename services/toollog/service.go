package toollog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/finetunelab/toolgate/models"
	"github.com/finetunelab/toolgate/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxErrorMessageLen = 1000

// Service provides fire-and-forget lifecycle logging for tool invocations.
// Every store failure is swallowed and surfaced only as a warning: logging
// must never fail the operation it instruments.
type Service struct {
	repo   repositories.ExecutionRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new tool execution logger
func NewService(repo repositories.ExecutionRepository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Start opens a pending log entry for a tool invocation and returns its id.
// Returns nil when the insert failed; callers treat nil as "logging disabled
// for this call" and proceed with the tool body regardless.
func (s *Service) Start(ctx context.Context, userID uuid.UUID, toolName string, args map[string]interface{}) *uuid.UUID {
	exec := models.NewToolExecution(userID, toolName)
	exec.StartedAt = s.now().UTC()
	exec.WithArgs(SanitizeArgs(args))

	if err := s.repo.Insert(ctx, exec); err != nil {
		s.logger.Warn("failed to start tool execution log",
			zap.String("tool_name", toolName),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil
	}

	return &exec.ID
}

// Complete closes a log entry as successful. No-op on nil id.
func (s *Service) Complete(ctx context.Context, logID *uuid.UUID, resultSummary map[string]interface{}) {
	if logID == nil {
		return
	}

	completedAt, durationMs, ok := s.finish(ctx, *logID)
	if !ok {
		return
	}

	var summary json.RawMessage
	if sanitized := SanitizeResult(resultSummary); sanitized != nil {
		if data, err := json.Marshal(sanitized); err == nil {
			summary = data
		}
	}

	if err := s.repo.MarkSuccess(ctx, *logID, completedAt, durationMs, summary); err != nil {
		s.logger.Warn("failed to complete tool execution log",
			zap.String("log_id", logID.String()),
			zap.Error(err))
	}
}

// Fail closes a log entry as failed. No-op on nil id.
func (s *Service) Fail(ctx context.Context, logID *uuid.UUID, errorType, errorMessage string) {
	if logID == nil {
		return
	}

	completedAt, durationMs, ok := s.finish(ctx, *logID)
	if !ok {
		return
	}

	if len(errorMessage) > maxErrorMessageLen {
		errorMessage = errorMessage[:maxErrorMessageLen] + truncatedMarker
	}

	if err := s.repo.MarkFailure(ctx, *logID, completedAt, durationMs, errorType, errorMessage); err != nil {
		s.logger.Warn("failed to record tool execution failure",
			zap.String("log_id", logID.String()),
			zap.Error(err))
	}
}

// finish reads back the original started_at and derives the duration
func (s *Service) finish(ctx context.Context, logID uuid.UUID) (completedAt time.Time, durationMs int64, ok bool) {
	startedAt, err := s.repo.GetStartedAt(ctx, logID)
	if err != nil {
		s.logger.Warn("failed to read execution start time",
			zap.String("log_id", logID.String()),
			zap.Error(err))
		return time.Time{}, 0, false
	}

	completedAt = s.now().UTC()
	durationMs = completedAt.Sub(startedAt).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}
	return completedAt, durationMs, true
}

// StartSweeper runs a background worker that marks stale pending executions
// as abandoned. A row stays pending forever when its process crashed
// mid-execution; the sweeper reconciles those after pendingTimeout.
func (s *Service) StartSweeper(ctx context.Context, interval, pendingTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started stale execution sweeper",
		zap.Duration("interval", interval),
		zap.Duration("pending_timeout", pendingTimeout))

	for {
		select {
		case <-ticker.C:
			cutoff := s.now().UTC().Add(-pendingTimeout)
			n, err := s.repo.MarkAbandoned(ctx, cutoff)
			if err != nil {
				s.logger.Error("failed to sweep stale executions", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("marked stale executions as abandoned",
					zap.Int64("count", n),
					zap.Time("cutoff", cutoff))
			}
		case <-ctx.Done():
			s.logger.Info("stopping stale execution sweeper")
			return
		}
	}
}
