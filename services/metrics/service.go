package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/finetunelab/toolgate/models"
	"github.com/finetunelab/toolgate/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result is the full metrics aggregation response
type Result struct {
	Metrics    []models.ToolMetrics `json:"metrics"`
	TotalTools int                  `json:"total_tools"`
	DateRange  models.DateRange     `json:"date_range"`
}

// Service computes read-only aggregate statistics over the execution log,
// always scoped to the requesting user's own records.
type Service struct {
	repo   repositories.ExecutionRepository
	logger *zap.Logger
}

// NewService creates a new metrics service
func NewService(repo repositories.ExecutionRepository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// GetMetrics aggregates the caller's executions per tool, sorted by total
// executions descending
func (s *Service) GetMetrics(ctx context.Context, userID uuid.UUID, filter models.MetricsFilter) (*Result, error) {
	execs, err := s.repo.ListForMetrics(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load executions for metrics: %w", err)
	}

	groups := make(map[string][]*models.ToolExecution)
	for _, exec := range execs {
		groups[exec.ToolName] = append(groups[exec.ToolName], exec)
	}

	metrics := make([]models.ToolMetrics, 0, len(groups))
	for toolName, group := range groups {
		metrics = append(metrics, aggregateTool(toolName, group))
	}

	sort.Slice(metrics, func(i, j int) bool {
		if metrics[i].TotalExecutions != metrics[j].TotalExecutions {
			return metrics[i].TotalExecutions > metrics[j].TotalExecutions
		}
		return metrics[i].ToolName < metrics[j].ToolName
	})

	return &Result{
		Metrics:    metrics,
		TotalTools: len(metrics),
		DateRange:  dateRange(execs, filter),
	}, nil
}

func aggregateTool(toolName string, execs []*models.ToolExecution) models.ToolMetrics {
	m := models.ToolMetrics{
		ToolName:       toolName,
		ErrorBreakdown: make(map[string]int),
	}

	var durations []int64
	for _, exec := range execs {
		m.TotalExecutions++
		switch exec.Status {
		case models.ExecutionStatusSuccess:
			m.SuccessfulExecutions++
		case models.ExecutionStatusError:
			m.FailedExecutions++
			errType := models.ErrorTypeUnknown
			if exec.ErrorType != nil {
				errType = *exec.ErrorType
			}
			m.ErrorBreakdown[errType]++
		}
		if exec.DurationMs != nil {
			durations = append(durations, *exec.DurationMs)
		}
	}

	if m.TotalExecutions > 0 {
		m.SuccessRate = float64(m.SuccessfulExecutions) / float64(m.TotalExecutions) * 100
	}

	// Groups with no recorded durations report nil stats rather than zero
	if len(durations) > 0 {
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		avg := mean(durations)
		med := median(durations)
		p95 := float64(durations[len(durations)*95/100])
		m.AvgDurationMs = &avg
		m.MedianDurationMs = &med
		m.P95DurationMs = &p95
	}

	return m
}

func mean(sorted []int64) float64 {
	var sum int64
	for _, d := range sorted {
		sum += d
	}
	return float64(sum) / float64(len(sorted))
}

func median(sorted []int64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

// dateRange reports the effective bounds: explicit filter dates when given,
// otherwise the observed started_at extremes
func dateRange(execs []*models.ToolExecution, filter models.MetricsFilter) models.DateRange {
	dr := models.DateRange{
		Start: filter.StartDate,
		End:   filter.EndDate,
	}

	if dr.Start == nil || dr.End == nil {
		var min, max *time.Time
		for _, exec := range execs {
			started := exec.StartedAt
			if min == nil || started.Before(*min) {
				t := started
				min = &t
			}
			if max == nil || started.After(*max) {
				t := started
				max = &t
			}
		}
		if dr.Start == nil {
			dr.Start = min
		}
		if dr.End == nil {
			dr.End = max
		}
	}

	return dr
}
