package metrics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/finetunelab/toolgate/models"
	"github.com/finetunelab/toolgate/repositories"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Insert(ctx context.Context, exec *models.ToolExecution) error {
	args := m.Called(ctx, exec)
	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ToolExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ToolExecution), args.Error(1)
}

func (m *MockExecutionRepository) GetStartedAt(ctx context.Context, id uuid.UUID) (time.Time, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockExecutionRepository) MarkSuccess(ctx context.Context, id uuid.UUID, completedAt time.Time, durationMs int64, resultSummary json.RawMessage) error {
	args := m.Called(ctx, id, completedAt, durationMs, resultSummary)
	return args.Error(0)
}

func (m *MockExecutionRepository) MarkFailure(ctx context.Context, id uuid.UUID, completedAt time.Time, durationMs int64, errorType string, errorMessage string) error {
	args := m.Called(ctx, id, completedAt, durationMs, errorType, errorMessage)
	return args.Error(0)
}

func (m *MockExecutionRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter repositories.ListFilter) ([]*models.ToolExecution, error) {
	args := m.Called(ctx, userID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ToolExecution), args.Error(1)
}

func (m *MockExecutionRepository) ListForMetrics(ctx context.Context, userID uuid.UUID, filter models.MetricsFilter) ([]*models.ToolExecution, error) {
	args := m.Called(ctx, userID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ToolExecution), args.Error(1)
}

func (m *MockExecutionRepository) MarkAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func execRow(userID uuid.UUID, tool string, startedAt time.Time, status models.ExecutionStatus, durationMs *int64, errorType *string) *models.ToolExecution {
	return &models.ToolExecution{
		ID:         uuid.New(),
		UserID:     userID,
		ToolName:   tool,
		StartedAt:  startedAt,
		Status:     status,
		DurationMs: durationMs,
		ErrorType:  errorType,
	}
}

func dur(ms int64) *int64 {
	return &ms
}

func errType(t string) *string {
	return &t
}

func TestGetMetrics_Aggregation(t *testing.T) {
	userID := uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// 8 successes with durations 100x7 and one 999 outlier, plus 2 timeouts
	rows := make([]*models.ToolExecution, 0, 10)
	for i := 0; i < 7; i++ {
		rows = append(rows, execRow(userID, "web_search", base.Add(time.Duration(i)*time.Minute), models.ExecutionStatusSuccess, dur(100), nil))
	}
	rows = append(rows, execRow(userID, "web_search", base.Add(7*time.Minute), models.ExecutionStatusSuccess, dur(999), nil))
	rows = append(rows, execRow(userID, "web_search", base.Add(8*time.Minute), models.ExecutionStatusError, nil, errType(models.ErrorTypeTimeout)))
	rows = append(rows, execRow(userID, "web_search", base.Add(9*time.Minute), models.ExecutionStatusError, nil, errType(models.ErrorTypeTimeout)))

	repo := new(MockExecutionRepository)
	repo.On("ListForMetrics", mock.Anything, userID, mock.Anything).Return(rows, nil)

	service := NewService(repo, zap.NewNop())
	result, err := service.GetMetrics(context.Background(), userID, models.MetricsFilter{})
	require.NoError(t, err)
	require.Len(t, result.Metrics, 1)
	assert.Equal(t, 1, result.TotalTools)

	m := result.Metrics[0]
	assert.Equal(t, "web_search", m.ToolName)
	assert.Equal(t, 10, m.TotalExecutions)
	assert.Equal(t, 8, m.SuccessfulExecutions)
	assert.Equal(t, 2, m.FailedExecutions)
	assert.InDelta(t, 80.0, m.SuccessRate, 0.0001)
	assert.Equal(t, map[string]int{models.ErrorTypeTimeout: 2}, m.ErrorBreakdown)

	require.NotNil(t, m.AvgDurationMs)
	assert.InDelta(t, (100.0*7+999)/8, *m.AvgDurationMs, 0.0001)
	require.NotNil(t, m.MedianDurationMs)
	assert.InDelta(t, 100.0, *m.MedianDurationMs, 0.0001)
	require.NotNil(t, m.P95DurationMs)
	assert.InDelta(t, 999.0, *m.P95DurationMs, 0.0001)
}

func TestGetMetrics_SortedByTotalDescending(t *testing.T) {
	userID := uuid.New()
	now := time.Now().UTC()

	rows := []*models.ToolExecution{
		execRow(userID, "file_read", now, models.ExecutionStatusSuccess, dur(10), nil),
		execRow(userID, "web_search", now, models.ExecutionStatusSuccess, dur(20), nil),
		execRow(userID, "web_search", now, models.ExecutionStatusSuccess, dur(30), nil),
		execRow(userID, "calculator", now, models.ExecutionStatusSuccess, dur(5), nil),
	}

	repo := new(MockExecutionRepository)
	repo.On("ListForMetrics", mock.Anything, userID, mock.Anything).Return(rows, nil)

	service := NewService(repo, zap.NewNop())
	result, err := service.GetMetrics(context.Background(), userID, models.MetricsFilter{})
	require.NoError(t, err)
	require.Len(t, result.Metrics, 3)

	assert.Equal(t, "web_search", result.Metrics[0].ToolName)
	// ties broken alphabetically so the ordering is stable
	assert.Equal(t, "calculator", result.Metrics[1].ToolName)
	assert.Equal(t, "file_read", result.Metrics[2].ToolName)
}

func TestGetMetrics_NoDurationsReportsNilStats(t *testing.T) {
	userID := uuid.New()
	now := time.Now().UTC()

	rows := []*models.ToolExecution{
		execRow(userID, "web_search", now, models.ExecutionStatusError, nil, errType(models.ErrorTypeNetwork)),
		execRow(userID, "web_search", now, models.ExecutionStatusPending, nil, nil),
	}

	repo := new(MockExecutionRepository)
	repo.On("ListForMetrics", mock.Anything, userID, mock.Anything).Return(rows, nil)

	service := NewService(repo, zap.NewNop())
	result, err := service.GetMetrics(context.Background(), userID, models.MetricsFilter{})
	require.NoError(t, err)
	require.Len(t, result.Metrics, 1)

	m := result.Metrics[0]
	assert.Equal(t, 2, m.TotalExecutions)
	assert.Equal(t, 0, m.SuccessfulExecutions)
	assert.Equal(t, 1, m.FailedExecutions)
	assert.InDelta(t, 0.0, m.SuccessRate, 0.0001)
	assert.Nil(t, m.AvgDurationMs)
	assert.Nil(t, m.MedianDurationMs)
	assert.Nil(t, m.P95DurationMs)
}

func TestGetMetrics_FailedRowWithoutErrorTypeCountsAsUnknown(t *testing.T) {
	userID := uuid.New()
	now := time.Now().UTC()

	rows := []*models.ToolExecution{
		execRow(userID, "web_search", now, models.ExecutionStatusError, nil, nil),
	}

	repo := new(MockExecutionRepository)
	repo.On("ListForMetrics", mock.Anything, userID, mock.Anything).Return(rows, nil)

	service := NewService(repo, zap.NewNop())
	result, err := service.GetMetrics(context.Background(), userID, models.MetricsFilter{})
	require.NoError(t, err)
	require.Len(t, result.Metrics, 1)
	assert.Equal(t, map[string]int{models.ErrorTypeUnknown: 1}, result.Metrics[0].ErrorBreakdown)
}

func TestGetMetrics_EmptyResult(t *testing.T) {
	userID := uuid.New()

	repo := new(MockExecutionRepository)
	repo.On("ListForMetrics", mock.Anything, userID, mock.Anything).Return([]*models.ToolExecution{}, nil)

	service := NewService(repo, zap.NewNop())
	result, err := service.GetMetrics(context.Background(), userID, models.MetricsFilter{})
	require.NoError(t, err)
	assert.Empty(t, result.Metrics)
	assert.Equal(t, 0, result.TotalTools)
	assert.Nil(t, result.DateRange.Start)
	assert.Nil(t, result.DateRange.End)
}

func TestGetMetrics_DateRangePrefersFilterBounds(t *testing.T) {
	userID := uuid.New()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []*models.ToolExecution{
		execRow(userID, "web_search", start.Add(24*time.Hour), models.ExecutionStatusSuccess, dur(50), nil),
	}

	repo := new(MockExecutionRepository)
	filter := models.MetricsFilter{StartDate: &start, EndDate: &end}
	repo.On("ListForMetrics", mock.Anything, userID, filter).Return(rows, nil)

	service := NewService(repo, zap.NewNop())
	result, err := service.GetMetrics(context.Background(), userID, filter)
	require.NoError(t, err)
	require.NotNil(t, result.DateRange.Start)
	require.NotNil(t, result.DateRange.End)
	assert.Equal(t, start, *result.DateRange.Start)
	assert.Equal(t, end, *result.DateRange.End)
}

func TestGetMetrics_DateRangeFallsBackToObservedBounds(t *testing.T) {
	userID := uuid.New()
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	last := time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC)

	rows := []*models.ToolExecution{
		execRow(userID, "web_search", last, models.ExecutionStatusSuccess, dur(50), nil),
		execRow(userID, "web_search", first, models.ExecutionStatusSuccess, dur(60), nil),
	}

	repo := new(MockExecutionRepository)
	repo.On("ListForMetrics", mock.Anything, userID, mock.Anything).Return(rows, nil)

	service := NewService(repo, zap.NewNop())
	result, err := service.GetMetrics(context.Background(), userID, models.MetricsFilter{})
	require.NoError(t, err)
	require.NotNil(t, result.DateRange.Start)
	require.NotNil(t, result.DateRange.End)
	assert.Equal(t, first, *result.DateRange.Start)
	assert.Equal(t, last, *result.DateRange.End)
}

func TestGetMetrics_RepositoryError(t *testing.T) {
	userID := uuid.New()

	repo := new(MockExecutionRepository)
	repo.On("ListForMetrics", mock.Anything, userID, mock.Anything).Return(nil, assert.AnError)

	service := NewService(repo, zap.NewNop())
	result, err := service.GetMetrics(context.Background(), userID, models.MetricsFilter{})
	assert.Error(t, err)
	assert.Nil(t, result)
}
