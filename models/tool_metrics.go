package models

import "time"

// ToolMetrics holds aggregate statistics for one tool, scoped to a single user.
// Duration stats are nil when no finished execution recorded a duration.
type ToolMetrics struct {
	ToolName             string         `json:"tool_name"`
	TotalExecutions      int            `json:"total_executions"`
	SuccessfulExecutions int            `json:"successful_executions"`
	FailedExecutions     int            `json:"failed_executions"`
	SuccessRate          float64        `json:"success_rate"`
	AvgDurationMs        *float64       `json:"avg_duration_ms"`
	MedianDurationMs     *float64       `json:"median_duration_ms"`
	P95DurationMs        *float64       `json:"p95_duration_ms"`
	ErrorBreakdown       map[string]int `json:"error_breakdown"`
}

// MetricsFilter narrows which executions feed the aggregation
type MetricsFilter struct {
	ToolName  string
	StartDate *time.Time
	EndDate   *time.Time
	Status    ExecutionStatus
}

// DateRange reports the effective time bounds of a metrics response
type DateRange struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}
