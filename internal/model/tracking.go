package model

import "time"

// Pipeline stage names, in execution order.
const (
	StageIngest    = "ingestion"
	StageFilter    = "outlier_filter"
	StageNormalize = "normalization"
	StageGap       = "gap_calculation"
	StageAggregate = "aggregation"
	StageAssemble  = "assembly"
	StageExport    = "export"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// StageMetrics represents metrics for a specific pipeline stage
type StageMetrics struct {
	Stage      string        `json:"stage"`
	Status     string        `json:"status"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	RecordsIn  int           `json:"records_in"`
	RecordsOut int           `json:"records_out"`
}

// ErrorDetail represents a stored job error
type ErrorDetail struct {
	ID        int64     `json:"id"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is the persisted view of one pipeline job.
type Job struct {
	ID        string          `json:"id"`
	Spec      PipelineJobSpec `json:"spec"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
