package models

import "time"

// JobResult is the per-job outcome observed by the dispatcher. Created once
// when a terminal status (or timeout) is seen, immutable thereafter.
type JobResult struct {
	Index           int           `json:"job_index"`
	JobID           string        `json:"job_id"`
	Input           JobInput      `json:"input"`
	Success         bool          `json:"success"`
	Output          *JobOutput    `json:"output,omitempty"`
	Error           string        `json:"error,omitempty"`
	WaitTime        time.Duration `json:"wait_time_ns"`
	TotalTime       time.Duration `json:"total_time_ns"`
	SubmittedAt     time.Time     `json:"submitted_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	TimedOut        bool          `json:"timed_out,omitempty"`
	CancelRequested bool          `json:"cancel_requested,omitempty"`
}

// BatchSummary aggregates the results of one batch run.
type BatchSummary struct {
	Total      int           `json:"total_jobs"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	WallTime   time.Duration `json:"wall_time_ns"`
	TotalWait  time.Duration `json:"total_wait_ns"`
	MeanWait   time.Duration `json:"mean_wait_ns"`
	MedianWait time.Duration `json:"median_wait_ns"`

	// Speedup and Efficiency are populated only when a sequential baseline
	// duration is supplied to the aggregator.
	Speedup    float64 `json:"speedup,omitempty"`
	Efficiency float64 `json:"efficiency,omitempty"`
}
