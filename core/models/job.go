package models

import "time"

// JobStatus represents the current state of a job in the system
type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
	StatusCancelled  JobStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are permitted from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// JobInput is the arbitrary payload submitted with a job. A "wait_time" key
// (seconds, numeric) overrides the backend's simulated execution duration.
type JobInput map[string]interface{}

// WaitTime returns the declared execution duration, if any.
func (in JobInput) WaitTime() (time.Duration, bool) {
	v, ok := in["wait_time"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return time.Duration(n * float64(time.Second)), true
	case int:
		return time.Duration(n) * time.Second, true
	case int64:
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

// JobOutput is produced by the simulated backend when a job completes.
type JobOutput struct {
	ResultText string   `json:"result_text"`
	WaitTime   float64  `json:"wait_time"`
	InputData  JobInput `json:"input_data"`
}

// Job represents one unit of work tracked by the registry
type Job struct {
	ID          string     `json:"id"`
	Input       JobInput   `json:"input"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Output      *JobOutput `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
}
