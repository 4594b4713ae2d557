package spec

import (
	"fmt"
	"os"
	"time"

	"batch-orchestrator/core/models"

	"gopkg.in/yaml.v3"
)

// BatchSpec represents the YAML batch specification
type BatchSpec struct {
	Batch BatchSpecBatch `yaml:"batch"`
}

// BatchSpecBatch represents the batch section of the spec
type BatchSpecBatch struct {
	Endpoint       string                   `yaml:"endpoint"`
	Workers        int                      `yaml:"workers"`
	PollIntervalMS int                      `yaml:"poll_interval_ms"`
	TimeoutS       int                      `yaml:"timeout_s"`
	Jobs           []map[string]interface{} `yaml:"jobs"`
}

// Batch is the validated batch configuration
type Batch struct {
	Endpoint     string
	Workers      int
	PollInterval time.Duration
	Timeout      time.Duration
	Inputs       []models.JobInput
}

// ParseBatchSpec parses and validates a YAML batch specification
func ParseBatchSpec(data []byte) (*Batch, error) {
	var raw BatchSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse batch spec: %w", err)
	}

	b := &Batch{
		Endpoint:     raw.Batch.Endpoint,
		Workers:      raw.Batch.Workers,
		PollInterval: time.Duration(raw.Batch.PollIntervalMS) * time.Millisecond,
		Timeout:      time.Duration(raw.Batch.TimeoutS) * time.Second,
	}
	if b.Endpoint == "" {
		b.Endpoint = "test-endpoint"
	}
	if b.Workers == 0 {
		b.Workers = 5
	}
	if b.Workers < 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", b.Workers)
	}

	if len(raw.Batch.Jobs) == 0 {
		return nil, fmt.Errorf("batch spec must declare at least one job")
	}
	b.Inputs = make([]models.JobInput, len(raw.Batch.Jobs))
	for i, job := range raw.Batch.Jobs {
		if job == nil {
			return nil, fmt.Errorf("job %d: empty input", i)
		}
		b.Inputs[i] = models.JobInput(job)
	}

	return b, nil
}

// LoadBatchSpec reads and parses a batch specification file
func LoadBatchSpec(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch spec: %w", err)
	}
	return ParseBatchSpec(data)
}
