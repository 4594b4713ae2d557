// Package runner simulates the compute backend: one background goroutine per
// accepted job that waits a simulated duration and then finalizes the record.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"batch-orchestrator/core/models"
	"batch-orchestrator/core/store"
)

// Config tunes the simulated execution.
type Config struct {
	// MinDuration and MaxDuration bound the uniformly drawn execution time
	// used when a job does not declare its own wait_time.
	MinDuration time.Duration
	MaxDuration time.Duration

	// FailureRate is the probability in [0,1] that a job fails instead of
	// completing. Zero disables failure injection.
	FailureRate float64
}

// Runner launches and supervises simulated executions. The backend is modeled
// as infinitely parallel: there is no shared rate limit, every launched job
// runs on its own timer.
type Runner struct {
	logger *slog.Logger
	store  *store.Store
	cfg    Config

	mu  sync.Mutex
	ctx context.Context
	wg  sync.WaitGroup
}

// New creates a runner over the given registry.
func New(logger *slog.Logger, st *store.Store, cfg Config) *Runner {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = 1 * time.Second
	}
	if cfg.MaxDuration < cfg.MinDuration {
		cfg.MaxDuration = 5 * time.Second
	}
	return &Runner{
		logger: logger,
		store:  st,
		cfg:    cfg,
	}
}

// Start binds the runner to its lifetime context. Jobs launched afterwards
// are aborted when ctx is cancelled. Wait returns once all of them finished.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
}

// Wait blocks until every launched job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Launch starts the background execution of a previously created job.
func (r *Runner) Launch(id string) {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, id)
	}()
}

func (r *Runner) run(ctx context.Context, id string) {
	job, err := r.store.Transition(id, models.StatusInProgress, nil, "")
	if err != nil {
		// Cancelled before pickup is a normal outcome, not a fault.
		if !errors.Is(err, models.ErrInvalidTransition) {
			r.logger.Error("runner pickup failed", "job_id", id, "error", err)
		}
		return
	}

	duration := r.duration(job.Input)
	r.logger.Info("job started", "job_id", id, "duration", duration)

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		if _, err := r.store.Transition(id, models.StatusFailed, nil, "execution aborted"); err != nil {
			r.logger.Error("runner abort failed", "job_id", id, "error", err)
		}
		return
	case <-timer.C:
	}

	if r.cfg.FailureRate > 0 && rand.Float64() < r.cfg.FailureRate {
		if _, err := r.store.Transition(id, models.StatusFailed, nil, "simulated execution fault"); err != nil {
			r.logger.Error("runner finalize failed", "job_id", id, "error", err)
		}
		r.logger.Info("job failed", "job_id", id)
		return
	}

	output := &models.JobOutput{
		ResultText: reportText(id, duration, job.Input),
		WaitTime:   duration.Seconds(),
		InputData:  job.Input,
	}
	if _, err := r.store.Transition(id, models.StatusCompleted, output, ""); err != nil {
		r.logger.Error("runner finalize failed", "job_id", id, "error", err)
		return
	}
	r.logger.Info("job completed", "job_id", id, "duration", duration)
}

func (r *Runner) duration(input models.JobInput) time.Duration {
	if d, ok := input.WaitTime(); ok && d >= 0 {
		return d
	}
	span := r.cfg.MaxDuration - r.cfg.MinDuration
	if span <= 0 {
		return r.cfg.MinDuration
	}
	return r.cfg.MinDuration + time.Duration(rand.Int63n(int64(span)))
}

func reportText(id string, duration time.Duration, input models.JobInput) string {
	echoed, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		echoed = []byte("{}")
	}
	return fmt.Sprintf(`job completion report
==================
job id: %s
wait time: %.2fs
input: %s
completed at: %s
==================
`, id, duration.Seconds(), echoed, time.Now().Format(time.RFC3339))
}
