// Package dispatch drives a batch of job inputs through the service: submit
// under a bounded concurrency limit, poll each job to a terminal state,
// collect exactly one result per input.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"batch-orchestrator/core/models"

	"golang.org/x/sync/semaphore"
)

// Options configure a batch run.
type Options struct {
	// Workers is the maximum number of jobs in flight at once.
	Workers int
	// PollInterval is the delay between status polls of one job.
	PollInterval time.Duration
	// JobTimeout bounds the time from submission to terminal status. A job
	// exceeding it yields a timeout-failure result and a best-effort cancel.
	JobTimeout time.Duration
}

// Dispatcher runs batches against the job service.
type Dispatcher struct {
	logger *slog.Logger
	client *Client
	opts   Options
}

// New creates a dispatcher. Zero option fields get defaults: 5 workers,
// 500ms poll interval, 5 minute per-job timeout.
func New(logger *slog.Logger, client *Client, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 5 * time.Minute
	}
	return &Dispatcher{
		logger: logger,
		client: client,
		opts:   opts,
	}
}

// Run submits every input and polls each job to completion, with at most
// Workers jobs outstanding at any instant. It returns one JobResult per
// input, attributable to its original index, in completion order of the
// underlying slots. No single job failure aborts the batch; Run itself fails
// only on an empty input list or when the service is unreachable before any
// job has been submitted.
//
// Cancelling ctx stops the batch: unclaimed inputs yield cancelled results,
// still-PENDING jobs get best-effort cancel calls, and jobs already running
// are drained to a terminal state (or their timeout) with the result marked
// as cancel-requested.
func (d *Dispatcher) Run(ctx context.Context, inputs []models.JobInput) ([]models.JobResult, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("empty batch: %w", models.ErrValidation)
	}

	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := d.client.Health(healthCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("service health check: %w", err)
	}

	d.logger.Info("batch started", "jobs", len(inputs), "workers", d.opts.Workers)
	start := time.Now()

	sem := semaphore.NewWeighted(int64(d.opts.Workers))
	results := make([]models.JobResult, len(inputs))
	var wg sync.WaitGroup

	for i := range inputs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				// Batch cancelled before this input claimed a slot.
				now := time.Now()
				results[idx] = models.JobResult{
					Index:           idx,
					Input:           inputs[idx],
					Error:           "batch cancelled before submission",
					SubmittedAt:     now,
					FinishedAt:      now,
					CancelRequested: true,
				}
				return
			}
			defer sem.Release(1)

			results[idx] = d.processOne(ctx, idx, inputs[idx])
		}(i)
	}
	wg.Wait()

	successful := 0
	for _, res := range results {
		if res.Success {
			successful++
		}
	}
	d.logger.Info("batch finished",
		"jobs", len(inputs),
		"successful", successful,
		"failed", len(inputs)-successful,
		"elapsed", time.Since(start))
	return results, nil
}

// processOne owns one slot: submit, then poll until terminal, timeout, or
// batch cancellation.
func (d *Dispatcher) processOne(ctx context.Context, idx int, input models.JobInput) models.JobResult {
	start := time.Now()
	res := models.JobResult{
		Index:       idx,
		Input:       input,
		SubmittedAt: start,
	}

	id, err := d.client.Submit(ctx, input)
	if err != nil {
		d.logger.Warn("submit failed", "index", idx, "error", err)
		return d.finalize(res, fmt.Sprintf("submit failed: %v", err), start)
	}
	res.JobID = id
	d.logger.Info("job submitted", "index", idx, "job_id", id)

	deadline := start.Add(d.opts.JobTimeout)
	pollCtx := ctx
	var detach context.CancelFunc
	defer func() {
		if detach != nil {
			detach()
		}
	}()

	for {
		job, err := d.client.Status(pollCtx, id)
		if err != nil {
			if pollCtx.Err() != nil && !res.CancelRequested {
				pollCtx, detach = d.onBatchCancel(&res, id, deadline)
				continue
			}
			d.logger.Warn("poll failed", "index", idx, "job_id", id, "error", err)
			return d.finalize(res, fmt.Sprintf("poll failed: %v", err), start)
		}

		switch job.Status {
		case models.StatusCompleted:
			res.Success = true
			res.Output = job.Output
			if job.Output != nil {
				res.WaitTime = time.Duration(job.Output.WaitTime * float64(time.Second))
			}
			res.TotalTime = time.Since(start)
			res.FinishedAt = time.Now()
			return res
		case models.StatusFailed:
			detail := job.Error
			if detail == "" {
				detail = "job failed"
			}
			return d.finalize(res, detail, start)
		case models.StatusCancelled:
			return d.finalize(res, "job cancelled", start)
		}

		if time.Now().After(deadline) {
			d.logger.Warn("job timed out", "index", idx, "job_id", id, "timeout", d.opts.JobTimeout)
			res.TimedOut = true
			d.bestEffortCancel(id)
			return d.finalize(res, models.ErrJobTimeout.Error(), start)
		}

		select {
		case <-pollCtx.Done():
			if !res.CancelRequested {
				pollCtx, detach = d.onBatchCancel(&res, id, deadline)
				continue
			}
			return d.finalize(res, "batch cancelled", start)
		case <-time.After(d.opts.PollInterval):
		}
	}
}

// onBatchCancel handles the batch context being cancelled while a job is in
// flight: issue a best-effort cancel (covers still-PENDING jobs) and keep
// polling on a detached context so an already-running job is finalized with a
// cancelled-after-start result once it reaches a terminal state or times out.
func (d *Dispatcher) onBatchCancel(res *models.JobResult, id string, deadline time.Time) (context.Context, context.CancelFunc) {
	res.CancelRequested = true
	d.bestEffortCancel(id)
	return context.WithDeadline(context.Background(), deadline)
}

func (d *Dispatcher) bestEffortCancel(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.client.Cancel(ctx, id); err != nil {
		d.logger.Warn("cancel failed", "job_id", id, "error", err)
	}
}

func (d *Dispatcher) finalize(res models.JobResult, detail string, start time.Time) models.JobResult {
	res.Success = false
	res.Error = detail
	res.TotalTime = time.Since(start)
	res.FinishedAt = time.Now()
	return res
}
