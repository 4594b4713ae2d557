// Package store owns the in-memory job registry. It is the only mutable state
// shared between the HTTP handlers and the runners; every mutation happens
// under the store's lock and readers only ever see snapshots.
package store

import (
	"fmt"
	"sync"
	"time"

	"batch-orchestrator/core/models"

	"github.com/google/uuid"
)

// Store is a mutex-guarded registry of job records keyed by id.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]*models.Job
	notifier func(models.Job)
}

// New creates an empty registry.
func New() *Store {
	return &Store{
		jobs: make(map[string]*models.Job),
	}
}

// SetNotifier registers a callback invoked with a snapshot after every
// create and successful transition. The callback runs outside the store's
// lock and must not block.
func (s *Store) SetNotifier(fn func(models.Job)) {
	s.mu.Lock()
	s.notifier = fn
	s.mu.Unlock()
}

// Create inserts a new PENDING record and returns its snapshot.
func (s *Store) Create(input models.JobInput) models.Job {
	job := &models.Job{
		ID:        uuid.New().String(),
		Input:     input,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	snap := snapshot(job)
	notify := s.notifier
	s.mu.Unlock()

	if notify != nil {
		notify(snap)
	}
	return snap
}

// Get returns a snapshot of the record for id.
func (s *Store) Get(id string) (models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrJobNotFound)
	}
	return snapshot(job), nil
}

// List returns snapshots of every record.
func (s *Store) List() []models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, snapshot(job))
	}
	return jobs
}

// Counts returns the number of jobs currently executing and the total number
// of records.
func (s *Store) Counts() (active, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.jobs {
		if job.Status == models.StatusInProgress {
			active++
		}
	}
	return active, len(s.jobs)
}

// Transition moves the job to a new status, recording output or error detail
// on the terminal transition. Only the transitions permitted by the lifecycle
// are applied:
//
//	PENDING     -> IN_PROGRESS | CANCELLED
//	IN_PROGRESS -> COMPLETED   | FAILED
//
// Anything else, including any mutation of a terminal job, returns
// ErrInvalidTransition and leaves the record untouched.
func (s *Store) Transition(id string, to models.JobStatus, output *models.JobOutput, errDetail string) (models.Job, error) {
	s.mu.Lock()

	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrJobNotFound)
	}

	if !legal(job.Status, to) {
		from := job.Status
		s.mu.Unlock()
		return models.Job{}, fmt.Errorf("job %s: %s -> %s: %w", id, from, to, models.ErrInvalidTransition)
	}

	now := time.Now()
	job.Status = to
	switch {
	case to == models.StatusInProgress:
		job.StartedAt = &now
	case to.Terminal():
		job.CompletedAt = &now
		job.Output = output
		job.Error = errDetail
	}

	snap := snapshot(job)
	notify := s.notifier
	s.mu.Unlock()

	if notify != nil {
		notify(snap)
	}
	return snap, nil
}

// Clear removes every record. Used for test-run isolation via /reset.
func (s *Store) Clear() {
	s.mu.Lock()
	s.jobs = make(map[string]*models.Job)
	s.mu.Unlock()
}

func legal(from, to models.JobStatus) bool {
	switch from {
	case models.StatusPending:
		return to == models.StatusInProgress || to == models.StatusCancelled
	case models.StatusInProgress:
		return to == models.StatusCompleted || to == models.StatusFailed
	}
	return false
}

// snapshot deep-copies a record so callers can never alias registry state.
func snapshot(job *models.Job) models.Job {
	snap := *job
	if job.Input != nil {
		in := make(models.JobInput, len(job.Input))
		for k, v := range job.Input {
			in[k] = v
		}
		snap.Input = in
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		snap.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		snap.CompletedAt = &t
	}
	if job.Output != nil {
		out := *job.Output
		snap.Output = &out
	}
	return snap
}
