// Package memory provides an in-memory JobStore for development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"seoscope/internal/audit"
)

// JobStore keeps jobs in a mutex-guarded map. It is safe for any number of
// concurrent status readers.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]audit.Job
	clock audit.Clock
}

// NewJobStore constructs a JobStore.
func NewJobStore(clock audit.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]audit.Job),
		clock: clock,
	}
}

// CreateJob stores a new job in pending state.
func (s *JobStore) CreateJob(_ context.Context, job audit.Job) error {
	if _, err := audit.ParseProjection(string(job.OutputProjection)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return audit.ErrJobExists
	}
	if job.State == "" {
		job.State = audit.JobStatePending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock.Now()
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (audit.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return audit.Job{}, audit.ErrJobNotFound
	}
	return job, nil
}

// ClaimNextPending flips the oldest pending job to running under one lock,
// stamping StartedAt, so two pollers can never claim the same job.
func (s *JobStore) ClaimNextPending(_ context.Context) (audit.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]audit.Job, 0)
	for _, job := range s.jobs {
		if job.State == audit.JobStatePending {
			pending = append(pending, job)
		}
	}
	if len(pending) == 0 {
		return audit.Job{}, false, nil
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	job := pending[0]
	job.State = audit.JobStateRunning
	now := s.clock.Now()
	job.StartedAt = &now
	job.Progress = 0
	s.jobs[job.ID] = job
	return job, true, nil
}

// Transition applies the forward-only state machine and stamps timestamps.
func (s *JobStore) Transition(
	_ context.Context,
	jobID string,
	newState audit.JobState,
	report *audit.ScoreReport,
	errMsg string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return audit.ErrJobNotFound
	}
	if !legalTransition(job.State, newState) {
		return fmt.Errorf("%w: %s -> %s", audit.ErrIllegalTransition, job.State, newState)
	}

	now := s.clock.Now()
	job.State = newState
	switch newState {
	case audit.JobStateRunning:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	case audit.JobStateCompleted:
		if job.CompletedAt == nil {
			job.CompletedAt = &now
		}
		job.Progress = 100
		job.Report = report
		job.ErrorMessage = ""
	case audit.JobStateFailed:
		if job.CompletedAt == nil {
			job.CompletedAt = &now
		}
		job.Report = nil
		job.ErrorMessage = errMsg
	}
	s.jobs[jobID] = job
	return nil
}

// SetProgress updates progress while the job is running; otherwise it is a
// silent no-op.
func (s *JobStore) SetProgress(_ context.Context, jobID string, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.State != audit.JobStateRunning {
		return nil
	}
	job.Progress = percent
	s.jobs[jobID] = job
	return nil
}

// PruneCompletedBefore deletes completed jobs finished before the cutoff.
// Failed jobs are kept for diagnosis unless includeFailed is set; running and
// pending jobs are never pruned.
func (s *JobStore) PruneCompletedBefore(_ context.Context, cutoff time.Time, includeFailed bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, job := range s.jobs {
		if job.CompletedAt == nil || !job.CompletedAt.Before(cutoff) {
			continue
		}
		if job.State == audit.JobStateCompleted || (includeFailed && job.State == audit.JobStateFailed) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func legalTransition(from, to audit.JobState) bool {
	switch from {
	case audit.JobStatePending:
		return to == audit.JobStateRunning
	case audit.JobStateRunning:
		return to == audit.JobStateCompleted || to == audit.JobStateFailed
	default:
		return false
	}
}
