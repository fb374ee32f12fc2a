package service

import (
	"context"
	"fmt"
	"time"

	"career-docgen/pkg/job"
	"career-docgen/pkg/result"
)

// StatusView is what a polling client sees. Fields appear as the lifecycle
// reaches them; Result carries a freshly minted, short-lived handle and is
// present only for COMPLETED jobs.
type StatusView struct {
	JobID       string         `json:"job_id"`
	Kind        job.Kind       `json:"kind"`
	Status      job.Status     `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Result      *result.Handle `json:"result,omitempty"`
}

// Status reports job lifecycle state. Read-only: it never mutates a job.
type Status struct {
	store   JobStore
	results ResultStore
	signer  HandleSigner
}

func NewStatus(store JobStore, results ResultStore, signer HandleSigner) *Status {
	return &Status{store: store, results: results, signer: signer}
}

// Get returns the current view of a job. A completed job gets a new
// time-limited result handle on every call; no permanent pointer is ever
// handed out.
func (s *Status) Get(ctx context.Context, jobID string) (*StatusView, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading job %s: %v", ErrInternal, jobID, err)
	}
	if j == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	view := &StatusView{
		JobID:     j.ID,
		Kind:      j.Kind,
		Status:    j.Status,
		CreatedAt: j.CreatedAt,
	}

	switch j.Status {
	case job.StatusPending:
		return view, nil
	case job.StatusProcessing:
		view.StartedAt = j.StartedAt
		return view, nil
	case job.StatusFailed:
		view.StartedAt = j.StartedAt
		view.CompletedAt = j.CompletedAt
		view.Error = j.Error
		return view, nil
	case job.StatusCompleted:
		view.StartedAt = j.StartedAt
		view.CompletedAt = j.CompletedAt
		// The job outlived the artifact's retention window if the blob is
		// gone despite the COMPLETED status.
		content, err := s.results.Get(ctx, j.ResultRef)
		if err != nil {
			return nil, fmt.Errorf("%w: reading result for job %s: %v", ErrInternal, jobID, err)
		}
		if content == nil {
			return nil, fmt.Errorf("%w: job %s", ErrResultExpired, jobID)
		}
		handle := s.signer.Mint(j.ResultRef)
		view.Result = &handle
		return view, nil
	default:
		// Unreachable given the state machine; defensive.
		return nil, fmt.Errorf("%w: job %s has unknown status %q", ErrInternal, jobID, j.Status)
	}
}
