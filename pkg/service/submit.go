package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"career-docgen/pkg/job"
	"career-docgen/pkg/observability"
)

// Submission accepts generation requests. It performs only metadata writes
// and one enqueue, never generation work, so it returns quickly.
type Submission struct {
	store  JobStore
	queue  Queue
	jobTTL time.Duration
	log    *slog.Logger
}

func NewSubmission(store JobStore, queue Queue, jobTTL time.Duration, log *slog.Logger) *Submission {
	return &Submission{store: store, queue: queue, jobTTL: jobTTL, log: log}
}

// Submit creates a job for the request and enqueues work for it, or returns
// the existing job when the same logical request was already submitted.
// accepted is false on an idempotent replay: no new record, no new message.
//
// The job row is written durably before the message is published, so a
// worker that dequeues the message always finds the job. If the publish
// fails the job stays PENDING and unconsumed until its TTL reaps it; the
// caller sees ErrSubmissionFailed and may safely resubmit.
func (s *Submission) Submit(ctx context.Context, req *job.SubmissionRequest) (j *job.Job, accepted bool, err error) {
	if err := req.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	j, created, err := s.store.CreateJob(ctx, req, s.jobTTL)
	if err != nil {
		return nil, false, fmt.Errorf("%w: persisting job: %v", ErrSubmissionFailed, err)
	}
	if !created {
		s.log.Info("submission collapsed onto existing job",
			"job_id", j.ID, "status", j.Status, "kind", j.Kind)
		observability.SubmissionReplays.Inc()
		return j, false, nil
	}

	if err := s.queue.PublishJob(ctx, j); err != nil {
		// The PENDING row is now orphaned until expires_at garbage-collects
		// it; a resubmission before then returns it unchanged.
		s.log.Error("job persisted but enqueue failed", "job_id", j.ID, "error", err)
		return nil, false, fmt.Errorf("%w: enqueueing job %s: %v", ErrSubmissionFailed, j.ID, err)
	}

	s.log.Info("job submitted", "job_id", j.ID, "kind", j.Kind, "requester_id", j.RequesterID)
	observability.JobsSubmitted.WithLabelValues(string(j.Kind)).Inc()
	return j, true, nil
}
