// Package service holds the job workflow: idempotent submission, message
// processing and status reporting. Every component takes its collaborators
// by injection so the workflow can be exercised against fakes.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"career-docgen/pkg/generator"
	"career-docgen/pkg/job"
	"career-docgen/pkg/result"
)

// JobStore is the slice of the job store the services need. The submission
// service creates, the worker mutates, the status service reads.
type JobStore interface {
	CreateJob(ctx context.Context, req *job.SubmissionRequest, ttl time.Duration) (*job.Job, bool, error)
	GetJob(ctx context.Context, jobID string) (*job.Job, error)
	ClaimJob(ctx context.Context, jobID string) (*job.Job, error)
	CompleteJob(ctx context.Context, jobID, resultRef string, inputTokens, outputTokens int) error
	FailJob(ctx context.Context, jobID, errMsg string) error
}

// Queue is the at-least-once delivery channel between submission and worker.
type Queue interface {
	PublishJob(ctx context.Context, j *job.Job) error
	PublishToRetry(ctx context.Context, kind job.Kind, jobID string, attempt int) error
}

// ResultStore holds generated documents under a reference derived from the
// job id.
type ResultStore interface {
	Put(ctx context.Context, jobID string, content json.RawMessage) (string, error)
	Get(ctx context.Context, ref string) (json.RawMessage, error)
}

// Generator is the external generation collaborator. Failures are classified
// through generator.Retryable.
type Generator interface {
	Generate(ctx context.Context, kind job.Kind, input json.RawMessage) (*generator.Document, error)
}

// HandleSigner mints time-limited access handles for stored results.
type HandleSigner interface {
	Mint(ref string) result.Handle
}

var (
	// ErrInvalidInput is a malformed submission; nothing was persisted.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSubmissionFailed is an infrastructure failure during submission.
	// Resubmitting is safe: the idempotency check collapses the retry onto
	// the already-written job, if any.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrNotFound is an unknown or expired job id.
	ErrNotFound = errors.New("job not found")
	// ErrResultExpired is a completed job whose artifact has aged out of the
	// result store. Distinct from ErrNotFound: the job genuinely succeeded.
	ErrResultExpired = errors.New("result expired")
	// ErrInternal is an inconsistency the state machine should make
	// unreachable.
	ErrInternal = errors.New("internal error")
)
