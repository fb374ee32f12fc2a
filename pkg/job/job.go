package job

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Kind string
type Status string

const (
	KindCoverLetter   Kind = "cover_letter"
	KindValueReport   Kind = "value_report"
	KindGapAnalysis   Kind = "gap_analysis"
	KindInterviewPrep Kind = "interview_prep"
)

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Kinds lists every document kind the system generates. Each kind gets its
// own queue so a backlog of slow reports cannot starve cover letters.
var Kinds = []Kind{KindCoverLetter, KindValueReport, KindGapAnalysis, KindInterviewPrep}

func (k Kind) Valid() bool {
	switch k {
	case KindCoverLetter, KindValueReport, KindGapAnalysis, KindInterviewPrep:
		return true
	}
	return false
}

// Job is one unit of asynchronous generation work. Status only moves forward
// (PENDING -> PROCESSING -> COMPLETED|FAILED); ResultRef and Error are
// mutually exclusive and each is written at most once, by the worker.
type Job struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Kind           Kind            `json:"kind"`
	Status         Status          `json:"status"`
	RequesterID    string          `json:"requester_id"`
	TargetID       string          `json:"target_id"`
	InputData      json.RawMessage `json:"input_data"`
	ResultRef      string          `json:"result_ref,omitempty"`
	Error          string          `json:"error,omitempty"`
	InputTokens    int             `json:"input_tokens,omitempty"`
	OutputTokens   int             `json:"output_tokens,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// Expired reports whether the record is past its TTL. Readers must treat an
// expired row as absent even before the sweeper physically deletes it.
func (j *Job) Expired(now time.Time) bool {
	return now.After(j.ExpiresAt)
}

type SubmissionRequest struct {
	RequesterID string          `json:"requester_id"`
	TargetID    string          `json:"target_id"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
}

var ErrInvalidRequest = errors.New("invalid submission request")

func (r *SubmissionRequest) Validate() error {
	if r.RequesterID == "" {
		return fmt.Errorf("%w: requester_id is required", ErrInvalidRequest)
	}
	if r.TargetID == "" {
		return fmt.Errorf("%w: target_id is required", ErrInvalidRequest)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, r.Kind)
	}
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		return fmt.Errorf("%w: payload is required", ErrInvalidRequest)
	}
	if !json.Valid(r.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidRequest)
	}
	return nil
}

// IdempotencyKey derives the deterministic key that collapses duplicate
// submissions of the same logical request (same requester, same target
// posting, same document kind) onto one job. It is unique per logical
// request, not globally unique across requesters.
func (r *SubmissionRequest) IdempotencyKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", r.RequesterID, r.TargetID, r.Kind)
	return hex.EncodeToString(h.Sum(nil))
}
