package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"career-docgen/pkg/generator"
	"career-docgen/pkg/job"
	"career-docgen/pkg/result"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory job store honoring the same conditional-write
// semantics as the Postgres one, and recording every status a job passes
// through so tests can assert monotonicity.
type fakeStore struct {
	mu      sync.Mutex
	jobs    map[string]*job.Job
	byKey   map[string]string
	history map[string][]job.Status
	now     time.Time

	failCreate   error
	failGet      error
	failClaim    error
	failComplete error
	failFail     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:    make(map[string]*job.Job),
		byKey:   make(map[string]string),
		history: make(map[string][]job.Status),
		now:     time.Now(),
	}
}

func (s *fakeStore) record(j *job.Job) {
	s.history[j.ID] = append(s.history[j.ID], j.Status)
}

func (s *fakeStore) CreateJob(ctx context.Context, req *job.SubmissionRequest, ttl time.Duration) (*job.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return nil, false, s.failCreate
	}
	key := req.IdempotencyKey()
	if id, ok := s.byKey[key]; ok {
		return s.copyOf(id), false, nil
	}
	j := &job.Job{
		ID:             uuid.New().String(),
		IdempotencyKey: key,
		Kind:           req.Kind,
		Status:         job.StatusPending,
		RequesterID:    req.RequesterID,
		TargetID:       req.TargetID,
		InputData:      req.Payload,
		CreatedAt:      s.now,
		ExpiresAt:      s.now.Add(ttl),
	}
	s.jobs[j.ID] = j
	s.byKey[key] = j.ID
	s.record(j)
	return s.copyOf(j.ID), true, nil
}

func (s *fakeStore) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	j, ok := s.jobs[jobID]
	if !ok || j.Expired(s.now) {
		return nil, nil
	}
	return s.copyOf(jobID), nil
}

func (s *fakeStore) ClaimJob(ctx context.Context, jobID string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failClaim != nil {
		return nil, s.failClaim
	}
	j, ok := s.jobs[jobID]
	if !ok || j.Status != job.StatusPending {
		return nil, nil
	}
	started := s.now
	j.Status = job.StatusProcessing
	j.StartedAt = &started
	s.record(j)
	return s.copyOf(jobID), nil
}

func (s *fakeStore) CompleteJob(ctx context.Context, jobID, resultRef string, inputTokens, outputTokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failComplete != nil {
		return s.failComplete
	}
	j, ok := s.jobs[jobID]
	if !ok || j.Status != job.StatusProcessing {
		return errors.New("job not in PROCESSING")
	}
	done := s.now
	j.Status = job.StatusCompleted
	j.ResultRef = resultRef
	j.InputTokens = inputTokens
	j.OutputTokens = outputTokens
	j.CompletedAt = &done
	s.record(j)
	return nil
}

func (s *fakeStore) FailJob(ctx context.Context, jobID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFail != nil {
		return s.failFail
	}
	j, ok := s.jobs[jobID]
	if !ok || (j.Status != job.StatusPending && j.Status != job.StatusProcessing) {
		return errors.New("job already terminal")
	}
	done := s.now
	j.Status = job.StatusFailed
	j.Error = errMsg
	j.CompletedAt = &done
	s.record(j)
	return nil
}

func (s *fakeStore) copyOf(jobID string) *job.Job {
	c := *s.jobs[jobID]
	return &c
}

// get returns the live record for assertions.
func (s *fakeStore) get(jobID string) *job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOf(jobID)
}

type published struct {
	jobID   string
	kind    job.Kind
	attempt int
}

type fakeQueue struct {
	mu          sync.Mutex
	messages    []published
	retries     []published
	failPublish error
	failRetry   error
}

func (q *fakeQueue) PublishJob(ctx context.Context, j *job.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failPublish != nil {
		return q.failPublish
	}
	q.messages = append(q.messages, published{jobID: j.ID, kind: j.Kind, attempt: 1})
	return nil
}

func (q *fakeQueue) PublishToRetry(ctx context.Context, kind job.Kind, jobID string, attempt int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failRetry != nil {
		return q.failRetry
	}
	q.retries = append(q.retries, published{jobID: jobID, kind: kind, attempt: attempt + 1})
	return nil
}

type fakeResults struct {
	mu      sync.Mutex
	blobs   map[string]json.RawMessage
	failPut error
}

func newFakeResults() *fakeResults {
	return &fakeResults{blobs: make(map[string]json.RawMessage)}
}

func (r *fakeResults) Put(ctx context.Context, jobID string, content json.RawMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failPut != nil {
		return "", r.failPut
	}
	r.blobs[jobID] = content
	return jobID, nil
}

func (r *fakeResults) Get(ctx context.Context, ref string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blobs[ref], nil
}

// expire simulates the result store's own retention window elapsing.
func (r *fakeResults) expire(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blobs, ref)
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	// errs[i] is returned for call i; past the slice the generator succeeds.
	errs []error
	doc  *generator.Document
}

func (g *fakeGenerator) Generate(ctx context.Context, kind job.Kind, input json.RawMessage) (*generator.Document, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	call := g.calls
	g.calls++
	if call < len(g.errs) && g.errs[call] != nil {
		return nil, g.errs[call]
	}
	if g.doc != nil {
		return g.doc, nil
	}
	return &generator.Document{
		Content:      json.RawMessage(`{"cover_letter": "generated"}`),
		InputTokens:  100,
		OutputTokens: 250,
	}, nil
}

func retryableErr(msg string) error {
	return &generator.RetryableError{Err: errors.New(msg)}
}

type fakeSigner struct {
	mints int
}

func (s *fakeSigner) Mint(ref string) result.Handle {
	s.mints++
	return result.Handle{
		URL:       "/results/" + ref + "?sig=fake",
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}
}
