package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-docgen/pkg/job"
)

func newWorkerHarness(t *testing.T) (*Worker, *fakeStore, *fakeQueue, *fakeResults, *fakeGenerator) {
	t.Helper()
	store := newFakeStore()
	queue := &fakeQueue{}
	results := newFakeResults()
	gen := &fakeGenerator{}
	w := NewWorker(store, queue, results, gen, 3, time.Minute, testLogger())
	return w, store, queue, results, gen
}

func submitOne(t *testing.T, store *fakeStore, queue *fakeQueue) *job.Job {
	t.Helper()
	sub := NewSubmission(store, queue, 30*time.Minute, testLogger())
	j, _, err := sub.Submit(context.Background(), testRequest())
	require.NoError(t, err)
	return j
}

// Scenario B: successful processing walks PENDING -> PROCESSING -> COMPLETED
// and the result is fetchable afterwards.
func TestProcessSuccess(t *testing.T) {
	w, store, queue, results, _ := newWorkerHarness(t)
	j := submitOne(t, store, queue)

	d := w.Process(context.Background(), job.KindCoverLetter, j.ID, 1)
	assert.Equal(t, Ack, d)

	final := store.get(j.ID)
	assert.Equal(t, job.StatusCompleted, final.Status)
	assert.NotEmpty(t, final.ResultRef)
	assert.Empty(t, final.Error)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)
	assert.Equal(t, 100, final.InputTokens)
	assert.Equal(t, 250, final.OutputTokens)

	assert.Equal(t, []job.Status{job.StatusPending, job.StatusProcessing, job.StatusCompleted},
		store.history[j.ID], "status walk is monotonic")

	content, err := results.Get(context.Background(), final.ResultRef)
	require.NoError(t, err)
	assert.NotNil(t, content, "result fetchable after completion")
}

// Scenario C: a terminal generation failure marks the job FAILED with a
// non-empty error and the message is not redelivered.
func TestProcessTerminalFailure(t *testing.T) {
	w, store, queue, _, gen := newWorkerHarness(t)
	j := submitOne(t, store, queue)
	gen.errs = []error{errors.New("referenced posting not found")}

	d := w.Process(context.Background(), job.KindCoverLetter, j.ID, 1)
	assert.Equal(t, Ack, d, "terminal failure is acknowledged, not retried")

	final := store.get(j.ID)
	assert.Equal(t, job.StatusFailed, final.Status)
	assert.NotEmpty(t, final.Error)
	assert.Empty(t, final.ResultRef, "result_ref and error are disjoint")
	assert.Empty(t, queue.retries)
}

func TestProcessRetryableFailureSchedulesRetry(t *testing.T) {
	w, store, queue, _, gen := newWorkerHarness(t)
	j := submitOne(t, store, queue)
	gen.errs = []error{retryableErr("rate limited")}

	d := w.Process(context.Background(), job.KindCoverLetter, j.ID, 1)
	assert.Equal(t, Ack, d, "original message acknowledged after retry publish")

	require.Len(t, queue.retries, 1)
	assert.Equal(t, j.ID, queue.retries[0].jobID)
	assert.Equal(t, 2, queue.retries[0].attempt)

	// Still PROCESSING while it waits in the retry queue; status never
	// moves backwards.
	assert.Equal(t, job.StatusProcessing, store.get(j.ID).Status)
}

func TestProcessRetryDeliverySucceeds(t *testing.T) {
	w, store, queue, _, gen := newWorkerHarness(t)
	j := submitOne(t, store, queue)
	gen.errs = []error{retryableErr("upstream 503")}

	require.Equal(t, Ack, w.Process(context.Background(), job.KindCoverLetter, j.ID, 1))
	require.Len(t, queue.retries, 1)

	// The redelivered attempt finds the job PROCESSING and completes it.
	d := w.Process(context.Background(), job.KindCoverLetter, j.ID, queue.retries[0].attempt)
	assert.Equal(t, Ack, d)
	assert.Equal(t, job.StatusCompleted, store.get(j.ID).Status)
}

// Scenario D: retryable failures through the whole ladder dead-letter the
// message, and the worker records FAILED on its final chance.
func TestProcessRetriesExhausted(t *testing.T) {
	w, store, queue, _, gen := newWorkerHarness(t)
	j := submitOne(t, store, queue)
	gen.errs = []error{retryableErr("503"), retryableErr("503"), retryableErr("503")}

	attempt := 1
	var d Disposition
	for {
		d = w.Process(context.Background(), job.KindCoverLetter, j.ID, attempt)
		if len(queue.retries) < attempt {
			break
		}
		attempt = queue.retries[len(queue.retries)-1].attempt
	}

	assert.Equal(t, NackDead, d, "exhausted message is dead-lettered")
	assert.Len(t, queue.retries, 2, "two retries for a ceiling of three attempts")

	final := store.get(j.ID)
	assert.Equal(t, job.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "max retries exceeded")
	assert.Empty(t, final.ResultRef)
}

// If the final FAILED write itself fails, the message is still dead-lettered
// and the job is left PROCESSING for the reconciliation sweep.
func TestProcessExhaustedWithFailedWrite(t *testing.T) {
	w, store, queue, _, gen := newWorkerHarness(t)
	j := submitOne(t, store, queue)
	gen.errs = []error{retryableErr("503"), retryableErr("503"), retryableErr("503")}

	require.Equal(t, Ack, w.Process(context.Background(), job.KindCoverLetter, j.ID, 1))
	require.Equal(t, Ack, w.Process(context.Background(), job.KindCoverLetter, j.ID, 2))

	store.failFail = errors.New("db down")
	d := w.Process(context.Background(), job.KindCoverLetter, j.ID, 3)
	assert.Equal(t, NackDead, d)
	assert.Equal(t, job.StatusProcessing, store.get(j.ID).Status,
		"flagged reconciliation-sweep gap: job stays PROCESSING")
}

func TestProcessUnknownJobDropped(t *testing.T) {
	w, _, _, _, gen := newWorkerHarness(t)

	d := w.Process(context.Background(), job.KindCoverLetter, "no-such-job", 1)
	assert.Equal(t, Ack, d, "message for a reaped job is dropped, not retried")
	assert.Equal(t, 0, gen.calls)
}

func TestProcessExpiredJobDropped(t *testing.T) {
	w, store, queue, _, gen := newWorkerHarness(t)
	j := submitOne(t, store, queue)

	store.now = store.now.Add(31 * time.Minute) // past the job TTL

	d := w.Process(context.Background(), job.KindCoverLetter, j.ID, 1)
	assert.Equal(t, Ack, d)
	assert.Equal(t, 0, gen.calls)
}

// A concurrent duplicate delivery loses the PENDING -> PROCESSING
// compare-and-swap and walks away without touching the job.
func TestProcessDuplicateDeliveryAborts(t *testing.T) {
	w, store, queue, _, gen := newWorkerHarness(t)
	j := submitOne(t, store, queue)

	require.Equal(t, Ack, w.Process(context.Background(), job.KindCoverLetter, j.ID, 1))
	require.Equal(t, job.StatusCompleted, store.get(j.ID).Status)
	callsAfterFirst := gen.calls

	d := w.Process(context.Background(), job.KindCoverLetter, j.ID, 1)
	assert.Equal(t, Ack, d)
	assert.Equal(t, callsAfterFirst, gen.calls, "no second generation for a duplicate")
	assert.Equal(t, job.StatusCompleted, store.get(j.ID).Status)
}

// A transient store error parks the message in the retry ladder instead of
// spinning through immediate redeliveries.
func TestProcessTransientStoreErrorBacksOff(t *testing.T) {
	w, store, queue, _, gen := newWorkerHarness(t)
	j := submitOne(t, store, queue)

	store.failGet = errors.New("connection reset")
	d := w.Process(context.Background(), job.KindCoverLetter, j.ID, 1)
	assert.Equal(t, Ack, d, "message parked for backoff, original acknowledged")
	require.Len(t, queue.retries, 1)
	assert.Equal(t, j.ID, queue.retries[0].jobID)
	assert.Equal(t, 0, gen.calls)

	// Store recovers: the parked redelivery completes the job.
	store.failGet = nil
	d = w.Process(context.Background(), job.KindCoverLetter, j.ID, queue.retries[0].attempt)
	assert.Equal(t, Ack, d)
	assert.Equal(t, job.StatusCompleted, store.get(j.ID).Status)
}

// When even the retry publish fails there is nothing left but an immediate
// requeue; the message is never silently dropped.
func TestProcessTransientErrorWithBrokerDownRequeues(t *testing.T) {
	w, store, queue, _, _ := newWorkerHarness(t)
	j := submitOne(t, store, queue)

	store.failGet = errors.New("connection reset")
	queue.failRetry = errors.New("broker unavailable")
	d := w.Process(context.Background(), job.KindCoverLetter, j.ID, 1)
	assert.Equal(t, NackRequeue, d, "immediate redelivery is the last resort")
}

func TestProcessResultWriteFailureBacksOff(t *testing.T) {
	w, store, queue, results, _ := newWorkerHarness(t)
	j := submitOne(t, store, queue)
	results.failPut = errors.New("disk full")

	d := w.Process(context.Background(), job.KindCoverLetter, j.ID, 1)
	assert.Equal(t, Ack, d)
	require.Len(t, queue.retries, 1)
	assert.Equal(t, job.StatusProcessing, store.get(j.ID).Status,
		"COMPLETED is never observable before the result write")

	// The redelivered attempt finds the job PROCESSING and finishes it.
	results.failPut = nil
	d = w.Process(context.Background(), job.KindCoverLetter, j.ID, queue.retries[0].attempt)
	assert.Equal(t, Ack, d)
	assert.Equal(t, job.StatusCompleted, store.get(j.ID).Status)
}

// Disjoint terminal fields across every outcome the worker can produce.
func TestTerminalFieldsDisjoint(t *testing.T) {
	w, store, queue, _, gen := newWorkerHarness(t)

	ok := submitOne(t, store, queue)
	require.Equal(t, Ack, w.Process(context.Background(), job.KindCoverLetter, ok.ID, 1))

	sub := NewSubmission(store, queue, 30*time.Minute, testLogger())
	req := testRequest()
	req.TargetID = "posting-8"
	bad, _, err := sub.Submit(context.Background(), req)
	require.NoError(t, err)
	gen.errs = []error{errors.New("candidate profile missing")}
	require.Equal(t, Ack, w.Process(context.Background(), job.KindCoverLetter, bad.ID, 1))

	for id := range store.jobs {
		j := store.get(id)
		hasResult := j.ResultRef != ""
		hasError := j.Error != ""
		assert.False(t, hasResult && hasError, "job %s has both result_ref and error", id)
	}
}
