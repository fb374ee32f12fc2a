package service

import (
	"context"
	"log/slog"
	"time"

	"career-docgen/pkg/generator"
	"career-docgen/pkg/job"
	"career-docgen/pkg/observability"
)

// Disposition tells the consumer loop how to settle a message after
// processing. Every path through the worker ends in exactly one of these;
// a message is never dropped without a status write or a redelivery.
type Disposition int

const (
	// Ack removes the message: the job reached a recorded outcome (or the
	// message was safely redundant).
	Ack Disposition = iota
	// NackRequeue returns the message for immediate redelivery. Last
	// resort: transient infrastructure errors normally back off through the
	// retry ladder, this is for when even that publish fails.
	NackRequeue
	// NackDead rejects the message without requeue so the broker routes it
	// to the dead-letter queue for operator attention.
	NackDead
)

// Worker processes one queued message at a time: claim the job, invoke the
// generation collaborator, store the result, finalize the status.
type Worker struct {
	store       JobStore
	queue       Queue
	results     ResultStore
	gen         Generator
	maxAttempts int
	genTimeout  time.Duration
	log         *slog.Logger
}

func NewWorker(store JobStore, queue Queue, results ResultStore, gen Generator,
	maxAttempts int, genTimeout time.Duration, log *slog.Logger) *Worker {
	return &Worker{
		store:       store,
		queue:       queue,
		results:     results,
		gen:         gen,
		maxAttempts: maxAttempts,
		genTimeout:  genTimeout,
		log:         log,
	}
}

// Process handles one delivery for jobID, consumed from the queue for kind.
// attempt is 1 for the original message and increments through the retry
// ladder.
func (w *Worker) Process(ctx context.Context, kind job.Kind, jobID string, attempt int) Disposition {
	l := w.log.With("job_id", jobID, "kind", kind, "attempt", attempt)

	j, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		l.Error("failed to read job", "error", err)
		return w.backoffTransient(ctx, l, kind, jobID, attempt)
	}
	if j == nil {
		// Expired or never existed; nothing to work on.
		l.Warn("message references unknown or expired job, dropping")
		observability.JobsProcessed.WithLabelValues(string(kind), "dropped").Inc()
		return Ack
	}

	claimed, err := w.claim(ctx, j, attempt)
	if err != nil {
		l.Error("failed to claim job", "error", err)
		return w.backoffTransient(ctx, l, kind, jobID, attempt)
	}
	if claimed == nil {
		// Another worker owns it, or it already reached a terminal state.
		l.Info("job not claimable, dropping message", "status", j.Status)
		observability.JobsProcessed.WithLabelValues(string(j.Kind), "dropped").Inc()
		return Ack
	}
	l.Info("job claimed, invoking generator")

	genCtx, cancel := context.WithTimeout(ctx, w.genTimeout)
	defer cancel()

	start := time.Now()
	doc, genErr := w.gen.Generate(genCtx, claimed.Kind, claimed.InputData)
	observability.GenerationDuration.WithLabelValues(string(claimed.Kind)).Observe(time.Since(start).Seconds())

	if genErr != nil {
		return w.handleFailure(ctx, l, claimed, attempt, genErr)
	}

	// Result write precedes the status flip so a client that observes
	// COMPLETED can always fetch the artifact.
	ref, err := w.results.Put(ctx, claimed.ID, doc.Content)
	if err != nil {
		l.Error("failed to store result", "error", err)
		return w.backoffTransient(ctx, l, kind, jobID, attempt)
	}
	if err := w.store.CompleteJob(ctx, claimed.ID, ref, doc.InputTokens, doc.OutputTokens); err != nil {
		l.Error("failed to finalize job", "error", err)
		return w.backoffTransient(ctx, l, kind, jobID, attempt)
	}

	l.Info("job completed", "input_tokens", doc.InputTokens, "output_tokens", doc.OutputTokens)
	observability.JobsProcessed.WithLabelValues(string(claimed.Kind), "completed").Inc()
	return Ack
}

// claim transitions the job into PROCESSING. The first delivery must win the
// PENDING -> PROCESSING compare-and-swap; a retry-ladder redelivery finds
// the job already PROCESSING and proceeds without a second transition.
func (w *Worker) claim(ctx context.Context, j *job.Job, attempt int) (*job.Job, error) {
	if attempt > 1 && j.Status == job.StatusProcessing {
		return j, nil
	}
	return w.store.ClaimJob(ctx, j.ID)
}

// backoffTransient parks the message in the TTL retry ladder after an
// infrastructure error, so a sustained store or broker outage backs off
// instead of spinning through immediate redeliveries. Falls back to an
// immediate requeue only when the retry publish itself fails.
func (w *Worker) backoffTransient(ctx context.Context, l *slog.Logger, kind job.Kind, jobID string, attempt int) Disposition {
	if err := w.queue.PublishToRetry(ctx, kind, jobID, attempt); err != nil {
		l.Error("failed to park message for backoff", "error", err)
		return NackRequeue
	}
	observability.JobsProcessed.WithLabelValues(string(kind), "retried").Inc()
	return Ack
}

func (w *Worker) handleFailure(ctx context.Context, l *slog.Logger, j *job.Job, attempt int, genErr error) Disposition {
	if !generator.Retryable(genErr) {
		l.Error("generation failed terminally", "error", genErr)
		if err := w.store.FailJob(ctx, j.ID, genErr.Error()); err != nil {
			l.Error("failed to record terminal failure", "error", err)
			return w.backoffTransient(ctx, l, j.Kind, j.ID, attempt)
		}
		observability.JobsProcessed.WithLabelValues(string(j.Kind), "failed").Inc()
		return Ack
	}

	if attempt < w.maxAttempts {
		l.Warn("generation failed, scheduling retry", "error", genErr)
		if err := w.queue.PublishToRetry(ctx, j.Kind, j.ID, attempt); err != nil {
			l.Error("failed to publish retry", "error", err)
			return NackRequeue
		}
		observability.JobsProcessed.WithLabelValues(string(j.Kind), "retried").Inc()
		return Ack
	}

	// Retry ceiling reached: record the failure while we still can, then
	// let the broker dead-letter the message for the operator alarm.
	l.Error("generation failed after all retries, dead-lettering", "error", genErr)
	if err := w.store.FailJob(ctx, j.ID, "max retries exceeded: "+genErr.Error()); err != nil {
		// The job stays PROCESSING; the reconciliation sweep will flip it.
		l.Error("failed to record exhausted retries", "error", err)
	}
	observability.JobsProcessed.WithLabelValues(string(j.Kind), "failed").Inc()
	return NackDead
}
