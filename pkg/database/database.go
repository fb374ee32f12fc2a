package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"career-docgen/pkg/job"
)

// Client is the job store. It is the single source of truth for job
// lifecycle state: the submission service creates rows, the worker owns
// every post-creation mutation, the status service only reads.
type Client struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string, maxConns int32) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &Client{pool: pool}, nil
}

func (c *Client) Close() {
	c.pool.Close()
}

// Pool exposes the underlying pool for stores that share the database
// (the result store keeps its blobs in the same Postgres).
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// InitSchema creates the necessary tables and types.
func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
    DO $$ BEGIN
        CREATE TYPE job_status AS ENUM ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED');
    EXCEPTION WHEN duplicate_object THEN NULL;
    END $$;
    DO $$ BEGIN
        CREATE TYPE document_kind AS ENUM ('cover_letter', 'value_report', 'gap_analysis', 'interview_prep');
    EXCEPTION WHEN duplicate_object THEN NULL;
    END $$;
    CREATE TABLE IF NOT EXISTS jobs (
        id UUID PRIMARY KEY,
        idempotency_key TEXT NOT NULL,
        kind document_kind NOT NULL,
        status job_status NOT NULL DEFAULT 'PENDING',
        requester_id TEXT NOT NULL,
        target_id TEXT NOT NULL,
        input_data JSONB NOT NULL,
        result_ref TEXT,
        error TEXT,
        input_tokens INTEGER,
        output_tokens INTEGER,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        started_at TIMESTAMPTZ,
        completed_at TIMESTAMPTZ,
        expires_at TIMESTAMPTZ NOT NULL
    );
    CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_idempotency_key ON jobs (idempotency_key);
    CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
    CREATE INDEX IF NOT EXISTS idx_jobs_expires_at ON jobs (expires_at);

    CREATE TABLE IF NOT EXISTS results (
        job_id UUID PRIMARY KEY,
        content JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        expires_at TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_results_expires_at ON results (expires_at);
    `
	_, err := c.pool.Exec(ctx, schema)
	return err
}

const jobColumns = `id, idempotency_key, kind, status, requester_id, target_id, input_data,
	result_ref, error, input_tokens, output_tokens, created_at, started_at, completed_at, expires_at`

func scanJob(row pgx.Row) (*job.Job, error) {
	j := &job.Job{}
	var resultRef, errMsg *string
	var inputTokens, outputTokens *int
	err := row.Scan(
		&j.ID, &j.IdempotencyKey, &j.Kind, &j.Status, &j.RequesterID, &j.TargetID, &j.InputData,
		&resultRef, &errMsg, &inputTokens, &outputTokens,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if resultRef != nil {
		j.ResultRef = *resultRef
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	if inputTokens != nil {
		j.InputTokens = *inputTokens
	}
	if outputTokens != nil {
		j.OutputTokens = *outputTokens
	}
	return j, nil
}

// CreateJob inserts a new PENDING job. If another job already holds the same
// idempotency key the insert is a no-op and the existing job is returned
// with created=false; the caller must not enqueue new work in that case.
func (c *Client) CreateJob(ctx context.Context, req *job.SubmissionRequest, ttl time.Duration) (*job.Job, bool, error) {
	id := uuid.New().String()
	key := req.IdempotencyKey()

	query := `
        INSERT INTO jobs (id, idempotency_key, kind, status, requester_id, target_id, input_data, expires_at)
        VALUES ($1, $2, $3, 'PENDING', $4, $5, $6, NOW() + make_interval(secs => $7))
        ON CONFLICT (idempotency_key) DO NOTHING
        RETURNING ` + jobColumns
	j, err := scanJob(c.pool.QueryRow(ctx, query, id, key, req.Kind, req.RequesterID, req.TargetID, req.Payload, ttl.Seconds()))
	if err == nil {
		return j, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	// Conflict: some earlier submission owns this key.
	existing, err := c.GetJobByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// The conflicting row is past its TTL but not yet purged; it still
		// occupies the unique index, so the submission cannot proceed until
		// the sweeper removes it.
		return nil, false, fmt.Errorf("idempotency key held by an expired job, retry after purge")
	}
	return existing, false, nil
}

// GetJob fetches a job by id. Rows past expires_at are reported as absent.
func (c *Client) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND expires_at > NOW()`
	j, err := scanJob(c.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (c *Client) GetJobByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE idempotency_key = $1 AND expires_at > NOW()`
	j, err := scanJob(c.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// ClaimJob atomically flips PENDING -> PROCESSING and sets started_at. A nil
// return with nil error means another worker already claimed the job; the
// redelivered message should be acknowledged and dropped.
func (c *Client) ClaimJob(ctx context.Context, jobID string) (*job.Job, error) {
	query := `
        UPDATE jobs
        SET status = 'PROCESSING', started_at = NOW()
        WHERE id = $1 AND status = 'PENDING'
        RETURNING ` + jobColumns
	j, err := scanJob(c.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// CompleteJob flips PROCESSING -> COMPLETED and records the result reference
// and usage metrics. Fenced on status so a late duplicate worker cannot
// overwrite a terminal state.
func (c *Client) CompleteJob(ctx context.Context, jobID, resultRef string, inputTokens, outputTokens int) error {
	query := `
        UPDATE jobs
        SET status = 'COMPLETED', result_ref = $2, input_tokens = $3, output_tokens = $4, completed_at = NOW()
        WHERE id = $1 AND status = 'PROCESSING'`
	tag, err := c.pool.Exec(ctx, query, jobID, resultRef, inputTokens, outputTokens)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not in PROCESSING, completion skipped", jobID)
	}
	return nil
}

// FailJob flips a non-terminal job to FAILED with a descriptive error.
func (c *Client) FailJob(ctx context.Context, jobID, errMsg string) error {
	query := `
        UPDATE jobs
        SET status = 'FAILED', error = $2, completed_at = NOW()
        WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')`
	tag, err := c.pool.Exec(ctx, query, jobID, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s already terminal, failure skipped", jobID)
	}
	return nil
}

// FailStuckProcessing marks jobs abandoned mid-processing (worker crashed or
// the message was dead-lettered before a final status write) as FAILED.
// Returns the ids it swept.
func (c *Client) FailStuckProcessing(ctx context.Context, ceiling time.Duration) ([]string, error) {
	query := `
        UPDATE jobs
        SET status = 'FAILED', error = 'processing deadline exceeded', completed_at = NOW()
        WHERE status = 'PROCESSING' AND started_at < NOW() - make_interval(secs => $1)
        RETURNING id`
	rows, err := c.pool.Query(ctx, query, ceiling.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteExpired purges job rows past their TTL.
func (c *Client) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM jobs WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
