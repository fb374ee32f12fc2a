package result

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store holds generated documents, keyed by job id. Writes are effectively
// write-once: the key is derived from the job id, so a retried worker
// overwrites with an equivalent document. Blobs expire on their own
// retention window, independent of the job row's TTL.
type Store struct {
	pool      *pgxpool.Pool
	retention time.Duration
}

func NewStore(pool *pgxpool.Pool, retention time.Duration) *Store {
	return &Store{pool: pool, retention: retention}
}

// Put stores the document for a job and returns the storage reference the
// job record should carry.
func (s *Store) Put(ctx context.Context, jobID string, content json.RawMessage) (string, error) {
	query := `
        INSERT INTO results (job_id, content, expires_at)
        VALUES ($1, $2, NOW() + make_interval(secs => $3))
        ON CONFLICT (job_id) DO UPDATE SET content = EXCLUDED.content, expires_at = EXCLUDED.expires_at`
	if _, err := s.pool.Exec(ctx, query, jobID, content, s.retention.Seconds()); err != nil {
		return "", err
	}
	return jobID, nil
}

// Get fetches a stored document. Returns nil with no error when the blob is
// absent or past retention; the caller distinguishes that from the job state.
func (s *Store) Get(ctx context.Context, ref string) (json.RawMessage, error) {
	var content json.RawMessage
	query := `SELECT content FROM results WHERE job_id = $1 AND expires_at > NOW()`
	err := s.pool.QueryRow(ctx, query, ref).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

// DeleteExpired purges blobs past their retention window.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM results WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
