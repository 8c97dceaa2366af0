package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Job statuses.
const (
	StatusPending    = "pending"
	StatusDispatched = "dispatched"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// JobPayload is the wire payload handed to pipeline workers.
type JobPayload struct {
	JobID      string    `json:"job_id"`
	EmailID    string    `json:"email_id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	HTMLBody   string    `json:"html_body,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Job is one durable queue entry. Terminal entries are retained for
// observability until Cleanup evicts them.
type Job struct {
	ID            string
	EmailID       string
	Payload       json.RawMessage
	Status        string
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Stats is a point-in-time count of jobs per status.
type Stats struct {
	Pending    int
	Dispatched int
	Completed  int
	Failed     int
}

// Store is the durable at-least-once job store backing the work queue.
type Store struct {
	db          *pgxpool.Pool
	maxAttempts int
	baseBackoff time.Duration
}

func NewStore(db *pgxpool.Pool, maxAttempts int, baseBackoff time.Duration) *Store {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseBackoff <= 0 {
		baseBackoff = 30 * time.Second
	}
	return &Store{db: db, maxAttempts: maxAttempts, baseBackoff: baseBackoff}
}

// Enqueue inserts a pending job and returns its opaque identifier
// immediately; dispatch happens asynchronously.
func (s *Store) Enqueue(ctx context.Context, p JobPayload) (string, error) {
	p.JobID = uuid.NewString()

	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	query := `
        INSERT INTO pipeline_jobs (id, email_id, payload, status, attempts, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 0, NOW(), NOW())
    `
	if _, err := s.db.Exec(ctx, query, p.JobID, p.EmailID, body, StatusPending); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return p.JobID, nil
}

// DuePending returns pending jobs whose backoff delay has elapsed, oldest
// first.
func (s *Store) DuePending(ctx context.Context, limit int) ([]*Job, error) {
	query := `
        SELECT id, email_id, payload, status, attempts, COALESCE(last_error, ''),
               next_attempt_at, created_at, updated_at
        FROM pipeline_jobs
        WHERE status = $1
          AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
        ORDER BY created_at ASC
        LIMIT $2
    `
	rows, err := s.db.Query(ctx, query, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.EmailID, &j.Payload, &j.Status, &j.Attempts,
			&j.LastError, &j.NextAttemptAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// MarkDispatched records that a job was handed to the broker.
func (s *Store) MarkDispatched(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE pipeline_jobs SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, StatusDispatched)
	return err
}

// MarkCompleted records successful processing.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE pipeline_jobs SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, StatusCompleted)
	return err
}

// MarkFailed terminally fails a job; the row is retained, not dropped.
func (s *Store) MarkFailed(ctx context.Context, id, lastError string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE pipeline_jobs SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1`,
		id, StatusFailed, lastError)
	return err
}

// Reschedule bumps the attempt counter and either re-queues the job with
// exponential backoff or, once attempts are exhausted, fails it. Returns
// the new attempt count and whether the job is exhausted.
func (s *Store) Reschedule(ctx context.Context, id, lastError string) (int, bool, error) {
	query := `
        UPDATE pipeline_jobs
        SET attempts = attempts + 1, last_error = $2, updated_at = NOW()
        WHERE id = $1
        RETURNING attempts
    `
	var attempts int
	if err := s.db.QueryRow(ctx, query, id, lastError).Scan(&attempts); err != nil {
		return 0, false, fmt.Errorf("failed to bump attempts: %w", err)
	}

	if attempts >= s.maxAttempts {
		if err := s.MarkFailed(ctx, id, lastError); err != nil {
			return attempts, true, err
		}
		return attempts, true, nil
	}

	delay := Backoff(s.baseBackoff, attempts)
	_, err := s.db.Exec(ctx, `
        UPDATE pipeline_jobs
        SET status = $2, next_attempt_at = NOW() + $3, updated_at = NOW()
        WHERE id = $1
    `, id, StatusPending, delay)
	if err != nil {
		return attempts, false, fmt.Errorf("failed to reschedule: %w", err)
	}
	return attempts, false, nil
}

// Defer pushes a live job back to pending with a delay, without spending
// a retry attempt. Used when a delivery arrives while another consumer
// still holds the processing lock for the same email; terminal jobs are
// left untouched.
func (s *Store) Defer(ctx context.Context, id string, delay time.Duration) error {
	_, err := s.db.Exec(ctx, `
        UPDATE pipeline_jobs
        SET status = $2, next_attempt_at = NOW() + $3, updated_at = NOW()
        WHERE id = $1 AND status IN ($4, $5)
    `, id, StatusPending, delay, StatusPending, StatusDispatched)
	if err != nil {
		return fmt.Errorf("failed to defer job: %w", err)
	}
	return nil
}

// RequeueStale returns dispatched jobs that have not been settled within
// the given window to pending, so a consumer crash between delivery and
// settlement cannot strand them. Redelivery is safe: settled emails make
// the job a no-op.
func (s *Store) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE pipeline_jobs
        SET status = $2, next_attempt_at = NOW(), updated_at = NOW()
        WHERE status = $1 AND updated_at < NOW() - make_interval(secs => $3)
    `, StatusDispatched, StatusPending, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Depth returns the number of jobs waiting for dispatch.
func (s *Store) Depth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM pipeline_jobs WHERE status = $1`, StatusPending).Scan(&n)
	return n, err
}

// GetStats returns job counts per status.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	query := `SELECT status, COUNT(*) FROM pipeline_jobs GROUP BY status`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch status {
		case StatusPending:
			stats.Pending = n
		case StatusDispatched:
			stats.Dispatched = n
		case StatusCompleted:
			stats.Completed = n
		case StatusFailed:
			stats.Failed = n
		}
	}
	return &stats, rows.Err()
}

// Cleanup evicts terminal jobs older than the retention window and
// returns how many were removed.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `
        DELETE FROM pipeline_jobs
        WHERE status IN ($1, $2) AND updated_at < NOW() - make_interval(secs => $3)
    `, StatusCompleted, StatusFailed, retention.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Backoff computes the delay before the given retry attempt:
// base * 2^(attempts-1), capped at one hour.
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= time.Hour {
			return time.Hour
		}
	}
	return delay
}
