// Package queue implements the durable, lease-locked priority job queue
// (see spec §4.B): Enqueue/Claim/Complete/Fail/ReapExpired over a single
// Postgres table, keyed on (status, priority, created_at).
//
// The claim pattern is lifted directly from the teacher's
// JobRepository.Claim: an UPDATE ... WHERE id IN (SELECT ... FOR UPDATE
// SKIP LOCKED) RETURNING *, which guarantees at most one worker ever
// observes a given row as claimed.
package queue

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/nathanasimon/memoryd/internal/domain"
)

// DefaultMaxAttempts mirrors spec §4.B's Enqueue default.
const DefaultMaxAttempts = 10

// backoffCeiling bounds the exponential retry delay.
const backoffCeiling = 1 * time.Hour

// Store is the persistence surface the queue needs. It is implemented by
// internal/storage/postgres.JobStore; tests use an in-memory fake
// implementing the same interface (see internal/queue/queue_test.go and
// internal/worker's tests).
type Store interface {
	// Enqueue inserts a job, or if dedupeKey collides with a row whose
	// status is not done/failed, returns the existing row's id and
	// existed=true (a no-op per spec §4.B).
	Enqueue(ctx context.Context, kind domain.JobKind, payload []byte, priority int, dedupeKey *string, maxAttempts int) (id string, existed bool, err error)

	// Claim atomically claims up to `limit` due jobs for workerID, leasing
	// them for `lease`.
	Claim(ctx context.Context, workerID string, lease time.Duration, limit int) ([]*domain.Job, error)

	Complete(ctx context.Context, jobID string) error

	// MarkRetry transitions the job back to `retry` with the given error
	// and lock expiry; MarkFailed transitions it to `failed`. The caller
	// (Fail) decides which by comparing attempts to max_attempts before
	// calling the appropriate store method.
	MarkRetry(ctx context.Context, jobID string, errMsg string, lockedUntil time.Time) error
	MarkFailed(ctx context.Context, jobID string, errMsg string) error

	// ReapExpired reverts processing jobs whose lease has expired back to
	// retry (or to failed if attempts are exhausted), and returns how
	// many rows were touched.
	ReapExpired(ctx context.Context, now time.Time, limit int) (rescheduled, failed int, err error)
}

// Queue is the typed facade components use; it adds backoff-jitter
// computation on top of the raw Store so callers never compute retry
// timing themselves.
type Queue struct {
	store Store
}

func New(s Store) *Queue {
	return &Queue{store: s}
}

// Enqueue inserts a new job. maxAttempts defaults to DefaultMaxAttempts
// when zero.
func (q *Queue) Enqueue(ctx context.Context, kind domain.JobKind, payload []byte, priority int, dedupeKey *string, maxAttempts int) (string, bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return q.store.Enqueue(ctx, kind, payload, priority, dedupeKey, maxAttempts)
}

func (q *Queue) Claim(ctx context.Context, workerID string, lease time.Duration, limit int) ([]*domain.Job, error) {
	return q.store.Claim(ctx, workerID, lease, limit)
}

func (q *Queue) Complete(ctx context.Context, jobID string) error {
	return q.store.Complete(ctx, jobID)
}

// Fail records a job's failure. If attempts (already incremented by Claim)
// are still under max_attempts, the job is retried after an exponential
// backoff with jitter; otherwise it is permanently failed.
func (q *Queue) Fail(ctx context.Context, job *domain.Job, cause error) error {
	errMsg := cause.Error()
	if job.Attempts < job.MaxAttempts {
		delay := backoff(job.Attempts)
		return q.store.MarkRetry(ctx, job.ID, errMsg, time.Now().Add(delay))
	}
	return q.store.MarkFailed(ctx, job.ID, errMsg)
}

func (q *Queue) ReapExpired(ctx context.Context, now time.Time, limit int) (int, int, error) {
	return q.store.ReapExpired(ctx, now, limit)
}

// backoff mirrors internal/scheduler/worker.go's retryDelay: exponential
// with a 1-hour ceiling and +-25% jitter to avoid thundering herds on
// reconnect.
func backoff(attempts int) time.Duration {
	base := 1 * time.Second
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempts)))
	delay = min(delay, backoffCeiling)
	jitter := time.Duration(rand.Int63n(int64(delay/2))) - delay/4
	return delay + jitter
}
