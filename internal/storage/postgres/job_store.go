package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nathanasimon/memoryd/internal/domain"
)

// JobStore implements internal/queue.Store.
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

func (s *JobStore) Enqueue(ctx context.Context, kind domain.JobKind, payload []byte, priority int, dedupeKey *string, maxAttempts int) (string, bool, error) {
	query := `
		INSERT INTO jobs (kind, payload, priority, dedupe_key, status, max_attempts)
		VALUES ($1, $2, $3, $4, 'queued', $5)
		RETURNING id`

	var id string
	err := s.pool.QueryRow(ctx, query, kind, payload, priority, dedupeKey, maxAttempts).Scan(&id)
	if err == nil {
		return id, false, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// dedupe_key collided with a row that is not done/failed — spec
		// §4.B: the call is a no-op, return the existing job id.
		existingID, findErr := s.findByDedupeKey(ctx, dedupeKey)
		if findErr != nil {
			return "", false, fmt.Errorf("enqueue: find existing dedupe row: %w", findErr)
		}
		return existingID, true, nil
	}
	return "", false, fmt.Errorf("enqueue job: %w", err)
}

func (s *JobStore) findByDedupeKey(ctx context.Context, dedupeKey *string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM jobs WHERE dedupe_key = $1 ORDER BY created_at DESC LIMIT 1`,
		dedupeKey,
	).Scan(&id)
	return id, err
}

// Claim atomically claims up to `limit` due jobs for workerID. FOR UPDATE
// SKIP LOCKED prevents double-execution across workers, per spec §4.B —
// the exact device the teacher's JobRepository.Claim uses.
func (s *JobStore) Claim(ctx context.Context, workerID string, lease time.Duration, limit int) ([]*domain.Job, error) {
	query := `
		UPDATE jobs
		SET    status       = 'processing',
		       locked_until = NOW() + $1::interval,
		       locked_by    = $2,
		       attempts     = attempts + 1,
		       updated_at   = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  status IN ('queued', 'retry')
			  AND  (locked_until IS NULL OR locked_until < NOW())
			ORDER BY priority ASC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, payload, dedupe_key, status, priority, attempts,
		          max_attempts, locked_until, locked_by, error_message,
		          created_at, updated_at`

	rows, err := s.pool.Query(ctx, query, lease.String(), workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *JobStore) Complete(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'done', updated_at = NOW() WHERE id = $1`, jobID)
	return err
}

func (s *JobStore) MarkRetry(ctx context.Context, jobID string, errMsg string, lockedUntil time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs
		 SET    status       = 'retry',
		        error_message = $2,
		        locked_until = $3,
		        locked_by    = NULL,
		        updated_at   = NOW()
		 WHERE id = $1`, jobID, errMsg, lockedUntil)
	return err
}

func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', error_message = $2, updated_at = NOW()
		 WHERE id = $1`, jobID, errMsg)
	return err
}

// ReapExpired reverts jobs whose lease expired while processing back to
// retry, or to failed if attempts are exhausted. Grounded on the teacher's
// RescheduleStale/FailStale pair in job_repo.go, folded into one method
// since our Job has no separate heartbeat column — lease expiry alone
// determines staleness.
func (s *JobStore) ReapExpired(ctx context.Context, now time.Time, limit int) (int, int, error) {
	rescheduledTag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET    status       = 'retry',
		       error_message = 'lease expired',
		       locked_until = NULL,
		       locked_by    = NULL,
		       updated_at   = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  status       = 'processing'
			  AND  locked_until < $1
			  AND  attempts     < max_attempts
			ORDER BY locked_until ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, now, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("reap expired: reschedule: %w", err)
	}

	failedTag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET    status       = 'failed',
		       error_message = 'lease expired: max attempts exceeded',
		       updated_at   = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  status       = 'processing'
			  AND  locked_until < $1
			  AND  attempts     >= max_attempts
			ORDER BY locked_until ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, now, limit)
	if err != nil {
		return int(rescheduledTag.RowsAffected()), 0, fmt.Errorf("reap expired: fail: %w", err)
	}

	return int(rescheduledTag.RowsAffected()), int(failedTag.RowsAffected()), nil
}

// CountsByStatus reports the number of jobs in each lifecycle status, by
// kind, for the debug /jobs surface.
func (s *JobStore) CountsByStatus(ctx context.Context) (map[domain.JobKind]map[domain.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT kind, status, COUNT(*) FROM jobs GROUP BY kind, status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.JobKind]map[domain.JobStatus]int)
	for rows.Next() {
		var kind domain.JobKind
		var status domain.JobStatus
		var count int
		if err := rows.Scan(&kind, &status, &count); err != nil {
			return nil, fmt.Errorf("scan job count row: %w", err)
		}
		if out[kind] == nil {
			out[kind] = make(map[domain.JobStatus]int)
		}
		out[kind][status] = count
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.Kind, &j.Payload, &j.DedupeKey, &j.Status, &j.Priority,
		&j.Attempts, &j.MaxAttempts, &j.LockedUntil, &j.LockedBy, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}
