package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nathanasimon/memoryd/internal/domain"
	"github.com/nathanasimon/memoryd/internal/queue"
)

type fakeStore struct {
	enqueue     func(ctx context.Context, kind domain.JobKind, payload []byte, priority int, dedupeKey *string, maxAttempts int) (string, bool, error)
	claim       func(ctx context.Context, workerID string, lease time.Duration, limit int) ([]*domain.Job, error)
	complete    func(ctx context.Context, jobID string) error
	markRetry   func(ctx context.Context, jobID string, errMsg string, lockedUntil time.Time) error
	markFailed  func(ctx context.Context, jobID string, errMsg string) error
	reapExpired func(ctx context.Context, now time.Time, limit int) (int, int, error)
}

func (f *fakeStore) Enqueue(ctx context.Context, kind domain.JobKind, payload []byte, priority int, dedupeKey *string, maxAttempts int) (string, bool, error) {
	return f.enqueue(ctx, kind, payload, priority, dedupeKey, maxAttempts)
}

func (f *fakeStore) Claim(ctx context.Context, workerID string, lease time.Duration, limit int) ([]*domain.Job, error) {
	return f.claim(ctx, workerID, lease, limit)
}

func (f *fakeStore) Complete(ctx context.Context, jobID string) error {
	return f.complete(ctx, jobID)
}

func (f *fakeStore) MarkRetry(ctx context.Context, jobID string, errMsg string, lockedUntil time.Time) error {
	return f.markRetry(ctx, jobID, errMsg, lockedUntil)
}

func (f *fakeStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	return f.markFailed(ctx, jobID, errMsg)
}

func (f *fakeStore) ReapExpired(ctx context.Context, now time.Time, limit int) (int, int, error) {
	return f.reapExpired(ctx, now, limit)
}

func TestEnqueueDefaultsMaxAttempts(t *testing.T) {
	var gotMaxAttempts int
	store := &fakeStore{
		enqueue: func(_ context.Context, _ domain.JobKind, _ []byte, _ int, _ *string, maxAttempts int) (string, bool, error) {
			gotMaxAttempts = maxAttempts
			return "job-1", false, nil
		},
	}
	q := queue.New(store)

	if _, _, err := q.Enqueue(context.Background(), domain.KindTurnSummary, nil, 5, nil, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if gotMaxAttempts != queue.DefaultMaxAttempts {
		t.Fatalf("max_attempts = %d, want default %d", gotMaxAttempts, queue.DefaultMaxAttempts)
	}
}

func TestEnqueuePreservesExplicitMaxAttempts(t *testing.T) {
	var gotMaxAttempts int
	store := &fakeStore{
		enqueue: func(_ context.Context, _ domain.JobKind, _ []byte, _ int, _ *string, maxAttempts int) (string, bool, error) {
			gotMaxAttempts = maxAttempts
			return "job-1", false, nil
		},
	}
	q := queue.New(store)

	if _, _, err := q.Enqueue(context.Background(), domain.KindTurnSummary, nil, 5, nil, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if gotMaxAttempts != 3 {
		t.Fatalf("max_attempts = %d, want 3", gotMaxAttempts)
	}
}

func TestFailRetriesWhenAttemptsRemain(t *testing.T) {
	var retried bool
	var failed bool
	store := &fakeStore{
		markRetry: func(_ context.Context, jobID, errMsg string, lockedUntil time.Time) error {
			retried = true
			if lockedUntil.Before(time.Now()) {
				t.Fatalf("lockedUntil should be in the future")
			}
			return nil
		},
		markFailed: func(_ context.Context, jobID, errMsg string) error {
			failed = true
			return nil
		},
	}
	q := queue.New(store)

	job := &domain.Job{ID: "job-1", Attempts: 2, MaxAttempts: 5}
	if err := q.Fail(context.Background(), job, errors.New("transient")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if !retried || failed {
		t.Fatalf("retried=%v failed=%v, want retried only", retried, failed)
	}
}

func TestFailPermanentlyFailsWhenAttemptsExhausted(t *testing.T) {
	var retried bool
	var failed bool
	store := &fakeStore{
		markRetry: func(_ context.Context, jobID, errMsg string, lockedUntil time.Time) error {
			retried = true
			return nil
		},
		markFailed: func(_ context.Context, jobID, errMsg string) error {
			failed = true
			return nil
		},
	}
	q := queue.New(store)

	job := &domain.Job{ID: "job-1", Attempts: 5, MaxAttempts: 5}
	if err := q.Fail(context.Background(), job, errors.New("permanent")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if retried || !failed {
		t.Fatalf("retried=%v failed=%v, want failed only", retried, failed)
	}
}

func TestClaimAndCompletePassThrough(t *testing.T) {
	want := []*domain.Job{{ID: "job-1"}}
	store := &fakeStore{
		claim: func(_ context.Context, workerID string, lease time.Duration, limit int) ([]*domain.Job, error) {
			if workerID != "worker-a" || limit != 10 {
				t.Fatalf("unexpected claim args: worker=%s limit=%d", workerID, limit)
			}
			return want, nil
		},
		complete: func(_ context.Context, jobID string) error {
			if jobID != "job-1" {
				t.Fatalf("complete called with %q, want job-1", jobID)
			}
			return nil
		},
	}
	q := queue.New(store)

	got, err := q.Claim(context.Background(), "worker-a", time.Minute, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(got) != 1 || got[0].ID != "job-1" {
		t.Fatalf("claim returned %+v, want %+v", got, want)
	}
	if err := q.Complete(context.Background(), "job-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

// memStore is a minimal in-memory implementation of queue.Store, good
// enough to exercise property 2 (at-most-one claim) and property 6
// (lease liveness) under real concurrency.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemStore(jobs ...*domain.Job) *memStore {
	m := &memStore{jobs: make(map[string]*domain.Job)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memStore) Enqueue(ctx context.Context, kind domain.JobKind, payload []byte, priority int, dedupeKey *string, maxAttempts int) (string, bool, error) {
	panic("not used by this test")
}

func (m *memStore) Claim(ctx context.Context, workerID string, lease time.Duration, limit int) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var claimed []*domain.Job
	for _, j := range m.jobs {
		if len(claimed) >= limit {
			break
		}
		if j.Status != domain.JobQueued && j.Status != domain.JobRetry {
			continue
		}
		j.Status = domain.JobProcessing
		j.Attempts++
		until := time.Now().Add(lease)
		j.LockedUntil = &until
		locked := workerID
		j.LockedBy = &locked
		cp := *j
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (m *memStore) Complete(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID].Status = domain.JobDone
	return nil
}

func (m *memStore) MarkRetry(ctx context.Context, jobID string, errMsg string, lockedUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[jobID]
	j.Status = domain.JobRetry
	j.LockedUntil = &lockedUntil
	j.LockedBy = nil
	return nil
}

func (m *memStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID].Status = domain.JobFailed
	return nil
}

func (m *memStore) ReapExpired(ctx context.Context, now time.Time, limit int) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, j := range m.jobs {
		if j.Status == domain.JobProcessing && j.LockedUntil != nil && j.LockedUntil.Before(now) {
			j.Status = domain.JobRetry
			j.LockedUntil = nil
			j.LockedBy = nil
			n++
		}
	}
	return n, 0, nil
}

// TestAtMostOneClaimAmongConcurrentClaimers is property 2 from spec §8:
// spawn k claimers against a queue of k jobs; each claimer completes
// exactly one, and no job is ever observed claimed by two claimers.
func TestAtMostOneClaimAmongConcurrentClaimers(t *testing.T) {
	const k = 20
	jobs := make([]*domain.Job, k)
	for i := range jobs {
		jobs[i] = &domain.Job{ID: fmt.Sprintf("job-%d", i), Status: domain.JobQueued, MaxAttempts: 1}
	}
	store := newMemStore(jobs...)
	q := queue.New(store)

	var wg sync.WaitGroup
	claimCounts := make([]int32, k)
	var mu sync.Mutex
	recordClaim := func(id string) {
		mu.Lock()
		defer mu.Unlock()
		for i, j := range jobs {
			if j.ID == id {
				claimCounts[i]++
			}
		}
	}

	for c := 0; c < k; c++ {
		wg.Add(1)
		go func(claimerID string) {
			defer wg.Done()
			got, err := q.Claim(context.Background(), claimerID, time.Minute, 1)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			for _, j := range got {
				recordClaim(j.ID)
				if err := q.Complete(context.Background(), j.ID); err != nil {
					t.Errorf("complete: %v", err)
				}
			}
		}(fmt.Sprintf("claimer-%d", c))
	}
	wg.Wait()

	for i, count := range claimCounts {
		if count != 1 {
			t.Fatalf("job %s claimed %d times, want exactly 1", jobs[i].ID, count)
		}
	}
}

// TestLeaseLivenessReclaimsAfterExpiry is property 6 from spec §8: a job
// whose lease has expired while still processing is returned to retry by
// ReapExpired and can be claimed again.
func TestLeaseLivenessReclaimsAfterExpiry(t *testing.T) {
	job := &domain.Job{ID: "job-1", Status: domain.JobQueued, MaxAttempts: 3}
	store := newMemStore(job)
	q := queue.New(store)

	claimed, err := q.Claim(context.Background(), "worker-a", time.Millisecond, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("initial claim: %+v, %v", claimed, err)
	}

	time.Sleep(5 * time.Millisecond)

	rescheduled, failed, err := q.ReapExpired(context.Background(), time.Now(), 100)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if rescheduled != 1 || failed != 0 {
		t.Fatalf("reap = rescheduled=%d failed=%d, want 1,0", rescheduled, failed)
	}

	reclaimed, err := q.Claim(context.Background(), "worker-b", time.Minute, 1)
	if err != nil || len(reclaimed) != 1 || reclaimed[0].ID != "job-1" {
		t.Fatalf("reclaim after expiry: %+v, %v", reclaimed, err)
	}
}
