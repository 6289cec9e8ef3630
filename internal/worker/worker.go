// Package worker implements the cold-path Worker (spec §4.I): N
// independent claimer loops, each reaping expired leases, claiming the
// next due job, and dispatching it through a kind-keyed handler table.
//
// Grounded on the teacher's internal/scheduler/worker.go (claim loop,
// retry-vs-fail branching; its heartbeat device is not carried over) and
// reaper.go (stale-lease recovery), adapted from "single claimer fans
// out to goroutines" to "N independent claimer goroutines," per the
// memory service's smaller expected concurrency (1-4 parallel
// claimers rather than a configurable worker pool).
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/nathanasimon/memoryd/internal/domain"
	"github.com/nathanasimon/memoryd/internal/queue"
)

// Handler executes one claimed job. Returning an error marks the job for
// retry (or permanent failure, once attempts are exhausted); returning
// nil marks it done.
type Handler func(ctx context.Context, job *domain.Job) error

const (
	// defaultLease is deliberately generous: unlike the teacher's
	// schema, our jobs table has no separate heartbeat column to renew
	// mid-flight (see internal/storage/postgres.JobStore.ReapExpired),
	// so the lease alone must outlast any handler's expected runtime.
	// Handlers here are fast, bounded cold-path tasks (summarize one
	// turn, link entities, extract artifacts) so 2 minutes comfortably
	// covers a slow model-service round trip plus retries. Used when
	// New is given a zero lease.
	defaultLease = 2 * time.Minute

	// idleFloor/idleCeiling bound the backoff a claimer sleeps through
	// between empty claims, distinct from internal/queue's per-job
	// retry backoff.
	idleFloor   = 250 * time.Millisecond
	idleCeiling = 5 * time.Second

	defaultBatchSize = 1
	reapBatchSize    = 100
)

// Worker runs Claimers independent claimer goroutines against a shared
// Queue, each dispatching claimed jobs through Handlers.
type Worker struct {
	id       string
	queue    *queue.Queue
	handlers map[domain.JobKind]Handler
	logger   *slog.Logger

	claimers     int
	pollInterval time.Duration
	lease        time.Duration

	wg sync.WaitGroup
}

// New builds a Worker. claimers is the number of independent claim
// loops to run concurrently (spec §5: "1-4 parallel claimers"). A
// zero lease falls back to defaultLease.
func New(q *queue.Queue, handlers map[domain.JobKind]Handler, claimers int, pollInterval, lease time.Duration, logger *slog.Logger) *Worker {
	if claimers <= 0 {
		claimers = 1
	}
	if lease <= 0 {
		lease = defaultLease
	}
	return &Worker{
		id:           workerID(),
		queue:        q,
		handlers:     handlers,
		logger:       logger.With("component", "worker"),
		claimers:     claimers,
		pollInterval: pollInterval,
		lease:        lease,
	}
}

// workerID mirrors the teacher's hostname-pid scheme so locked_by stays
// legible in ad-hoc queries.
func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}

// Start launches the claimer goroutines and blocks until ctx is
// cancelled, then waits for any in-flight job (bounded by its lease) to
// finish before returning.
func (w *Worker) Start(ctx context.Context) {
	w.logger.InfoContext(ctx, "worker started", "worker_id", w.id, "claimers", w.claimers)

	for i := 0; i < w.claimers; i++ {
		w.wg.Add(1)
		claimerID := fmt.Sprintf("%s/%d", w.id, i)
		go func() {
			defer w.wg.Done()
			w.claimLoop(ctx, claimerID)
		}()
	}

	<-ctx.Done()
	w.logger.Info("worker shutting down, waiting for in-flight jobs")
	w.wg.Wait()
	w.logger.Info("worker shut down", "worker_id", w.id)
}

// claimLoop reaps expired leases, claims the next due job, and
// dispatches it, sleeping with capped backoff between empty claims. It
// only checks ctx at the top of each iteration, so a job already
// dispatched always runs to completion even after shutdown begins.
func (w *Worker) claimLoop(ctx context.Context, claimerID string) {
	idle := idleFloor
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := w.queue.ReapExpired(ctx, time.Now(), reapBatchSize); err != nil {
			w.logger.ErrorContext(ctx, "reap expired jobs", "error", err)
		}

		jobs, err := w.queue.Claim(ctx, claimerID, w.lease, defaultBatchSize)
		if err != nil {
			w.logger.ErrorContext(ctx, "claim jobs", "error", err)
			sleep(ctx, idle)
			idle = nextIdle(idle)
			continue
		}

		if len(jobs) == 0 {
			sleep(ctx, idle)
			idle = nextIdle(idle)
			continue
		}

		idle = idleFloor
		for _, job := range jobs {
			w.dispatch(ctx, job)
		}

		interval := w.pollInterval
		if interval <= 0 {
			interval = idleFloor
		}
		sleep(ctx, interval)
	}
}

// dispatch runs a claimed job's handler to completion using a context
// detached from the caller's cancellation so an in-flight job is never
// aborted mid-handler by shutdown; it is still bounded by the job's
// lease.
func (w *Worker) dispatch(parent context.Context, job *domain.Job) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.lease)
	defer cancel()

	handler, ok := w.handlers[job.Kind]
	if !ok {
		err := fmt.Errorf("no handler registered for job kind %q", job.Kind)
		w.logger.ErrorContext(runCtx, "unhandled job kind", "job_id", job.ID, "kind", job.Kind)
		if failErr := w.queue.Fail(runCtx, job, err); failErr != nil {
			w.logger.ErrorContext(runCtx, "mark job failed", "job_id", job.ID, "error", failErr)
		}
		return
	}

	start := time.Now()
	err := handler(runCtx, job)
	dur := time.Since(start)

	if err != nil {
		w.logger.ErrorContext(runCtx, "job failed", "job_id", job.ID, "kind", job.Kind,
			"attempts", job.Attempts, "max_attempts", job.MaxAttempts, "duration", dur, "error", err)
		if failErr := w.queue.Fail(runCtx, job, err); failErr != nil {
			w.logger.ErrorContext(runCtx, "record job failure", "job_id", job.ID, "error", failErr)
		}
		return
	}

	if err := w.queue.Complete(runCtx, job.ID); err != nil {
		w.logger.ErrorContext(runCtx, "mark job complete", "job_id", job.ID, "error", err)
		return
	}
	w.logger.InfoContext(runCtx, "job completed", "job_id", job.ID, "kind", job.Kind, "duration", dur)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// nextIdle doubles the idle backoff with +-10% jitter, capped at
// idleCeiling, distinct from internal/queue's per-job retry backoff.
func nextIdle(cur time.Duration) time.Duration {
	next := time.Duration(math.Min(float64(cur*2), float64(idleCeiling)))
	jitter := time.Duration(rand.Int63n(int64(next/5+1))) - next/10
	next += jitter
	if next < idleFloor {
		next = idleFloor
	}
	return next
}
