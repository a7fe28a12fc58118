// Package jobs runs prediction batches over a worker pool, so a daily
// predict-all sweep does not serialize on one tenant at a time. Idempotency
// comes from the orchestrator's delete-then-insert; duplicate enqueues for
// the same tenant and day are harmless.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"churnwatch/internal/predictor"
	"churnwatch/internal/store"
)

type task struct {
	tenantID string
	refDate  time.Time
}

// Stats is a snapshot of runner counters for the ops status endpoint.
type Stats struct {
	Enqueued  int64  `json:"enqueued"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	LastBatch string `json:"last_batch"`
	Workers   int    `json:"workers"`
	QueueLen  int    `json:"queue_length"`
}

// Runner executes prediction runs on a fixed worker pool.
type Runner struct {
	engine  *predictor.Engine
	store   *store.Store
	log     *slog.Logger
	queue   chan task
	workers int

	wg     sync.WaitGroup
	cancel context.CancelFunc

	enqueued  int64
	completed int64
	failed    int64

	mu        sync.Mutex
	lastBatch string
}

func NewRunner(engine *predictor.Engine, st *store.Store, log *slog.Logger, workers, queueSize int) *Runner {
	return &Runner{
		engine:  engine,
		store:   st,
		log:     log,
		queue:   make(chan task, queueSize),
		workers: workers,
	}
}

// Start spins the worker pool. A zero worker count leaves jobs queued, which
// tests rely on.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

// Stop waits for in-flight runs to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Enqueue queues one tenant's prediction run. Returns an error when the
// queue is full rather than blocking the caller.
func (r *Runner) Enqueue(tenantID string, refDate time.Time) error {
	select {
	case r.queue <- task{tenantID: tenantID, refDate: refDate}:
		atomic.AddInt64(&r.enqueued, 1)
		return nil
	default:
		return fmt.Errorf("job queue full")
	}
}

// RunAll enqueues a prediction run for every tenant with a metrics row on
// refDate. Returns the batch id and how many tenants were accepted.
func (r *Runner) RunAll(ctx context.Context, refDate time.Time) (string, int, error) {
	date := refDate.Format("2006-01-02")
	tenants, err := r.store.TenantsWithMetricsOn(ctx, date)
	if err != nil {
		return "", 0, fmt.Errorf("list tenants: %w", err)
	}
	batchID := uuid.NewString()
	accepted := 0
	for _, t := range tenants {
		if err := r.Enqueue(t, refDate); err != nil {
			r.log.Warn("batch enqueue dropped", slog.String("tenant", t), slog.String("err", err.Error()))
			continue
		}
		accepted++
	}
	r.mu.Lock()
	r.lastBatch = batchID
	r.mu.Unlock()
	r.log.Info("prediction batch queued", slog.String("batch", batchID), slog.Int("accepted", accepted))
	return batchID, accepted, nil
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.queue:
			if _, err := r.engine.Run(ctx, t.tenantID, t.refDate); err != nil {
				atomic.AddInt64(&r.failed, 1)
				r.log.Error("batch prediction failed", slog.String("tenant", t.tenantID), slog.String("err", err.Error()))
				continue
			}
			atomic.AddInt64(&r.completed, 1)
		}
	}
}

// Snapshot returns current runner counters.
func (r *Runner) Snapshot() Stats {
	r.mu.Lock()
	last := r.lastBatch
	r.mu.Unlock()
	return Stats{
		Enqueued:  atomic.LoadInt64(&r.enqueued),
		Completed: atomic.LoadInt64(&r.completed),
		Failed:    atomic.LoadInt64(&r.failed),
		LastBatch: last,
		Workers:   r.workers,
		QueueLen:  len(r.queue),
	}
}
