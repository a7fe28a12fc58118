package jobs

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"churnwatch/internal/metrics"
	"churnwatch/internal/predictor"
	"churnwatch/internal/store"
	"churnwatch/internal/treemodel"
)

var refDate = time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)

func newTestRunner(t *testing.T, workers, queueSize int) (*Runner, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := treemodel.NewCache(filepath.Join(t.TempDir(), "absent.json"))
	engine := predictor.NewEngine(st, cache, metrics.New(), log, 14)
	return NewRunner(engine, st, log, workers, queueSize), st
}

func seedTenant(t *testing.T, st *store.Store, tenant string) {
	t.Helper()
	err := st.UpsertDailyMetrics(context.Background(), &store.DailyMetrics{
		TenantID: tenant, Date: refDate.Format("2006-01-02"), Transactions: 10, Sales: 1000,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", tenant, err)
	}
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	r, _ := newTestRunner(t, 0, 1)

	if err := r.Enqueue("t1", refDate); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := r.Enqueue("t2", refDate); err == nil {
		t.Fatal("full queue must reject, not block")
	}
	if stats := r.Snapshot(); stats.Enqueued != 1 || stats.QueueLen != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRunAllEnqueuesEveryTenantOnDate(t *testing.T) {
	r, st := newTestRunner(t, 0, 8)
	seedTenant(t, st, "shop-a")
	seedTenant(t, st, "shop-b")

	batchID, accepted, err := r.RunAll(context.Background(), refDate)
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	if accepted != 2 || batchID == "" {
		t.Fatalf("accepted = %d batch = %q", accepted, batchID)
	}
	if stats := r.Snapshot(); stats.LastBatch != batchID || stats.QueueLen != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWorkersDrainQueueAndPersistOutcomes(t *testing.T) {
	r, st := newTestRunner(t, 2, 8)
	seedTenant(t, st, "shop-a")
	seedTenant(t, st, "shop-b")

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop()

	if _, accepted, err := r.RunAll(ctx, refDate); err != nil || accepted != 2 {
		t.Fatalf("run all: accepted=%d err=%v", accepted, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.Snapshot().Completed == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if stats := r.Snapshot(); stats.Completed != 2 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	date := refDate.Format("2006-01-02")
	for _, tenant := range []string{"shop-a", "shop-b"} {
		o, err := st.OutcomeForDate(ctx, tenant, date)
		if err != nil || o == nil {
			t.Fatalf("outcome for %s: %v %v", tenant, o, err)
		}
	}
}

func TestStopWaitsForWorkers(t *testing.T) {
	r, st := newTestRunner(t, 1, 8)
	seedTenant(t, st, "shop-a")

	r.Start(context.Background())
	if err := r.Enqueue("shop-a", refDate); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && r.Snapshot().Completed == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
