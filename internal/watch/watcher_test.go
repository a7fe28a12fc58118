package watch

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"churnwatch/internal/features"
	"churnwatch/internal/metrics"
	"churnwatch/internal/treemodel"
)

func leafDoc(leaf string) string {
	return `{"trees": [{"nodeid": 0, "leaf": ` + leaf + `}]}`
}

func prob(t *testing.T, cache *treemodel.Cache) float64 {
	t.Helper()
	m, err := cache.Model()
	if err != nil {
		t.Fatalf("load model: %v", err)
	}
	return m.PredictProbability(features.Vector{})
}

func TestWatcherInvalidatesOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	if err := os.WriteFile(path, []byte(leafDoc("0.2")), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	cache := treemodel.NewCache(path)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := New(cache, metrics.New(), log, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	before := prob(t, cache)

	if err := os.WriteFile(path, []byte(leafDoc("0.9")), 0o644); err != nil {
		t.Fatalf("rewrite model: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if math.Abs(prob(t, cache)-before) > 1e-9 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("cache still serving the old model after rewrite")
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	if err := os.WriteFile(path, []byte(leafDoc("0.2")), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	cache := treemodel.NewCache(path)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := New(cache, metrics.New(), log, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	before := prob(t, cache)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := prob(t, cache); got != before {
		t.Fatalf("sibling write invalidated the cache: %v vs %v", got, before)
	}
}

func TestWatcherDisabled(t *testing.T) {
	cache := treemodel.NewCache(filepath.Join(t.TempDir(), "model.json"))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := New(cache, metrics.New(), log, false)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("disabled watcher should be a no-op, got %v", err)
	}
}

func TestWatcherMissingDirectory(t *testing.T) {
	cache := treemodel.NewCache(filepath.Join(t.TempDir(), "gone", "model.json"))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := New(cache, metrics.New(), log, true)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("missing directory should not error, got %v", err)
	}
}
