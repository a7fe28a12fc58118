// Package watch invalidates the tree model cache when the model document on
// disk changes, so retrained models are picked up without a restart.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"churnwatch/internal/metrics"
	"churnwatch/internal/treemodel"
)

type Watcher struct {
	cache   *treemodel.Cache
	metrics *metrics.Metrics
	log     *slog.Logger
	enabled bool
}

func New(cache *treemodel.Cache, m *metrics.Metrics, log *slog.Logger, enabled bool) *Watcher {
	return &Watcher{cache: cache, metrics: m, log: log, enabled: enabled}
}

// Start watches the model file's directory. fsnotify watches directories
// rather than files so atomic replace (write temp + rename) is still seen.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.enabled {
		w.log.Info("model watcher disabled")
		return nil
	}
	dir := filepath.Dir(w.cache.Path())
	if _, err := os.Stat(dir); err != nil {
		w.log.Warn("model directory missing, watcher not started", slog.String("dir", dir))
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	go func() {
		defer watcher.Close()
		target := filepath.Clean(w.cache.Path())
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-watcher.Events:
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
					w.cache.Invalidate()
					w.metrics.ModelReloads.Inc()
					w.log.Info("model file changed, cache invalidated", slog.String("path", evt.Name))
				}
			case err := <-watcher.Errors:
				w.log.Warn("model watcher error", slog.String("err", err.Error()))
			}
		}
	}()
	return watcher.Add(dir)
}
