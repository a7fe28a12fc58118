package treemodel

import (
	"os"
	"sync"
)

// Cache holds the loaded model for process-wide, read-only sharing across
// concurrent requests. The model file is read at most once per invalidation.
type Cache struct {
	path string

	mu     sync.RWMutex
	model  *Model
	err    error
	loaded bool
}

func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Model returns the cached model, loading it from disk on first use. Load
// failures are cached too, so a broken model file does not get re-read on
// every prediction.
func (c *Cache) Model() (*Model, error) {
	c.mu.RLock()
	if c.loaded {
		m, err := c.model, c.err
		c.mu.RUnlock()
		return m, err
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.model, c.err
	}
	c.model, c.err = c.load()
	c.loaded = true
	return c.model, c.err
}

func (c *Cache) load() (*Model, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return nil, err
	}
	return Load(raw)
}

// Invalidate drops the cached model so the next call reloads from disk.
// Called by the model-file watcher.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model, c.err, c.loaded = nil, nil, false
}

// Path returns the watched model file path.
func (c *Cache) Path() string { return c.path }
