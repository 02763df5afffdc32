package routing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const counterFormatVersion = "1.0.0"

type counterFile struct {
	Version string `json:"version"`
	Count   int64  `json:"count"`
}

// Counter tracks how many times Route has actually been invoked, persisting
// across restarts so the cold-start schedule survives process restarts. This
// is distinct from the pattern store's size: patterns can be added without a
// route ever happening, and routing never touches the pattern store.
type Counter struct {
	mu    sync.Mutex
	path  string
	count int64
}

// NewCounter constructs a Counter backed by path, loading any previously
// persisted count. A missing or unreadable file starts the count at 0.
func NewCounter(path string) *Counter {
	c := &Counter{path: path}
	if data, err := os.ReadFile(path); err == nil {
		var f counterFile
		if json.Unmarshal(data, &f) == nil && f.Version == counterFormatVersion {
			c.count = f.Count
		}
	}
	return c
}

// Next returns the execution count to use for the upcoming route call (the
// number of routes that have completed so far), then increments and persists
// the counter for the next call.
func (c *Counter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.count
	c.count++
	// Persistence failure shouldn't block routing; the in-memory count still
	// advances, it just won't survive a crash.
	_ = c.persistLocked()
	return int(current)
}

func (c *Counter) persistLocked() error {
	if c.path == "" {
		return nil
	}
	data, err := json.Marshal(counterFile{Version: counterFormatVersion, Count: c.count})
	if err != nil {
		return fmt.Errorf("marshal routing counter: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("mkdir routing counter dir: %w", err)
	}
	tmp := fmt.Sprintf("%s.%d.tmp", c.path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write routing counter tmp: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename routing counter: %w", err)
	}
	return nil
}
