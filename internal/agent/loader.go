package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Loader reads *.yaml agent definitions from a directory into Record
// values, hot-reloadable via an explicit Reload() call. Grounded on the
// teacher's AgentRegistry.LoadFromDirectory: read-all-then-atomically-swap
// under a RWMutex, with a reload counter for diagnostics.
type Loader struct {
	dir string

	mu           sync.RWMutex
	records      map[string]*Record
	reloadCount  int64
}

// NewLoader builds a loader rooted at dir. Call Reload to perform the
// initial load.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, records: make(map[string]*Record)}
}

// Reload re-reads every *.yaml file under the configured directory and
// atomically swaps the in-memory record set. A malformed file aborts the
// reload without touching the previously loaded set (fail-safe: stale data
// beats no data).
func (l *Loader) Reload() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("agent: reading directory %s: %w", l.dir, err)
	}

	next := make(map[string]*Record)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".yaml" && filepath.Ext(name) != ".yml" {
			continue
		}
		path := filepath.Join(l.dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("agent: reading %s: %w", path, err)
		}
		var rec Record
		if err := yaml.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("agent: parsing %s: %w", path, err)
		}
		if rec.ID == "" {
			return fmt.Errorf("agent: %s missing required field id", path)
		}
		rec.SourcePath = path
		if existing, ok := next[rec.ID]; ok {
			rec.Version = existing.Version + 1
		} else {
			rec.Version = 1
		}
		next[rec.ID] = &rec
	}

	l.mu.Lock()
	l.records = next
	l.mu.Unlock()
	atomic.AddInt64(&l.reloadCount, 1)
	return nil
}

// Get returns an agent record by id.
func (l *Loader) Get(id string) (*Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	return rec, ok
}

// ReloadCount reports how many successful reloads have occurred.
func (l *Loader) ReloadCount() int64 {
	return atomic.LoadInt64(&l.reloadCount)
}
