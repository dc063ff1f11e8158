package memory

import (
	"sync"
	"time"
)

// AccessStats records how often and how recently an entry was recalled.
type AccessStats struct {
	Count      int64     `json:"count"`
	LastAccess time.Time `json:"last_access"`
}

// AccessTracker keeps per-entry access statistics in a side table keyed by
// entry id. It holds only id references, never entry copies, and must be
// purged when the entry is removed so no dangling stats survive.
type AccessTracker struct {
	mu    sync.RWMutex
	stats map[string]AccessStats
	now   func() time.Time
}

// AccessTrackerConfig configures an AccessTracker.
type AccessTrackerConfig struct {
	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time
}

func NewAccessTracker(config AccessTrackerConfig) *AccessTracker {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &AccessTracker{
		stats: make(map[string]AccessStats),
		now:   now,
	}
}

// Record bumps the access count and last-access time for id.
func (t *AccessTracker) Record(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats[id]
	s.Count++
	s.LastAccess = t.now()
	t.stats[id] = s
}

// Get returns the stats for id, reporting whether any access was recorded.
func (t *AccessTracker) Get(id string) (AccessStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[id]
	return s, ok
}

// Forget drops the stats for id. Forgetting an unknown id is a no-op.
func (t *AccessTracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.stats, id)
}

// Len returns the number of tracked ids.
func (t *AccessTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.stats)
}
