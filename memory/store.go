package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memoria-ai/memoria/internal/metrics"
)

// ErrDimensionMismatch is returned when an embedding does not match the
// store-configured dimension. Mismatched writes are rejected, never coerced.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Persister is an optional collaborator that receives a best-effort snapshot
// of the store. It may no-op; failures are logged and swallowed, never
// surfaced to callers.
type Persister interface {
	Persist(ctx context.Context, entries []MemoryEntry) error
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// MaxEntries caps the number of entries. When an Add pushes the store
	// past the cap, the single oldest-inserted entry is evicted immediately.
	// This is a crude backstop, not the retention policy: set it above the
	// Optimizer target so score-driven eviction stays primary. 0 means
	// unbounded.
	MaxEntries int

	// Dimension validates embeddings when > 0.
	Dimension int

	// Tracker, when set, is bumped on reads and purged on removals so
	// access stats never dangle.
	Tracker *AccessTracker

	// Persister, when set, receives best-effort snapshots on Flush.
	Persister Persister

	// Collector, when set, reports FIFO backstop evictions. Nil disables
	// metrics.
	Collector *metrics.Collector

	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time
}

// Store is a capacity-bounded, insertion-ordered table of memory entries.
// It exclusively owns its entries; Get and List hand out copies so a
// background optimization pass never observes mid-mutation state. All
// operations take the mutex per call and never hold it across calls.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*MemoryEntry
	order   []string // insertion order, for FIFO eviction and List
	dirty   bool
	gen     uint64 // bumped on every mutation; guards the dirty flag across an unlocked Persist

	maxEntries int
	dimension  int
	tracker    *AccessTracker
	persister  Persister
	collector  *metrics.Collector
	now        func() time.Time
	logger     *zap.Logger
}

func NewStore(config StoreConfig, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		entries:    make(map[string]*MemoryEntry),
		maxEntries: config.MaxEntries,
		dimension:  config.Dimension,
		tracker:    config.Tracker,
		persister:  config.Persister,
		collector:  config.Collector,
		now:        now,
		logger:     logger.With(zap.String("component", "memory_store")),
	}
}

// Add stores a new entry and returns its generated id. Metadata.Timestamp
// defaults to the creation time when unset. An embedding that does not match
// the configured dimension rejects the whole write.
func (s *Store) Add(text string, metadata Metadata, embedding []float64) (string, error) {
	if metadata.Source == "" {
		return "", fmt.Errorf("metadata.source is required")
	}
	if err := s.checkDimension(embedding); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if metadata.Timestamp.IsZero() {
		metadata.Timestamp = now
	}

	entry := &MemoryEntry{
		ID:        uuid.NewString(),
		Text:      text,
		Metadata:  metadata.clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if embedding != nil {
		entry.Embedding = append([]float64(nil), embedding...)
	}

	s.entries[entry.ID] = entry
	s.order = append(s.order, entry.ID)
	s.markDirtyLocked()

	s.evictOldestLocked()

	return entry.ID, nil
}

// Get returns a copy of the entry and records the access when a tracker is
// attached. An unknown id returns (zero, false), never an error.
func (s *Store) Get(id string) (MemoryEntry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	var out MemoryEntry
	if ok {
		out = entry.clone()
	}
	s.mu.RUnlock()

	if !ok {
		return MemoryEntry{}, false
	}
	if s.tracker != nil {
		s.tracker.Record(id)
	}
	return out, true
}

// Patch describes a partial update. Nil fields are left untouched; Metadata
// is merged field-wise (zero values skipped, Extra keys merged in).
type Patch struct {
	Text      *string
	Embedding []float64
	Metadata  *Metadata
}

// Update applies the patch, bumps UpdatedAt and preserves CreatedAt. It
// returns the updated copy, or (zero, false) for an unknown id.
func (s *Store) Update(id string, patch Patch) (MemoryEntry, bool, error) {
	if patch.Embedding != nil {
		if err := s.checkDimension(patch.Embedding); err != nil {
			return MemoryEntry{}, false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return MemoryEntry{}, false, nil
	}

	if patch.Text != nil {
		entry.Text = *patch.Text
	}
	if patch.Embedding != nil {
		entry.Embedding = append([]float64(nil), patch.Embedding...)
	}
	if patch.Metadata != nil {
		mergeMetadata(&entry.Metadata, *patch.Metadata)
	}
	entry.UpdatedAt = s.now()
	s.markDirtyLocked()

	return entry.clone(), true, nil
}

// Delete removes the entry and its access stats. Deleting an unknown or
// already-deleted id returns false, never an error.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	_, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
		s.removeFromOrderLocked(id)
		s.markDirtyLocked()
	}
	s.mu.Unlock()

	if ok && s.tracker != nil {
		s.tracker.Forget(id)
	}
	return ok
}

// List returns copies of the entries in insertion order, filtered by the
// predicate when one is supplied.
func (s *Store) List(predicate func(MemoryEntry) bool) []MemoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MemoryEntry, 0, len(s.order))
	for _, id := range s.order {
		entry, ok := s.entries[id]
		if !ok {
			continue
		}
		copied := entry.clone()
		if predicate == nil || predicate(copied) {
			out = append(out, copied)
		}
	}
	return out
}

// Count returns the number of stored entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Flush hands a snapshot to the persister when the store is dirty. The save
// is best-effort: persister errors are logged and swallowed, and correctness
// never depends on it succeeding. Persist runs outside the lock, so the
// dirty flag is cleared only when no mutation landed in the meantime; a
// mid-persist write keeps the store dirty for the next Flush.
func (s *Store) Flush(ctx context.Context) {
	s.mu.RLock()
	dirty, gen := s.dirty, s.gen
	s.mu.RUnlock()

	if !dirty || s.persister == nil {
		return
	}

	snapshot := s.List(nil)
	if err := s.persister.Persist(ctx, snapshot); err != nil {
		s.logger.Warn("persist failed", zap.Int("entries", len(snapshot)), zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.gen == gen {
		s.dirty = false
	}
	s.mu.Unlock()

	s.logger.Debug("store persisted", zap.Int("entries", len(snapshot)))
}

// StoreStats is a point-in-time summary of the store contents.
type StoreStats struct {
	Entries      int       `json:"entries"`
	WithVectors  int       `json:"with_vectors"`
	OldestEntry  time.Time `json:"oldest_entry,omitempty"`
	NewestEntry  time.Time `json:"newest_entry,omitempty"`
	TotalTextLen int       `json:"total_text_len"`
}

// Stats returns a snapshot summary of the store.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{Entries: len(s.entries)}
	for _, entry := range s.entries {
		if len(entry.Embedding) > 0 {
			stats.WithVectors++
		}
		stats.TotalTextLen += len(entry.Text)
		if stats.OldestEntry.IsZero() || entry.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = entry.CreatedAt
		}
		if entry.CreatedAt.After(stats.NewestEntry) {
			stats.NewestEntry = entry.CreatedAt
		}
	}
	return stats
}

func (s *Store) checkDimension(embedding []float64) error {
	if embedding == nil || s.dimension <= 0 {
		return nil
	}
	if len(embedding) != s.dimension {
		return fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(embedding), s.dimension)
	}
	return nil
}

// evictOldestLocked enforces the FIFO backstop: at most one entry, the
// oldest-inserted, is evicted per overflowing Add.
func (s *Store) evictOldestLocked() {
	if s.maxEntries <= 0 || len(s.entries) <= s.maxEntries {
		return
	}

	evicted := s.order[0]
	s.order = s.order[1:]
	delete(s.entries, evicted)

	if s.tracker != nil {
		// Safe here: the tracker has its own lock and never calls back
		// into the store.
		s.tracker.Forget(evicted)
	}
	s.collector.AddEvictions(metrics.ReasonFIFO, 1)
	s.logger.Debug("fifo backstop evicted oldest entry", zap.String("id", evicted))
}

func (s *Store) markDirtyLocked() {
	s.dirty = true
	s.gen++
}

func (s *Store) removeFromOrderLocked(id string) {
	for i, candidate := range s.order {
		if candidate == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func mergeMetadata(dst *Metadata, patch Metadata) {
	if patch.Source != "" {
		dst.Source = patch.Source
	}
	if !patch.Timestamp.IsZero() {
		dst.Timestamp = patch.Timestamp
	}
	if patch.Category != "" {
		dst.Category = patch.Category
	}
	if patch.Tags != nil {
		dst.Tags = append([]string(nil), patch.Tags...)
	}
	if patch.Importance != 0 {
		dst.Importance = patch.Importance
	}
	if patch.Confidence != 0 {
		dst.Confidence = patch.Confidence
	}
	if patch.AgentID != "" {
		dst.AgentID = patch.AgentID
	}
	if patch.ExpiresAt != nil {
		t := *patch.ExpiresAt
		dst.ExpiresAt = &t
	}
	if patch.Extra != nil {
		if dst.Extra == nil {
			dst.Extra = make(map[string]any, len(patch.Extra))
		}
		for k, v := range patch.Extra {
			dst.Extra[k] = v
		}
	}
}
