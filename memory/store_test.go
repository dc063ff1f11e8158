package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memoria-ai/memoria/internal/metrics"
)

func TestStore_AddGetRoundtrip(t *testing.T) {
	t.Parallel()

	store := NewStore(StoreConfig{Dimension: 3}, zap.NewNop())

	id, err := store.Add("grandview prices rose 5%", Metadata{
		Source:   "market-report",
		Category: "pricing",
		Tags:     []string{"grandview"},
	}, []float64{0.1, 0.2, 0.3})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entry, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "grandview prices rose 5%", entry.Text)
	assert.Equal(t, "market-report", entry.Metadata.Source)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, entry.Embedding)
	assert.False(t, entry.Metadata.Timestamp.IsZero())
	assert.False(t, entry.UpdatedAt.Before(entry.CreatedAt))
}

func TestStore_FIFOBackstop(t *testing.T) {
	t.Parallel()

	store := NewStore(StoreConfig{MaxEntries: 2}, zap.NewNop())

	idA, err := store.Add("entry A", Metadata{Source: "test"}, nil)
	require.NoError(t, err)
	idB, err := store.Add("entry B", Metadata{Source: "test"}, nil)
	require.NoError(t, err)
	idC, err := store.Add("entry C", Metadata{Source: "test"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, store.Count())

	_, ok := store.Get(idA)
	assert.False(t, ok, "oldest-inserted entry should be evicted")
	_, ok = store.Get(idB)
	assert.True(t, ok)
	_, ok = store.Get(idC)
	assert.True(t, ok)
}

func TestStore_DimensionMismatchRejected(t *testing.T) {
	t.Parallel()

	store := NewStore(StoreConfig{Dimension: 4}, zap.NewNop())

	_, err := store.Add("bad vector", Metadata{Source: "test"}, []float64{1, 2})
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, store.Count())

	// Absent embeddings are fine.
	_, err = store.Add("no vector", Metadata{Source: "test"}, nil)
	require.NoError(t, err)
}

func TestStore_UpdatePreservesCreatedAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(StoreConfig{
		Now: func() time.Time { return now },
	}, zap.NewNop())

	id, err := store.Add("original", Metadata{Source: "test", Importance: 0.3}, nil)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	text := "revised"
	updated, ok, err := store.Update(id, Patch{
		Text:     &text,
		Metadata: &Metadata{Confidence: 0.9, Extra: map[string]any{"neighborhood": "grandview"}},
	})
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "revised", updated.Text)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), updated.CreatedAt)
	assert.Equal(t, now, updated.UpdatedAt)
	// Merge keeps prior fields and folds Extra in.
	assert.Equal(t, 0.3, updated.Metadata.Importance)
	assert.Equal(t, 0.9, updated.Metadata.Confidence)
	assert.Equal(t, "grandview", updated.Metadata.Extra["neighborhood"])
}

func TestStore_UnknownIDs(t *testing.T) {
	t.Parallel()

	store := NewStore(StoreConfig{}, zap.NewNop())

	_, ok := store.Get("missing")
	assert.False(t, ok)

	_, ok, err := store.Update("missing", Patch{})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.False(t, store.Delete("missing"))
	assert.False(t, store.Delete("missing"), "double delete stays false, never an error")
}

func TestStore_ListInsertionOrder(t *testing.T) {
	t.Parallel()

	store := NewStore(StoreConfig{}, zap.NewNop())

	texts := []string{"first", "second", "third"}
	for _, txt := range texts {
		_, err := store.Add(txt, Metadata{Source: "test"}, nil)
		require.NoError(t, err)
	}

	listed := store.List(nil)
	require.Len(t, listed, 3)
	for i, entry := range listed {
		assert.Equal(t, texts[i], entry.Text)
	}

	filtered := store.List(func(e MemoryEntry) bool { return e.Text != "second" })
	require.Len(t, filtered, 2)
	assert.Equal(t, "first", filtered[0].Text)
	assert.Equal(t, "third", filtered[1].Text)
}

func TestStore_TrackerPurgedOnRemoval(t *testing.T) {
	t.Parallel()

	tracker := NewAccessTracker(AccessTrackerConfig{})
	store := NewStore(StoreConfig{MaxEntries: 1, Tracker: tracker}, zap.NewNop())

	idA, err := store.Add("entry A", Metadata{Source: "test"}, nil)
	require.NoError(t, err)

	_, ok := store.Get(idA)
	require.True(t, ok)
	stats, ok := tracker.Get(idA)
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Count)

	// FIFO eviction of A must drop its stats too.
	_, err = store.Add("entry B", Metadata{Source: "test"}, nil)
	require.NoError(t, err)
	_, ok = tracker.Get(idA)
	assert.False(t, ok, "no dangling access stats after eviction")

	// Explicit delete purges as well.
	listed := store.List(nil)
	require.Len(t, listed, 1)
	idB := listed[0].ID
	store.Get(idB)
	require.True(t, store.Delete(idB))
	_, ok = tracker.Get(idB)
	assert.False(t, ok)
}

func TestStore_FIFOEvictionReported(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg)
	store := NewStore(StoreConfig{MaxEntries: 1, Collector: collector}, zap.NewNop())

	_, err := store.Add("entry A", Metadata{Source: "test"}, nil)
	require.NoError(t, err)
	_, err = store.Add("entry B", Metadata{Source: "test"}, nil)
	require.NoError(t, err)

	expected := `
# HELP test_entries_evicted_total Total number of entries evicted, by reason
# TYPE test_entries_evicted_total counter
test_entries_evicted_total{reason="fifo"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"test_entries_evicted_total"))
}

type failingPersister struct {
	calls int
}

func (p *failingPersister) Persist(ctx context.Context, entries []MemoryEntry) error {
	p.calls++
	return errors.New("disk full")
}

func TestStore_FlushSwallowsPersisterFailure(t *testing.T) {
	t.Parallel()

	persister := &failingPersister{}
	store := NewStore(StoreConfig{Persister: persister}, zap.NewNop())

	_, err := store.Add("entry", Metadata{Source: "test"}, nil)
	require.NoError(t, err)

	store.Flush(context.Background())
	assert.Equal(t, 1, persister.calls)

	// Failure keeps the store dirty, so the next flush retries.
	store.Flush(context.Background())
	assert.Equal(t, 2, persister.calls)
}

type countingPersister struct {
	calls   int
	entries int
}

func (p *countingPersister) Persist(ctx context.Context, entries []MemoryEntry) error {
	p.calls++
	p.entries = len(entries)
	return nil
}

func TestStore_FlushOnlyWhenDirty(t *testing.T) {
	t.Parallel()

	persister := &countingPersister{}
	store := NewStore(StoreConfig{Persister: persister}, zap.NewNop())

	store.Flush(context.Background())
	assert.Equal(t, 0, persister.calls, "clean store should not persist")

	_, err := store.Add("entry", Metadata{Source: "test"}, nil)
	require.NoError(t, err)

	store.Flush(context.Background())
	assert.Equal(t, 1, persister.calls)
	assert.Equal(t, 1, persister.entries)

	store.Flush(context.Background())
	assert.Equal(t, 1, persister.calls, "successful flush clears the dirty flag")
}

type mutatingPersister struct {
	store   *Store
	calls   int
	mutated bool
}

func (p *mutatingPersister) Persist(ctx context.Context, entries []MemoryEntry) error {
	p.calls++
	if !p.mutated {
		p.mutated = true
		if _, err := p.store.Add("landed mid-save", Metadata{Source: "test"}, nil); err != nil {
			return err
		}
	}
	return nil
}

func TestStore_FlushKeepsDirtyWhenMutatedMidPersist(t *testing.T) {
	t.Parallel()

	persister := &mutatingPersister{}
	store := NewStore(StoreConfig{Persister: persister}, zap.NewNop())
	persister.store = store

	_, err := store.Add("entry", Metadata{Source: "test"}, nil)
	require.NoError(t, err)

	// The first persist races a concurrent write; the dirty flag must not
	// be wiped, or that write would be skipped by the next flush.
	store.Flush(context.Background())
	assert.Equal(t, 1, persister.calls)

	store.Flush(context.Background())
	assert.Equal(t, 2, persister.calls, "the mid-persist write forces a second save")

	store.Flush(context.Background())
	assert.Equal(t, 2, persister.calls, "clean after the second save")
}

func TestStore_MissingSourceRejected(t *testing.T) {
	t.Parallel()

	store := NewStore(StoreConfig{}, zap.NewNop())

	_, err := store.Add("no source", Metadata{}, nil)
	require.Error(t, err)
}
