package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memoria-ai/memoria/internal/metrics"
)

// OptimizerConfig configures the background optimization scheduler.
type OptimizerConfig struct {
	// TargetEntries is the count the optimizer evicts down to. This is the
	// real retention policy; the store's own MaxEntries should sit above it
	// so the FIFO backstop rarely fires.
	TargetEntries int

	// Interval between optimization cycles. Defaults to 15 minutes.
	Interval time.Duration

	// CompactionHour is the wall-clock hour gating the daily compaction
	// pass. Defaults to 3 (03:00).
	CompactionHour int

	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptimizerConfig returns sensible defaults.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		TargetEntries:  1000,
		Interval:       15 * time.Minute,
		CompactionHour: 3,
	}
}

// CycleResult reports what one optimization cycle did. Counts are partial
// success counts: a failure on one id never aborts the batch.
type CycleResult struct {
	Started         time.Time `json:"started"`
	ExpiredRemoved  int       `json:"expired_removed"`
	DedupRemoved    int       `json:"dedup_removed"`
	DedupSkipped    bool      `json:"dedup_skipped,omitempty"`
	ScoreEvicted    int       `json:"score_evicted"`
	Missing         int       `json:"missing,omitempty"`
	Compacted       int       `json:"compacted"`
	CompactionSaved int       `json:"compaction_saved"`
	Recovered       bool      `json:"recovered,omitempty"`
	EntriesAfter    int       `json:"entries_after"`
}

// Optimizer keeps the store within its quality and capacity budgets. Each
// cycle runs deduplication, then score-driven eviction down to
// TargetEntries, and once per day a compaction pass over the survivors.
// Nothing in a cycle is fatal: failures are isolated so the scheduler
// survives indefinitely.
type Optimizer struct {
	store     *Store
	tracker   *AccessTracker
	dedup     *Deduplicator
	compactor *Compactor
	collector *metrics.Collector

	config OptimizerConfig
	now    func() time.Time
	logger *zap.Logger

	mu                sync.Mutex
	running           bool
	stopCh            chan struct{}
	lastCompactionDay time.Time
}

// NewOptimizer wires the optimizer to its collaborators. The tracker and
// collector may be nil; dedup and compactor fall back to defaults.
func NewOptimizer(
	store *Store,
	tracker *AccessTracker,
	dedup *Deduplicator,
	compactor *Compactor,
	collector *metrics.Collector,
	config OptimizerConfig,
	logger *zap.Logger,
) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedup == nil {
		dedup = NewDeduplicator(logger)
	}
	if compactor == nil {
		compactor = NewCompactor(DefaultCompactionConfig(), logger)
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Optimizer{
		store:     store,
		tracker:   tracker,
		dedup:     dedup,
		compactor: compactor,
		collector: collector,
		config:    config,
		now:       now,
		logger:    logger.With(zap.String("component", "memory_optimizer")),
	}
}

// Start launches the periodic optimization loop. Calling Start on a running
// optimizer is a no-op.
func (o *Optimizer) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	stopCh := make(chan struct{})
	o.stopCh = stopCh
	o.mu.Unlock()

	// The loop owns this channel for its whole life: a later Stop/Start pair
	// swaps the field, and a stale loop must keep watching the channel it
	// was started with, not the replacement.
	go o.run(ctx, stopCh)

	o.logger.Info("optimizer started",
		zap.Duration("interval", o.config.Interval),
		zap.Int("target_entries", o.config.TargetEntries),
	)
	return nil
}

// Stop cancels future cycles and flushes the store once, best-effort.
// Stop is idempotent: calling it twice is safe.
func (o *Optimizer) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	close(o.stopCh)
	o.running = false
	o.mu.Unlock()

	o.store.Flush(context.Background())
	o.logger.Info("optimizer stopped")
}

func (o *Optimizer) run(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.OptimizeOnce(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// OptimizeOnce runs a single optimization cycle. A panic anywhere in the
// cycle is recovered and reported so one bad entry never halts future
// cycles or the host process.
func (o *Optimizer) OptimizeOnce(ctx context.Context) (result CycleResult) {
	now := o.now()
	result.Started = now

	defer func() {
		if r := recover(); r != nil {
			result.Recovered = true
			o.logger.Error("optimization cycle recovered from panic", zap.Any("panic", r))
		}
		result.EntriesAfter = o.store.Count()
		o.collector.ObserveCycle(result.Recovered)
		o.collector.SetStoreEntries(result.EntriesAfter)
		o.logger.Info("optimization cycle finished",
			zap.Int("expired_removed", result.ExpiredRemoved),
			zap.Int("dedup_removed", result.DedupRemoved),
			zap.Int("score_evicted", result.ScoreEvicted),
			zap.Int("compacted", result.Compacted),
			zap.Int("entries_after", result.EntriesAfter),
			zap.Bool("recovered", result.Recovered),
		)
	}()

	o.sweepExpired(now, &result)
	o.dedupPhase(&result)

	if o.config.TargetEntries > 0 && o.store.Count() > o.config.TargetEntries {
		o.scoreEvictPhase(now, &result)
	}

	if o.compactionDue(now) {
		o.compactionPhase(ctx, &result)
	}
	return result
}

// sweepExpired drops entries whose ExpiresAt has passed.
func (o *Optimizer) sweepExpired(now time.Time, result *CycleResult) {
	expired := o.store.List(func(e MemoryEntry) bool { return e.Expired(now) })
	for _, entry := range expired {
		if o.store.Delete(entry.ID) {
			result.ExpiredRemoved++
		}
	}
	o.collector.AddEvictions(metrics.ReasonExpired, result.ExpiredRemoved)
}

// dedupPhase removes redundant duplicates. A failure in discovery skips the
// phase for this cycle only; deletion failures are tolerated per id.
func (o *Optimizer) dedupPhase(result *CycleResult) {
	redundant, ok := o.identifyRedundant()
	if !ok {
		result.DedupSkipped = true
		o.logger.Warn("dedup discovery failed, skipping phase for this cycle")
		return
	}

	for _, id := range redundant {
		// Entries may disappear between discovery and deletion; a miss is
		// not a failure.
		if o.store.Delete(id) {
			result.DedupRemoved++
		} else {
			result.Missing++
		}
	}
	o.collector.AddEvictions(metrics.ReasonDedup, result.DedupRemoved)
}

func (o *Optimizer) identifyRedundant() (ids []string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ids, ok = nil, false
		}
	}()
	return o.dedup.IdentifyRedundant(o.store.List(nil)), true
}

// scoreEvictPhase deletes the lowest-scoring surplus entries. The sort is
// stable so equal scores evict in insertion order, keeping eviction
// reproducible.
func (o *Optimizer) scoreEvictPhase(now time.Time, result *CycleResult) {
	entries := o.store.List(nil)
	surplus := len(entries) - o.config.TargetEntries
	if surplus <= 0 {
		return
	}

	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(entries))
	for _, entry := range entries {
		var stats AccessStats
		if o.tracker != nil {
			stats, _ = o.tracker.Get(entry.ID)
		}
		ranked = append(ranked, scored{
			id:    entry.ID,
			score: Score(entry, stats.Count, stats.LastAccess, now),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score < ranked[j].score
	})

	for _, candidate := range ranked[:surplus] {
		if o.store.Delete(candidate.id) {
			result.ScoreEvicted++
		} else {
			result.Missing++
		}
	}
	o.collector.AddEvictions(metrics.ReasonScore, result.ScoreEvicted)
}

// compactionDue gates compaction to once per day at the configured hour.
func (o *Optimizer) compactionDue(now time.Time) bool {
	if now.Hour() != o.config.CompactionHour {
		return false
	}
	day := now.Truncate(24 * time.Hour)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastCompactionDay.Equal(day) {
		return false
	}
	o.lastCompactionDay = day
	return true
}

// compactionPhase rewrites surviving entries whose compacted form is
// strictly smaller.
func (o *Optimizer) compactionPhase(ctx context.Context, result *CycleResult) {
	for _, entry := range o.store.List(nil) {
		compacted, saved := o.compactor.CompactEntry(entry)
		if saved <= 0 {
			continue
		}
		patch := Patch{
			Text:     &compacted.Text,
			Metadata: &compacted.Metadata,
		}
		if compacted.Embedding != nil {
			patch.Embedding = compacted.Embedding
		}
		if _, updated, err := o.store.Update(entry.ID, patch); err != nil || !updated {
			// Entry vanished or the write was rejected; move on.
			result.Missing++
			continue
		}
		result.Compacted++
		result.CompactionSaved += saved
	}

	o.collector.ObserveCompaction(result.Compacted, result.CompactionSaved)
	o.store.Flush(ctx)
}
