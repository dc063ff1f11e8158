// Package cache provides a reusable TTL and capacity trimming routine for
// arbitrary cache shapes. It shares the memory package's design philosophy
// (bounded resources, deterministic trimming) but is independent of it.
package cache

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Entry is one cache entry as seen by the reaper.
type Entry struct {
	Key   string
	Value any
}

// Cache is the minimal surface the reaper needs. Entries returns a snapshot;
// the reaper never assumes anything about value shapes beyond the best-effort
// timestamp heuristic.
type Cache interface {
	Len(ctx context.Context) (int, error)
	Entries(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, keys ...string) error
}

// Options controls one Reap run.
type Options struct {
	// MaxAge: entries whose best-effort timestamp is older than this are
	// deleted. A MaxAge of 0 deletes every entry with any recognized
	// timestamp in the past.
	MaxAge time.Duration

	// MaxItems caps the cache size after the TTL phase. 0 means uncapped.
	MaxItems int

	// Priority, when set, orders the capacity phase: lowest values are
	// deleted first. Defaults to the best-effort timestamp (oldest first).
	Priority func(key string, value any) float64

	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time
}

// Result reports before/after counts and the percent reduction.
type Result struct {
	Before    int     `json:"before"`
	After     int     `json:"after"`
	Removed   int     `json:"removed"`
	Reduction float64 `json:"reduction_pct"`
}

// Reap trims the cache in two phases: first every entry older than MaxAge
// goes, then if the size still exceeds MaxItems the lowest-priority surplus
// goes. Values without a recognizable timestamp default to the epoch and are
// treated as infinitely old.
func Reap(ctx context.Context, c Cache, opts Options, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	entries, err := c.Entries(ctx)
	if err != nil {
		return Result{}, err
	}

	result := Result{Before: len(entries)}

	// Phase 1: TTL.
	var stale []string
	var kept []Entry
	for _, entry := range entries {
		ts := entryTimestamp(entry.Value)
		if now().Sub(ts) > opts.MaxAge {
			stale = append(stale, entry.Key)
		} else {
			kept = append(kept, entry)
		}
	}
	if len(stale) > 0 {
		if err := c.Delete(ctx, stale...); err != nil {
			return Result{}, err
		}
	}

	// Phase 2: capacity.
	if opts.MaxItems > 0 && len(kept) > opts.MaxItems {
		priority := opts.Priority
		if priority == nil {
			priority = func(_ string, value any) float64 {
				return float64(entryTimestamp(value).UnixMilli())
			}
		}
		sort.SliceStable(kept, func(i, j int) bool {
			return priority(kept[i].Key, kept[i].Value) < priority(kept[j].Key, kept[j].Value)
		})

		surplus := make([]string, 0, len(kept)-opts.MaxItems)
		for _, entry := range kept[:len(kept)-opts.MaxItems] {
			surplus = append(surplus, entry.Key)
		}
		if err := c.Delete(ctx, surplus...); err != nil {
			return Result{}, err
		}
		kept = kept[len(surplus):]
	}

	result.After = len(kept)
	result.Removed = result.Before - result.After
	if result.Before > 0 {
		result.Reduction = float64(result.Removed) / float64(result.Before) * 100
	}

	logger.Debug("cache reaped",
		zap.Int("before", result.Before),
		zap.Int("after", result.After),
		zap.Float64("reduction_pct", result.Reduction),
	)
	return result, nil
}

// timestampFields are checked in order on map-shaped values.
var timestampFields = []string{"timestamp", "created", "time"}

// Timestamped lets cache values expose their own timestamp directly.
type Timestamped interface {
	Timestamp() time.Time
}

// entryTimestamp extracts a best-effort timestamp from an arbitrary value:
// a Timestamped implementation, or a map carrying one of the recognized
// field names as time.Time, epoch milliseconds, or RFC 3339 text. Anything
// else yields the zero time.
func entryTimestamp(value any) time.Time {
	switch v := value.(type) {
	case Timestamped:
		return v.Timestamp()
	case time.Time:
		return v
	case map[string]any:
		for _, field := range timestampFields {
			raw, ok := v[field]
			if !ok {
				continue
			}
			if ts := coerceTimestamp(raw); !ts.IsZero() {
				return ts
			}
		}
	}
	return time.Time{}
}

func coerceTimestamp(raw any) time.Time {
	switch t := raw.(type) {
	case time.Time:
		return t
	case int64:
		return time.UnixMilli(t)
	case int:
		return time.UnixMilli(int64(t))
	case float64:
		return time.UnixMilli(int64(t))
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
