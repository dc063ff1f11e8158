package memory

import (
	"math"
	"time"
)

// Retention score weights. Each term is bounded to [0,1] by construction,
// so the weighted sum never leaves [0,1] and needs no clamp.
const (
	importanceWeight = 0.4
	confidenceWeight = 0.2
	recencyWeight    = 0.2
	accessWeight     = 0.2

	// accessSaturation is the access count at which the access factor
	// reaches its ceiling.
	accessSaturation = 10

	// recencyHorizonLog10Days: recency decays to zero at 10^3 days of age.
	recencyHorizonLog10Days = 3
)

// Score computes the retention score for an entry in [0,1]:
//
//	0.4*importance + 0.2*confidence + 0.2*recency + 0.2*accessFactor
//
// Age is measured from lastAccess when known, else Metadata.Timestamp, else
// CreatedAt. The function is pure: identical inputs always yield bit-identical
// output, which keeps eviction ordering reproducible.
func Score(entry MemoryEntry, accessCount int64, lastAccess time.Time, now time.Time) float64 {
	return importanceWeight*entry.Metadata.ImportanceOrDefault() +
		confidenceWeight*entry.Metadata.ConfidenceOrDefault() +
		recencyWeight*recencyScore(entry, lastAccess, now) +
		accessWeight*accessFactor(accessCount)
}

// recencyScore = max(0, 1 - log10(ageDays+1)/3). Same-day access scores
// ~1.0, ten days ~0.67, a thousand days 0.
func recencyScore(entry MemoryEntry, lastAccess time.Time, now time.Time) float64 {
	ref := lastAccess
	if ref.IsZero() {
		ref = entry.Metadata.Timestamp
	}
	if ref.IsZero() {
		ref = entry.CreatedAt
	}
	if ref.IsZero() {
		return 0
	}

	ageDays := now.Sub(ref).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	score := 1 - math.Log10(ageDays+1)/recencyHorizonLog10Days
	if score < 0 {
		return 0
	}
	return score
}

func accessFactor(count int64) float64 {
	if count < 0 {
		return 0
	}
	factor := float64(count) / accessSaturation
	if factor > 1 {
		return 1
	}
	return factor
}
