package memory

import (
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

const (
	// protectedImportance: entries scored above this are never considered
	// duplicate candidates, no matter their text.
	protectedImportance = 0.8

	// signaturePrefixRunes bounds the normalized prefix that feeds the
	// grouping signature. Duplicates that only diverge past this prefix
	// are missed; that false negative is the accepted price of keeping
	// discovery O(n) instead of pairwise.
	signaturePrefixRunes = 100
)

// Deduplicator finds redundant near-identical entries by grouping on a
// rolling hash of the normalized text prefix.
type Deduplicator struct {
	logger *zap.Logger
}

func NewDeduplicator(logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{
		logger: logger.With(zap.String("component", "memory_dedup")),
	}
}

// IdentifyRedundant returns the ids of entries superseded by a newer entry
// with the same normalized text prefix. Within each duplicate group the
// newest entry by CreatedAt survives; protected entries (importance above
// protectedImportance) are excluded from candidacy entirely. The returned
// order is deterministic for a given input order.
func (d *Deduplicator) IdentifyRedundant(entries []MemoryEntry) []string {
	groups := make(map[uint32][]MemoryEntry)
	var signatures []uint32 // group iteration order

	for _, entry := range entries {
		if entry.Metadata.Importance > protectedImportance {
			continue
		}
		sig := textSignature(normalizeText(entry.Text))
		if _, seen := groups[sig]; !seen {
			signatures = append(signatures, sig)
		}
		groups[sig] = append(groups[sig], entry)
	}

	var redundant []string
	for _, sig := range signatures {
		group := groups[sig]
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].CreatedAt.After(group[j].CreatedAt)
		})
		for _, entry := range group[1:] {
			redundant = append(redundant, entry.ID)
		}
	}

	if len(redundant) > 0 {
		d.logger.Debug("redundant entries identified",
			zap.Int("candidates", len(entries)),
			zap.Int("redundant", len(redundant)),
		)
	}
	return redundant
}

// normalizeText lowercases, strips punctuation, collapses whitespace and
// keeps the first signaturePrefixRunes runes.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	runes := 0
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if runes >= signaturePrefixRunes {
			break
		}
		switch {
		case unicode.IsSpace(r):
			if lastSpace {
				continue
			}
			b.WriteRune(' ')
			lastSpace = true
			runes++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		default:
			b.WriteRune(r)
			lastSpace = false
			runes++
		}
	}
	return strings.TrimSpace(b.String())
}

// textSignature is a 32-bit rolling hash (h*31 + rune) of the normalized
// prefix, used purely as a grouping key.
func textSignature(normalized string) uint32 {
	var h uint32
	for _, r := range normalized {
		h = h*31 + uint32(r)
	}
	return h
}
