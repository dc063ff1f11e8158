package memory

import (
	"encoding/json"
	"math"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const ellipsis = "..."

// CompactionConfig configures lossy per-entry size reduction.
type CompactionConfig struct {
	// MaxTextLength is the text budget in bytes. 0 disables truncation.
	MaxTextLength int

	// DecimalPrecision is the number of decimal places kept per embedding
	// component. 0 disables rounding.
	DecimalPrecision int
}

// DefaultCompactionConfig returns sensible defaults.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		MaxTextLength:    500,
		DecimalPrecision: 4,
	}
}

// Compactor shrinks entries without deleting them: text is truncated at
// sentence boundaries, embedding components are rounded, and metadata is
// rebuilt keeping the recognized fields plus Extra passthrough.
type Compactor struct {
	config CompactionConfig
	logger *zap.Logger
}

func NewCompactor(config CompactionConfig, logger *zap.Logger) *Compactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compactor{
		config: config,
		logger: logger.With(zap.String("component", "memory_compactor")),
	}
}

// CompactEntry returns a size-reduced copy of the entry and the computed
// byte savings. The caller persists the copy back only when savings is
// strictly positive.
func (c *Compactor) CompactEntry(entry MemoryEntry) (MemoryEntry, int) {
	out := entry.clone()
	savings := 0

	if c.config.MaxTextLength > 0 && len(out.Text) > c.config.MaxTextLength {
		truncated := truncateAtSentences(out.Text, c.config.MaxTextLength)
		savings += len(out.Text) - len(truncated)
		out.Text = truncated
	}

	if c.config.DecimalPrecision > 0 && len(out.Embedding) > 0 {
		before := serializedLen(out.Embedding)
		out.Embedding = roundEmbedding(out.Embedding, c.config.DecimalPrecision)
		savings += before - serializedLen(out.Embedding)
	}

	before := serializedLen(entry.Metadata)
	out.Metadata = rebuildMetadata(entry.Metadata)
	savings += before - serializedLen(out.Metadata)

	return out, savings
}

// truncateAtSentences accumulates whole sentences until the next one would
// exceed the budget minus the ellipsis. When the text has no sentence
// boundaries (or not even the first sentence fits), it falls back to keeping
// head and tail halves around the ellipsis.
func truncateAtSentences(text string, maxLen int) string {
	budget := maxLen - len(ellipsis)
	if budget <= 0 {
		return headTail(text, maxLen)
	}

	sentences := splitSentences(text)
	if len(sentences) < 2 {
		return headTail(text, maxLen)
	}

	var b strings.Builder
	for _, sentence := range sentences {
		if b.Len()+len(sentence) > budget {
			break
		}
		b.WriteString(sentence)
	}
	if b.Len() == 0 {
		return headTail(text, maxLen)
	}
	return strings.TrimRight(b.String(), " ") + ellipsis
}

// splitSentences slices text into sentences, each keeping its terminator
// and trailing space. Terminators are '.', '!' and '?'.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			end := i + 1
			for end < len(text) && text[end] == ' ' {
				end++
			}
			sentences = append(sentences, text[start:end])
			i = end - 1
			start = end
		}
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}

// headTail keeps half the budget from each end of the text around an
// ellipsis. Budgets are bytes, but cuts always land on rune boundaries so
// the result stays valid UTF-8.
func headTail(text string, budget int) string {
	keep := budget - len(ellipsis)
	if keep <= 0 {
		if budget < 0 {
			budget = 0
		}
		if budget >= len(text) {
			return text
		}
		return text[:floorRuneBoundary(text, budget)]
	}
	if keep >= len(text) {
		return text
	}
	head := floorRuneBoundary(text, keep/2)
	tail := keep - head
	start := ceilRuneBoundary(text, len(text)-tail)
	return text[:head] + ellipsis + text[start:]
}

// floorRuneBoundary returns the largest index <= n that starts a rune.
func floorRuneBoundary(s string, n int) int {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// ceilRuneBoundary returns the smallest index >= n that starts a rune,
// or len(s).
func ceilRuneBoundary(s string, n int) int {
	for n < len(s) && !utf8.RuneStart(s[n]) {
		n++
	}
	return n
}

func roundEmbedding(embedding []float64, precision int) []float64 {
	factor := math.Pow10(precision)
	out := make([]float64, len(embedding))
	for i, v := range embedding {
		out[i] = math.Round(v*factor) / factor
	}
	return out
}

// rebuildMetadata copies the recognized fields and passes Extra through
// unchanged, dropping nothing the caller set but shedding any accumulated
// empty containers.
func rebuildMetadata(m Metadata) Metadata {
	out := Metadata{
		Source:     m.Source,
		Timestamp:  m.Timestamp,
		Category:   m.Category,
		Importance: m.Importance,
		Confidence: m.Confidence,
		AgentID:    m.AgentID,
	}
	if len(m.Tags) > 0 {
		out.Tags = append([]string(nil), m.Tags...)
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		out.ExpiresAt = &t
	}
	if len(m.Extra) > 0 {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// serializedLen measures the JSON length of v; 0 when v cannot marshal.
func serializedLen(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}
