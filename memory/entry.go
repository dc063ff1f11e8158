package memory

import (
	"time"
)

// Metadata carries the descriptive fields attached to a memory entry.
// Source and Timestamp are always populated; the remaining fields are
// optional and their zero values mean "not set". Extra passes through
// caller-defined fields that the store does not interpret.
type Metadata struct {
	Source     string         `json:"source"`
	Timestamp  time.Time      `json:"timestamp"`
	Category   string         `json:"category,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Importance float64        `json:"importance,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// defaultWeight is assumed for importance and confidence when the
// caller never set them. The zero value is treated as unset.
const defaultWeight = 0.5

// ImportanceOrDefault returns the importance, or defaultWeight when unset.
func (m Metadata) ImportanceOrDefault() float64 {
	if m.Importance == 0 {
		return defaultWeight
	}
	return m.Importance
}

// ConfidenceOrDefault returns the confidence, or defaultWeight when unset.
func (m Metadata) ConfidenceOrDefault() float64 {
	if m.Confidence == 0 {
		return defaultWeight
	}
	return m.Confidence
}

func (m Metadata) clone() Metadata {
	out := m
	if m.Tags != nil {
		out.Tags = append([]string(nil), m.Tags...)
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		out.ExpiresAt = &t
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// MemoryEntry is one recallable fact: text plus an optional embedding and
// descriptive metadata. Entries are owned by the Store; everything handed
// out is a copy.
type MemoryEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding,omitempty"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e MemoryEntry) clone() MemoryEntry {
	out := e
	if e.Embedding != nil {
		out.Embedding = append([]float64(nil), e.Embedding...)
	}
	out.Metadata = e.Metadata.clone()
	return out
}

// Expired reports whether the entry carries an ExpiresAt in the past.
func (e MemoryEntry) Expired(now time.Time) bool {
	return e.Metadata.ExpiresAt != nil && !now.Before(*e.Metadata.ExpiresAt)
}
