package memory

import (
	"fmt"
	"math"
	"sort"
)

// SearchResult is one similarity match.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

// Search ranks entries carrying embeddings by cosine similarity to the query
// vector and returns the topK best matches. Ranking is fully deterministic:
// equal scores keep insertion order. Returned entries are recorded on the
// attached access tracker, since a recall is an access.
func (s *Store) Search(query []float64, topK int) ([]SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}
	if s.dimension > 0 && len(query) != s.dimension {
		return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(query), s.dimension)
	}
	if topK <= 0 {
		return []SearchResult{}, nil
	}

	entries := s.List(func(e MemoryEntry) bool { return len(e.Embedding) > 0 })

	results := make([]SearchResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, SearchResult{
			ID:    entry.ID,
			Score: CosineSimilarity(query, entry.Embedding),
			Text:  entry.Text,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > len(results) {
		topK = len(results)
	}
	results = results[:topK]

	if s.tracker != nil {
		for _, r := range results {
			s.tracker.Record(r.ID)
		}
	}
	return results, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector is empty, zero, or the lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
