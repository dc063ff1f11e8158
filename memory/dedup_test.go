package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func TestDeduplicator_OlderDuplicateMarkedRedundant(t *testing.T) {
	t.Parallel()

	dedup := NewDeduplicator(zap.NewNop())
	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	entries := []MemoryEntry{
		{ID: "x", Text: "Grandview prices rose 5%", CreatedAt: t1, Metadata: Metadata{Source: "a"}},
		{ID: "y", Text: "grandview prices rose 5%!!", CreatedAt: t2, Metadata: Metadata{Source: "b"}},
	}

	redundant := dedup.IdentifyRedundant(entries)
	assert.Equal(t, []string{"x"}, redundant, "exactly the older entry is redundant")
}

func TestDeduplicator_ProtectedEntriesNeverGrouped(t *testing.T) {
	t.Parallel()

	dedup := NewDeduplicator(zap.NewNop())
	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	entries := []MemoryEntry{
		{ID: "a", Text: "the school district was rezoned", CreatedAt: t1,
			Metadata: Metadata{Source: "s", Importance: 0.95}},
		{ID: "b", Text: "The school district was rezoned.", CreatedAt: t1.Add(time.Hour),
			Metadata: Metadata{Source: "s", Importance: 0.95}},
	}

	assert.Empty(t, dedup.IdentifyRedundant(entries),
		"importance above 0.8 excludes entries from candidacy entirely")

	// At the boundary, 0.8 is still a candidate.
	entries[0].Metadata.Importance = 0.8
	entries[1].Metadata.Importance = 0.8
	assert.Equal(t, []string{"a"}, dedup.IdentifyRedundant(entries))
}

func TestDeduplicator_DistinctTextsSurvive(t *testing.T) {
	t.Parallel()

	dedup := NewDeduplicator(zap.NewNop())
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	entries := []MemoryEntry{
		{ID: "a", Text: "inventory is up in the north end", CreatedAt: now, Metadata: Metadata{Source: "s"}},
		{ID: "b", Text: "mortgage rates dipped this week", CreatedAt: now, Metadata: Metadata{Source: "s"}},
		{ID: "c", Text: "open house attendance doubled", CreatedAt: now, Metadata: Metadata{Source: "s"}},
	}

	assert.Empty(t, dedup.IdentifyRedundant(entries))
}

func TestDeduplicator_GroupKeepsOnlyNewest(t *testing.T) {
	t.Parallel()

	dedup := NewDeduplicator(zap.NewNop())
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	entries := []MemoryEntry{
		{ID: "v1", Text: "listing 42 sold over asking", CreatedAt: base, Metadata: Metadata{Source: "s"}},
		{ID: "v2", Text: "Listing 42 sold over asking!", CreatedAt: base.Add(time.Hour), Metadata: Metadata{Source: "s"}},
		{ID: "v3", Text: "LISTING 42 SOLD, OVER ASKING", CreatedAt: base.Add(2 * time.Hour), Metadata: Metadata{Source: "s"}},
	}

	redundant := dedup.IdentifyRedundant(entries)
	assert.ElementsMatch(t, []string{"v1", "v2"}, redundant)
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Grandview prices rose 5%", "grandview prices rose 5"},
		{"grandview   prices\trose  5%!!", "grandview prices rose 5"},
		{"...", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeText(tc.in))
	}
}

func TestNormalizeText_PrefixBounded(t *testing.T) {
	t.Parallel()

	long := ""
	for i := 0; i < 50; i++ {
		long += "abcde "
	}
	normalized := normalizeText(long)
	require.LessOrEqual(t, len([]rune(normalized)), signaturePrefixRunes)

	// Divergence past the prefix is an accepted false negative: the
	// signatures still collide.
	assert.Equal(t, textSignature(normalizeText(long+"ending one")),
		textSignature(normalizeText(long+"a different ending")))
}

func TestNormalizeText_CaseAndPunctuationInvariant(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[a-zA-Z0-9 ]{1,80}`).Draw(t, "text")

		shouted := upperWithNoise(text)
		assert.Equal(t, textSignature(normalizeText(text)), textSignature(normalizeText(shouted)),
			"case and punctuation noise must not change the signature")
	})
}

// upperWithNoise uppercases and appends punctuation, the kind of
// variation duplicate entries show in practice.
func upperWithNoise(s string) string {
	upper := ""
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			r = r - 'a' + 'A'
		}
		upper += string(r)
	}
	return upper + "!!!"
}

func TestNormalizeText_Idempotent(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		once := normalizeText(text)
		assert.Equal(t, once, normalizeText(once))
	})
}
