package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mna-news/translate-runner/internal/model"
)

func cand(id int, media string, tier model.Tier) Candidate {
	return Candidate{Row: model.Row{ID: id, Sheet: "prod", Media: media, Title: "title", Body: strings.Repeat("x", 40)}, Tier: tier}
}

func byMedia(c Candidate) string { return c.Tier.String() + "|" + c.Row.Media }

func TestEstimateTokens(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, EstimateTokens("", 2.5))
	assert.Equal(t, 1, EstimateTokens("ab", 2.5))
	assert.Equal(t, 3, EstimateTokens("abcde!", 2.5))
	assert.Equal(t, 3, EstimateTokens("ミャンマー語", 2), "counts runes, not bytes")
	assert.Equal(t, 3, EstimateTokens("abc", 0))
}

func TestPacker_PairsWithinBudget(t *testing.T) {
	prompts := NewPromptBuilder(nil, 0)
	cands := []Candidate{cand(2, "BBC", model.TierPrimary), cand(3, "BBC", model.TierPrimary), cand(4, "BBC", model.TierPrimary)}
	pairTokens := EstimateTokens(prompts.Build([]model.Row{cands[0].Row, cands[1].Row}), 2.5)

	chunks := NewPacker(prompts, pairTokens, 2.5, byMedia).Pack(cands)
	require.Len(t, chunks, 2)
	assert.Equal(t, []int{2, 3}, chunks[0].RowIDs())
	assert.Equal(t, pairTokens, chunks[0].Tokens, "a pair exactly at budget is accepted")
	assert.Equal(t, []int{4}, chunks[1].RowIDs())

	chunks = NewPacker(prompts, pairTokens-1, 2.5, byMedia).Pack(cands)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Len(t, c.Candidates, 1)
	}
}

func TestPacker_GroupsByCredentialInFirstSeenOrder(t *testing.T) {
	cands := []Candidate{
		cand(2, "DVB", model.TierPrimary),
		cand(3, "BBC", model.TierPrimary),
		cand(4, "DVB", model.TierFallback),
		cand(5, "DVB", model.TierPrimary),
		cand(6, "BBC", model.TierPrimary),
	}
	chunks := NewPacker(NewPromptBuilder(nil, 0), 100000, 2.5, byMedia).Pack(cands)

	require.Len(t, chunks, 3)
	assert.Equal(t, []int{2, 5}, chunks[0].RowIDs())
	assert.Equal(t, []int{3, 6}, chunks[1].RowIDs())
	assert.Equal(t, []int{4}, chunks[2].RowIDs())
	assert.Equal(t, model.TierFallback, chunks[2].Tier)
	for _, c := range chunks {
		assert.Equal(t, c.Key, byMedia(c.Candidates[0]))
	}
}

func TestPacker_OversizedRowStillSent(t *testing.T) {
	cands := []Candidate{cand(2, "BBC", model.TierPrimary), cand(3, "BBC", model.TierPrimary)}
	chunks := NewPacker(NewPromptBuilder(nil, 0), 1, 2.5, byMedia).Pack(cands)

	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Len(t, c.Candidates, 1)
		assert.Greater(t, c.Tokens, 1)
	}
}

func TestPacker_NeverExceedsBudgetForPairs(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 9; i++ {
		c := cand(i+2, "BBC", model.TierPrimary)
		c.Row.Body = strings.Repeat("b", 50*(i%4))
		cands = append(cands, c)
	}
	const budget = 700
	chunks := NewPacker(NewPromptBuilder(nil, 0), budget, 2.5, byMedia).Pack(cands)

	seen := 0
	for _, c := range chunks {
		seen += len(c.Candidates)
		if len(c.Candidates) == 2 {
			assert.LessOrEqual(t, EstimateTokens(c.Prompt, 2.5), budget)
		}
	}
	assert.Equal(t, len(cands), seen, "no row is dropped")
}
