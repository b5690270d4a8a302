package pipeline

import (
	"math"
	"unicode/utf8"

	"github.com/mna-news/translate-runner/internal/model"
)

// Chunk is one provider request: at most two rows sharing a credential.
type Chunk struct {
	Key        string
	Tier       model.Tier
	Candidates []Candidate
	Prompt     string
	Tokens     int
}

// Rows returns the chunk's rows in order.
func (c Chunk) Rows() []model.Row {
	out := make([]model.Row, len(c.Candidates))
	for i, cand := range c.Candidates {
		out[i] = cand.Row
	}
	return out
}

// RowIDs returns the chunk's row ids in order.
func (c Chunk) RowIDs() []int {
	out := make([]int, len(c.Candidates))
	for i, cand := range c.Candidates {
		out[i] = cand.Row.ID
	}
	return out
}

// EstimateTokens approximates the input token count of s.
func EstimateTokens(s string, charsPerToken float64) int {
	if charsPerToken <= 0 {
		charsPerToken = 1
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(s)) / charsPerToken))
}

// Packer groups candidates into chunks under a token budget.
type Packer struct {
	prompts       *PromptBuilder
	budget        int
	charsPerToken float64
	groupKey      func(Candidate) string
}

// NewPacker creates a Packer. groupKey returns the credential group of a
// candidate; chunks never span groups.
func NewPacker(prompts *PromptBuilder, budget int, charsPerToken float64, groupKey func(Candidate) string) *Packer {
	return &Packer{prompts: prompts, budget: budget, charsPerToken: charsPerToken, groupKey: groupKey}
}

// Pack groups candidates by credential in first-seen order, then walks each
// group pairing a row with the next one when the pair's actual prompt fits
// the budget. A row that does not fit is sent alone, even over budget.
func (p *Packer) Pack(cands []Candidate) []Chunk {
	var order []string
	groups := make(map[string][]Candidate)
	for _, c := range cands {
		k := p.groupKey(c)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], c)
	}

	var chunks []Chunk
	for _, k := range order {
		g := groups[k]
		for i := 0; i < len(g); {
			if i+1 < len(g) {
				pair := []Candidate{g[i], g[i+1]}
				if c := p.chunk(k, pair); c.Tokens <= p.budget {
					chunks = append(chunks, c)
					i += 2
					continue
				}
			}
			chunks = append(chunks, p.chunk(k, g[i:i+1]))
			i++
		}
	}
	return chunks
}

func (p *Packer) chunk(key string, cands []Candidate) Chunk {
	c := Chunk{Key: key, Tier: cands[0].Tier, Candidates: cands}
	c.Prompt = p.prompts.Build(c.Rows())
	c.Tokens = EstimateTokens(c.Prompt, p.charsPerToken)
	return c
}
