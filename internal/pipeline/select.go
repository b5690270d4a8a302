package pipeline

import (
	"strings"

	"github.com/mna-news/translate-runner/internal/model"
)

// Ceilings are the per-tier retry limits.
type Ceilings struct {
	Primary  int
	Fallback int
}

// For returns the ceiling of tier.
func (c Ceilings) For(t model.Tier) int {
	if t == model.TierFallback {
		return c.Fallback
	}
	return c.Primary
}

// Exhausted reports whether status has used every retry of both tiers.
func (c Ceilings) Exhausted(status string) bool {
	st := model.ParseStatus(status)
	return st.Phase == model.PhaseNG && st.Tier == model.TierFallback && st.Retries >= c.Fallback
}

// Candidate is a selected row with its resolved tier and the status it
// carried before selection.
type Candidate struct {
	Row  model.Row
	Tier model.Tier
	Prev string
}

// Selection is the outcome of scanning one window.
type Selection struct {
	Eligible []Candidate
	// Empty lists rows without input whose status must become EMPTY.
	Empty []model.Row
}

// Select scans rows in order and returns at most limit eligible rows.
// Exclusions apply in order: no input, success, in flight, retries at the
// resolved tier at or over its ceiling. Fully blank rows are skipped
// without tagging.
func Select(rows []model.Row, c Ceilings, limit int) Selection {
	var sel Selection
	for _, r := range rows {
		st := model.ParseStatus(r.Status)

		if !r.HasInput() {
			if !blank(r) && st.Phase != model.PhaseEmpty {
				sel.Empty = append(sel.Empty, r)
			}
			continue
		}
		if st.IsSuccess() || st.IsInFlight() {
			continue
		}

		tier := model.TierPrimary
		if model.ShouldUseFallback(r.Status, c.Primary) {
			tier = model.TierFallback
		}
		if model.ParseRetryCount(r.Status, tier) >= c.For(tier) {
			continue
		}
		if len(sel.Eligible) >= limit {
			continue
		}
		sel.Eligible = append(sel.Eligible, Candidate{Row: r, Tier: tier, Prev: r.Status})
	}
	return sel
}

func blank(r model.Row) bool {
	for _, s := range []string{r.Marker, r.Media, r.URL, r.Title, r.Body} {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}
