package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Tier identifies which LLM provider a row is assigned to.
type Tier int

const (
	TierPrimary Tier = iota
	TierFallback
)

// String returns a short label used in logs and metrics.
func (t Tier) String() string {
	if t == TierFallback {
		return "fallback"
	}
	return "primary"
}

// Phase is the coarse lifecycle state encoded in a status tag.
type Phase int

const (
	PhaseUntouched Phase = iota // ""
	PhasePending                // PENDING
	PhaseRunning                // RUNNING, RUNNING_FALLBACK
	PhaseOK                     // OK, OK_FALLBACK
	PhaseNG                     // NG(n), NG_FALLBACK(n)
	PhaseEmpty                  // EMPTY
	PhaseOther                  // unrecognised tag, kept verbatim
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseUntouched:
		return "untouched"
	case PhasePending:
		return "pending"
	case PhaseRunning:
		return "running"
	case PhaseOK:
		return "ok"
	case PhaseNG:
		return "ng"
	case PhaseEmpty:
		return "empty"
	default:
		return "other"
	}
}

// Status tag literals as stored in the sheet.
const (
	TagPending         = "PENDING"
	TagRunning         = "RUNNING"
	TagRunningFallback = "RUNNING_FALLBACK"
	TagOK              = "OK"
	TagOKFallback      = "OK_FALLBACK"
	TagNG              = "NG"
	TagNGFallback      = "NG_FALLBACK"
	TagEmpty           = "EMPTY"
)

// TimeoutDetail is the error text recorded for rows abandoned mid-flight.
const TimeoutDetail = "timeout"

// maxDetailRunes bounds the error summary embedded in a failure tag.
const maxDetailRunes = 300

var ngPattern = regexp.MustCompile(`(?s)^NG(_FALLBACK)?\((\d+)\)(?::\s*(.*))?$`)

// Status is the parsed form of a row's status column.
type Status struct {
	Phase   Phase
	Tier    Tier
	Retries int    // only meaningful for PhaseNG; always >= 1 when produced here
	Detail  string // error summary carried by NG tags
	Raw     string // original text for PhaseOther
}

// ParseStatus converts a status cell into a Status. Unknown or malformed
// tags parse as PhaseOther with a zero retry count.
func ParseStatus(s string) Status {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)

	switch {
	case s == "":
		return Status{Phase: PhaseUntouched}
	case strings.HasPrefix(upper, TagOKFallback):
		return Status{Phase: PhaseOK, Tier: TierFallback}
	case strings.HasPrefix(upper, TagOK):
		return Status{Phase: PhaseOK, Tier: TierPrimary}
	case strings.HasPrefix(upper, TagRunningFallback):
		return Status{Phase: PhaseRunning, Tier: TierFallback}
	case strings.HasPrefix(upper, TagRunning):
		return Status{Phase: PhaseRunning, Tier: TierPrimary}
	case upper == TagPending:
		return Status{Phase: PhasePending}
	case upper == TagEmpty:
		return Status{Phase: PhaseEmpty}
	}

	m := ngPattern.FindStringSubmatch(s)
	if m == nil {
		return Status{Phase: PhaseOther, Raw: s}
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return Status{Phase: PhaseOther, Raw: s}
	}
	st := Status{Phase: PhaseNG, Tier: TierPrimary, Retries: n, Detail: m[3]}
	if m[1] != "" {
		st.Tier = TierFallback
	}
	return st
}

// String serializes the status back to its sheet representation.
func (s Status) String() string {
	switch s.Phase {
	case PhaseUntouched:
		return ""
	case PhasePending:
		return TagPending
	case PhaseRunning:
		if s.Tier == TierFallback {
			return TagRunningFallback
		}
		return TagRunning
	case PhaseOK:
		if s.Tier == TierFallback {
			return TagOKFallback
		}
		return TagOK
	case PhaseNG:
		tag := TagNG
		if s.Tier == TierFallback {
			tag = TagNGFallback
		}
		out := fmt.Sprintf("%s(%d)", tag, s.Retries)
		if s.Detail != "" {
			out += ": " + s.Detail
		}
		return out
	case PhaseEmpty:
		return TagEmpty
	default:
		return s.Raw
	}
}

// IsSuccess reports whether the status carries the success marker.
func (s Status) IsSuccess() bool { return s.Phase == PhaseOK }

// IsInFlight reports whether the status carries the in-flight marker.
func (s Status) IsInFlight() bool { return s.Phase == PhaseRunning }

// ParseRetryCount extracts n from NG(n) or NG_FALLBACK(n) for the given tier.
// Returns 0 if the tag is absent, malformed, or belongs to the other tier.
func ParseRetryCount(status string, tier Tier) int {
	st := ParseStatus(status)
	if st.Phase != PhaseNG || st.Tier != tier {
		return 0
	}
	return st.Retries
}

// ShouldUseFallback reports whether a row with this status belongs to the
// fallback tier: either fallback is already engaged, or the primary retry
// count has reached primaryCeiling.
func ShouldUseFallback(status string, primaryCeiling int) bool {
	st := ParseStatus(status)
	switch st.Phase {
	case PhaseNG, PhaseRunning, PhaseOK:
		if st.Tier == TierFallback {
			return true
		}
	}
	return st.Phase == PhaseNG && st.Retries >= primaryCeiling
}

// Running returns the in-flight status for a tier.
func Running(tier Tier) Status {
	return Status{Phase: PhaseRunning, Tier: tier}
}

// NextOnSuccess returns OK or OK_FALLBACK.
func NextOnSuccess(tier Tier) Status {
	return Status{Phase: PhaseOK, Tier: tier}
}

// NextOnFailure increments the tier-scoped counter of prev and embeds a
// column-tagged summary of errs. Escalation from primary starts the
// fallback counter at 1.
func NextOnFailure(prev string, tier Tier, errs []FieldError) Status {
	return Status{
		Phase:   PhaseNG,
		Tier:    tier,
		Retries: ParseRetryCount(prev, tier) + 1,
		Detail:  SummarizeErrors(errs),
	}
}

// Timeout returns the failure recorded for a row abandoned in flight.
// prev is the status the row carried before it was marked in flight, or
// empty if unknown.
func Timeout(prev string, tier Tier) Status {
	return Status{
		Phase:   PhaseNG,
		Tier:    tier,
		Retries: ParseRetryCount(prev, tier) + 1,
		Detail:  TimeoutDetail,
	}
}

// FieldError is a failure attributed to one output column.
type FieldError struct {
	Column  string
	Message string
}

// SummarizeErrors renders errs as "E/G/I=snippet" groups joined by " | ".
// Columns sharing an identical message are grouped together.
func SummarizeErrors(errs []FieldError) string {
	if len(errs) == 0 {
		return ""
	}

	var order []string
	cols := make(map[string][]string)
	for _, fe := range errs {
		msg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(fe.Message), ErrorMarker))
		msg = strings.Join(strings.Fields(msg), " ")
		if _, ok := cols[msg]; !ok {
			order = append(order, msg)
		}
		cols[msg] = append(cols[msg], fe.Column)
	}

	parts := make([]string, 0, len(order))
	for _, msg := range order {
		parts = append(parts, strings.Join(cols[msg], "/")+"="+msg)
	}
	return Truncate(strings.Join(parts, " | "), maxDetailRunes)
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
