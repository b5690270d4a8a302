package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/mna-news/translate-runner/internal/model"
)

// arrayFields are object keys that may wrap the result list.
var arrayFields = []string{"results", "items", "rows", "data", "articles"}

// PayloadError reports a response whose text could not be parsed into
// results. Every row of the chunk receives the same error.
type PayloadError struct {
	Reason string
}

func (e *PayloadError) Error() string {
	return "pipeline: unparseable response: " + e.Reason
}

// PartialError lists chunk rows the response did not answer.
type PartialError struct {
	MissingIDs []int
}

func (e *PartialError) Error() string {
	ids := make([]string, len(e.MissingIDs))
	for i, id := range e.MissingIDs {
		ids[i] = strconv.Itoa(id)
	}
	return "pipeline: response missing ids " + strings.Join(ids, ",")
}

// Reconcile maps a provider response back to rows by explicit id. Every row
// receives an output; rows the response does not answer get an error
// output. The returned error is a *PayloadError or *PartialError describing
// what was synthesized, for logging only.
func Reconcile(raw string, rows []model.Row) (map[int]model.Output, error) {
	out := make(map[int]model.Output, len(rows))

	items, single, err := parseItems(raw)
	if err != nil {
		pe := &PayloadError{Reason: err.Error()}
		for _, r := range rows {
			out[r.ID] = model.ErrorOutput("invalid JSON response: " + model.Truncate(err.Error(), 120))
		}
		return out, pe
	}

	byID := make(map[string]map[string]any, len(items))
	for _, it := range items {
		id, ok := itemID(it)
		if !ok {
			continue
		}
		if _, dup := byID[id]; !dup {
			byID[id] = it
		}
	}

	var missing []int
	for _, r := range rows {
		it, ok := byID[strconv.Itoa(r.ID)]
		if !ok && single && len(rows) == 1 && len(items) == 1 {
			if _, hasID := items[0]["id"]; !hasID {
				it, ok = items[0], true
			}
		}
		if !ok {
			missing = append(missing, r.ID)
			out[r.ID] = model.ErrorOutput(fmt.Sprintf("no result for row %d", r.ID))
			continue
		}
		out[r.ID] = model.Output{
			HeadlineA:    field(it, "headlineA"),
			HeadlineBAlt: field(it, "headlineBPrime", "headlineB'", "headlineBAlt"),
			Summary:      field(it, "summary"),
		}
	}

	if len(missing) > 0 {
		sort.Ints(missing)
		return out, &PartialError{MissingIDs: missing}
	}
	return out, nil
}

// parseItems decodes raw into result objects. single reports whether the
// payload was one bare object.
func parseItems(raw string) (items []map[string]any, single bool, err error) {
	text := stripFences(raw)

	v, err := decode(text)
	if err != nil {
		// Tolerate prose around the payload.
		if sub := extractJSON(text); sub != "" {
			v, err = decode(sub)
		}
		if err != nil {
			return nil, false, err
		}
	}

	switch t := v.(type) {
	case []any:
		return objects(t), false, nil
	case map[string]any:
		for _, f := range arrayFields {
			if arr, ok := t[f].([]any); ok {
				return objects(arr), false, nil
			}
		}
		return []map[string]any{t}, true, nil
	default:
		return nil, false, eris.Errorf("unexpected JSON %T", v)
	}
}

func decode(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func objects(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, e := range arr {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func itemID(it map[string]any) (string, bool) {
	switch id := it["id"].(type) {
	case string:
		return strings.TrimSpace(id), true
	case json.Number:
		return id.String(), true
	default:
		return "", false
	}
}

// field returns the first string value found under names, with escaped
// newlines decoded.
func field(it map[string]any, names ...string) string {
	for _, n := range names {
		if s, ok := it[n].(string); ok {
			s = strings.ReplaceAll(s, `\r\n`, "\n")
			return strings.ReplaceAll(s, `\n`, "\n")
		}
	}
	return ""
}

// stripFences removes a surrounding ``` or ```json fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// extractJSON returns the first balanced JSON array or object in s.
func extractJSON(s string) string {
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return ""
	}
	open, closing := s[start], byte(']')
	if open == '{' {
		closing = '}'
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
