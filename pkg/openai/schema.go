package openai

// RowResultsFormat is a strict JSON schema for a batch of translated rows:
// {"results":[{"id","headlineA","headlineBPrime","summary"}]}.
func RowResultsFormat() Format {
	item := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":             map[string]any{"type": "string"},
			"headlineA":      map[string]any{"type": "string"},
			"headlineBPrime": map[string]any{"type": "string"},
			"summary":        map[string]any{"type": "string"},
		},
		"required":             []string{"id", "headlineA", "headlineBPrime", "summary"},
		"additionalProperties": false,
	}
	return Format{
		Type:   "json_schema",
		Name:   "row_results",
		Strict: true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"results": map[string]any{"type": "array", "items": item},
			},
			"required":             []string{"results"},
			"additionalProperties": false,
		},
	}
}
