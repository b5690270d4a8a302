package model

import "strings"

// ErrorMarker prefixes every error string written into an output cell.
const ErrorMarker = "ERROR:"

// Row is one article row in a source sheet.
type Row struct {
	ID           int    `json:"id"` // 1-based sheet row number
	Sheet        string `json:"sheet"`
	Marker       string `json:"marker"`
	Media        string `json:"media"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	URL          string `json:"url"`
	HeadlineA    string `json:"headline_a"`
	HeadlineBAlt string `json:"headline_b_alt"`
	Summary      string `json:"summary"`
	Status       string `json:"status"`
}

// HasInput reports whether the row has a title or a body to translate.
func (r Row) HasInput() bool {
	return strings.TrimSpace(r.Title) != "" || strings.TrimSpace(r.Body) != ""
}

// InScope reports whether the row counts toward sheet completion: it
// carries an identifying marker and both inputs.
func (r Row) InScope() bool {
	return strings.TrimSpace(r.Marker) != "" &&
		strings.TrimSpace(r.Title) != "" &&
		strings.TrimSpace(r.Body) != ""
}

// Output holds the three generated fields for a row.
type Output struct {
	HeadlineA    string `json:"headlineA"`
	HeadlineBAlt string `json:"headlineBPrime"`
	Summary      string `json:"summary"`
}

// ErrorOutput returns an Output with the same error text in every field.
func ErrorOutput(detail string) Output {
	msg := ErrorMarker + " " + detail
	return Output{HeadlineA: msg, HeadlineBAlt: msg, Summary: msg}
}

// IsError reports whether a cell value carries the error marker.
func IsError(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), ErrorMarker)
}
