package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowHasInput(t *testing.T) {
	t.Parallel()

	assert.False(t, Row{}.HasInput())
	assert.False(t, Row{Title: "  ", Body: "\n"}.HasInput())
	assert.True(t, Row{Title: "X"}.HasInput())
	assert.True(t, Row{Body: "Y"}.HasInput())
}

func TestRowInScope(t *testing.T) {
	t.Parallel()

	assert.True(t, Row{Marker: "1", Title: "X", Body: "Y"}.InScope())
	assert.False(t, Row{Title: "X", Body: "Y"}.InScope())
	assert.False(t, Row{Marker: "1", Title: "X"}.InScope())
}

func TestErrorOutput(t *testing.T) {
	t.Parallel()

	out := ErrorOutput("boom")
	assert.Equal(t, "ERROR: boom", out.HeadlineA)
	assert.Equal(t, out.HeadlineA, out.HeadlineBAlt)
	assert.Equal(t, out.HeadlineA, out.Summary)
	assert.True(t, IsError(out.Summary))
	assert.False(t, IsError("fine"))
}
