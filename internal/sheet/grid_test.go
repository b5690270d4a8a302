package sheet

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		letter string
		want   int
	}{
		{"A", 1}, {"c", 3}, {"P", 16}, {"Z", 26}, {"AA", 27}, {"AZ", 52},
	}
	for _, tt := range tests {
		got, err := ColumnIndex(tt.letter)
		require.NoError(t, err, tt.letter)
		assert.Equal(t, tt.want, got, tt.letter)
		assert.Equal(t, strings.ToUpper(tt.letter), ColumnLetter(got))
	}

	_, err := ColumnIndex("")
	assert.Error(t, err)
	_, err = ColumnIndex("A1")
	assert.Error(t, err)
}

func TestMemoryGrid_GetSetRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	g := NewMemoryGrid(map[string][][]string{
		"prod": {{"a", "b"}, {"c"}},
	})

	got, err := g.GetRange(ctx, "prod", 1, 1, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", ""}, {"c", "", ""}}, got)

	require.NoError(t, SetRange(ctx, g, "prod", 4, 2, [][]string{{"x", "y"}}))
	assert.Equal(t, "x", g.Cell("prod", 4, 2))
	assert.Equal(t, "y", g.Cell("prod", 4, 3))
	assert.Equal(t, "", g.Cell("prod", 3, 1))
	assert.Equal(t, 1, g.Writes())

	_, err = g.GetRange(ctx, "missing", 1, 1, 1, 1)
	assert.Error(t, err)

	names, err := g.Sheets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"prod"}, names)
}
