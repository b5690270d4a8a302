package sheet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mna-news/translate-runner/internal/config"
	"github.com/mna-news/translate-runner/internal/model"
)

// articleRow builds a 16-column row in the default layout.
func articleRow(marker, media, title, body, status string) []string {
	r := make([]string, 16)
	r[0] = marker
	r[2] = media
	r[9] = "https://example.com/" + marker
	r[12] = title
	r[13] = body
	r[15] = status
	return r
}

func TestLayoutFromConfig(t *testing.T) {
	l, err := LayoutFromConfig(config.ColumnsConfig{
		Marker: "A", Media: "C", Title: "M", Body: "N", URL: "J",
		HeadlineA: "E", HeadlineBAlt: "G", Summary: "I", Status: "P",
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultLayout, l)
	assert.Equal(t, [3]string{"E", "G", "I"}, l.OutputColumns())

	_, err = LayoutFromConfig(config.ColumnsConfig{Marker: "1"})
	assert.Error(t, err)
}

func TestRowStore_ReadRows(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGrid(map[string][][]string{
		"prod": {
			articleRow("id", "media", "title", "body", "status"),
			articleRow("1", " BBC ", "X", "Y", ""),
			articleRow("2", "DVB", "", "", "OK"),
		},
	})
	s := NewRowStore(g, DefaultLayout)

	rows, err := s.ReadRows(ctx, "prod", 2, 300)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, model.Row{
		ID: 2, Sheet: "prod", Marker: "1", Media: "BBC", Title: "X", Body: "Y",
		URL: "https://example.com/1",
	}, rows[0])
	assert.Equal(t, 3, rows[1].ID)
	assert.Equal(t, "OK", rows[1].Status)
}

func TestRowStore_WriteResult(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGrid(map[string][][]string{
		"prod": {articleRow("id", "", "", "", ""), articleRow("1", "BBC", "X", "Y", "RUNNING")},
	})
	s := NewRowStore(g, DefaultLayout)

	out := model.Output{HeadlineA: "A", HeadlineBAlt: "B", Summary: "S"}
	require.NoError(t, s.WriteResult(ctx, "prod", 2, out, "OK"))

	assert.Equal(t, "A", g.Cell("prod", 2, 5))
	assert.Equal(t, "B", g.Cell("prod", 2, 7))
	assert.Equal(t, "S", g.Cell("prod", 2, 9))
	assert.Equal(t, "OK", g.Cell("prod", 2, 16))
	assert.Equal(t, 1, g.Writes())
}

func TestRowStore_WriteStatuses(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGrid(map[string][][]string{
		"prod": {articleRow("id", "", "", "", ""), articleRow("1", "", "", "", ""), articleRow("2", "", "", "", "")},
	})
	s := NewRowStore(g, DefaultLayout)

	require.NoError(t, s.WriteStatuses(ctx, "prod", map[int]string{2: "EMPTY", 3: "RUNNING"}))
	assert.Equal(t, "EMPTY", g.Cell("prod", 2, 16))
	assert.Equal(t, "RUNNING", g.Cell("prod", 3, 16))

	require.NoError(t, s.WriteStatus(ctx, "prod", 3, "PENDING"))
	assert.Equal(t, "PENDING", g.Cell("prod", 3, 16))

	require.NoError(t, s.WriteStatuses(ctx, "prod", nil))
	assert.Equal(t, 2, g.Writes())
}
