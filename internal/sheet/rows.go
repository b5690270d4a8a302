package sheet

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/mna-news/translate-runner/internal/config"
	"github.com/mna-news/translate-runner/internal/model"
)

// Layout maps row fields to 1-based column indexes.
type Layout struct {
	Marker       int
	Media        int
	Title        int
	Body         int
	URL          int
	HeadlineA    int
	HeadlineBAlt int
	Summary      int
	Status       int
}

// DefaultLayout is the article workbook's column layout.
var DefaultLayout = Layout{
	Marker: 1, Media: 3, HeadlineA: 5, HeadlineBAlt: 7, Summary: 9,
	URL: 10, Title: 13, Body: 14, Status: 16,
}

// LayoutFromConfig resolves configured column letters.
func LayoutFromConfig(c config.ColumnsConfig) (Layout, error) {
	var l Layout
	for _, f := range []struct {
		letter string
		dst    *int
	}{
		{c.Marker, &l.Marker},
		{c.Media, &l.Media},
		{c.Title, &l.Title},
		{c.Body, &l.Body},
		{c.URL, &l.URL},
		{c.HeadlineA, &l.HeadlineA},
		{c.HeadlineBAlt, &l.HeadlineBAlt},
		{c.Summary, &l.Summary},
		{c.Status, &l.Status},
	} {
		idx, err := ColumnIndex(f.letter)
		if err != nil {
			return Layout{}, eris.Wrap(err, "sheet: layout")
		}
		*f.dst = idx
	}
	return l, nil
}

func (l Layout) width() int {
	m := 0
	for _, c := range []int{l.Marker, l.Media, l.Title, l.Body, l.URL, l.HeadlineA, l.HeadlineBAlt, l.Summary, l.Status} {
		if c > m {
			m = c
		}
	}
	return m
}

// OutputColumns returns the letters of the three output columns in
// headlineA, headlineBAlt, summary order.
func (l Layout) OutputColumns() [3]string {
	return [3]string{ColumnLetter(l.HeadlineA), ColumnLetter(l.HeadlineBAlt), ColumnLetter(l.Summary)}
}

// RowStore reads and writes article rows through a Grid.
type RowStore struct {
	grid   Grid
	layout Layout
}

// NewRowStore creates a RowStore.
func NewRowStore(grid Grid, layout Layout) *RowStore {
	return &RowStore{grid: grid, layout: layout}
}

// Layout returns the column layout.
func (s *RowStore) Layout() Layout { return s.layout }

// Reload rereads the backing grid when it caches a file. Other grids are
// always current.
func (s *RowStore) Reload(ctx context.Context) error {
	r, ok := s.grid.(Reloader)
	if !ok {
		return nil
	}
	return eris.Wrap(r.Reload(ctx), "sheet: reload")
}

// ReadRows returns up to count rows starting at startRow.
func (s *RowStore) ReadRows(ctx context.Context, sheet string, startRow, count int) ([]model.Row, error) {
	values, err := s.grid.GetRange(ctx, sheet, startRow, 1, count, s.layout.width())
	if err != nil {
		return nil, eris.Wrapf(err, "sheet: read rows %s", sheet)
	}
	rows := make([]model.Row, 0, len(values))
	for i, v := range values {
		get := func(col int) string { return strings.TrimSpace(v[col-1]) }
		rows = append(rows, model.Row{
			ID:           startRow + i,
			Sheet:        sheet,
			Marker:       get(s.layout.Marker),
			Media:        get(s.layout.Media),
			Title:        get(s.layout.Title),
			Body:         get(s.layout.Body),
			URL:          get(s.layout.URL),
			HeadlineA:    v[s.layout.HeadlineA-1],
			HeadlineBAlt: v[s.layout.HeadlineBAlt-1],
			Summary:      v[s.layout.Summary-1],
			Status:       get(s.layout.Status),
		})
	}
	return rows, nil
}

// WriteStatus sets one row's status cell.
func (s *RowStore) WriteStatus(ctx context.Context, sheet string, rowID int, status string) error {
	err := s.grid.SetCells(ctx, sheet, []CellValue{{Row: rowID, Col: s.layout.Status, Value: status}})
	return eris.Wrapf(err, "sheet: write status %s!%d", sheet, rowID)
}

// WriteStatuses sets several rows' status cells in one write.
func (s *RowStore) WriteStatuses(ctx context.Context, sheet string, statuses map[int]string) error {
	if len(statuses) == 0 {
		return nil
	}
	cells := make([]CellValue, 0, len(statuses))
	for id, st := range statuses {
		cells = append(cells, CellValue{Row: id, Col: s.layout.Status, Value: st})
	}
	err := s.grid.SetCells(ctx, sheet, cells)
	return eris.Wrapf(err, "sheet: write statuses %s", sheet)
}

// WriteResult writes the output fields and status of one row together.
func (s *RowStore) WriteResult(ctx context.Context, sheet string, rowID int, out model.Output, status string) error {
	err := s.grid.SetCells(ctx, sheet, []CellValue{
		{Row: rowID, Col: s.layout.HeadlineA, Value: out.HeadlineA},
		{Row: rowID, Col: s.layout.HeadlineBAlt, Value: out.HeadlineBAlt},
		{Row: rowID, Col: s.layout.Summary, Value: out.Summary},
		{Row: rowID, Col: s.layout.Status, Value: status},
	})
	return eris.Wrapf(err, "sheet: write result %s!%d", sheet, rowID)
}
