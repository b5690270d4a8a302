// Package sheet provides range-based access to the article workbook and a
// typed row view over it.
package sheet

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// CellValue is a single cell write. Row and Col are 1-based.
type CellValue struct {
	Row   int
	Col   int
	Value string
}

// Grid is a tabular store addressed by sheet name and 1-based row/column.
type Grid interface {
	Sheets(ctx context.Context) ([]string, error)
	// GetRange returns up to numRows rows of numCols cells starting at
	// (startRow, startCol). Rows past the end of the sheet are omitted;
	// missing cells are empty strings.
	GetRange(ctx context.Context, sheet string, startRow, startCol, numRows, numCols int) ([][]string, error)
	// SetCells writes every value in one operation.
	SetCells(ctx context.Context, sheet string, cells []CellValue) error
}

// Reloader is implemented by grids that cache a backing file and can
// reread it.
type Reloader interface {
	Reload(ctx context.Context) error
}

// SetRange writes a rectangular block of values starting at (startRow, startCol).
func SetRange(ctx context.Context, g Grid, sheet string, startRow, startCol int, values [][]string) error {
	var cells []CellValue
	for i, row := range values {
		for j, v := range row {
			cells = append(cells, CellValue{Row: startRow + i, Col: startCol + j, Value: v})
		}
	}
	if len(cells) == 0 {
		return nil
	}
	return g.SetCells(ctx, sheet, cells)
}

// ColumnIndex converts a column letter ("A", "P", "AA") to a 1-based index.
func ColumnIndex(letter string) (int, error) {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if letter == "" {
		return 0, eris.New("sheet: empty column letter")
	}
	n := 0
	for _, r := range letter {
		if r < 'A' || r > 'Z' {
			return 0, eris.Errorf("sheet: invalid column letter %q", letter)
		}
		n = n*26 + int(r-'A'+1)
	}
	return n, nil
}

// ColumnLetter converts a 1-based column index to its letter form.
func ColumnLetter(idx int) string {
	var b []byte
	for idx > 0 {
		idx--
		b = append([]byte{byte('A' + idx%26)}, b...)
		idx /= 26
	}
	return string(b)
}
