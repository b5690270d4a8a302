package sheet

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

// MemoryGrid is an in-process Grid, used in tests and dry runs.
type MemoryGrid struct {
	mu     sync.Mutex
	sheets map[string][][]string
	writes int
}

// NewMemoryGrid returns a MemoryGrid seeded with the given sheets. Row 0 of
// each slice is sheet row 1.
func NewMemoryGrid(sheets map[string][][]string) *MemoryGrid {
	g := &MemoryGrid{sheets: make(map[string][][]string, len(sheets))}
	for name, rows := range sheets {
		cp := make([][]string, len(rows))
		for i, r := range rows {
			cp[i] = append([]string(nil), r...)
		}
		g.sheets[name] = cp
	}
	return g
}

func (g *MemoryGrid) Sheets(_ context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.sheets))
	for n := range g.sheets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (g *MemoryGrid) GetRange(ctx context.Context, sheet string, startRow, startCol, numRows, numCols int) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	rows, ok := g.sheets[sheet]
	if !ok {
		return nil, eris.Errorf("sheet: %q not found", sheet)
	}
	var out [][]string
	for r := startRow; r < startRow+numRows && r <= len(rows); r++ {
		src := rows[r-1]
		cells := make([]string, numCols)
		for c := 0; c < numCols; c++ {
			if idx := startCol - 1 + c; idx < len(src) {
				cells[c] = src[idx]
			}
		}
		out = append(out, cells)
	}
	return out, nil
}

func (g *MemoryGrid) SetCells(ctx context.Context, sheet string, cells []CellValue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	rows, ok := g.sheets[sheet]
	if !ok {
		return eris.Errorf("sheet: %q not found", sheet)
	}
	for _, c := range cells {
		if c.Row < 1 || c.Col < 1 {
			return eris.Errorf("sheet: invalid cell %d,%d", c.Row, c.Col)
		}
		for len(rows) < c.Row {
			rows = append(rows, nil)
		}
		for len(rows[c.Row-1]) < c.Col {
			rows[c.Row-1] = append(rows[c.Row-1], "")
		}
		rows[c.Row-1][c.Col-1] = c.Value
	}
	g.sheets[sheet] = rows
	g.writes++
	return nil
}

// Cell returns the value at (row, col), or "" if absent.
func (g *MemoryGrid) Cell(sheet string, row, col int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	rows := g.sheets[sheet]
	if row < 1 || row > len(rows) || col < 1 || col > len(rows[row-1]) {
		return ""
	}
	return rows[row-1][col-1]
}

// Writes returns the number of SetCells calls applied.
func (g *MemoryGrid) Writes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writes
}
