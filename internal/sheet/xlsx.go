package sheet

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXGrid is a Grid backed by a workbook on disk. Every SetCells call
// persists the workbook so a crash loses at most the write in progress.
// Other writers may append rows between calls: reads and writes reload the
// workbook when its modification time or size moved since the last load.
type XLSXGrid struct {
	mu      sync.Mutex
	path    string
	file    *xlsx.File
	modTime time.Time
	size    int64
}

// OpenXLSX loads the workbook at path.
func OpenXLSX(path string) (*XLSXGrid, error) {
	g := &XLSXGrid{path: path}
	if err := g.load(); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload rereads the workbook from disk, discarding the cached copy.
func (g *XLSXGrid) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "xlsx: context cancelled")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.load()
}

func (g *XLSXGrid) load() error {
	info, err := os.Stat(g.path)
	if err != nil {
		return eris.Wrap(err, "xlsx: open file")
	}
	f, err := xlsx.OpenFile(g.path)
	if err != nil {
		return eris.Wrap(err, "xlsx: open file")
	}
	g.file, g.modTime, g.size = f, info.ModTime(), info.Size()
	return nil
}

// refresh reloads when the file on disk differs from the cached copy.
func (g *XLSXGrid) refresh() error {
	info, err := os.Stat(g.path)
	if err != nil {
		return eris.Wrap(err, "xlsx: stat workbook")
	}
	if info.ModTime().Equal(g.modTime) && info.Size() == g.size {
		return nil
	}
	return g.load()
}

// Path returns the workbook location.
func (g *XLSXGrid) Path() string { return g.path }

func (g *XLSXGrid) Sheets(_ context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.refresh(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(g.file.Sheets))
	for _, s := range g.file.Sheets {
		names = append(names, s.Name)
	}
	return names, nil
}

func (g *XLSXGrid) GetRange(ctx context.Context, sheet string, startRow, startCol, numRows, numCols int) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "xlsx: context cancelled")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.refresh(); err != nil {
		return nil, err
	}

	sh, err := g.sheet(sheet)
	if err != nil {
		return nil, err
	}

	var out [][]string
	for r := startRow; r < startRow+numRows && r <= len(sh.Rows); r++ {
		row := sh.Rows[r-1]
		cells := make([]string, numCols)
		if row != nil {
			for c := 0; c < numCols; c++ {
				if idx := startCol - 1 + c; idx < len(row.Cells) && row.Cells[idx] != nil {
					cells[c] = row.Cells[idx].String()
				}
			}
		}
		out = append(out, cells)
	}
	return out, nil
}

func (g *XLSXGrid) SetCells(ctx context.Context, sheet string, cells []CellValue) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "xlsx: context cancelled")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.refresh(); err != nil {
		return err
	}

	sh, err := g.sheet(sheet)
	if err != nil {
		return err
	}
	for _, c := range cells {
		if c.Row < 1 || c.Col < 1 {
			return eris.Errorf("xlsx: invalid cell %d,%d", c.Row, c.Col)
		}
		for len(sh.Rows) < c.Row {
			sh.AddRow()
		}
		row := sh.Rows[c.Row-1]
		for len(row.Cells) < c.Col {
			row.AddCell()
		}
		row.Cells[c.Col-1].SetString(c.Value)
	}
	return g.save()
}

func (g *XLSXGrid) sheet(name string) (*xlsx.Sheet, error) {
	sh, ok := g.file.Sheet[name]
	if !ok {
		return nil, eris.Errorf("xlsx: sheet %q not found", name)
	}
	return sh, nil
}

// ErrWorkbookChanged is returned by SetCells when the workbook was rewritten
// by another writer while the cells were being applied.
var ErrWorkbookChanged = eris.New("xlsx: workbook changed on disk")

// save writes to a sibling temp file and renames it over the workbook. It
// refuses when the file on disk no longer matches the cached copy.
func (g *XLSXGrid) save() error {
	if info, err := os.Stat(g.path); err == nil && (!info.ModTime().Equal(g.modTime) || info.Size() != g.size) {
		return ErrWorkbookChanged
	}

	tmp, err := os.CreateTemp(filepath.Dir(g.path), ".mna-*.xlsx")
	if err != nil {
		return eris.Wrap(err, "xlsx: create temp file")
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "xlsx: close temp file")
	}
	if err := g.file.Save(tmpPath); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrap(err, "xlsx: save")
	}
	if err := os.Rename(tmpPath, g.path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrap(err, "xlsx: replace workbook")
	}
	info, err := os.Stat(g.path)
	if err != nil {
		return eris.Wrap(err, "xlsx: stat workbook")
	}
	g.modTime, g.size = info.ModTime(), info.Size()
	return nil
}
