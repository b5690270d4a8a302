package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mna-news/translate-runner/internal/model"
)

// SheetTally counts rows per status phase in one sheet window.
type SheetTally struct {
	Sheet     string         `json:"sheet"`
	Phases    map[string]int `json:"phases"`
	Exhausted int            `json:"exhausted"`
}

// Tally reads every configured sheet and counts status phases.
func (r *Runner) Tally(ctx context.Context) ([]SheetTally, error) {
	c := r.ceilings()
	out := make([]SheetTally, 0, len(r.cfg.Sheet.Names))
	for _, name := range r.cfg.Sheet.Names {
		rows, err := r.rows.ReadRows(ctx, name, r.cfg.Sheet.StartRow, r.cfg.Sheet.WindowRows)
		if err != nil {
			return nil, err
		}
		t := SheetTally{Sheet: name, Phases: make(map[string]int)}
		for _, row := range rows {
			if blank(row) {
				continue
			}
			t.Phases[model.ParseStatus(row.Status).Phase.String()]++
			if c.Exhausted(row.Status) {
				t.Exhausted++
			}
		}
		out = append(out, t)
	}
	return out, nil
}

// Requeue resets rows of a sheet to PENDING under the run lock. With no ids
// it resets every in-flight row and every row exhausted at both tiers.
func (r *Runner) Requeue(ctx context.Context, name string, ids []int) (int, error) {
	owner := uuid.NewString()
	if err := r.acquire(ctx, owner); err != nil {
		return 0, err
	}
	defer r.release(ctx, owner)

	rows, err := r.rows.ReadRows(ctx, name, r.cfg.Sheet.StartRow, r.cfg.Sheet.WindowRows)
	if err != nil {
		return 0, err
	}

	wanted := make(map[int]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	c := r.ceilings()

	statuses := make(map[int]string)
	for _, row := range rows {
		st := model.ParseStatus(row.Status)
		switch {
		case len(ids) > 0:
			if !wanted[row.ID] {
				continue
			}
		case st.IsInFlight(), c.Exhausted(row.Status):
		default:
			continue
		}
		statuses[row.ID] = model.TagPending
	}
	if len(statuses) == 0 {
		return 0, nil
	}

	if err := r.rows.WriteStatuses(ctx, name, statuses); err != nil {
		return 0, eris.Wrap(err, "pipeline: requeue")
	}
	for id := range statuses {
		if err := r.store.ClearInFlight(ctx, name, id); err != nil {
			zap.L().Warn("pipeline: clear in-flight entry", zap.String("sheet", name), zap.Int("row", id), zap.Error(err))
		}
	}
	zap.L().Info("pipeline: rows requeued", zap.String("sheet", name), zap.Int("rows", len(statuses)))
	return len(statuses), nil
}
