package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/mna-news/translate-runner/internal/model"
	"github.com/mna-news/translate-runner/internal/sheet"
	"github.com/mna-news/translate-runner/internal/store"
)

const blankFieldDetail = "empty field"

// Resolve computes the cells and status to write for one row. Outputs are
// NFC-normalised; blank fields count as field errors.
func Resolve(row model.Row, out model.Output, tier model.Tier, prev string, cols [3]string) (model.Output, model.Status) {
	if !row.HasInput() {
		return model.Output{}, model.Status{Phase: model.PhaseEmpty}
	}

	fields := []*string{&out.HeadlineA, &out.HeadlineBAlt, &out.Summary}
	var errs []model.FieldError
	for i, f := range fields {
		v := norm.NFC.String(strings.TrimSpace(*f))
		if v == "" {
			v = model.ErrorMarker + " " + blankFieldDetail
		}
		*f = v
		if model.IsError(v) {
			errs = append(errs, model.FieldError{Column: cols[i], Message: v})
		}
	}

	if len(errs) == 0 {
		return out, model.NextOnSuccess(tier)
	}
	return out, model.NextOnFailure(prev, tier, errs)
}

// StateWriter persists row outcomes and clears their in-flight entries.
type StateWriter struct {
	rows  *sheet.RowStore
	store store.Store
}

// NewStateWriter creates a StateWriter.
func NewStateWriter(rows *sheet.RowStore, st store.Store) *StateWriter {
	return &StateWriter{rows: rows, store: st}
}

// Apply writes the resolved outputs and status of one candidate. Rows
// without input only get their status written.
func (w *StateWriter) Apply(ctx context.Context, cand Candidate, out model.Output) (model.Status, error) {
	row := cand.Row
	resolved, status := Resolve(row, out, cand.Tier, cand.Prev, w.rows.Layout().OutputColumns())

	var err error
	if status.Phase == model.PhaseEmpty {
		err = w.rows.WriteStatus(ctx, row.Sheet, row.ID, status.String())
	} else {
		err = w.rows.WriteResult(ctx, row.Sheet, row.ID, resolved, status.String())
	}
	if err != nil {
		return status, eris.Wrapf(err, "pipeline: apply %s!%d", row.Sheet, row.ID)
	}

	if err := w.store.ClearInFlight(ctx, row.Sheet, row.ID); err != nil {
		return status, eris.Wrapf(err, "pipeline: clear in-flight %s!%d", row.Sheet, row.ID)
	}
	return status, nil
}
