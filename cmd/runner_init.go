package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mna-news/translate-runner/internal/dispatch"
	"github.com/mna-news/translate-runner/internal/glossary"
	"github.com/mna-news/translate-runner/internal/metrics"
	"github.com/mna-news/translate-runner/internal/notify"
	"github.com/mna-news/translate-runner/internal/pipeline"
	"github.com/mna-news/translate-runner/internal/sheet"
	"github.com/mna-news/translate-runner/internal/store"
)

// runnerEnv holds the store, workbook and runner needed by the run, serve,
// status and requeue commands.
type runnerEnv struct {
	Store    store.Store
	Workbook *sheet.XLSXGrid
	Runner   *pipeline.Runner
	Location *time.Location
}

// Close releases resources held by the environment.
func (e *runnerEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initRunner opens the run-state store and workbook and builds the Runner.
// A nil reg disables metrics. Callers should defer env.Close().
func initRunner(ctx context.Context, mode string, reg prometheus.Registerer) (*runnerEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	loc, err := cfg.Run.Location()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	wb, err := sheet.OpenXLSX(cfg.Sheet.Path)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "open workbook")
	}
	layout, err := sheet.LayoutFromConfig(cfg.Sheet.Columns)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var m metrics.Metrics = metrics.Noop{}
	if reg != nil {
		m = metrics.NewProm("mna", reg)
	}

	d := dispatch.New(cfg, st, loc, dispatch.WithMetrics(m))
	runner, err := pipeline.New(cfg, st, sheet.NewRowStore(wb, layout), d, notify.New(cfg.Notify),
		pipeline.WithMetrics(m),
		pipeline.WithWorkbookLocation(wb.Path()),
		pipeline.WithGlossary(func(ctx context.Context) (*glossary.Glossary, error) {
			return glossary.Load(ctx, cfg.Glossary.Path, cfg.Glossary.Sheet, wb)
		}),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	zap.L().Debug("runner initialised",
		zap.String("store", cfg.Store.Driver),
		zap.String("workbook", wb.Path()),
		zap.Strings("sheets", cfg.Sheet.Names),
	)
	return &runnerEnv{Store: st, Workbook: wb, Runner: runner, Location: loc}, nil
}
