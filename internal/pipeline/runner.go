// Package pipeline selects spreadsheet rows that need translation, packs
// them into provider chunks, and writes results back with a per-row status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mna-news/translate-runner/internal/config"
	"github.com/mna-news/translate-runner/internal/dispatch"
	"github.com/mna-news/translate-runner/internal/glossary"
	"github.com/mna-news/translate-runner/internal/metrics"
	"github.com/mna-news/translate-runner/internal/model"
	"github.com/mna-news/translate-runner/internal/notify"
	"github.com/mna-news/translate-runner/internal/resilience"
	"github.com/mna-news/translate-runner/internal/sheet"
	"github.com/mna-news/translate-runner/internal/store"
)

// ErrLocked is returned when another invocation holds the run lock past
// the configured wait.
var ErrLocked = eris.New("pipeline: run lock held by another invocation")

// ErrLockLost is the cancellation cause when the run lock could not be
// renewed because another invocation took it over.
var ErrLockLost = eris.New("pipeline: run lock lost")

const lockName = "translate-run"

// Run outcomes.
const (
	OutcomeCompleted     = "completed"
	OutcomeOutsideWindow = "outside_window"
	OutcomeLocked        = "locked"
	OutcomeFailed        = "failed"
)

// Dispatcher sends chunk prompts to a provider.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (string, error)
	GroupKey(tier model.Tier, sheet, media string) string
}

// Result summarises one invocation.
type Result struct {
	RunID     string   `json:"run_id"`
	Outcome   string   `json:"outcome"`
	Recovered int      `json:"recovered"`
	Empty     int      `json:"empty"`
	Selected  int      `json:"selected"`
	Chunks    int      `json:"chunks"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Notified  []string `json:"notified,omitempty"`
}

// Runner coordinates one invocation over every configured sheet.
type Runner struct {
	cfg          *config.Config
	store        store.Store
	rows         *sheet.RowStore
	writer       *StateWriter
	dispatcher   Dispatcher
	notifier     notify.Notifier
	metrics      metrics.Metrics
	loadGlossary func(ctx context.Context) (*glossary.Glossary, error)
	location     string
	window       Window
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	lockPoll     time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics records run and row metrics.
func WithMetrics(m metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithGlossary sets the loader called once per run.
func WithGlossary(load func(ctx context.Context) (*glossary.Glossary, error)) Option {
	return func(r *Runner) { r.loadGlossary = load }
}

// WithWorkbookLocation sets the workbook reference quoted in notices.
func WithWorkbookLocation(loc string) Option {
	return func(r *Runner) { r.location = loc }
}

// WithClock replaces the wall clock used for the processing window.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithSleep replaces the lock polling sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = fn }
}

// New creates a Runner.
func New(cfg *config.Config, st store.Store, rows *sheet.RowStore, d Dispatcher, n notify.Notifier, opts ...Option) (*Runner, error) {
	loc, err := cfg.Run.Location()
	if err != nil {
		return nil, err
	}
	window, err := ParseWindow(cfg.Run.WindowStart, cfg.Run.WindowEnd, loc)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:        cfg,
		store:      st,
		rows:       rows,
		writer:     NewStateWriter(rows, st),
		dispatcher: d,
		notifier:   n,
		metrics:    metrics.Noop{},
		loadGlossary: func(context.Context) (*glossary.Glossary, error) {
			return glossary.New(nil), nil
		},
		window:   window,
		now:      time.Now,
		sleep:    resilience.SleepContext,
		lockPoll: time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

func (r *Runner) ceilings() Ceilings {
	return Ceilings{Primary: r.cfg.Run.PrimaryCeiling, Fallback: r.cfg.Run.FallbackCeiling}
}

// Run executes one invocation: lock, stale recovery, window check, row
// processing per sheet, completion notices. The lock is always released.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	res := &Result{RunID: uuid.NewString()}
	log := zap.L().With(zap.String("run_id", res.RunID))

	if err := r.acquire(ctx, res.RunID); err != nil {
		if errors.Is(err, ErrLocked) {
			r.metrics.IncRuns(OutcomeLocked)
			log.Warn("pipeline: run lock busy, skipping invocation")
		} else {
			r.metrics.IncRuns(OutcomeFailed)
		}
		return nil, err
	}
	defer r.release(ctx, res.RunID)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := r.keepLock(ctx, res.RunID, cancel)
	defer stop()

	if err := r.rows.Reload(ctx); err != nil {
		res.Outcome = OutcomeFailed
		r.metrics.IncRuns(res.Outcome)
		return res, err
	}

	n, err := r.recoverStale(ctx)
	if err != nil {
		log.Error("pipeline: stale row recovery failed", zap.Error(err))
	}
	res.Recovered = n

	if !r.window.Contains(r.now()) {
		res.Outcome = OutcomeOutsideWindow
		r.metrics.IncRuns(res.Outcome)
		log.Info("pipeline: outside processing window")
		return res, nil
	}

	g, err := r.loadGlossary(ctx)
	if err != nil {
		log.Warn("pipeline: glossary unavailable, continuing without it", zap.Error(err))
		g = glossary.New(nil)
	}
	packer := NewPacker(
		NewPromptBuilder(g, r.cfg.Batch.BodyMaxChars),
		r.cfg.Batch.TokenBudget,
		r.cfg.Batch.CharsPerToken,
		func(c Candidate) string { return r.dispatcher.GroupKey(c.Tier, c.Row.Sheet, c.Row.Media) },
	)

	remaining := r.cfg.Run.MaxRows
	for _, name := range r.cfg.Sheet.Names {
		if remaining <= 0 {
			break
		}
		selected, err := r.runSheet(ctx, name, packer, remaining, res)
		remaining -= selected
		if err != nil {
			if ctx.Err() != nil {
				res.Outcome = OutcomeFailed
				r.metrics.IncRuns(res.Outcome)
				if cause := context.Cause(ctx); errors.Is(cause, ErrLockLost) {
					log.Error("pipeline: run lock lost, aborting", zap.String("sheet", name))
					return res, cause
				}
				return res, eris.Wrap(err, "pipeline: run cancelled")
			}
			log.Error("pipeline: sheet failed", zap.String("sheet", name), zap.Error(err))
		}
	}

	if cause := context.Cause(ctx); errors.Is(cause, ErrLockLost) {
		res.Outcome = OutcomeFailed
		r.metrics.IncRuns(res.Outcome)
		log.Error("pipeline: run lock lost, skipping completion notices")
		return res, cause
	}

	r.notifyCompleted(ctx, res)

	res.Outcome = OutcomeCompleted
	r.metrics.IncRuns(res.Outcome)
	r.metrics.ObserveRunDuration(time.Since(started).Seconds())
	log.Info("pipeline: run complete",
		zap.Int("recovered", res.Recovered),
		zap.Int("empty", res.Empty),
		zap.Int("selected", res.Selected),
		zap.Int("chunks", res.Chunks),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", time.Since(started)),
	)
	return res, nil
}

// acquire polls for the run lock for up to run.lock_wait_secs.
func (r *Runner) acquire(ctx context.Context, owner string) error {
	ttl := time.Duration(r.cfg.Run.LockTTLSecs) * time.Second
	wait := time.Duration(r.cfg.Run.LockWaitSecs) * time.Second
	attempts := 1
	if r.lockPoll > 0 {
		attempts += int(wait / r.lockPoll)
	}

	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := r.sleep(ctx, r.lockPoll); err != nil {
				return eris.Wrap(err, "pipeline: wait for run lock")
			}
		}
		ok, err := r.store.AcquireLock(ctx, lockName, owner, ttl)
		if err != nil {
			return eris.Wrap(err, "pipeline: acquire run lock")
		}
		if ok {
			return nil
		}
	}
	return ErrLocked
}

// keepLock renews the run lock every third of its TTL until stop is called.
// When another owner holds the lock, or renewal keeps failing until the
// TTL has passed, the run context is cancelled with ErrLockLost.
func (r *Runner) keepLock(ctx context.Context, owner string, cancel context.CancelCauseFunc) (stop func()) {
	ttl := time.Duration(r.cfg.Run.LockTTLSecs) * time.Second
	interval := ttl / 3
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		renewed := time.Now()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ok, err := r.store.AcquireLock(ctx, lockName, owner, ttl)
			switch {
			case err != nil:
				zap.L().Warn("pipeline: renew run lock", zap.String("run_id", owner), zap.Error(err))
				if time.Since(renewed) < ttl {
					continue
				}
				cancel(ErrLockLost)
				return
			case !ok:
				cancel(ErrLockLost)
				return
			}
			renewed = time.Now()
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (r *Runner) release(ctx context.Context, owner string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.store.ReleaseLock(ctx, lockName, owner); err != nil {
		zap.L().Error("pipeline: release run lock", zap.String("run_id", owner), zap.Error(err))
	}
}

// recoverStale converts rows left in flight by a crashed run into timeout
// failures, counted from the status recorded when they were marked.
func (r *Runner) recoverStale(ctx context.Context) (int, error) {
	total := 0
	for _, name := range r.cfg.Sheet.Names {
		rows, err := r.rows.ReadRows(ctx, name, r.cfg.Sheet.StartRow, r.cfg.Sheet.WindowRows)
		if err != nil {
			return total, err
		}

		statuses := make(map[int]string)
		for _, row := range rows {
			st := model.ParseStatus(row.Status)
			if !st.IsInFlight() {
				continue
			}
			entry, err := r.store.InFlight(ctx, name, row.ID)
			if err != nil {
				return total, eris.Wrapf(err, "pipeline: in-flight entry %s!%d", name, row.ID)
			}
			prev := ""
			if entry != nil {
				prev = entry.PrevStatus
			}
			statuses[row.ID] = model.Timeout(prev, st.Tier).String()
		}
		if len(statuses) == 0 {
			continue
		}

		if err := r.rows.WriteStatuses(ctx, name, statuses); err != nil {
			return total, err
		}
		for id := range statuses {
			if err := r.store.ClearInFlight(ctx, name, id); err != nil {
				zap.L().Warn("pipeline: clear in-flight entry", zap.String("sheet", name), zap.Int("row", id), zap.Error(err))
			}
		}
		total += len(statuses)
		zap.L().Warn("pipeline: recovered stale in-flight rows", zap.String("sheet", name), zap.Int("rows", len(statuses)))
	}
	return total, nil
}

// runSheet processes one sheet and returns the number of rows selected.
func (r *Runner) runSheet(ctx context.Context, name string, packer *Packer, limit int, res *Result) (int, error) {
	log := zap.L().With(zap.String("sheet", name))

	rows, err := r.rows.ReadRows(ctx, name, r.cfg.Sheet.StartRow, r.cfg.Sheet.WindowRows)
	if err != nil {
		return 0, err
	}
	sel := Select(rows, r.ceilings(), limit)

	if len(sel.Empty) > 0 {
		statuses := make(map[int]string, len(sel.Empty))
		for _, row := range sel.Empty {
			statuses[row.ID] = model.TagEmpty
		}
		if err := r.rows.WriteStatuses(ctx, name, statuses); err != nil {
			log.Warn("pipeline: tag empty rows", zap.Error(err))
		} else {
			res.Empty += len(sel.Empty)
		}
	}
	if len(sel.Eligible) == 0 {
		return 0, nil
	}

	if err := r.markInFlight(ctx, name, sel.Eligible); err != nil {
		return 0, err
	}
	res.Selected += len(sel.Eligible)
	log.Info("pipeline: rows selected", zap.Int("rows", len(sel.Eligible)))

	for _, c := range packer.Pack(sel.Eligible) {
		if ctx.Err() != nil {
			return len(sel.Eligible), context.Cause(ctx)
		}
		if err := r.runChunk(ctx, c, res); err != nil {
			if ctx.Err() != nil {
				return len(sel.Eligible), err
			}
			log.Error("pipeline: chunk failed", zap.Ints("rows", c.RowIDs()), zap.Error(err))
		}
	}
	return len(sel.Eligible), nil
}

// markInFlight records each row's current status in the ledger, then tags
// the rows RUNNING before any provider call.
func (r *Runner) markInFlight(ctx context.Context, name string, cands []Candidate) error {
	now := time.Now()
	statuses := make(map[int]string, len(cands))
	for _, c := range cands {
		entry := store.InFlightEntry{Sheet: name, RowID: c.Row.ID, PrevStatus: c.Prev, MarkedAt: now}
		if err := r.store.SaveInFlight(ctx, entry); err != nil {
			return eris.Wrap(err, "pipeline: mark in flight")
		}
		statuses[c.Row.ID] = model.Running(c.Tier).String()
	}
	return r.rows.WriteStatuses(ctx, name, statuses)
}

func (r *Runner) runChunk(ctx context.Context, c Chunk, res *Result) error {
	first := c.Candidates[0].Row
	log := zap.L().With(
		zap.String("sheet", first.Sheet),
		zap.Ints("rows", c.RowIDs()),
		zap.String("tier", c.Tier.String()),
		zap.Int("tokens", c.Tokens),
	)

	text, err := r.dispatcher.Dispatch(ctx, dispatch.Request{
		Tier:   c.Tier,
		Sheet:  first.Sheet,
		Media:  first.Media,
		Prompt: c.Prompt,
		RowIDs: c.RowIDs(),
	})
	res.Chunks++

	var outputs map[int]model.Output
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		detail := err.Error()
		var ex *dispatch.ExhaustedError
		if errors.As(err, &ex) {
			detail = ex.Detail()
		}
		log.Warn("pipeline: dispatch failed", zap.Error(err))
		outputs = make(map[int]model.Output, len(c.Candidates))
		for _, cand := range c.Candidates {
			outputs[cand.Row.ID] = model.ErrorOutput(detail)
		}
	} else {
		outputs, err = Reconcile(text, c.Rows())
		if err != nil {
			log.Warn("pipeline: response reconciled with row errors", zap.Error(err))
		}
	}

	var firstErr error
	for _, cand := range c.Candidates {
		st, err := r.writer.Apply(ctx, cand, outputs[cand.Row.ID])
		if err != nil {
			log.Error("pipeline: write row", zap.Int("row", cand.Row.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		outcome := st.Phase.String()
		switch st.Phase {
		case model.PhaseOK:
			res.Succeeded++
		case model.PhaseNG:
			res.Failed++
		}
		r.metrics.IncRowsProcessed(cand.Tier.String(), outcome)
		log.Info("pipeline: row written", zap.Int("row", cand.Row.ID), zap.String("status", st.String()))
	}
	return firstErr
}

// notifyCompleted sends one notice per sheet whose in-scope rows are all
// terminal, keyed by the completion marker. The marker is recorded even
// when sending fails.
func (r *Runner) notifyCompleted(ctx context.Context, res *Result) {
	for _, name := range r.cfg.Sheet.Names {
		log := zap.L().With(zap.String("sheet", name))

		rows, err := r.rows.ReadRows(ctx, name, r.cfg.Sheet.StartRow, r.cfg.Sheet.WindowRows)
		if err != nil {
			log.Warn("pipeline: completion check", zap.Error(err))
			continue
		}
		marker, count, done := Completion(name, rows, r.ceilings())
		if !done {
			continue
		}

		sent, err := r.store.HasNotified(ctx, name, marker)
		if err != nil {
			log.Warn("pipeline: completion marker lookup", zap.Error(err))
			continue
		}
		if sent {
			continue
		}

		msg := notify.Completion(r.cfg.Notify, name, r.location, count, r.now())
		if err := r.notifier.Send(ctx, msg); err != nil {
			log.Error("pipeline: completion notice failed", zap.Error(err))
		}
		if err := r.store.RecordNotified(ctx, name, marker); err != nil {
			log.Error("pipeline: record completion marker", zap.Error(err))
		}
		res.Notified = append(res.Notified, name)
	}
}

// Completion reports whether every in-scope row of a sheet is terminal and
// returns the marker "sheet|max marker|in-scope count" identifying that state.
func Completion(sheet string, rows []model.Row, c Ceilings) (marker string, inScope int, done bool) {
	maxMarker := ""
	for _, row := range rows {
		if !row.InScope() {
			continue
		}
		st := model.ParseStatus(row.Status)
		if !st.IsSuccess() && !c.Exhausted(row.Status) {
			return "", 0, false
		}
		inScope++
		if markerLess(maxMarker, row.Marker) {
			maxMarker = row.Marker
		}
	}
	if inScope == 0 {
		return "", 0, false
	}
	return fmt.Sprintf("%s|%s|%d", sheet, maxMarker, inScope), inScope, true
}

// markerLess orders markers numerically when both are integers.
func markerLess(a, b string) bool {
	if a == "" {
		return true
	}
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
