package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mna-news/translate-runner/internal/metrics"
	"github.com/mna-news/translate-runner/internal/pipeline"
)

var servePort int

// runFunc executes one translation pass.
type runFunc func(ctx context.Context) (*pipeline.Result, error)

// trigger serialises runs started over HTTP or by the interval ticker.
// Overlapping triggers are rejected, never queued.
type trigger struct {
	sem *semaphore.Weighted
	run runFunc
	ctx context.Context
	wg  sync.WaitGroup
}

func newTrigger(ctx context.Context, run runFunc) *trigger {
	return &trigger{sem: semaphore.NewWeighted(1), run: run, ctx: ctx}
}

// exec runs once and releases the slot taken by the caller.
func (t *trigger) exec(ctx context.Context, source string) (*pipeline.Result, error) {
	defer t.sem.Release(1)
	res, err := t.run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrLocked):
		zap.L().Warn("run skipped, lock held elsewhere", zap.String("source", source))
	case err != nil:
		zap.L().Error("run failed", zap.String("source", source), zap.Error(err))
	default:
		zap.L().Info("run finished", zap.String("source", source), zap.String("run_id", res.RunID), zap.String("outcome", res.Outcome))
	}
	return res, err
}

// schedule fires a run every interval until ctx is done.
func (t *trigger) schedule(ctx context.Context, every time.Duration) {
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			if !t.sem.TryAcquire(1) {
				zap.L().Info("interval tick skipped, run in progress")
				continue
			}
			t.exec(ctx, "interval") //nolint:errcheck
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// newRouter builds the trigger server routes.
func newRouter(t *trigger, g prometheus.Gatherer, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(g))

	r.Post("/run", func(w http.ResponseWriter, req *http.Request) {
		if !t.sem.TryAcquire(1) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "run already in progress"})
			return
		}

		if req.URL.Query().Get("wait") != "true" {
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				t.exec(t.ctx, "http") //nolint:errcheck
			}()
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
			return
		}

		res, err := t.exec(req.Context(), "http")
		switch {
		case errors.Is(err, pipeline.ErrLocked):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "run lock held by another invocation"})
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusOK, res)
		}
	})

	return r
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		env, err := initRunner(ctx, "serve", reg)
		if err != nil {
			return err
		}
		defer env.Close()

		t := newTrigger(ctx, env.Runner.Run)
		if cfg.Server.IntervalMins > 0 {
			every := time.Duration(cfg.Server.IntervalMins) * time.Minute
			zap.L().Info("interval trigger enabled", zap.Duration("every", every))
			go t.schedule(ctx, every)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(t, reg, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		t.wg.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
