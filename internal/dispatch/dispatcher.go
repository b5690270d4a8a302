// Package dispatch sends chunk prompts to the primary or fallback provider
// with credential routing, throttling, and bounded retries.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mna-news/translate-runner/internal/config"
	"github.com/mna-news/translate-runner/internal/metrics"
	"github.com/mna-news/translate-runner/internal/model"
	"github.com/mna-news/translate-runner/internal/resilience"
	"github.com/mna-news/translate-runner/pkg/gemini"
	"github.com/mna-news/translate-runner/pkg/openai"
)

// maxDetailRunes bounds the failure detail carried into row text.
const maxDetailRunes = 300

// Request is one chunk ready to send.
type Request struct {
	Tier   model.Tier
	Sheet  string
	Media  string
	Prompt string
	RowIDs []int
}

// ExhaustedError is returned when a chunk could not be generated, either
// after the last attempt or on a terminal failure.
type ExhaustedError struct {
	Provider string
	Attempts int
	Terminal bool
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("dispatch: %s failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Detail returns the truncated last failure text.
func (e *ExhaustedError) Detail() string {
	return model.Truncate(strings.Join(strings.Fields(e.Err.Error()), " "), maxDetailRunes)
}

// RowText is the error string written into every output cell of the chunk.
func (e *ExhaustedError) RowText() string {
	return model.ErrorMarker + " " + e.Detail()
}

// Dispatcher routes, throttles, and retries provider calls.
type Dispatcher struct {
	router    *Router
	keys      *Keyring
	primary   Provider
	fallback  Provider
	throttle  *Throttle
	retry     resilience.RetryConfig
	quota     []string
	transient []string
	metrics   metrics.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records per-attempt outcomes and latency.
func WithMetrics(m metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithProviders replaces the configured providers.
func WithProviders(primary, fallback Provider) Option {
	return func(d *Dispatcher) {
		d.primary = primary
		d.fallback = fallback
	}
}

// WithSleep replaces the backoff and throttle sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		d.retry.Sleep = fn
		d.throttle.sleep = fn
	}
}

// WithClock replaces the clock used for usage days and call slots.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.router.now = now
		d.throttle.now = now
	}
}

// Store is the run state the dispatcher needs.
type Store interface {
	UsageStore
	SlotStore
}

// New builds a Dispatcher from configuration.
func New(cfg *config.Config, st Store, loc *time.Location, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		router:   NewRouter(cfg.Routing, cfg.OpenAI.KeyName, st, loc),
		keys:     NewKeyring(cfg.Credentials),
		primary:  NewGeminiProvider(cfg.Gemini),
		fallback: NewOpenAIProvider(cfg.OpenAI),
		throttle: NewThrottle(st, time.Duration(cfg.Throttle.MinIntervalMs)*time.Millisecond, cfg.Throttle.RPM),
		retry: resilience.FromRetryConfig(
			cfg.Retry.MaxRetries, cfg.Retry.BaseDelayMs, cfg.Retry.MaxDelayMs, cfg.Retry.JitterMs,
		),
		quota:     lower(cfg.Retry.QuotaSignatures),
		transient: lower(cfg.Retry.TransientSignatures),
		metrics:   metrics.Noop{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// GroupKey returns the credential group of a row, for chunk grouping.
func (d *Dispatcher) GroupKey(tier model.Tier, sheet, media string) string {
	return d.router.GroupKey(tier, sheet, media)
}

// Dispatch sends req and returns the provider's generated text verbatim.
// Failures are returned as *ExhaustedError unless ctx was cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	provider := d.primary
	if req.Tier == model.TierFallback {
		provider = d.fallback
	}

	retry := d.retry
	retry.OnRetry = resilience.RetryLogger("dispatch", provider.Name())

	attempts := 0
	text, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (string, error) {
		attempts++
		return d.attempt(ctx, provider, req, attempts)
	})
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", eris.Wrap(ctx.Err(), "dispatch: cancelled")
	}
	return "", &ExhaustedError{
		Provider: provider.Name(),
		Attempts: attempts,
		Terminal: resilience.IsTerminal(err),
		Err:      err,
	}
}

func (d *Dispatcher) attempt(ctx context.Context, p Provider, req Request, n int) (string, error) {
	keyName, err := d.router.Pick(ctx, req.Tier, req.Sheet, req.Media)
	if err != nil {
		return "", err
	}
	secret, ok := d.keys.Lookup(keyName)
	if !ok {
		return "", resilience.NewTerminalError(eris.Errorf("dispatch: missing credential %s", keyName))
	}

	if err := d.throttle.Wait(ctx); err != nil {
		return "", err
	}
	if err := d.router.Record(ctx, keyName); err != nil {
		zap.L().Warn("dispatch: usage not recorded", zap.String("key", keyName), zap.Error(err))
	}

	start := time.Now()
	text, err := p.Generate(ctx, secret, req.Prompt)
	d.metrics.ObserveProviderLatency(p.Name(), time.Since(start).Seconds())

	log := zap.L().With(
		zap.String("provider", p.Name()),
		zap.String("key", keyName),
		zap.String("sheet", req.Sheet),
		zap.Ints("rows", req.RowIDs),
		zap.Int("attempt", n),
	)
	if err == nil {
		d.metrics.IncProviderCalls(p.Name(), "ok")
		log.Debug("dispatch: call succeeded")
		return text, nil
	}

	err = d.classify(err)
	outcome := "terminal"
	if resilience.IsTransient(err) {
		outcome = "retriable"
	}
	d.metrics.IncProviderCalls(p.Name(), outcome)
	log.Warn("dispatch: call failed", zap.String("outcome", outcome), zap.Error(err))
	return "", err
}

// classify marks err as transient or terminal. Quota exhaustion is checked
// first so its 429 is never retried.
func (d *Dispatcher) classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, d.quota) {
		return resilience.NewTerminalError(err)
	}

	if status, ok := apiStatus(err); ok {
		if status >= 500 || resilience.IsTransientHTTPStatus(status) || containsAny(msg, d.transient) {
			return resilience.NewTransientError(err, status)
		}
		return resilience.NewTerminalError(err)
	}

	var gm *gemini.MalformedResponseError
	var om *openai.MalformedResponseError
	if errors.As(err, &gm) || errors.As(err, &om) {
		return resilience.NewTransientError(err, http.StatusOK)
	}

	if isTransport(err) || resilience.IsTransient(err) {
		return resilience.NewTransientError(err, 0)
	}
	return resilience.NewTerminalError(err)
}

func apiStatus(err error) (int, bool) {
	var ge *gemini.APIError
	if errors.As(err, &ge) {
		return ge.StatusCode, true
	}
	var oe *openai.APIError
	if errors.As(err, &oe) {
		return oe.StatusCode, true
	}
	return 0, false
}

func isTransport(err error) bool {
	var ue *url.Error
	return errors.As(err, &ue)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
