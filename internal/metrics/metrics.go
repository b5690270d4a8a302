package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines counters for runs, rows and provider calls.
type Metrics interface {
	IncRuns(outcome string)
	ObserveRunDuration(seconds float64)
	IncRowsProcessed(tier, outcome string)
	IncProviderCalls(provider, outcome string)
	ObserveProviderLatency(provider string, seconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncRuns(string)                         {}
func (Noop) ObserveRunDuration(float64)             {}
func (Noop) IncRowsProcessed(string, string)        {}
func (Noop) IncProviderCalls(string, string)        {}
func (Noop) ObserveProviderLatency(string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	rowsProcessed   *prometheus.CounterVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

// NewProm creates collectors under namespace and registers them with reg.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	p := &Prom{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Invocations by outcome",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of completed invocations",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		rowsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Rows written by tier and outcome",
		}, []string{"tier", "outcome"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider HTTP attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Provider HTTP attempt latency",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
	}
	reg.MustRegister(p.runs, p.runDuration, p.rowsProcessed, p.providerCalls, p.providerLatency)
	return p
}

func (p *Prom) IncRuns(outcome string) {
	p.runs.WithLabelValues(outcome).Inc()
}

func (p *Prom) ObserveRunDuration(seconds float64) {
	p.runDuration.Observe(seconds)
}

func (p *Prom) IncRowsProcessed(tier, outcome string) {
	p.rowsProcessed.WithLabelValues(tier, outcome).Inc()
}

func (p *Prom) IncProviderCalls(provider, outcome string) {
	p.providerCalls.WithLabelValues(provider, outcome).Inc()
}

func (p *Prom) ObserveProviderLatency(provider string, seconds float64) {
	p.providerLatency.WithLabelValues(provider).Observe(seconds)
}

// Handler returns an HTTP handler for /metrics serving g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
