package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopMetrics(t *testing.T) {
	var m Metrics = Noop{}
	m.IncRuns("completed")
	m.ObserveRunDuration(1)
	m.IncRowsProcessed("primary", "ok")
	m.IncProviderCalls("gemini", "ok")
	m.ObserveProviderLatency("gemini", 0.5)
}

// counterValue returns the value of the counter name with the given labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metric:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metric
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProm("mna", reg)

	m.IncRuns("completed")
	m.IncRuns("completed")
	m.IncRowsProcessed("fallback", "ok")
	m.IncProviderCalls("gemini", "retriable")
	m.ObserveProviderLatency("gemini", 1.2)
	m.ObserveRunDuration(42)

	assert.Equal(t, 2.0, counterValue(t, reg, "mna_runs_total", map[string]string{"outcome": "completed"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "mna_rows_processed_total", map[string]string{"tier": "fallback", "outcome": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "mna_provider_calls_total", map[string]string{"provider": "gemini", "outcome": "retriable"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "mna_provider_call_duration_seconds", map[string]string{"provider": "gemini"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "mna_run_duration_seconds", nil))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProm("mna", reg)
	m.IncRuns("locked")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mna_runs_total{outcome="locked"} 1`)
}
