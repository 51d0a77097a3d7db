package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics is an in-process Prometheus registry for one run. Spec.md's
// Non-goals rule out an HTTP exposition endpoint; the registry is gathered
// and dumped to metrics.json each time Engine.Run returns (completion,
// failure, interruption or pause) instead.
type Metrics struct {
	registry     *prometheus.Registry
	iterations   prometheus.Counter
	toolCalls    *prometheus.CounterVec
	toolDuration prometheus.Histogram
	llmDuration  prometheus.Histogram
}

// NewMetrics builds a fresh registry for one run.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delta_iterations_total",
			Help: "TAO iterations completed by this run.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delta_tool_calls_total",
			Help: "Tool dispatches by outcome.",
		}, []string{"status"}),
		toolDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "delta_tool_duration_seconds",
			Help:    "Tool execution wall-clock duration.",
			Buckets: prometheus.DefBuckets,
		}),
		llmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "delta_llm_call_duration_seconds",
			Help:    "LLM call wall-clock duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.iterations, m.toolCalls, m.toolDuration, m.llmDuration)
	return m
}

func (m *Metrics) recordIteration() { m.iterations.Inc() }

func (m *Metrics) recordToolCall(success bool, d time.Duration) {
	status := "success"
	if !success {
		status = "failed"
	}
	m.toolCalls.WithLabelValues(status).Inc()
	m.toolDuration.Observe(d.Seconds())
}

func (m *Metrics) recordLLMCall(d time.Duration) {
	m.llmDuration.Observe(d.Seconds())
}

// writeJSON gathers the registry's current values and writes them to
// <runDir>/metrics.json.
func (m *Metrics) writeJSON(runDir string) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	out := map[string]any{}
	for _, mf := range families {
		out[mf.GetName()] = summarizeFamily(mf)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(runDir, "metrics.json"), data, 0o644)
}

func summarizeFamily(mf *dto.MetricFamily) any {
	switch mf.GetType() {
	case dto.MetricType_COUNTER:
		if len(mf.GetMetric()) == 1 && len(mf.GetMetric()[0].GetLabel()) == 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
		byLabel := map[string]float64{}
		for _, met := range mf.GetMetric() {
			key := "default"
			if len(met.GetLabel()) > 0 {
				key = met.GetLabel()[0].GetValue()
			}
			byLabel[key] = met.GetCounter().GetValue()
		}
		return byLabel
	case dto.MetricType_HISTOGRAM:
		h := mf.GetMetric()[0].GetHistogram()
		return map[string]any{
			"sample_count": h.GetSampleCount(),
			"sample_sum":   h.GetSampleSum(),
		}
	default:
		return nil
	}
}
