// Package metrics holds the prometheus collectors for inference attempts,
// analysis outcomes, ledger persistence and tool calls.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "food_lens"

type Metrics struct {
	registry *prometheus.Registry

	inferenceAttempts *prometheus.CounterVec
	analysisOutcomes  *prometheus.CounterVec
	ledgerWrites      *prometheus.CounterVec
	toolCalls         *prometheus.CounterVec
	rateLimited       prometheus.Counter
}

// New builds the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inferenceAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_attempts_total",
			Help:      "Inference attempts by model and classification result.",
		}, []string{"model", "result"}),
		analysisOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_outcomes_total",
			Help:      "Final image analysis outcomes by kind.",
		}, []string{"kind"}),
		ledgerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_writes_total",
			Help:      "Ledger persistence attempts by status.",
		}, []string{"status"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "MCP tool calls by tool and status.",
		}, []string{"tool", "status"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.inferenceAttempts,
		m.analysisOutcomes,
		m.ledgerWrites,
		m.toolCalls,
		m.rateLimited,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) InferenceAttempt(model, result string) {
	if m == nil {
		return
	}
	m.inferenceAttempts.WithLabelValues(model, result).Inc()
}

func (m *Metrics) AnalysisOutcome(kind string) {
	if m == nil {
		return
	}
	m.analysisOutcomes.WithLabelValues(kind).Inc()
}

func (m *Metrics) LedgerWrite(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.ledgerWrites.WithLabelValues(status).Inc()
}

func (m *Metrics) ToolCall(tool string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
