// Package metrics exposes prometheus instrumentation for the rules engine
// and the gRPC surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultMatch   = "match"
	ResultNoMatch = "no_match"
)

// Metrics owns a private registry so tests and multiple servers never collide
// on the global one. A nil *Metrics records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	compilations    *prometheus.CounterVec
	compileDuration prometheus.Histogram
	evaluations     *prometheus.CounterVec
	evalDuration    prometheus.Histogram
	selectedUsers   prometheus.Histogram
	rpcs            *prometheus.CounterVec
	rpcDuration     *prometheus.HistogramVec
}

// New creates and registers every collector, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		compilations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulekeeper",
				Name:      "rule_compilations_total",
				Help:      "Rule trees compiled into SQL predicates",
			},
			[]string{"result"},
		),
		compileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rulekeeper",
			Name:      "rule_compile_duration_seconds",
			Help:      "Time spent compiling one rule tree",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulekeeper",
				Name:      "rule_evaluations_total",
				Help:      "In-memory rule evaluations against one user",
			},
			[]string{"result"},
		),
		evalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rulekeeper",
			Name:      "rule_evaluate_duration_seconds",
			Help:      "Time spent evaluating one rule tree in memory",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		selectedUsers: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rulekeeper",
			Name:      "selected_users",
			Help:      "Users selected by one compiled predicate",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		rpcs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulekeeper",
				Name:      "grpc_requests_total",
				Help:      "Total gRPC requests",
			},
			[]string{"method", "code"},
		),
		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rulekeeper",
				Name:      "grpc_request_duration_seconds",
				Help:      "gRPC request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.compilations,
		m.compileDuration,
		m.evaluations,
		m.evalDuration,
		m.selectedUsers,
		m.rpcs,
		m.rpcDuration,
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCompile records one Engine.Compile call.
func (m *Metrics) ObserveCompile(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.compilations.WithLabelValues(result).Inc()
	m.compileDuration.Observe(d.Seconds())
}

// ObserveEvaluate records one Engine.Evaluate call.
func (m *Metrics) ObserveEvaluate(d time.Duration, matched bool, err error) {
	if m == nil {
		return
	}
	result := ResultNoMatch
	switch {
	case err != nil:
		result = ResultError
	case matched:
		result = ResultMatch
	}
	m.evaluations.WithLabelValues(result).Inc()
	m.evalDuration.Observe(d.Seconds())
}

// ObserveSelected records the size of one audience selection.
func (m *Metrics) ObserveSelected(n int) {
	if m == nil {
		return
	}
	m.selectedUsers.Observe(float64(n))
}

// ObserveRPC records one unary gRPC call.
func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcs.WithLabelValues(method, code).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}
