package core

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes used as the "outcome" label.
const (
	LoginOutcomeSuccess     = "success"
	LoginOutcomeUnknownUser = "unknown_user"
	LoginOutcomeBadPassword = "bad_password"
	LoginOutcomeError       = "error"
)

// Metrics holds the process counters. Each instance owns its registry so
// routers built in tests do not collide on global registration.
type Metrics struct {
	registry           *prometheus.Registry
	LoginAttempts      *prometheus.CounterVec
	AuditWriteFailures prometheus.Counter
	AuditSpilled       prometheus.Counter
	AuditReplayed      prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_login_attempts_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		AuditWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_audit_write_failures_total",
			Help: "Audit events whose insert failed",
		}),
		AuditSpilled: factory.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_audit_spilled_total",
			Help: "Failed audit events pushed to the replay queue",
		}),
		AuditReplayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_audit_replayed_total",
			Help: "Spilled audit events re-inserted by the worker",
		}),
	}
}

// ObserveLogin increments the attempt counter for outcome.
func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

// AuditFailureHook adapts the failure counter to the AuditLogger hook signature.
func (m *Metrics) AuditFailureHook() func(AuditEvent, error) {
	return func(AuditEvent, error) {
		m.AuditWriteFailures.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// NewMetricsServer serves only /metrics. The replay worker uses it since it
// has no gin engine of its own.
func NewMetricsServer(addr string, m *Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
