package core

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}

func TestMetricsObserveLogin(t *testing.T) {
	m := NewMetrics()
	m.ObserveLogin(LoginOutcomeSuccess)
	m.ObserveLogin(LoginOutcomeBadPassword)
	m.ObserveLogin(LoginOutcomeBadPassword)

	if got := counterValue(t, m.LoginAttempts.WithLabelValues(LoginOutcomeBadPassword)); got != 2 {
		t.Fatalf("bad_password = %v, want 2", got)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveLogin(LoginOutcomeSuccess)
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := NewMetrics()
	m.ObserveLogin(LoginOutcomeUnknownUser)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `dashboard_login_attempts_total{outcome="unknown_user"} 1`) {
		t.Fatalf("metrics output missing login counter:\n%s", body)
	}
}

func TestMetricsServerExposesReplayCounter(t *testing.T) {
	m := NewMetrics()
	m.AuditReplayed.Inc()
	srv := NewMetricsServer(":0", m)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "dashboard_audit_replayed_total 1") {
		t.Fatalf("worker metrics missing replay counter:\n%s", rec.Body.String())
	}
	if srv.ReadHeaderTimeout == 0 {
		t.Fatal("metrics server must bound header reads")
	}
}
