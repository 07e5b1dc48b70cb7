package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test")
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	m.RecordCalculation("success")
	m.RecordCalculation("success")
	m.RecordCalculation("MISSING_FACT")
	m.AddBilled(3)
	m.RecordReconciliation("reconciled", 0)
	m.RecordAlert("critical")
	m.RecordPublish("strikefund.alerts", nil)
	m.RecordPublish("strikefund.alerts", errors.New("broker down"))
	m.ObserveBatch(time.Second)
	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"test_dues_calculations_total", map[string]string{"outcome": "success"}, 2},
		{"test_dues_calculations_total", map[string]string{"outcome": "MISSING_FACT"}, 1},
		{"test_dues_transactions_billed_total", nil, 3},
		{"test_remittance_reconciliations_total", map[string]string{"status": "reconciled"}, 1},
		{"test_strikefund_alerts_raised_total", map[string]string{"level": "critical"}, 1},
		{"test_events_published_total", map[string]string{"topic": "strikefund.alerts", "result": "error"}, 1},
		{"test_http_requests_total", map[string]string{"method": "GET", "path": "/health", "status": "200"}, 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, reg, tt.name, tt.labels); got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.name, tt.labels, got, tt.want)
		}
	}

	if err := m.Register(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.RecordCalculation("success")
	m.ObserveBatch(time.Second)
	m.AddBilled(1)
	m.RecordReconciliation("reconciled", 1)
	m.RecordForecast("healthy")
	m.RecordAlert("warning")
	m.RecordPublish("t", nil)
	m.RecordHTTPRequest("GET", "/", 200, 0)
}
