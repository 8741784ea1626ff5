package observer

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsSnapshotCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.RecordRequest("a.test", false)
	m.RecordRequest("a.test", false)
	m.RecordRequest("b.test", true)

	snap := m.Snapshot()
	if snap.Total != 3 {
		t.Errorf("total = %d, want 3", snap.Total)
	}
	if snap.Blocked != 1 {
		t.Errorf("blocked = %d, want 1", snap.Blocked)
	}
	if snap.Allowed != 2 {
		t.Errorf("allowed = %d, want 2", snap.Allowed)
	}
	if snap.RequestsLast60s != 3 {
		t.Errorf("requestsLast60s = %d, want 3", snap.RequestsLast60s)
	}
	if len(snap.TopHosts) != 2 || snap.TopHosts[0].Host != "a.test" || snap.TopHosts[0].Count != 2 {
		t.Errorf("unexpected top hosts: %+v", snap.TopHosts)
	}
}

func TestMetricsSlidingWindowPrunes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg).(*promMetrics)

	m.RecordRequest("old.test", false)
	// Simulate the entry having aged out of the 300s window.
	m.mu.Lock()
	m.window[0] = time.Now().Add(-400 * time.Second)
	m.mu.Unlock()

	m.RecordRequest("new.test", false)

	snap := m.Snapshot()
	if snap.RequestsLast60s != 1 {
		t.Errorf("expected stale window entry to be pruned, requestsLast60s = %d", snap.RequestsLast60s)
	}
	m.mu.Lock()
	remaining := len(m.window)
	m.mu.Unlock()
	if remaining != 1 {
		t.Errorf("expected stale entry removed from the window, %d entries remain", remaining)
	}
}

func TestMetricsUptimeIsPositive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)
	time.Sleep(time.Millisecond)
	if snap := m.Snapshot(); snap.Uptime <= 0 {
		t.Errorf("expected positive uptime, got %v", snap.Uptime)
	}
}
