package observer

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// slidingWindow is the retention period for the "requests in last 60s"
// style counters: spec.md §4.7 prunes to the last 300s.
const slidingWindow = 300 * time.Second

// HostCount is one entry of the top-N hosts snapshot.
type HostCount struct {
	Host  string
	Count int64
}

// Snapshot is a point-in-time read of the metrics sink, used for the C10
// accessor methods and the shutdown summary.
type Snapshot struct {
	Total           int64
	Blocked         int64
	Allowed         int64
	RequestsLast60s int
	TopHosts        []HostCount
	Uptime          time.Duration
}

// Metrics is the C7 Metrics contract: increments total/blocked counters,
// tracks per-host request counts, and exposes a sliding-window view, safe
// for concurrent invocation.
type Metrics interface {
	RecordRequest(host string, blocked bool)
	Snapshot() Snapshot
}

// promMetrics is the concrete C10 implementation: Prometheus counter
// vectors back the cumulative numbers; an in-process sliding window and
// host tally (guarded by the same mutex) back the windowed/top-N views
// that Prometheus counters alone can't answer without a query engine.
type promMetrics struct {
	mu sync.Mutex

	total      prometheus.Counter
	blocked    prometheus.Counter
	byHost     *prometheus.CounterVec
	hostCounts map[string]int64
	window     []time.Time

	totalN   int64
	blockedN int64
	start    time.Time
}

// NewPrometheusMetrics constructs a Metrics sink and registers its
// collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) Metrics {
	m := &promMetrics{
		total: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "requests_total",
			Help:      "Total requests handled by the proxy.",
		}),
		blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "requests_blocked_total",
			Help:      "Requests denied by domain policy.",
		}),
		byHost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "requests_by_host_total",
			Help:      "Requests observed per destination host.",
		}, []string{"host"}),
		hostCounts: make(map[string]int64),
		start:      time.Now(),
	}

	reg.MustRegister(m.total, m.blocked, m.byHost)
	return m
}

// RecordRequest increments total (and blocked, if applicable), adds host
// to the per-host tally, and appends now to the sliding window.
func (m *promMetrics) RecordRequest(host string, blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalN++
	m.total.Inc()
	if blocked {
		m.blockedN++
		m.blocked.Inc()
	}

	m.hostCounts[host]++
	m.byHost.WithLabelValues(host).Inc()

	now := time.Now()
	m.window = append(m.window, now)
	m.pruneLocked(now)
}

func (m *promMetrics) pruneLocked(now time.Time) {
	cutoff := now.Add(-slidingWindow)
	i := 0
	for i < len(m.window) && m.window[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.window = m.window[i:]
	}
}

// Snapshot returns total, blocked, allowed, requests in the last 60s,
// the top-10 hosts by request count, and process uptime.
func (m *promMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.pruneLocked(now)

	cutoff60 := now.Add(-60 * time.Second)
	last60 := 0
	for _, t := range m.window {
		if !t.Before(cutoff60) {
			last60++
		}
	}

	hosts := make([]HostCount, 0, len(m.hostCounts))
	for h, c := range m.hostCounts {
		hosts = append(hosts, HostCount{Host: h, Count: c})
	}
	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Count != hosts[j].Count {
			return hosts[i].Count > hosts[j].Count
		}
		return hosts[i].Host < hosts[j].Host
	})
	const topN = 10
	if len(hosts) > topN {
		hosts = hosts[:topN]
	}

	return Snapshot{
		Total:           m.totalN,
		Blocked:         m.blockedN,
		Allowed:         m.totalN - m.blockedN,
		RequestsLast60s: last60,
		TopHosts:        hosts,
		Uptime:          now.Sub(m.start),
	}
}
