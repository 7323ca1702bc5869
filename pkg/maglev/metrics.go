// metrics.go mirrors arena-cache's metrics abstraction: a metricsSink
// interface with a no-op default and a Prometheus-backed implementation
// activated by WithMetrics. incPick/incFallbackPick are called from Pick on
// every lookup, the same hot-path labeling arena-cache's incHit/incMiss do;
// Heartbeat and Finalize refresh the remaining gauges (banned count, slot
// counts per node).
//
// ┌───────────────────────────────┬──────┬────────┐
// │ Metric                        │ Type │ Labels │
// ├────────────────────────────────┼──────┼────────┤
// │ maglev_picks_total             │ Ctr  │ node   │
// │ maglev_fallback_picks_total    │ Ctr  │ node   │
// │ maglev_banned_nodes            │ Gge  │ —      │
// │ maglev_slot_count              │ Gge  │ node   │
// │ maglev_heartbeats_total        │ Ctr  │ —      │
// └───────────────────────────────┴──────┴────────┘
//
// © 2025 maglev-balancer authors. MIT License.
package maglev

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink is an internal interface abstracting away the concrete
// backend (Prometheus vs noop). Not exposed outside the package.
type metricsSink interface {
	incPick(nodeIdx int)
	incFallbackPick(nodeIdx int)
	setBanned(count int)
	setSlotCount(nodeIdx, count int)
	incHeartbeat()
}

type noopMetrics struct{}

func (noopMetrics) incPick(int)           {}
func (noopMetrics) incFallbackPick(int)   {}
func (noopMetrics) setBanned(int)         {}
func (noopMetrics) setSlotCount(int, int) {}
func (noopMetrics) incHeartbeat()         {}

type promMetrics struct {
	picks         *prometheus.CounterVec
	fallbackPicks *prometheus.CounterVec
	banned        prometheus.Gauge
	slotCount     *prometheus.GaugeVec
	heartbeats    prometheus.Counter
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	label := []string{"node"}
	pm := &promMetrics{
		picks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maglev",
			Name:      "picks_total",
			Help:      "Number of Pick calls resolved to each node.",
		}, label),
		fallbackPicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maglev",
			Name:      "fallback_picks_total",
			Help:      "Number of Pick calls diverted away from the consistent node.",
		}, label),
		banned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "maglev",
			Name:      "banned_nodes",
			Help:      "Number of nodes currently banned.",
		}),
		slotCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "maglev",
			Name:      "slot_count",
			Help:      "Number of slot-table entries assigned to each node.",
		}, label),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maglev",
			Name:      "heartbeats_total",
			Help:      "Number of Heartbeat calls processed.",
		}),
	}
	reg.MustRegister(pm.picks, pm.fallbackPicks, pm.banned, pm.slotCount, pm.heartbeats)
	return pm
}

func (m *promMetrics) incPick(nodeIdx int) {
	m.picks.WithLabelValues(strconv.Itoa(nodeIdx)).Inc()
}

func (m *promMetrics) incFallbackPick(nodeIdx int) {
	m.fallbackPicks.WithLabelValues(strconv.Itoa(nodeIdx)).Inc()
}

func (m *promMetrics) setBanned(count int) { m.banned.Set(float64(count)) }

func (m *promMetrics) setSlotCount(nodeIdx, count int) {
	m.slotCount.WithLabelValues(strconv.Itoa(nodeIdx)).Set(float64(count))
}

func (m *promMetrics) incHeartbeat() { m.heartbeats.Inc() }

// newMetricsSink decides which implementation to use.
func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
