package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Load results used as the "result" label.
const (
	resultOK     = "ok"
	resultNoData = "no_data"
	resultError  = "error"
	resultCached = "cached"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	loads         *prometheus.CounterVec
	loadDuration  prometheus.Histogram
	runsFetched   prometheus.Counter
	skipped       prometheus.Counter
	conversations prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracedash",
			Name:      "loads_total",
			Help:      "Snapshot loads by result.",
		}, []string{"result"}),
		loadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tracedash",
			Name:      "load_duration_seconds",
			Help:      "Time spent fetching and building a snapshot.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		runsFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tracedash",
			Name:      "runs_fetched_total",
			Help:      "Runs returned by the trace source.",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tracedash",
			Name:      "records_skipped_total",
			Help:      "Records dropped for missing required fields.",
		}),
		conversations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tracedash",
			Name:      "snapshot_conversations",
			Help:      "Conversations in the current snapshot.",
		}),
	}
}

func (m *Metrics) observeCached() {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(resultCached).Inc()
}

func (m *Metrics) observeLoad(
	result string, seconds float64, snap *Snapshot,
) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(result).Inc()
	m.loadDuration.Observe(seconds)
	if snap != nil {
		m.runsFetched.Add(float64(snap.Stats.Fetched))
		m.skipped.Add(float64(snap.Stats.Skipped))
		m.conversations.Set(float64(len(snap.Conversations)))
	}
}
