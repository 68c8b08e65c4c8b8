package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the sync engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	fetches       *prometheus.CounterVec
	newEntries    prometheus.Counter
	icons         *prometheus.CounterVec
	batchDuration prometheus.Histogram
	pending       prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_fetches_total",
			Help: "Feed fetches by outcome (content, unchanged, transport_error, parse_error, storage_error)",
		}, []string{"outcome"}),
		newEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_new_entries_total",
			Help: "Entries inserted by reconciliation",
		}),
		icons: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_icon_resolutions_total",
			Help: "Icon cascade results (found, none)",
		}, []string{"result"}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedsync_batch_duration_seconds",
			Help:    "Duration of full sync batches",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "feedsync_pending_tasks",
			Help: "Feed and icon tasks currently in flight",
		}),
	}
}

func (m *Metrics) Fetch(outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) NewEntries(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.newEntries.Add(float64(n))
}

func (m *Metrics) Icon(found bool) {
	if m == nil {
		return
	}
	result := "none"
	if found {
		result = "found"
	}
	m.icons.WithLabelValues(result).Inc()
}

func (m *Metrics) BatchDone(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.pending.Inc()
}

func (m *Metrics) TaskDone() {
	if m == nil {
		return
	}
	m.pending.Dec()
}
