// Package prometheus implements the daemon metrics facade on
// prometheus/client_golang. Importing it (for side effects) installs the
// constructor into internal/metrics.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dtnd/internal/metrics"
)

func init() {
	metrics.RegisterDaemonMetricsConstructor(newDaemonMetrics)
}

type daemonMetrics struct {
	eventsProcessed *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	linkQueued      *prometheus.GaugeVec
	linkQueuedBytes *prometheus.GaugeVec
	linkInflight    *prometheus.GaugeVec
	linkInflightB   *prometheus.GaugeVec
	custodyTimers   prometheus.Gauge
	acsBatchSize    prometheus.Histogram
	storeTotalSize  prometheus.Gauge
	bundlesPending  prometheus.Gauge
}

func newDaemonMetrics() metrics.DaemonMetrics {
	reg := metrics.GetRegistry()
	if reg == nil {
		return nil
	}

	return &daemonMetrics{
		eventsProcessed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dtnd_events_processed_total",
				Help: "Events handled, by processor and event type",
			},
			[]string{"processor", "event_type"},
		),
		eventDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dtnd_event_duration_seconds",
				Help:    "Per-event handling time, by processor",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"processor"},
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dtnd_event_queue_depth",
				Help: "Current event queue depth, by processor",
			},
			[]string{"processor"},
		),
		linkQueued: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dtnd_link_bundles_queued",
				Help: "Bundles awaiting transmission, by link",
			},
			[]string{"link"},
		),
		linkQueuedBytes: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dtnd_link_bytes_queued",
				Help: "Payload bytes awaiting transmission, by link",
			},
			[]string{"link"},
		),
		linkInflight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dtnd_link_bundles_inflight",
				Help: "Bundles transmitted but unacknowledged, by link",
			},
			[]string{"link"},
		),
		linkInflightB: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dtnd_link_bytes_inflight",
				Help: "Payload bytes transmitted but unacknowledged, by link",
			},
			[]string{"link"},
		),
		custodyTimers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dtnd_custody_timers_live",
				Help: "Armed custody retransmission timers",
			},
		),
		acsBatchSize: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dtnd_acs_batch_size",
				Help:    "Custody-ids per emitted aggregate custody signal",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
		),
		storeTotalSize: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dtnd_store_total_size_bytes",
				Help: "Reserved payload bytes across live bundles",
			},
		),
		bundlesPending: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dtnd_bundles_pending",
				Help: "Bundles awaiting a forwarding decision or delivery",
			},
		),
	}
}

func (m *daemonMetrics) EventProcessed(processor, eventType string, seconds float64) {
	m.eventsProcessed.WithLabelValues(processor, eventType).Inc()
	m.eventDuration.WithLabelValues(processor).Observe(seconds)
}

func (m *daemonMetrics) QueueDepth(processor string, depth int) {
	m.queueDepth.WithLabelValues(processor).Set(float64(depth))
}

func (m *daemonMetrics) LinkQueue(link string, bundles int, bytes uint64) {
	m.linkQueued.WithLabelValues(link).Set(float64(bundles))
	m.linkQueuedBytes.WithLabelValues(link).Set(float64(bytes))
}

func (m *daemonMetrics) LinkInflight(link string, bundles int, bytes uint64) {
	m.linkInflight.WithLabelValues(link).Set(float64(bundles))
	m.linkInflightB.WithLabelValues(link).Set(float64(bytes))
}

func (m *daemonMetrics) CustodyTimers(count int) {
	m.custodyTimers.Set(float64(count))
}

func (m *daemonMetrics) ACSBatch(size int) {
	m.acsBatchSize.Observe(float64(size))
}

func (m *daemonMetrics) StoreTotalSize(bytes uint64) {
	m.storeTotalSize.Set(float64(bytes))
}

func (m *daemonMetrics) BundlesPending(count int) {
	m.bundlesPending.Set(float64(count))
}
