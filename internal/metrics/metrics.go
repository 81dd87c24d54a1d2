// Package metrics provides Prometheus metrics for segpipe runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a segpipe run.
type Metrics struct {
	// Segment metrics
	SegmentsProcessed *prometheus.CounterVec
	SegmentsSkipped   prometheus.Counter
	SegmentsFailed    prometheus.Counter

	// Timing metrics
	EncodeDuration *prometheus.HistogramVec
	MergeDuration  prometheus.Histogram

	// Pipeline metrics
	InFlightSegments prometheus.Gauge
	PendingSegments  prometheus.Gauge
	LastSegmentIndex prometheus.Gauge

	// Error metrics
	RetryAttempts prometheus.Counter

	// Throughput
	SegmentsPerMinute prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "segpipe"
	}

	m := &Metrics{
		SegmentsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_processed_total",
				Help:      "Total number of segments encoded successfully",
			},
			[]string{"strategy"},
		),
		SegmentsSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_skipped_total",
				Help:      "Total number of segments skipped (artifact already present)",
			},
		),
		SegmentsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_failed_total",
				Help:      "Total number of segments that exhausted all encode attempts",
			},
		),
		EncodeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "segment_encode_duration_seconds",
				Help:      "Wall time to encode one segment",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
			},
			[]string{"strategy"},
		),
		MergeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "merge_duration_seconds",
				Help:      "Time to concatenate all segment artifacts",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
		),
		InFlightSegments: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_segments",
				Help:      "Number of segments currently being encoded",
			},
		),
		PendingSegments: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_segments",
				Help:      "Number of segments not yet dispatched",
			},
		),
		LastSegmentIndex: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_segment_index",
				Help:      "Highest segment index recorded complete",
			},
		),
		RetryAttempts: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of segment encode retries",
			},
		),
		SegmentsPerMinute: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "segments_per_minute",
				Help:      "Current segment completion rate",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncSegmentsProcessed increments the processed counter for a strategy.
func (m *Metrics) IncSegmentsProcessed(strategy string) {
	m.SegmentsProcessed.WithLabelValues(strategy).Inc()
}

// IncSegmentsSkipped increments the skipped counter.
func (m *Metrics) IncSegmentsSkipped() {
	m.SegmentsSkipped.Inc()
}

// IncSegmentsFailed increments the failed counter.
func (m *Metrics) IncSegmentsFailed() {
	m.SegmentsFailed.Inc()
}

// ObserveEncodeDuration records the encode time for one segment.
func (m *Metrics) ObserveEncodeDuration(strategy string, seconds float64) {
	m.EncodeDuration.WithLabelValues(strategy).Observe(seconds)
}

// ObserveMergeDuration records the reassembly time.
func (m *Metrics) ObserveMergeDuration(seconds float64) {
	m.MergeDuration.Observe(seconds)
}

// SetInFlightSegments sets the number of in-flight segment encodes.
func (m *Metrics) SetInFlightSegments(n float64) {
	m.InFlightSegments.Set(n)
}

// SetPendingSegments sets the number of undispatched segments.
func (m *Metrics) SetPendingSegments(n float64) {
	m.PendingSegments.Set(n)
}

// SetLastSegmentIndex sets the highest completed segment index.
func (m *Metrics) SetLastSegmentIndex(idx float64) {
	m.LastSegmentIndex.Set(idx)
}

// IncRetryAttempts increments the retry counter.
func (m *Metrics) IncRetryAttempts() {
	m.RetryAttempts.Inc()
}

// SetSegmentsPerMinute sets the current completion rate.
func (m *Metrics) SetSegmentsPerMinute(rate float64) {
	m.SegmentsPerMinute.Set(rate)
}
