package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the alignment service
type Metrics struct {
	// Pass metrics
	SyncPasses          prometheus.Counter
	PassesSkipped       prometheus.Counter
	PassDuration        prometheus.Histogram
	SyncQuality         prometheus.Gauge
	AlignmentLatency    prometheus.Histogram
	AlignmentConfidence prometheus.Histogram

	// Stream metrics
	ActiveStreams   prometheus.Gauge
	SamplesIngested *prometheus.CounterVec
	SamplesDropped  prometheus.Counter
	AlignmentErrors *prometheus.CounterVec

	// Clock metrics
	ClockOffset *prometheus.GaugeVec
	ClockDrift  *prometheus.GaugeVec

	// Event metrics
	SyncEvents prometheus.Counter
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics and registers them on reg. Tests pass
// a fresh registry to avoid duplicate registration across cases.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Pass metrics
		SyncPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "timealign_sync_passes_total",
			Help: "Total number of completed synchronization passes",
		}),
		PassesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "timealign_sync_passes_skipped_total",
			Help: "Total number of pass ticks skipped because a pass was already in flight",
		}),
		PassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "timealign_pass_duration_seconds",
			Help:    "Wall time spent inside a synchronization pass",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~0.4s
		}),
		SyncQuality: factory.NewGauge(prometheus.GaugeOpts{
			Name: "timealign_sync_quality",
			Help: "Quality of the most recent synchronization pass (0.0 to 1.0)",
		}),
		AlignmentLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "timealign_alignment_latency_milliseconds",
			Help:    "Distance between aligned timestamps and the pass target",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5ms to ~1s
		}),
		AlignmentConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "timealign_alignment_confidence",
			Help:    "Confidence score of individual alignment results",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		// Stream metrics
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "timealign_active_streams",
			Help: "Current number of registered streams",
		}),
		SamplesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "timealign_samples_ingested_total",
			Help: "Total number of samples accepted into stream buffers",
		}, []string{"stream"}),
		SamplesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "timealign_samples_dropped_total",
			Help: "Total number of samples dropped before buffering",
		}),
		AlignmentErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "timealign_alignment_errors_total",
			Help: "Total number of per-stream alignment failures",
		}, []string{"stream"}),

		// Clock metrics
		ClockOffset: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "timealign_clock_offset_milliseconds",
			Help: "Estimated clock offset per stream",
		}, []string{"stream"}),
		ClockDrift: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "timealign_clock_drift",
			Help: "Estimated clock drift rate per stream (ms per ms)",
		}, []string{"stream"}),

		// Event metrics
		SyncEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "timealign_sync_events_total",
			Help: "Total number of registered synchronization events",
		}),
	}
}

// RecordPass records a completed synchronization pass
func (m *Metrics) RecordPass(quality, durationSeconds float64) {
	m.SyncPasses.Inc()
	m.SyncQuality.Set(quality)
	m.PassDuration.Observe(durationSeconds)
}

// RecordPassSkipped increments the skipped pass counter
func (m *Metrics) RecordPassSkipped() {
	m.PassesSkipped.Inc()
}

// RecordResult records one stream's alignment result within a pass
func (m *Metrics) RecordResult(confidence, latencyMs float64) {
	m.AlignmentConfidence.Observe(confidence)
	m.AlignmentLatency.Observe(latencyMs)
}

// RecordSampleIngested increments the ingested counter for a stream
func (m *Metrics) RecordSampleIngested(stream string) {
	m.SamplesIngested.WithLabelValues(stream).Inc()
}

// RecordSampleDropped increments the dropped samples counter
func (m *Metrics) RecordSampleDropped() {
	m.SamplesDropped.Inc()
}

// AddSamplesDropped adds n to the dropped samples counter. The engine
// reports drops as a cumulative total; callers feed the delta since
// their last observation.
func (m *Metrics) AddSamplesDropped(n uint64) {
	m.SamplesDropped.Add(float64(n))
}

// RecordAlignmentError increments the error counter for a stream
func (m *Metrics) RecordAlignmentError(stream string) {
	m.AlignmentErrors.WithLabelValues(stream).Inc()
}

// SetActiveStreams sets the current number of registered streams
func (m *Metrics) SetActiveStreams(count int) {
	m.ActiveStreams.Set(float64(count))
}

// SetClockState records the estimated offset and drift for a stream
func (m *Metrics) SetClockState(stream string, offsetMs, drift float64) {
	m.ClockOffset.WithLabelValues(stream).Set(offsetMs)
	m.ClockDrift.WithLabelValues(stream).Set(drift)
}

// RecordSyncEvent increments the sync event counter
func (m *Metrics) RecordSyncEvent() {
	m.SyncEvents.Inc()
}
