// Package align implements temporal alignment of independently clocked data
// streams: per-stream sample buffering, four interchangeable alignment
// strategies, a synchronization engine that aggregates per-stream results
// into confidence-scored frames, and a coordinator that drives periodic
// synchronization passes.
//
// All alignment math operates on float64 milliseconds on a shared,
// producer-chosen epoch (Unix wall-clock milliseconds for live producers).
// Hardware clock values are converted to the same unit at the producer
// boundary.
package align

import (
	"time"
)

// StreamSample is one timestamped observation from a single stream.
// Samples are immutable once created.
type StreamSample struct {
	// StreamID identifies the originating stream.
	StreamID string

	// Timestamp is the software (wall-clock) timestamp in milliseconds.
	Timestamp float64

	// HardwareTimestamp is the device clock value in milliseconds, valid
	// only when HasHardware is set. Eye trackers and sensor boards supply
	// this; purely software-timed producers leave it unset.
	HardwareTimestamp float64
	HasHardware       bool

	// Payload carries the stream-specific decoded data.
	Payload interface{}

	// ProducerConfidence is the producer-reported confidence in the
	// payload, 0 when the producer does not report one.
	ProducerConfidence float64
}

// NewSample creates a software-timestamped sample.
func NewSample(streamID string, timestamp float64, payload interface{}) StreamSample {
	return StreamSample{
		StreamID:  streamID,
		Timestamp: timestamp,
		Payload:   payload,
	}
}

// NewHardwareSample creates a sample carrying both a software timestamp and a
// dedicated hardware clock value.
func NewHardwareSample(streamID string, timestamp, hardware float64, payload interface{}) StreamSample {
	return StreamSample{
		StreamID:          streamID,
		Timestamp:         timestamp,
		HardwareTimestamp: hardware,
		HasHardware:       true,
		Payload:           payload,
	}
}

// Result is the outcome of aligning one sample onto the shared reference
// axis. Results are constructed fresh per alignment call and never mutated.
type Result struct {
	StreamID string

	// AlignedTimestamp is the sample's timestamp re-expressed on the
	// reference axis, in milliseconds.
	AlignedTimestamp float64

	// Confidence is the [0,1] trust score for this alignment.
	Confidence float64

	// Offset is the measured distance from the reference, in milliseconds.
	// Sign convention: sample minus reference.
	Offset float64

	// Drift is the estimated clock drift applied, where the strategy
	// models one (ms of offset change per ms, or the hardware heuristic's
	// window extrapolation).
	Drift float64

	// SourceEvent is the ID of the matched sync event, for event-driven
	// alignment only.
	SourceEvent string
}

// Metrics summarizes the health of one synchronization pass. Values are
// recomputed per reporting call, not incrementally mutated.
type Metrics struct {
	// Quality is the confidence-weighted aggregate across all registered
	// streams. Streams producing no result contribute zero to the
	// numerator but stay in the denominator, so a silent dropout degrades
	// quality instead of being masked.
	Quality float64

	// Latency is the mean absolute distance between aligned timestamps
	// and the pass target, in milliseconds, over streams that produced a
	// result.
	Latency float64

	// Jitter is the standard deviation of recent pass latencies.
	Jitter float64

	// AlignmentAccuracy is the mean confidence over streams that produced
	// a result. Unlike Quality, silent streams are excluded here.
	AlignmentAccuracy float64

	// DroppedSamples counts buffer evictions and dispatch drops since the
	// engine was created.
	DroppedSamples uint64

	// LastUpdate is when the most recent pass completed.
	LastUpdate time.Time
}

// ClockState is the software aligner's per-stream clock model, updated only
// by explicit UpdateClockSync calls.
type ClockState struct {
	// Offset is serverTime minus clientTime from the latest exchange, ms.
	Offset float64

	// Drift is the rate of offset change per millisecond of client time.
	Drift float64

	// LastSync is the client timestamp of the latest exchange, ms.
	LastSync float64

	// Synced reports whether at least one exchange has been recorded.
	Synced bool
}

// SyncEvent is a registered alignment trigger: a calibration marker, UI
// action, or simulator tick. Events are retained in a time-boxed window and
// pruned by age.
type SyncEvent struct {
	ID        string
	Type      string
	Timestamp float64
	Metadata  map[string]string
}

// Frame is the engine's output unit: the per-stream results of one
// synchronization pass against a single target timestamp, plus pass metrics.
// Frames are ephemeral; the engine retains only a short rolling summary
// history for metrics smoothing.
type Frame struct {
	// ID uniquely identifies the pass, for correlation in logs and the
	// recorder.
	ID string

	// Target is the reference timestamp all results were computed against.
	Target float64

	// Results maps stream ID to that stream's alignment result. Streams
	// with no usable sample this pass are absent.
	Results map[string]Result

	// Metrics are the aggregate metrics for this pass.
	Metrics Metrics
}

// StreamData is the per-stream view delivered to OnSynchronizedData
// subscribers: the aligned timestamp and confidence together with the
// sample payload, tagged with the producer-declared stream kind.
type StreamData struct {
	StreamID   string
	Kind       string
	Timestamp  float64
	Confidence float64
	Payload    interface{}
}

// PassSummary is one entry of the engine's rolling pass history.
type PassSummary struct {
	Target  float64
	Quality float64
	Latency float64
	When    time.Time
}

// StreamInfo describes one registered stream for status reporting.
type StreamInfo struct {
	StreamID      string
	Kind          string
	Buffered      int
	Evicted       uint64
	LastSeen      float64
	LastTimestamp float64
	Results       uint64
	Errors        uint64
}

// EngineStats is the snapshot returned by Engine.Stats.
type EngineStats struct {
	StreamCount     int
	Strategy        Kind
	Tolerance       float64
	Running         bool
	SamplesIngested uint64
	DeferredPasses  uint64
	Metrics         Metrics
}
