package align

import (
	"gonum.org/v1/gonum/stat"
)

// HardwareConfidence is the fixed confidence of hardware-clock alignment,
// the highest-trust path.
const HardwareConfidence = 0.95

// HardwareOptions configures the hardware timestamp strategy. Zero fields
// take defaults.
type HardwareOptions struct {
	// HistorySize bounds the per-stream offset history used for drift
	// estimation. Default 100.
	HistorySize int

	// MinDriftSamples is how many offsets must accumulate before drift is
	// estimated. Default 10.
	MinDriftSamples int
}

// Hardware aligns samples on their dedicated hardware clock values. The
// first observed value establishes a process-local reference; per stream,
// recent offsets against that reference feed a least-squares fit whose slope
// estimates drift.
//
// The drift estimate multiplies the regression slope by the history length,
// extrapolating offset change across the whole window rather than per unit
// time. This reproduces the behavior of the upstream capture stack; treat it
// as a heuristic, not a physical clock model.
type Hardware struct {
	historySize     int
	minDriftSamples int

	reference float64
	hasRef    bool
	offsets   map[string][]float64
}

// NewHardware creates a hardware timestamp strategy.
func NewHardware(opts HardwareOptions) (*Hardware, error) {
	if opts.HistorySize == 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.MinDriftSamples == 0 {
		opts.MinDriftSamples = DefaultMinDriftSamples
	}
	if opts.HistorySize < 2 {
		return nil, &ConfigError{Field: "history size", Reason: "must be at least 2"}
	}
	if opts.MinDriftSamples < 2 {
		return nil, &ConfigError{Field: "min drift samples", Reason: "must be at least 2"}
	}

	return &Hardware{
		historySize:     opts.HistorySize,
		minDriftSamples: opts.MinDriftSamples,
		offsets:         make(map[string][]float64),
	}, nil
}

// Kind returns KindHardware.
func (h *Hardware) Kind() Kind {
	return KindHardware
}

// Align maps the sample's hardware clock value onto the reference axis.
// Samples without a hardware timestamp fall back to their software
// timestamp; the confidence stays fixed either way.
func (h *Hardware) Align(s StreamSample, ref float64) (Result, bool, error) {
	hw := s.Timestamp
	if s.HasHardware {
		hw = s.HardwareTimestamp
	}

	if !h.hasRef {
		h.reference = hw
		h.hasRef = true
	}

	offset := hw - h.reference
	history := append(h.offsets[s.StreamID], offset)
	if len(history) > h.historySize {
		history = history[len(history)-h.historySize:]
	}
	h.offsets[s.StreamID] = history

	drift := 0.0
	if len(history) >= h.minDriftSamples {
		drift = h.estimateDrift(history)
	}

	return Result{
		StreamID:         s.StreamID,
		AlignedTimestamp: hw - drift,
		Confidence:       HardwareConfidence,
		Offset:           offset,
		Drift:            drift,
	}, true, nil
}

// estimateDrift fits offset-vs-index by least squares and extrapolates the
// slope across the history window.
func (h *Hardware) estimateDrift(history []float64) float64 {
	xs := make([]float64, len(history))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, history, nil, false)
	return slope * float64(len(history))
}

// Quality reports the mean confidence of the supplied results. With no
// recent results it reports the fixed hardware confidence once any stream
// has aligned, zero for an untouched instance.
func (h *Hardware) Quality(recent []Result) Metrics {
	if len(recent) == 0 {
		if len(h.offsets) == 0 {
			return Metrics{}
		}
		return Metrics{Quality: HardwareConfidence, AlignmentAccuracy: HardwareConfidence}
	}

	var sum float64
	for _, r := range recent {
		sum += r.Confidence
	}
	mean := sum / float64(len(recent))
	return Metrics{Quality: mean, AlignmentAccuracy: mean}
}

// ForgetStream drops the offset history for the given stream.
func (h *Hardware) ForgetStream(streamID string) {
	delete(h.offsets, streamID)
}

// Reference returns the process-local reference time and whether one has
// been established.
func (h *Hardware) Reference() (float64, bool) {
	return h.reference, h.hasRef
}
