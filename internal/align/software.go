package align

import (
	"gonum.org/v1/gonum/stat"
)

// SoftwareConfidence is the fixed confidence of drift-compensated software
// timestamp alignment.
const SoftwareConfidence = 0.8

// SoftwareOptions configures the software timestamp strategy. Zero fields
// take defaults.
type SoftwareOptions struct {
	// HistorySize bounds the per-stream clock exchange history and the
	// rolling drift pool. Default 100.
	HistorySize int

	// QualityWindow is how many recent drift values feed the variability
	// estimate. Default 10.
	QualityWindow int
}

// ClockUpdate records one clock exchange for diagnostics.
type ClockUpdate struct {
	ServerTime float64
	ClientTime float64
	Offset     float64
	Drift      float64
}

// Software aligns software timestamps NTP-style: externally resolved
// server/client time pairs arrive via UpdateClockSync, and alignment applies
// the current offset plus drift-compensated extrapolation since the last
// exchange. The strategy never performs clock exchanges itself.
type Software struct {
	historySize   int
	qualityWindow int

	clocks  map[string]*ClockState
	updates map[string][]ClockUpdate

	// recentDrifts pools drift values across streams for the variability
	// estimate. Bounded by historySize.
	recentDrifts []float64

	reference float64
	hasRef    bool
}

// NewSoftware creates a software timestamp strategy.
func NewSoftware(opts SoftwareOptions) (*Software, error) {
	if opts.HistorySize == 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.QualityWindow == 0 {
		opts.QualityWindow = DefaultQualityWindow
	}
	if opts.HistorySize < 1 {
		return nil, &ConfigError{Field: "history size", Reason: "must be positive"}
	}
	if opts.QualityWindow < 1 {
		return nil, &ConfigError{Field: "quality window", Reason: "must be positive"}
	}

	return &Software{
		historySize:   opts.HistorySize,
		qualityWindow: opts.QualityWindow,
		clocks:        make(map[string]*ClockState),
		updates:       make(map[string][]ClockUpdate),
	}, nil
}

// Kind returns KindSoftware.
func (sw *Software) Kind() Kind {
	return KindSoftware
}

// UpdateClockSync records an externally resolved clock exchange for one
// stream: offset becomes serverTime-clientTime, and when client time has
// advanced since the previous exchange, drift becomes the offset change per
// millisecond elapsed.
func (sw *Software) UpdateClockSync(streamID string, serverTime, clientTime float64) {
	st, ok := sw.clocks[streamID]
	if !ok {
		st = &ClockState{}
		sw.clocks[streamID] = st
	}

	newOffset := serverTime - clientTime
	if st.Synced {
		if elapsed := clientTime - st.LastSync; elapsed > 0 {
			st.Drift = (newOffset - st.Offset) / elapsed
		}
	}
	st.Offset = newOffset
	st.LastSync = clientTime
	st.Synced = true

	sw.recentDrifts = append(sw.recentDrifts, st.Drift)
	if len(sw.recentDrifts) > sw.historySize {
		sw.recentDrifts = sw.recentDrifts[len(sw.recentDrifts)-sw.historySize:]
	}

	history := append(sw.updates[streamID], ClockUpdate{
		ServerTime: serverTime,
		ClientTime: clientTime,
		Offset:     newOffset,
		Drift:      st.Drift,
	})
	if len(history) > sw.historySize {
		history = history[len(history)-sw.historySize:]
	}
	sw.updates[streamID] = history
}

// Align applies the stream's clock model: synced time is the sample
// timestamp plus the current offset plus drift extrapolated over the time
// elapsed since the last exchange. Streams with no recorded exchange pass
// through unadjusted.
func (sw *Software) Align(s StreamSample, ref float64) (Result, bool, error) {
	if !sw.hasRef {
		sw.reference = s.Timestamp
		sw.hasRef = true
	}

	var offset, drift, elapsed float64
	if st, ok := sw.clocks[s.StreamID]; ok && st.Synced {
		offset = st.Offset
		drift = st.Drift
		elapsed = s.Timestamp - st.LastSync
	}

	return Result{
		StreamID:         s.StreamID,
		AlignedTimestamp: s.Timestamp + offset + elapsed*drift,
		Confidence:       SoftwareConfidence,
		Offset:           offset,
		Drift:            drift,
	}, true, nil
}

// Quality degrades with drift variability: the standard deviation of the
// recent drift values, scaled, is subtracted from the base confidence with
// a floor of 0.5.
func (sw *Software) Quality(recent []Result) Metrics {
	variability := 0.0
	if n := len(sw.recentDrifts); n >= 2 {
		window := sw.recentDrifts
		if n > sw.qualityWindow {
			window = window[n-sw.qualityWindow:]
		}
		if len(window) >= 2 {
			variability = stat.StdDev(window, nil)
		}
	}

	quality := SoftwareConfidence - variability*10
	if quality < 0.5 {
		quality = 0.5
	}

	accuracy := quality
	if len(recent) > 0 {
		var sum float64
		for _, r := range recent {
			sum += r.Confidence
		}
		accuracy = sum / float64(len(recent))
	}

	return Metrics{Quality: quality, AlignmentAccuracy: accuracy}
}

// ForgetStream purges the clock state and exchange history for the given
// stream. The bounded drift pool is left to age out.
func (sw *Software) ForgetStream(streamID string) {
	delete(sw.clocks, streamID)
	delete(sw.updates, streamID)
}

// ClockStateFor returns a copy of the stream's clock model and whether one
// exists.
func (sw *Software) ClockStateFor(streamID string) (ClockState, bool) {
	st, ok := sw.clocks[streamID]
	if !ok {
		return ClockState{}, false
	}
	return *st, true
}

// Updates returns the recorded clock exchanges for one stream, oldest
// first.
func (sw *Software) Updates(streamID string) []ClockUpdate {
	history := sw.updates[streamID]
	out := make([]ClockUpdate, len(history))
	copy(out, history)
	return out
}
