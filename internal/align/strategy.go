package align

import (
	"fmt"
)

// Kind tags an alignment strategy variant.
type Kind string

const (
	// KindHardware aligns on dedicated hardware clock values with
	// least-squares drift estimation.
	KindHardware Kind = "hardware"

	// KindSoftware aligns software timestamps using externally supplied
	// server/client clock exchanges, NTP style.
	KindSoftware Kind = "software"

	// KindWindow aligns against an explicit reference timestamp inside a
	// sliding tolerance window.
	KindWindow Kind = "window"

	// KindEvent aligns samples to registered trigger events.
	KindEvent Kind = "event"
)

// Default alignment parameters, applied when options leave a field zero.
const (
	// DefaultTolerance is the window-strategy and engine lookup tolerance
	// in milliseconds.
	DefaultTolerance = 50.0

	// DefaultEventWindow is the event-strategy matching window in
	// milliseconds.
	DefaultEventWindow = 100.0

	// DefaultEventRetention is how long registered events are kept, in
	// milliseconds on the event timestamp axis.
	DefaultEventRetention = 60_000.0

	// DefaultHistorySize bounds the per-stream offset, drift and pass
	// histories the strategies keep.
	DefaultHistorySize = 100

	// DefaultMinDriftSamples is how many hardware offsets are required
	// before drift is estimated.
	DefaultMinDriftSamples = 10

	// DefaultQualityWindow is how many recent drift values feed the
	// software aligner's variability estimate.
	DefaultQualityWindow = 10
)

// Strategy is the common contract all alignment variants implement. One
// strategy instance is fixed for the lifetime of an Engine; switching
// strategies requires constructing a new Engine so drift and offset state
// cannot straddle two algorithms.
//
// Extended operations (clock exchanges, event registration, multi-buffer
// lookup) live on the concrete types; the engine dispatches to them by the
// strategy's Kind rather than runtime feature probing.
//
// Strategies are not safe for concurrent use; the engine serializes access.
type Strategy interface {
	// Kind returns the variant tag.
	Kind() Kind

	// Align maps one sample onto the reference axis. The boolean reports
	// whether the sample produced a usable result: strategies that
	// exclude out-of-tolerance samples return false rather than an
	// error, so absence stays distinct from failure.
	Align(s StreamSample, ref float64) (Result, bool, error)

	// Quality derives metrics from the supplied recent results, or from
	// the strategy's own rolling state when recent is empty. Only the
	// quality-related fields are filled; the engine composes the full
	// per-pass metrics.
	Quality(recent []Result) Metrics

	// ForgetStream purges any per-stream state keyed by the given ID.
	// Called by the engine when a stream is removed.
	ForgetStream(streamID string)
}

// ConfigError reports invalid construction-time configuration. It is
// returned synchronously by constructors and config validation; nothing is
// deferred to first use.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AlignmentError reports a strategy failure while processing one stream's
// sample. It is caught at the engine boundary, converted into a
// zero-confidence result for that stream only, and surfaced via OnError;
// it never aborts a pass.
type AlignmentError struct {
	StreamID string
	Err      error
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("alignment failed for stream %q: %v", e.StreamID, e.Err)
}

func (e *AlignmentError) Unwrap() error {
	return e.Err
}

// NewStrategy constructs a strategy by kind with default options, for
// config-driven wiring. Unrecognized kinds are a ConfigError.
func NewStrategy(kind Kind) (Strategy, error) {
	switch kind {
	case KindHardware:
		return NewHardware(HardwareOptions{})
	case KindSoftware:
		return NewSoftware(SoftwareOptions{})
	case KindWindow:
		return NewWindow(WindowOptions{})
	case KindEvent:
		return NewEvent(EventOptions{})
	default:
		return nil, &ConfigError{Field: "strategy", Reason: fmt.Sprintf("unrecognized kind %q", kind)}
	}
}
