package align

import (
	"github.com/google/uuid"
)

// EventFallbackConfidence is reported when no registered event lies
// within the matching window of a sample. The sample still produces a
// result aligned to its own timestamp so downstream consumers see the
// stream, just with near-zero trust in the alignment.
const EventFallbackConfidence = 0.1

// EventOptions configures the event-driven strategy.
type EventOptions struct {
	// Window is the maximum distance in milliseconds between a sample
	// and a sync event for the two to match. Defaults to
	// DefaultEventWindow.
	Window float64

	// Retention bounds how long events stay matchable, measured in
	// milliseconds along the data timeline. Events are pruned only by
	// age, never by count. Defaults to DefaultEventRetention.
	Retention float64
}

// Event aligns samples against externally registered sync events such
// as scenario markers or simulator triggers. Retention is measured on
// the data timeline rather than the wall clock, so replayed captures
// with arbitrary epoch values prune correctly.
type Event struct {
	window    float64
	retention float64
	events    []SyncEvent

	// latest tracks the newest timestamp observed on either axis input
	// (registered events and aligned samples). Pruning is anchored here.
	latest    float64
	hasLatest bool

	total       uint64
	matched     uint64
	sumDistance float64
}

// NewEvent builds an event-driven strategy from opts.
func NewEvent(opts EventOptions) (*Event, error) {
	if opts.Window == 0 {
		opts.Window = DefaultEventWindow
	}
	if opts.Retention == 0 {
		opts.Retention = DefaultEventRetention
	}
	if opts.Window < 0 {
		return nil, &ConfigError{Field: "event window", Reason: "must be positive"}
	}
	if opts.Retention < opts.Window {
		return nil, &ConfigError{Field: "event retention", Reason: "must be at least the event window"}
	}
	return &Event{
		window:    opts.Window,
		retention: opts.Retention,
	}, nil
}

// Kind reports KindEvent.
func (e *Event) Kind() Kind { return KindEvent }

// Window reports the configured matching window in milliseconds.
func (e *Event) Window() float64 { return e.window }

// RegisterEvent records a sync event on the data timeline and returns
// it with a generated ID. Metadata may be nil.
func (e *Event) RegisterEvent(eventType string, timestamp float64, metadata map[string]string) SyncEvent {
	ev := SyncEvent{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		Timestamp: timestamp,
		Metadata:  metadata,
	}
	e.events = append(e.events, ev)
	e.observe(timestamp)
	return ev
}

// Align matches s against the nearest registered event of any type.
func (e *Event) Align(s StreamSample, ref float64) (Result, bool, error) {
	return e.AlignFiltered(s, "")
}

// AlignFiltered matches s against the nearest registered event,
// considering only events of eventType when it is non-empty. A sample
// with no event inside the window still yields a usable result aligned
// to its own timestamp at EventFallbackConfidence.
func (e *Event) AlignFiltered(s StreamSample, eventType string) (Result, bool, error) {
	e.observe(s.Timestamp)
	e.total++

	best := -1
	bestDist := 0.0
	for i, ev := range e.events {
		if eventType != "" && ev.Type != eventType {
			continue
		}
		dist := s.Timestamp - ev.Timestamp
		if dist < 0 {
			dist = -dist
		}
		if dist > e.window {
			continue
		}
		if best < 0 || dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	if best < 0 {
		return Result{
			StreamID:         s.StreamID,
			AlignedTimestamp: s.Timestamp,
			Confidence:       EventFallbackConfidence,
		}, true, nil
	}

	ev := e.events[best]
	e.matched++
	e.sumDistance += bestDist
	conf := 1 - bestDist/e.window
	if conf < 0 {
		conf = 0
	}
	return Result{
		StreamID:         s.StreamID,
		AlignedTimestamp: ev.Timestamp,
		Confidence:       conf,
		Offset:           s.Timestamp - ev.Timestamp,
		SourceEvent:      ev.ID,
	}, true, nil
}

// Quality reports match rate scaled by mean match distance. Recent
// results are ignored: the strategy's own counters describe alignment
// health more directly than per-pass confidences.
func (e *Event) Quality(recent []Result) Metrics {
	var m Metrics
	if e.total == 0 {
		return m
	}
	rate := float64(e.matched) / float64(e.total)
	proximity := 1.0
	if e.matched > 0 {
		mean := e.sumDistance / float64(e.matched)
		proximity = 1 - mean/e.window
		if proximity < 0 {
			proximity = 0
		}
		m.Latency = mean
	}
	m.Quality = rate * proximity
	m.AlignmentAccuracy = m.Quality
	return m
}

// ForgetStream is a no-op: events are shared across streams.
func (e *Event) ForgetStream(string) {}

// Events returns a copy of the currently retained sync events.
func (e *Event) Events() []SyncEvent {
	out := make([]SyncEvent, len(e.events))
	copy(out, e.events)
	return out
}

// observe advances the data-timeline high-water mark and prunes events
// that have aged past the retention horizon.
func (e *Event) observe(timestamp float64) {
	if !e.hasLatest || timestamp > e.latest {
		e.latest = timestamp
		e.hasLatest = true
	}
	cutoff := e.latest - e.retention
	keep := e.events[:0]
	for _, ev := range e.events {
		if ev.Timestamp >= cutoff {
			keep = append(keep, ev)
		}
	}
	e.events = keep
}
