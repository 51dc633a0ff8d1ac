package align

import (
	"math"
	"strings"
	"testing"
)

func TestEvent_AlignAgainstNearestEvent(t *testing.T) {
	e, err := NewEvent(EventOptions{Window: 100})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	ev := e.RegisterEvent("scenario_start", 5000, map[string]string{"scenario": "merge"})
	if !strings.HasPrefix(ev.ID, "evt_") {
		t.Errorf("event ID %q missing evt_ prefix", ev.ID)
	}

	res, usable, err := e.Align(StreamSample{StreamID: "gaze", Timestamp: 5050}, 5050)
	if err != nil || !usable {
		t.Fatalf("Align: usable=%v err=%v", usable, err)
	}
	if math.Abs(res.Confidence-0.5) > 1e-9 {
		t.Errorf("confidence = %v, want 0.5", res.Confidence)
	}
	if res.Offset != 50 {
		t.Errorf("offset = %v, want 50", res.Offset)
	}
	if res.AlignedTimestamp != 5000 {
		t.Errorf("aligned = %v, want event timestamp 5000", res.AlignedTimestamp)
	}
	if res.SourceEvent != ev.ID {
		t.Errorf("sourceEvent = %q, want %q", res.SourceEvent, ev.ID)
	}
}

func TestEvent_FallbackOutsideWindow(t *testing.T) {
	e, err := NewEvent(EventOptions{Window: 100})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	e.RegisterEvent("scenario_start", 5000, nil)

	res, usable, err := e.Align(StreamSample{StreamID: "gaze", Timestamp: 5150}, 5150)
	if err != nil || !usable {
		t.Fatalf("fallback must be usable, got usable=%v err=%v", usable, err)
	}
	if res.Confidence != EventFallbackConfidence {
		t.Errorf("confidence = %v, want fallback %v", res.Confidence, EventFallbackConfidence)
	}
	if res.AlignedTimestamp != 5150 {
		t.Errorf("aligned = %v, want sample's own timestamp 5150", res.AlignedTimestamp)
	}
	if res.SourceEvent != "" {
		t.Errorf("sourceEvent = %q, want empty on fallback", res.SourceEvent)
	}
}

func TestEvent_PicksNearestOfSeveral(t *testing.T) {
	e, err := NewEvent(EventOptions{Window: 100})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	e.RegisterEvent("tick", 4960, nil)
	near := e.RegisterEvent("tick", 5010, nil)
	e.RegisterEvent("tick", 5080, nil)

	res, _, err := e.Align(StreamSample{StreamID: "a", Timestamp: 5000}, 5000)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if res.SourceEvent != near.ID {
		t.Errorf("matched %q, want nearest event %q", res.SourceEvent, near.ID)
	}
	if math.Abs(res.Confidence-0.9) > 1e-9 {
		t.Errorf("confidence = %v, want 0.9", res.Confidence)
	}
}

func TestEvent_TypeFilter(t *testing.T) {
	e, err := NewEvent(EventOptions{Window: 100})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	e.RegisterEvent("ui_click", 5005, nil)
	marker := e.RegisterEvent("scenario_start", 5040, nil)

	// Unfiltered: the click is closer.
	res, _, err := e.AlignFiltered(StreamSample{StreamID: "a", Timestamp: 5000}, "")
	if err != nil {
		t.Fatalf("AlignFiltered: %v", err)
	}
	if res.AlignedTimestamp != 5005 {
		t.Errorf("unfiltered matched %v, want 5005", res.AlignedTimestamp)
	}

	// Filtered to scenario markers only.
	res, _, err = e.AlignFiltered(StreamSample{StreamID: "a", Timestamp: 5000}, "scenario_start")
	if err != nil {
		t.Fatalf("AlignFiltered: %v", err)
	}
	if res.SourceEvent != marker.ID {
		t.Errorf("filtered matched %q, want %q", res.SourceEvent, marker.ID)
	}

	// Filter with no matching type falls back.
	res, _, err = e.AlignFiltered(StreamSample{StreamID: "a", Timestamp: 5000}, "absent_type")
	if err != nil {
		t.Fatalf("AlignFiltered: %v", err)
	}
	if res.Confidence != EventFallbackConfidence {
		t.Errorf("confidence = %v, want fallback", res.Confidence)
	}
}

// Events age out by data-timeline distance, never by count.
func TestEvent_PruneByAge(t *testing.T) {
	e, err := NewEvent(EventOptions{Window: 100, Retention: 60_000})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	e.RegisterEvent("old", 1000, nil)
	e.RegisterEvent("old", 2000, nil)

	// Advancing the timeline far past retention prunes the stale events.
	e.RegisterEvent("fresh", 70_000, nil)

	events := e.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 retained event, got %d", len(events))
	}
	if events[0].Type != "fresh" {
		t.Errorf("retained %q, want the fresh event", events[0].Type)
	}

	// A sample observation advances the timeline too.
	e.RegisterEvent("fresh2", 75_000, nil)
	if _, _, err := e.Align(StreamSample{StreamID: "a", Timestamp: 140_000}, 140_000); err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got := len(e.Events()); got != 0 {
		t.Errorf("expected all events pruned after timeline jump, got %d", got)
	}
}

func TestEvent_ManyEventsNotPrunedByCount(t *testing.T) {
	e, err := NewEvent(EventOptions{Window: 100, Retention: 60_000})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	for i := 0; i < 500; i++ {
		e.RegisterEvent("tick", 10_000+float64(i)*10, nil)
	}
	if got := len(e.Events()); got != 500 {
		t.Errorf("expected all 500 events retained inside the horizon, got %d", got)
	}
}

func TestEvent_Quality(t *testing.T) {
	e, err := NewEvent(EventOptions{Window: 100})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}

	// Untouched instance reports zero metrics.
	if m := e.Quality(nil); m.Quality != 0 {
		t.Errorf("untouched quality = %v, want 0", m.Quality)
	}

	e.RegisterEvent("tick", 5000, nil)

	// Two matches at distance 50, then two fallbacks far away:
	// success rate 0.5, mean distance 50 of window 100.
	for i := 0; i < 2; i++ {
		if _, _, err := e.Align(StreamSample{StreamID: "a", Timestamp: 5050}, 5050); err != nil {
			t.Fatalf("Align: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, _, err := e.Align(StreamSample{StreamID: "a", Timestamp: 5500}, 5500); err != nil {
			t.Fatalf("Align: %v", err)
		}
	}

	m := e.Quality(nil)
	want := 0.5 * (1 - 50.0/100.0)
	if math.Abs(m.Quality-want) > 1e-9 {
		t.Errorf("quality = %v, want %v", m.Quality, want)
	}
	if math.Abs(m.Latency-50) > 1e-9 {
		t.Errorf("latency = %v, want mean distance 50", m.Latency)
	}
}

func TestEvent_ConfigValidation(t *testing.T) {
	if _, err := NewEvent(EventOptions{Window: -5}); err == nil {
		t.Error("expected error for negative window")
	}
	if _, err := NewEvent(EventOptions{Window: 100, Retention: 50}); err == nil {
		t.Error("expected error for retention below window")
	}
	e, err := NewEvent(EventOptions{})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if e.Window() != DefaultEventWindow {
		t.Errorf("default window = %v, want %v", e.Window(), DefaultEventWindow)
	}
}
