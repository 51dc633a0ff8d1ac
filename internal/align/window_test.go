package align

import (
	"math"
	"testing"
)

func TestWindow_ConfidenceFalloff(t *testing.T) {
	w, err := NewWindow(WindowOptions{Tolerance: 50})
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}

	tests := []struct {
		name     string
		ts       float64
		wantConf float64
		wantOK   bool
	}{
		{"exact", 1000, 1.0, true},
		{"quarter out", 1012.5, 0.75, true},
		{"sample at 1040", 1040, 0.2, true},
		{"at boundary", 1050, 0.0, true},
		{"sample at 1060", 1060, 0, false},
		{"behind reference", 960, 0.2, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, ok, err := w.Align(StreamSample{StreamID: "a", Timestamp: tc.ts}, 1000)
			if err != nil {
				t.Fatalf("Align: %v", err)
			}
			if ok != tc.wantOK {
				t.Fatalf("Align(%v) ok = %v, want %v", tc.ts, ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if math.Abs(res.Confidence-tc.wantConf) > 1e-9 {
				t.Errorf("confidence = %v, want %v", res.Confidence, tc.wantConf)
			}
			if res.AlignedTimestamp != tc.ts {
				t.Errorf("aligned = %v, want sample timestamp %v", res.AlignedTimestamp, tc.ts)
			}
			if want := tc.ts - 1000; res.Offset != want {
				t.Errorf("offset = %v, want signed %v", res.Offset, want)
			}
		})
	}
}

// Confidence must strictly decrease as the distance from the reference
// grows, for any tolerance.
func TestWindow_ConfidenceStrictlyDecreases(t *testing.T) {
	for _, tolerance := range []float64{10, 50, 250} {
		w, err := NewWindow(WindowOptions{Tolerance: tolerance})
		if err != nil {
			t.Fatalf("NewWindow: %v", err)
		}
		prev := math.Inf(1)
		for step := 0; step <= 10; step++ {
			diff := tolerance * float64(step) / 10
			res, ok, err := w.Align(StreamSample{StreamID: "a", Timestamp: 1000 + diff}, 1000)
			if err != nil || !ok {
				t.Fatalf("tolerance %v diff %v: ok=%v err=%v", tolerance, diff, ok, err)
			}
			if res.Confidence < 0 || res.Confidence > 1 {
				t.Errorf("tolerance %v diff %v: confidence %v outside [0,1]", tolerance, diff, res.Confidence)
			}
			if res.Confidence >= prev {
				t.Errorf("tolerance %v diff %v: confidence %v did not decrease (prev %v)",
					tolerance, diff, res.Confidence, prev)
			}
			prev = res.Confidence
		}
	}
}

func TestWindow_FindBestAlignment(t *testing.T) {
	w, err := NewWindow(WindowOptions{Tolerance: 50})
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}

	gaze := NewStreamBuffer(10)
	gaze.Add(sampleAt("gaze", 980))
	gaze.Add(sampleAt("gaze", 1010))
	speech := NewStreamBuffer(10)
	speech.Add(sampleAt("speech", 1045))
	telemetry := NewStreamBuffer(10)
	telemetry.Add(sampleAt("telemetry", 1200)) // outside tolerance

	buffers := map[string]*StreamBuffer{
		"gaze":      gaze,
		"speech":    speech,
		"telemetry": telemetry,
	}
	results := w.FindBestAlignment(buffers, 1000)

	if len(results) != 2 {
		t.Fatalf("expected 2 matched streams, got %d", len(results))
	}
	if res, ok := results["gaze"]; !ok {
		t.Error("expected gaze in results")
	} else {
		if res.AlignedTimestamp != 1010 {
			t.Errorf("gaze picked %v, want closest sample 1010", res.AlignedTimestamp)
		}
		if math.Abs(res.Confidence-0.8) > 1e-9 {
			t.Errorf("gaze confidence = %v, want 0.8", res.Confidence)
		}
	}
	if res, ok := results["speech"]; !ok {
		t.Error("expected speech in results")
	} else if math.Abs(res.Confidence-0.1) > 1e-9 {
		t.Errorf("speech confidence = %v, want 0.1", res.Confidence)
	}
	if _, ok := results["telemetry"]; ok {
		t.Error("telemetry outside tolerance must be excluded, not zero-confidence")
	}
}

func TestWindow_PassHistoryBounded(t *testing.T) {
	w, err := NewWindow(WindowOptions{Tolerance: 50, HistorySize: 5})
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	buf := NewStreamBuffer(10)
	buf.Add(sampleAt("a", 1000))
	buffers := map[string]*StreamBuffer{"a": buf}

	for i := 0; i < 9; i++ {
		w.FindBestAlignment(buffers, 1000)
	}
	if w.PassCount() != 5 {
		t.Errorf("pass history = %d, want capped at 5", w.PassCount())
	}
}

func TestWindow_QualityFromRecent(t *testing.T) {
	w, err := NewWindow(WindowOptions{})
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	recent := []Result{
		{Confidence: 1.0, Offset: 0},
		{Confidence: 0.5, Offset: 25},
	}
	m := w.Quality(recent)
	if math.Abs(m.Quality-0.75) > 1e-9 {
		t.Errorf("quality = %v, want 0.75", m.Quality)
	}
	if math.Abs(m.Latency-12.5) > 1e-9 {
		t.Errorf("latency = %v, want mean offset 12.5", m.Latency)
	}
}

func TestWindow_QualitySynthesizedFromPasses(t *testing.T) {
	w, err := NewWindow(WindowOptions{Tolerance: 50})
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}

	// No live results and no pass history: zero metrics.
	if m := w.Quality(nil); m.Quality != 0 {
		t.Errorf("empty quality = %v, want 0", m.Quality)
	}

	// One pass where one of two streams matched at full confidence:
	// accuracy reflects matches, quality reflects all candidates.
	matched := NewStreamBuffer(10)
	matched.Add(sampleAt("a", 1000))
	silent := NewStreamBuffer(10)
	silent.Add(sampleAt("b", 2000))
	w.FindBestAlignment(map[string]*StreamBuffer{"a": matched, "b": silent}, 1000)

	m := w.Quality(nil)
	if math.Abs(m.AlignmentAccuracy-1.0) > 1e-9 {
		t.Errorf("accuracy = %v, want 1.0", m.AlignmentAccuracy)
	}
	if math.Abs(m.Quality-0.5) > 1e-9 {
		t.Errorf("quality = %v, want 0.5 (one of two candidates matched)", m.Quality)
	}
}

func TestWindow_ConfigValidation(t *testing.T) {
	if _, err := NewWindow(WindowOptions{Tolerance: -1}); err == nil {
		t.Error("expected error for negative tolerance")
	}
	if _, err := NewWindow(WindowOptions{HistorySize: -1}); err == nil {
		t.Error("expected error for negative history size")
	}
	w, err := NewWindow(WindowOptions{})
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	if w.Tolerance() != DefaultTolerance {
		t.Errorf("default tolerance = %v, want %v", w.Tolerance(), DefaultTolerance)
	}
}
