package monitor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banshee-data/timealign/internal/align"
)

func TestQualityChartFromRecorder(t *testing.T) {
	db := newTestDB(t)
	recordFrame(t, db, testFrame("frm_c1", 1000, nil))
	recordFrame(t, db, testFrame("frm_c2", 1100, nil))
	s := NewServer(Config{Engine: newTestEngine(t), DB: db})

	req := httptest.NewRequest("GET", "/charts/quality", nil)
	w := httptest.NewRecorder()
	s.handleQualityChart(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Sync Quality") {
		t.Error("chart page missing quality title")
	}
	if !strings.Contains(body, echartsAssetsPrefix) {
		t.Error("chart page does not reference the echarts assets host")
	}
}

func TestQualityChartFallsBackToEngineHistory(t *testing.T) {
	e := newTestEngine(t)
	addStream(t, e, "camera-gaze", "gaze")
	addStream(t, e, "speech", "speech")

	e.ProcessStreamData(align.NewSample("camera-gaze", 1000, nil))
	e.ProcessStreamData(align.NewSample("speech", 1004, nil))
	if _, ok := e.SynchronizeStreams(1000); !ok {
		t.Fatal("first pass did not run")
	}
	e.ProcessStreamData(align.NewSample("camera-gaze", 1100, nil))
	e.ProcessStreamData(align.NewSample("speech", 1103, nil))
	if _, ok := e.SynchronizeStreams(1100); !ok {
		t.Fatal("second pass did not run")
	}

	s := NewServer(Config{Engine: e})
	req := httptest.NewRequest("GET", "/charts/quality", nil)
	w := httptest.NewRecorder()
	s.handleQualityChart(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(w.Body.String(), "engine history") {
		t.Error("subtitle should name the in-memory fallback source")
	}
}

func TestQualityChartNoHistory(t *testing.T) {
	s := NewServer(Config{Engine: newTestEngine(t)})

	req := httptest.NewRequest("GET", "/charts/quality", nil)
	w := httptest.NewRecorder()
	s.handleQualityChart(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Result().StatusCode)
	}
}

func TestOffsetsChart(t *testing.T) {
	db := newTestDB(t)
	recordFrame(t, db, testFrame("frm_o1", 1000, map[string]align.Result{
		"camera-gaze": {StreamID: "camera-gaze", AlignedTimestamp: 1002, Confidence: 0.9, Offset: 2},
	}))
	recordFrame(t, db, testFrame("frm_o2", 1100, map[string]align.Result{
		"camera-gaze": {StreamID: "camera-gaze", AlignedTimestamp: 1097, Confidence: 0.85, Offset: -3},
	}))
	s := NewServer(Config{Engine: newTestEngine(t), DB: db})

	req := httptest.NewRequest("GET", "/charts/offsets?stream=camera-gaze", nil)
	w := httptest.NewRecorder()
	s.handleOffsetsChart(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(w.Body.String(), "camera-gaze") {
		t.Error("chart page missing the stream ID subtitle")
	}
}

func TestOffsetsChartMissingStream(t *testing.T) {
	s := NewServer(Config{Engine: newTestEngine(t), DB: newTestDB(t)})

	req := httptest.NewRequest("GET", "/charts/offsets", nil)
	w := httptest.NewRecorder()
	s.handleOffsetsChart(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Result().StatusCode)
	}
}

func TestOffsetsChartUnknownStream(t *testing.T) {
	s := NewServer(Config{Engine: newTestEngine(t), DB: newTestDB(t)})

	req := httptest.NewRequest("GET", "/charts/offsets?stream=ghost", nil)
	w := httptest.NewRecorder()
	s.handleOffsetsChart(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Result().StatusCode)
	}
}

func TestOffsetsChartWithoutDB(t *testing.T) {
	s := NewServer(Config{Engine: newTestEngine(t)})

	req := httptest.NewRequest("GET", "/charts/offsets?stream=camera-gaze", nil)
	w := httptest.NewRecorder()
	s.handleOffsetsChart(w, req)

	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Result().StatusCode)
	}
}
