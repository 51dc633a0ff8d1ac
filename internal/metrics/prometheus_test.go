package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPass(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordPass(0.85, 0.002)
	m.RecordPass(0.90, 0.001)

	if got := testutil.ToFloat64(m.SyncPasses); got != 2 {
		t.Errorf("SyncPasses = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.SyncQuality); got != 0.90 {
		t.Errorf("SyncQuality = %f, want 0.90", got)
	}
	if got := testutil.CollectAndCount(m.PassDuration); got != 1 {
		t.Errorf("PassDuration metric count = %d, want 1", got)
	}
}

func TestRecordPassSkipped(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordPassSkipped()
	if got := testutil.ToFloat64(m.PassesSkipped); got != 1 {
		t.Errorf("PassesSkipped = %f, want 1", got)
	}
}

func TestStreamCounters(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordSampleIngested("camera-gaze")
	m.RecordSampleIngested("camera-gaze")
	m.RecordSampleIngested("speech")
	m.RecordSampleDropped()
	m.RecordAlignmentError("speech")

	if got := testutil.ToFloat64(m.SamplesIngested.WithLabelValues("camera-gaze")); got != 2 {
		t.Errorf("SamplesIngested[camera-gaze] = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.SamplesIngested.WithLabelValues("speech")); got != 1 {
		t.Errorf("SamplesIngested[speech] = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.SamplesDropped); got != 1 {
		t.Errorf("SamplesDropped = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.AlignmentErrors.WithLabelValues("speech")); got != 1 {
		t.Errorf("AlignmentErrors[speech] = %f, want 1", got)
	}

	m.AddSamplesDropped(3)
	if got := testutil.ToFloat64(m.SamplesDropped); got != 4 {
		t.Errorf("SamplesDropped after AddSamplesDropped(3) = %f, want 4", got)
	}
}

func TestClockGauges(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.SetClockState("telemetry", 12.5, 0.001)

	if got := testutil.ToFloat64(m.ClockOffset.WithLabelValues("telemetry")); got != 12.5 {
		t.Errorf("ClockOffset[telemetry] = %f, want 12.5", got)
	}
	if got := testutil.ToFloat64(m.ClockDrift.WithLabelValues("telemetry")); got != 0.001 {
		t.Errorf("ClockDrift[telemetry] = %f, want 0.001", got)
	}
}

func TestActiveStreamsGauge(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.SetActiveStreams(4)
	if got := testutil.ToFloat64(m.ActiveStreams); got != 4 {
		t.Errorf("ActiveStreams = %f, want 4", got)
	}
	m.SetActiveStreams(3)
	if got := testutil.ToFloat64(m.ActiveStreams); got != 3 {
		t.Errorf("ActiveStreams = %f, want 3", got)
	}
}

func TestResultHistograms(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordResult(0.8, 10)
	m.RecordResult(0.6, 40)

	if got := testutil.CollectAndCount(m.AlignmentConfidence); got != 1 {
		t.Errorf("AlignmentConfidence metric count = %d, want 1", got)
	}
	if got := testutil.CollectAndCount(m.AlignmentLatency); got != 1 {
		t.Errorf("AlignmentLatency metric count = %d, want 1", got)
	}
}
