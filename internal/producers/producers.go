// Package producers contains the stream sources that feed the
// alignment engine: a UDP listener for the gaze bridge, a serial
// telemetry reader, a pcap replayer for recorded bridge traffic, and a
// deterministic synthetic generator for development and tests. Every
// producer implements align.Producer: Start performs device or socket
// setup and returns, a background goroutine publishes decoded samples,
// and Stop releases the source.
package producers

import (
	"context"
	"time"

	"github.com/banshee-data/timealign/internal/align"
)

// defaultLogInterval is the ingest stats reporting cadence shared by
// all producers.
const defaultLogInterval = time.Minute

// EventSink receives scene events decoded from bridge traffic. An
// engine running the event strategy satisfies it through
// RegisterSyncEvent.
type EventSink interface {
	RegisterSyncEvent(eventType string, timestamp float64, metadata map[string]string) (align.SyncEvent, error)
}

// logStatsLoop reports ingest rates under label: one report shortly
// after startup to avoid a long first-run silence, then one per
// interval.
func logStatsLoop(ctx context.Context, stats *align.IngestStats, label string, interval time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		stats.LogStats(label)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats.LogStats(label)
		}
	}
}
