package align

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/timealign/internal/monitoring"
)

// IngestStats tracks producer ingest statistics with thread-safe
// operations.
type IngestStats struct {
	mu           sync.Mutex
	sampleCount  int64
	byteCount    int64
	droppedCount int64
	eventCount   int64
	lastReset    time.Time
}

// NewIngestStats creates a new IngestStats instance.
func NewIngestStats() *IngestStats {
	return &IngestStats{
		lastReset: time.Now(),
	}
}

// AddSample increments sample count and byte count.
func (is *IngestStats) AddSample(bytes int) {
	is.mu.Lock()
	defer is.mu.Unlock()
	is.sampleCount++
	is.byteCount += int64(bytes)
}

// AddDropped increments the count of datagrams or lines that failed to
// decode.
func (is *IngestStats) AddDropped() {
	is.mu.Lock()
	defer is.mu.Unlock()
	is.droppedCount++
}

// AddEvent increments the count of forwarded sync events.
func (is *IngestStats) AddEvent() {
	is.mu.Lock()
	defer is.mu.Unlock()
	is.eventCount++
}

// GetAndReset returns current stats and resets counters.
func (is *IngestStats) GetAndReset() (samples int64, bytes int64, dropped int64, events int64, duration time.Duration) {
	is.mu.Lock()
	defer is.mu.Unlock()

	now := time.Now()
	duration = now.Sub(is.lastReset)
	samples = is.sampleCount
	bytes = is.byteCount
	dropped = is.droppedCount
	events = is.eventCount

	is.sampleCount = 0
	is.byteCount = 0
	is.droppedCount = 0
	is.eventCount = 0
	is.lastReset = now

	return
}

// LogStats logs formatted per-second ingest rates under the given
// producer label.
func (is *IngestStats) LogStats(label string) {
	samples, bytes, dropped, events, duration := is.GetAndReset()
	if samples > 0 || dropped > 0 {
		samplesPerSec := float64(samples) / duration.Seconds()
		kbPerSec := float64(bytes) / duration.Seconds() / 1024

		logMsg := fmt.Sprintf("%s stats (/sec): %.1f samples, %.2f KB", label, samplesPerSec, kbPerSec)
		if events > 0 {
			logMsg += fmt.Sprintf(", %d events", events)
		}
		if dropped > 0 {
			logMsg += fmt.Sprintf(", %d undecodable", dropped)
		}
		monitoring.Logf("%s", logMsg)
	}
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
