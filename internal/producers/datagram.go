package producers

import (
	"encoding/json"

	"github.com/banshee-data/timealign/internal/align"
	"github.com/banshee-data/timealign/internal/units"
)

// datagram is the JSON wire shape sent by the gaze bridge on its data
// port. Gaze datagrams carry the bridge wall clock in timestamp
// (milliseconds) and the device clock in gazeTimestamp (microseconds).
// Event datagrams mark scene landmarks observable across streams.
type datagram struct {
	Type          string            `json:"type"`
	Timestamp     float64           `json:"timestamp"`
	GazeTimestamp float64           `json:"gazeTimestamp"`
	Confidence    float64           `json:"confidence"`
	X             float64           `json:"x"`
	Y             float64           `json:"y"`
	Event         string            `json:"event"`
	Metadata      map[string]string `json:"metadata"`
}

// GazePoint is the decoded payload of one gaze sample: normalized
// screen coordinates as reported by the tracker.
type GazePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// bridgeFeed decodes gaze bridge datagrams and routes them: gaze
// samples to feed subscribers, scene events to the optional sink.
// Undecodable payloads are counted and skipped, never fatal, since the
// bridge shares its port with discovery chatter on some setups.
type bridgeFeed struct {
	align.Feed
	id     string
	events EventSink
	stats  *align.IngestStats
}

func (b *bridgeFeed) handleDatagram(payload []byte) {
	var d datagram
	if err := json.Unmarshal(payload, &d); err != nil {
		b.stats.AddDropped()
		align.Debugf("%s: undecodable datagram: %v", b.id, err)
		return
	}

	switch d.Type {
	case "gaze":
		if d.Timestamp <= 0 {
			b.stats.AddDropped()
			return
		}
		s := align.StreamSample{
			StreamID:           b.id,
			Timestamp:          d.Timestamp,
			Payload:            GazePoint{X: d.X, Y: d.Y},
			ProducerConfidence: d.Confidence,
		}
		if d.GazeTimestamp > 0 {
			// Device clock arrives in microseconds; alignment runs in
			// milliseconds.
			s.HardwareTimestamp = units.MicrosToMillis(d.GazeTimestamp)
			s.HasHardware = true
		}
		b.stats.AddSample(len(payload))
		b.Publish(s)

	case "event":
		if d.Event == "" || d.Timestamp <= 0 {
			b.stats.AddDropped()
			return
		}
		if b.events == nil {
			return
		}
		if _, err := b.events.RegisterSyncEvent(d.Event, d.Timestamp, d.Metadata); err != nil {
			align.Debugf("%s: event %q not registered: %v", b.id, d.Event, err)
			return
		}
		b.stats.AddEvent()

	default:
		b.stats.AddDropped()
		align.Debugf("%s: unrecognized datagram type %q", b.id, d.Type)
	}
}
