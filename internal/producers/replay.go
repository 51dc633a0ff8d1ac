package producers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/timealign/internal/align"
	"github.com/banshee-data/timealign/internal/monitoring"
)

// ReplayConfig configures a Replay producer.
type ReplayConfig struct {
	// StreamID identifies the stream; defaults to "camera-gaze" so a
	// capture substitutes directly for the live bridge.
	StreamID string

	// Path is the pcap file of recorded bridge traffic.
	Path string

	// Port keeps only UDP packets with this destination port when set.
	Port int

	// Fast disables pacing and replays as fast as possible.
	Fast bool

	// Events receives decoded scene events. Optional.
	Events EventSink

	// LogInterval is the ingest stats reporting cadence.
	LogInterval time.Duration
}

// Replay re-emits recorded bridge datagrams from a pcap capture
// through the same decoding as the live Gaze listener, paced by the
// original capture timestamps unless Fast is set. The loop ends on its
// own at end of capture; Stop abandons it early.
type Replay struct {
	bridgeFeed

	path        string
	port        int
	fast        bool
	logInterval time.Duration

	mu     sync.Mutex
	file   *os.File
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReplay creates a replay producer from cfg.
func NewReplay(cfg ReplayConfig) *Replay {
	if cfg.StreamID == "" {
		cfg.StreamID = "camera-gaze"
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = defaultLogInterval
	}
	return &Replay{
		bridgeFeed: bridgeFeed{
			id:     cfg.StreamID,
			events: cfg.Events,
			stats:  align.NewIngestStats(),
		},
		path:        cfg.Path,
		port:        cfg.Port,
		fast:        cfg.Fast,
		logInterval: cfg.LogInterval,
	}
}

// ID reports the stream ID.
func (r *Replay) ID() string { return r.id }

// Kind reports "replay".
func (r *Replay) Kind() string { return "replay" }

// Stats exposes the producer's ingest counters.
func (r *Replay) Stats() *align.IngestStats { return r.stats }

// Start opens the capture and launches the replay loop. Starting a
// started producer is a no-op.
func (r *Replay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	reader, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("read capture %s: %w", r.path, err)
	}
	monitoring.Logf("%s: replaying %s (fast=%v)", r.id, r.path, r.fast)

	runCtx, cancel := context.WithCancel(ctx)
	r.file = f
	r.cancel = cancel
	r.wg.Add(2)
	go r.replayLoop(runCtx, reader)
	go func() {
		defer r.wg.Done()
		logStatsLoop(runCtx, r.stats, r.id, r.logInterval)
	}()
	return nil
}

func (r *Replay) replayLoop(ctx context.Context, reader *pcapgo.Reader) {
	defer r.wg.Done()
	defer r.closeFile()

	start := time.Now()
	var last time.Time
	datagrams := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, ci, err := reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				monitoring.Logf("%s: replay complete: %d datagrams in %v",
					r.id, datagrams, time.Since(start).Round(time.Millisecond))
			} else {
				monitoring.Logf("%s: replay aborted after %d datagrams: %v", r.id, datagrams, err)
			}
			return
		}

		payload, ok := r.udpPayload(data, reader.LinkType())
		if !ok {
			continue
		}

		if !r.fast {
			if !last.IsZero() {
				delay := ci.Timestamp.Sub(last)
				if delay > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(delay):
					}
				}
			}
			last = ci.Timestamp
		}

		datagrams++
		r.handleDatagram(payload)
	}
}

// udpPayload extracts the UDP payload from one captured packet,
// filtering on the configured destination port.
func (r *Replay) udpPayload(data []byte, linkType layers.LinkType) ([]byte, bool) {
	packet := gopacket.NewPacket(data, linkType, gopacket.NoCopy)
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok {
		return nil, false
	}
	if r.port != 0 && int(udp.DstPort) != r.port {
		return nil, false
	}
	if len(udp.Payload) == 0 {
		return nil, false
	}
	return udp.Payload, true
}

// Stop abandons the replay and waits for the loop to exit. Safe to
// call multiple times, including after the capture ran out.
func (r *Replay) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	r.wg.Wait()
	return nil
}

func (r *Replay) closeFile() {
	r.mu.Lock()
	f := r.file
	r.file = nil
	r.mu.Unlock()
	if f != nil {
		f.Close()
	}
}
