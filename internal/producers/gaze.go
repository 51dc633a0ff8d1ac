package producers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/timealign/internal/align"
	"github.com/banshee-data/timealign/internal/monitoring"
)

const (
	// DefaultGazeAddress is the bridge's UDP data port.
	DefaultGazeAddress = ":4242"

	// DefaultGazeRcvBuf is the socket receive buffer size.
	DefaultGazeRcvBuf = 1 << 20

	// gazeReadBufSize bounds one datagram read. Bridge datagrams are a
	// few hundred bytes of JSON.
	gazeReadBufSize = 2048

	// gazeReadDeadline bounds each blocking read so the loop can
	// observe context cancellation.
	gazeReadDeadline = 100 * time.Millisecond
)

// GazeConfig configures a Gaze producer. Zero values select defaults.
type GazeConfig struct {
	// StreamID identifies the stream; defaults to "camera-gaze".
	StreamID string

	// Address is the UDP listen address.
	Address string

	// RcvBuf is the socket receive buffer size in bytes.
	RcvBuf int

	// LogInterval is the ingest stats reporting cadence.
	LogInterval time.Duration

	// Events receives decoded scene events. Optional.
	Events EventSink

	// SocketFactory creates the listening socket. Defaults to real
	// sockets; tests inject a mock.
	SocketFactory UDPSocketFactory
}

// Gaze listens for the gaze bridge's JSON datagrams over UDP and
// publishes one sample per gaze datagram, carrying the device clock as
// the hardware timestamp. Event datagrams are forwarded to the
// configured EventSink.
type Gaze struct {
	bridgeFeed

	address     string
	rcvBuf      int
	logInterval time.Duration
	factory     UDPSocketFactory

	mu     sync.Mutex
	conn   UDPSocket
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGaze creates a gaze producer from cfg.
func NewGaze(cfg GazeConfig) *Gaze {
	if cfg.StreamID == "" {
		cfg.StreamID = "camera-gaze"
	}
	if cfg.Address == "" {
		cfg.Address = DefaultGazeAddress
	}
	if cfg.RcvBuf == 0 {
		cfg.RcvBuf = DefaultGazeRcvBuf
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = defaultLogInterval
	}
	if cfg.SocketFactory == nil {
		cfg.SocketFactory = NewRealUDPSocketFactory()
	}
	return &Gaze{
		bridgeFeed: bridgeFeed{
			id:     cfg.StreamID,
			events: cfg.Events,
			stats:  align.NewIngestStats(),
		},
		address:     cfg.Address,
		rcvBuf:      cfg.RcvBuf,
		logInterval: cfg.LogInterval,
		factory:     cfg.SocketFactory,
	}
}

// ID reports the stream ID.
func (g *Gaze) ID() string { return g.id }

// Kind reports "gaze".
func (g *Gaze) Kind() string { return "gaze" }

// Stats exposes the producer's ingest counters.
func (g *Gaze) Stats() *align.IngestStats { return g.stats }

// Start binds the listen socket and launches the read loop. The
// context bounds the producer's lifetime alongside Stop. Starting a
// started producer is a no-op.
func (g *Gaze) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", g.address)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", g.address, err)
	}
	conn, err := g.factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.address, err)
	}
	if err := conn.SetReadBuffer(g.rcvBuf); err != nil {
		monitoring.Logf("%s: set receive buffer to %d: %v", g.id, g.rcvBuf, err)
	}
	monitoring.Logf("%s: listening on %s", g.id, g.address)

	runCtx, cancel := context.WithCancel(ctx)
	g.conn = conn
	g.cancel = cancel
	g.wg.Add(2)
	go g.readLoop(runCtx, conn)
	go func() {
		defer g.wg.Done()
		logStatsLoop(runCtx, g.stats, g.id, g.logInterval)
	}()
	return nil
}

func (g *Gaze) readLoop(ctx context.Context, conn UDPSocket) {
	defer g.wg.Done()
	defer g.closeConn()

	buf := make([]byte, gazeReadBufSize)
	var deadlineErrLogged bool
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(gazeReadDeadline)); err != nil {
			if !deadlineErrLogged {
				monitoring.Logf("%s: set read deadline: %v", g.id, err)
				deadlineErrLogged = true
			}
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			monitoring.Logf("%s: read: %v", g.id, err)
			continue
		}
		g.handleDatagram(buf[:n])
	}
}

// Stop closes the socket and waits for the read loop to exit. Safe to
// call multiple times.
func (g *Gaze) Stop() error {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	err := g.closeConn()
	g.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// closeConn closes the socket exactly once across Stop and the read
// loop's exit path.
func (g *Gaze) closeConn() error {
	g.mu.Lock()
	conn := g.conn
	g.conn = nil
	g.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
