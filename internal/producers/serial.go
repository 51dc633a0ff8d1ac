package producers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/timealign/internal/align"
	"github.com/banshee-data/timealign/internal/monitoring"
)

// PortInterface is the minimal surface of a serial port. The
// abstraction enables unit testing without serial hardware.
type PortInterface interface {
	io.ReadWriter
	io.Closer
}

// PortOpener opens a serial port at path. Tests substitute an opener
// returning a MockPort.
type PortOpener func(path string, opts PortOptions) (PortInterface, error)

// PortOptions describes the serial connection parameters used when
// opening a real port.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset
// values. The telemetry feed runs 115200 8N1.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, &align.ConfigError{Field: "data bits", Reason: fmt.Sprintf("%d outside 5 to 8", opts.DataBits)}
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, &align.ConfigError{Field: "stop bits", Reason: fmt.Sprintf("%d not 1 or 2", opts.StopBits)}
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	if parity == "" {
		parity = "N"
	}
	switch parity {
	case "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, &align.ConfigError{Field: "parity", Reason: fmt.Sprintf("%q not N, E, or O", o.Parity)}
	}

	opts.Parity = parity
	return opts, nil
}

// SerialMode converts the options into the mode structure required by
// go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}

	switch opts.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}

	return mode, nil
}

// OpenPort opens a real serial port with the given options.
func OpenPort(path string, opts PortOptions) (PortInterface, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	return serial.Open(path, mode)
}

// Telemetry is the decoded payload of one vehicle telemetry line.
type Telemetry struct {
	SpeedKph float64 `json:"speedKph"`
	RPM      float64 `json:"rpm"`
}

// parseTelemetryLine decodes one "T,<unix_ms>,<speed>,<rpm>" line.
func parseTelemetryLine(streamID, line string) (align.StreamSample, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 4 || fields[0] != "T" {
		return align.StreamSample{}, fmt.Errorf("malformed telemetry line %q", line)
	}
	ts, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || ts <= 0 {
		return align.StreamSample{}, fmt.Errorf("bad timestamp in %q", line)
	}
	speed, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return align.StreamSample{}, fmt.Errorf("bad speed in %q", line)
	}
	rpm, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return align.StreamSample{}, fmt.Errorf("bad rpm in %q", line)
	}
	return align.NewSample(streamID, ts, Telemetry{SpeedKph: speed, RPM: rpm}), nil
}

// SerialConfig configures a Serial producer.
type SerialConfig struct {
	// StreamID identifies the stream; defaults to "vehicle-telemetry".
	StreamID string

	// Path is the device path, e.g. /dev/ttyUSB0.
	Path string

	// Options are the port parameters. Zero values select 115200 8N1.
	Options PortOptions

	// Opener opens Path. Defaults to OpenPort.
	Opener PortOpener

	// LogInterval is the ingest stats reporting cadence.
	LogInterval time.Duration
}

// Serial reads vehicle telemetry lines from a serial port and
// publishes one sample per line. Undecodable lines are counted and
// skipped; devices emit partial lines around open and reset.
type Serial struct {
	align.Feed

	id          string
	path        string
	options     PortOptions
	opener      PortOpener
	logInterval time.Duration
	stats       *align.IngestStats

	mu     sync.Mutex
	port   PortInterface
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSerial creates a serial telemetry producer from cfg.
func NewSerial(cfg SerialConfig) *Serial {
	if cfg.StreamID == "" {
		cfg.StreamID = "vehicle-telemetry"
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenPort
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = defaultLogInterval
	}
	return &Serial{
		id:          cfg.StreamID,
		path:        cfg.Path,
		options:     cfg.Options,
		opener:      cfg.Opener,
		logInterval: cfg.LogInterval,
		stats:       align.NewIngestStats(),
	}
}

// ID reports the stream ID.
func (s *Serial) ID() string { return s.id }

// Kind reports "serial".
func (s *Serial) Kind() string { return "serial" }

// Stats exposes the producer's ingest counters.
func (s *Serial) Stats() *align.IngestStats { return s.stats }

// Start opens the port and launches the line reader. Starting a
// started producer is a no-op.
func (s *Serial) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	port, err := s.opener(s.path, s.options)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	monitoring.Logf("%s: reading from %s", s.id, s.path)

	runCtx, cancel := context.WithCancel(ctx)
	s.port = port
	s.cancel = cancel
	s.wg.Add(2)
	go s.readLoop(runCtx, port)
	go func() {
		defer s.wg.Done()
		logStatsLoop(runCtx, s.stats, s.id, s.logInterval)
	}()
	return nil
}

// readLoop scans lines from the port. The blocking scan runs on its
// own goroutine so the outer loop can observe context cancellation;
// closing the port unblocks a pending read.
func (s *Serial) readLoop(ctx context.Context, port PortInterface) {
	defer s.wg.Done()
	defer s.closePort()

	scan := bufio.NewScanner(port)
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-scanErrChan:
			monitoring.Logf("%s: serial read failed: %v", s.id, err)
			return
		case line, ok := <-lineChan:
			if !ok {
				return
			}
			s.handleLine(line)
		}
	}
}

func (s *Serial) handleLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	sample, err := parseTelemetryLine(s.id, line)
	if err != nil {
		s.stats.AddDropped()
		align.Debugf("%s: %v", s.id, err)
		return
	}
	s.stats.AddSample(len(line))
	s.Publish(sample)
}

// Stop closes the port and waits for the reader to exit. Safe to call
// multiple times.
func (s *Serial) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	err := s.closePort()
	s.wg.Wait()
	return err
}

// closePort closes the port exactly once across Stop and the read
// loop's exit path.
func (s *Serial) closePort() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}
