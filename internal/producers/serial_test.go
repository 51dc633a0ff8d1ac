package producers

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/timealign/internal/align"
)

func TestPortOptions_Normalize_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", got.BaudRate)
	}
	if got.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", got.DataBits)
	}
	if got.StopBits != 1 {
		t.Errorf("StopBits = %d, want 1", got.StopBits)
	}
	if got.Parity != "N" {
		t.Errorf("Parity = %q, want %q", got.Parity, "N")
	}
}

func TestPortOptions_Normalize_ParityWords(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"none", "N"},
		{"EVEN", "E"},
		{"odd", "O"},
		{"e", "E"},
	}
	for _, tc := range tests {
		got, err := PortOptions{Parity: tc.in}.Normalize()
		if err != nil {
			t.Errorf("Normalize(%q) error = %v", tc.in, err)
			continue
		}
		if got.Parity != tc.want {
			t.Errorf("Normalize(%q).Parity = %q, want %q", tc.in, got.Parity, tc.want)
		}
	}
}

func TestPortOptions_Normalize_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		in        PortOptions
		wantField string
	}{
		{"data bits too low", PortOptions{DataBits: 4}, "data bits"},
		{"data bits too high", PortOptions{DataBits: 9}, "data bits"},
		{"bad stop bits", PortOptions{StopBits: 3}, "stop bits"},
		{"bad parity", PortOptions{Parity: "X"}, "parity"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.in.Normalize()
			var cfgErr *align.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Normalize() error = %v, want ConfigError", err)
			}
			if cfgErr.Field != tc.wantField {
				t.Errorf("field = %q, want %q", cfgErr.Field, tc.wantField)
			}
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.BaudRate != 9600 || mode.DataBits != 7 {
		t.Errorf("mode = %+v", mode)
	}
	if mode.StopBits != serial.TwoStopBits {
		t.Errorf("StopBits = %v, want TwoStopBits", mode.StopBits)
	}
	if mode.Parity != serial.EvenParity {
		t.Errorf("Parity = %v, want EvenParity", mode.Parity)
	}
}

// One stop bit must map to the library's OneStopBit constant, which is
// not the integer 1.
func TestPortOptions_SerialMode_OneStopBit(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.StopBits != serial.OneStopBit {
		t.Errorf("StopBits = %v, want OneStopBit", mode.StopBits)
	}
	if mode.Parity != serial.NoParity {
		t.Errorf("Parity = %v, want NoParity", mode.Parity)
	}
}

func TestParseTelemetryLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantTS  float64
		wantErr bool
	}{
		{"valid", "T,1700000000250,42.5,3000", 1700000000250, false},
		{"trailing cr", "T,1700000000250,42.5,3000\r", 1700000000250, false},
		{"wrong prefix", "X,1700000000250,42.5,3000", 0, true},
		{"too few fields", "T,1700000000250,42.5", 0, true},
		{"too many fields", "T,1700000000250,42.5,3000,1", 0, true},
		{"bad timestamp", "T,soon,42.5,3000", 0, true},
		{"zero timestamp", "T,0,42.5,3000", 0, true},
		{"bad speed", "T,1700000000250,fast,3000", 0, true},
		{"bad rpm", "T,1700000000250,42.5,high", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := parseTelemetryLine("vehicle-telemetry", tc.line)
			if tc.wantErr {
				if err == nil {
					t.Error("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTelemetryLine: %v", err)
			}
			if s.Timestamp != tc.wantTS {
				t.Errorf("Timestamp = %v, want %v", s.Timestamp, tc.wantTS)
			}
			tel, ok := s.Payload.(Telemetry)
			if !ok {
				t.Fatalf("payload type %T, want Telemetry", s.Payload)
			}
			if tel.SpeedKph != 42.5 || tel.RPM != 3000 {
				t.Errorf("payload = %+v, want {42.5 3000}", tel)
			}
		})
	}
}

func TestSerial_PublishesTelemetry(t *testing.T) {
	port := NewMockPort()
	var openedPath string
	s := NewSerial(SerialConfig{
		Path: "/dev/ttyUSB0",
		Opener: func(path string, opts PortOptions) (PortInterface, error) {
			openedPath = path
			return port, nil
		},
	})
	if s.ID() != "vehicle-telemetry" || s.Kind() != "serial" {
		t.Errorf("identity = %s/%s, want vehicle-telemetry/serial", s.ID(), s.Kind())
	}

	samples := make(chan align.StreamSample, 4)
	defer s.OnData(func(smp align.StreamSample) { samples <- smp })()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if openedPath != "/dev/ttyUSB0" {
		t.Errorf("opened %q, want /dev/ttyUSB0", openedPath)
	}

	// A bad line ahead of a good one: the reader handles them in order,
	// so the good sample's arrival proves the bad line was counted.
	port.FeedLine("garbage")
	port.FeedLine("T,1700000000250,42.5,3000")

	smp := waitSample(t, samples)
	if smp.StreamID != "vehicle-telemetry" {
		t.Errorf("StreamID = %q, want vehicle-telemetry", smp.StreamID)
	}
	if smp.Timestamp != 1700000000250 {
		t.Errorf("Timestamp = %v, want 1700000000250", smp.Timestamp)
	}
	if smp.HasHardware {
		t.Error("telemetry carries no hardware clock")
	}

	n, _, dropped, _, _ := s.Stats().GetAndReset()
	if n != 1 || dropped != 1 {
		t.Errorf("stats = %d samples %d dropped, want 1/1", n, dropped)
	}
}

func TestSerial_StopClosesPort(t *testing.T) {
	port := NewMockPort()
	s := NewSerial(SerialConfig{
		Path:   "/dev/ttyUSB0",
		Opener: func(string, PortOptions) (PortInterface, error) { return port, nil },
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !port.Closed() {
		t.Error("Stop should close the port")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestSerial_StartError(t *testing.T) {
	s := NewSerial(SerialConfig{
		Path:   "/dev/missing",
		Opener: func(string, PortOptions) (PortInterface, error) { return nil, errors.New("no such device") },
	})
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected open failure")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
}

func TestSerial_ReadFailureClosesPort(t *testing.T) {
	port := NewMockPort()
	s := NewSerial(SerialConfig{
		Path:   "/dev/ttyUSB0",
		Opener: func(string, PortOptions) (PortInterface, error) { return port, nil },
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	port.FailRead(errors.New("device unplugged"))

	// The read loop exits on its own and releases the port on the way out.
	deadline := time.Now().Add(2 * time.Second)
	for !port.Closed() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the read loop to close the port")
		}
		time.Sleep(time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
