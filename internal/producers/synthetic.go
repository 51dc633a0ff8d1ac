package producers

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/timealign/internal/align"
	"github.com/banshee-data/timealign/internal/timeutil"
	"github.com/banshee-data/timealign/internal/units"
)

// DefaultSyntheticInterval is the synthetic sample spacing (50 Hz).
const DefaultSyntheticInterval = 20 * time.Millisecond

// SyntheticReading is the payload of one synthetic sample.
type SyntheticReading struct {
	Seq uint64 `json:"seq"`
}

// SyntheticConfig configures a Synthetic producer.
type SyntheticConfig struct {
	// StreamID identifies the stream; defaults to "synthetic".
	StreamID string

	// Kind is the reported stream kind; defaults to "synthetic".
	Kind string

	// Interval is the sample spacing.
	Interval time.Duration

	// SkewMs is a constant offset added to every sample timestamp,
	// simulating a stream clock ahead of (positive) or behind the wall
	// clock.
	SkewMs float64

	// DriftMsPerSample adds cumulative offset per tick, simulating a
	// slow or fast stream clock.
	DriftMsPerSample float64

	// Dropout drops every Nth sample when positive, simulating gaps.
	Dropout int

	// Hardware also stamps samples with a hardware clock value (the
	// skewed, drifting clock), leaving the software timestamp on the
	// wall clock.
	Hardware bool

	// Clock supplies the tick timer. Defaults to the real clock; tests
	// install a mock and drive ticks deterministically.
	Clock timeutil.Clock
}

// Synthetic deterministically generates samples with configurable
// skew, drift, and dropout. The daemon's dev mode runs several of
// these in place of live hardware.
type Synthetic struct {
	align.Feed

	id       string
	kind     string
	interval time.Duration
	skew     float64
	drift    float64
	dropout  int
	hardware bool
	clock    timeutil.Clock
	stats    *align.IngestStats

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSynthetic creates a synthetic producer from cfg.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.StreamID == "" {
		cfg.StreamID = "synthetic"
	}
	if cfg.Kind == "" {
		cfg.Kind = "synthetic"
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultSyntheticInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Synthetic{
		id:       cfg.StreamID,
		kind:     cfg.Kind,
		interval: cfg.Interval,
		skew:     cfg.SkewMs,
		drift:    cfg.DriftMsPerSample,
		dropout:  cfg.Dropout,
		hardware: cfg.Hardware,
		clock:    cfg.Clock,
		stats:    align.NewIngestStats(),
	}
}

// ID reports the stream ID.
func (s *Synthetic) ID() string { return s.id }

// Kind reports the configured stream kind.
func (s *Synthetic) Kind() string { return s.kind }

// Stats exposes the producer's ingest counters.
func (s *Synthetic) Stats() *align.IngestStats { return s.stats }

// Start launches the generator tick loop. Starting a started producer
// is a no-op.
func (s *Synthetic) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	ticker := s.clock.NewTicker(s.interval)
	s.wg.Add(1)
	go s.run(runCtx, ticker)
	return nil
}

func (s *Synthetic) run(ctx context.Context, ticker timeutil.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			s.emit(now)
		}
	}
}

// emit publishes the sample for one tick. Dropped ticks still advance
// the sequence so drift accumulation stays time-shaped.
func (s *Synthetic) emit(now time.Time) {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	if s.dropout > 0 && (seq+1)%uint64(s.dropout) == 0 {
		return
	}

	wall := units.TimeToMillis(now)
	streamClock := wall + s.skew + s.drift*float64(seq)

	var sample align.StreamSample
	if s.hardware {
		sample = align.NewHardwareSample(s.id, wall, streamClock, SyntheticReading{Seq: seq})
	} else {
		sample = align.NewSample(s.id, streamClock, SyntheticReading{Seq: seq})
	}
	s.stats.AddSample(0)
	s.Publish(sample)
}

// Ticks reports how many ticks have elapsed, including dropped ones.
func (s *Synthetic) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Stop cancels the generator. Safe to call multiple times.
func (s *Synthetic) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	s.wg.Wait()
	return nil
}
