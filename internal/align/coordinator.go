package align

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/timealign/internal/monitoring"
	"github.com/banshee-data/timealign/internal/timeutil"
	"github.com/banshee-data/timealign/internal/units"
)

// DefaultTickInterval is the coordinator's pass interval.
const DefaultTickInterval = 50 * time.Millisecond

// CoordinatorConfig configures a Coordinator. Engine is required.
type CoordinatorConfig struct {
	Engine *Engine

	// Clock supplies the tick timer. Defaults to the real clock.
	Clock timeutil.Clock

	// TickInterval is the periodic pass interval.
	TickInterval time.Duration

	// StopProducers stops a stream's producer on RemoveStream and all
	// producers on Stop. Producer lifecycle is caller-owned by default
	// to avoid double-stop races with shared pipelines.
	StopProducers bool

	// OnPass, when set, observes every periodic pass: the produced
	// frame, whether the pass ran (a pass already in flight defers
	// it), and its wall-clock cost. Runs on the tick goroutine; keep
	// it cheap.
	OnPass func(frame Frame, ran bool, elapsed time.Duration)
}

// Coordinator owns producer lifecycle wiring and drives periodic
// alignment passes on one Engine.
type Coordinator struct {
	engine        *Engine
	clock         timeutil.Clock
	tick          time.Duration
	stopProducers bool
	onPass        func(Frame, bool, time.Duration)

	mu        sync.Mutex
	producers map[string]Producer
	active    bool
	stopCh    chan struct{}
	ticker    timeutil.Ticker
	wg        sync.WaitGroup
}

// NewCoordinator builds a coordinator from cfg.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Engine == nil {
		return nil, &ConfigError{Field: "engine", Reason: "must not be nil"}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.TickInterval < 0 {
		return nil, &ConfigError{Field: "tick interval", Reason: "must be positive"}
	}
	return &Coordinator{
		engine:        cfg.Engine,
		clock:         cfg.Clock,
		tick:          cfg.TickInterval,
		stopProducers: cfg.StopProducers,
		onPass:        cfg.OnPass,
		producers:     make(map[string]Producer),
	}, nil
}

// AddStream starts p and registers it with the engine. A producer that
// fails to start is not registered.
func (c *Coordinator) AddStream(ctx context.Context, p Producer) error {
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start producer %s: %w", p.ID(), err)
	}
	if err := c.engine.AddStream(StreamConfig{Producer: p}); err != nil {
		return err
	}
	c.mu.Lock()
	c.producers[p.ID()] = p
	c.mu.Unlock()
	return nil
}

// RemoveStream deregisters the stream from the engine. The producer
// keeps running unless StopProducers is set. Unknown IDs are no-ops.
func (c *Coordinator) RemoveStream(id string) {
	c.engine.RemoveStream(id)
	c.mu.Lock()
	p := c.producers[id]
	delete(c.producers, id)
	c.mu.Unlock()
	if p != nil && c.stopProducers {
		if err := p.Stop(); err != nil {
			monitoring.Logf("stop producer %s: %v", id, err)
		}
	}
}

// Start begins periodic alignment passes. Starting an active
// coordinator is a no-op.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	stop := make(chan struct{})
	ticker := c.clock.NewTicker(c.tick)
	c.stopCh = stop
	c.ticker = ticker
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C():
				c.runPass(units.TimeToMillis(now))
			}
		}
	}()
}

// runPass executes one pass and reports it to the OnPass hook. Cost is
// measured on the wall clock even when ticks come from a mock.
func (c *Coordinator) runPass(target float64) {
	if c.onPass == nil {
		c.engine.SynchronizeStreams(target)
		return
	}
	start := time.Now()
	frame, ran := c.engine.SynchronizeStreams(target)
	c.onPass(frame, ran, time.Since(start))
}

// Stop cancels the periodic tick and, when StopProducers is set, stops
// every registered producer. Safe to call multiple times.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	close(c.stopCh)
	c.ticker.Stop()
	c.stopCh = nil
	c.ticker = nil
	var producers []Producer
	if c.stopProducers {
		for _, p := range c.producers {
			producers = append(producers, p)
		}
	}
	c.mu.Unlock()

	c.wg.Wait()
	for _, p := range producers {
		if err := p.Stop(); err != nil {
			monitoring.Logf("stop producer %s: %v", p.ID(), err)
		}
	}
}

// Engine returns the coordinated engine.
func (c *Coordinator) Engine() *Engine { return c.engine }

// Streams reports the IDs of producer-backed streams, sorted.
func (c *Coordinator) Streams() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.producers))
	for id := range c.producers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Active reports whether the periodic tick is running.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
