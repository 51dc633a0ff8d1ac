package align

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/timealign/internal/timeutil"
	"github.com/banshee-data/timealign/internal/units"
)

const (
	// DefaultSyncInterval is the automatic pass interval used by Start.
	DefaultSyncInterval = 100 * time.Millisecond

	// DefaultQualityChangeThreshold is the minimum smoothed-quality swing
	// that fires an OnQualityChange notification.
	DefaultQualityChangeThreshold = 0.1

	// DefaultQualitySmoothing is the exponential moving average factor
	// applied to pass quality before change detection.
	DefaultQualitySmoothing = 0.2

	// dispatchBuffer bounds the callback dispatch queue. Events beyond
	// the bound are dropped and counted rather than blocking a pass.
	dispatchBuffer = 64
)

// EngineConfig configures a synchronization engine. Zero values select
// the package defaults; only Strategy is required.
type EngineConfig struct {
	// Strategy performs per-sample alignment. Required.
	Strategy Strategy

	// Clock supplies time for automatic passes and metrics timestamps.
	// Defaults to the real clock.
	Clock timeutil.Clock

	// BufferCapacity sizes each stream's ring buffer.
	BufferCapacity int

	// Tolerance is the maximum distance in milliseconds between a pass
	// target and a buffered sample for the sample to be considered.
	// The window strategy applies its own tolerance instead.
	Tolerance float64

	// ImmediateSync aligns each sample on arrival instead of waiting
	// for the next pass. Frames are still only produced by passes.
	ImmediateSync bool

	// SyncInterval is the automatic pass interval used by Start.
	SyncInterval time.Duration

	// QualityChangeThreshold and QualitySmoothing tune OnQualityChange.
	QualityChangeThreshold float64
	QualitySmoothing       float64

	// HistorySize bounds the retained pass summaries.
	HistorySize int
}

// streamState is the engine's per-stream registration entry.
type streamState struct {
	id            string
	kind          string
	buffer        *StreamBuffer
	unsubscribe   func()
	lastSeen      float64
	lastTimestamp float64
	results       uint64
	errors        uint64
}

// engineEvent carries one pass's callback payloads to the dispatcher.
type engineEvent struct {
	frame   *Frame
	data    []StreamData
	quality *Metrics
	errs    []AlignmentError
}

// Engine synchronizes registered streams against a shared timeline. A
// single mutex serializes buffer and strategy access; an atomic guard
// keeps at most one pass in flight, so samples arriving mid-pass land
// in the following pass. Callbacks run on a dedicated dispatch
// goroutine and never inside a pass.
type Engine struct {
	strategy       Strategy
	clock          timeutil.Clock
	bufferCapacity int
	tolerance      float64
	immediate      bool
	syncInterval   time.Duration
	threshold      float64
	smoothing      float64
	historySize    int

	mu               sync.Mutex
	streams          map[string]*streamState
	history          []PassSummary
	passLatencies    []float64
	lastMetrics      Metrics
	qualityEMA       float64
	emaInit          bool
	lastNotified     float64
	samplesIngested  uint64
	unknownDropped   uint64
	retiredEvictions uint64
	running          bool
	stopCh           chan struct{}
	ticker           timeutil.Ticker
	wg               sync.WaitGroup

	syncing        atomic.Bool
	deferredPasses atomic.Uint64

	cbMu       sync.Mutex
	syncCbs    map[string]func(Frame)
	dataCbs    map[string]func([]StreamData)
	qualityCbs map[string]func(Metrics)
	errorCbs   map[string]func(AlignmentError)

	dispatchMu     sync.Mutex
	dispatchClosed bool
	dispatchCh     chan engineEvent
	dispatchDone   chan struct{}
	dispatchDrops  atomic.Uint64
}

// NewEngine builds an engine from cfg. Configuration problems are
// reported synchronously as a ConfigError.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Strategy == nil {
		return nil, &ConfigError{Field: "strategy", Reason: "must not be nil"}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}
	if cfg.BufferCapacity < 1 {
		return nil, &ConfigError{Field: "buffer capacity", Reason: "must be at least 1"}
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Tolerance < 0 {
		return nil, &ConfigError{Field: "tolerance", Reason: "must be positive"}
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.SyncInterval < 0 {
		return nil, &ConfigError{Field: "sync interval", Reason: "must be positive"}
	}
	if cfg.QualityChangeThreshold == 0 {
		cfg.QualityChangeThreshold = DefaultQualityChangeThreshold
	}
	if cfg.QualityChangeThreshold < 0 {
		return nil, &ConfigError{Field: "quality change threshold", Reason: "must not be negative"}
	}
	if cfg.QualitySmoothing == 0 {
		cfg.QualitySmoothing = DefaultQualitySmoothing
	}
	if cfg.QualitySmoothing < 0 || cfg.QualitySmoothing > 1 {
		return nil, &ConfigError{Field: "quality smoothing", Reason: "must be in (0, 1]"}
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.HistorySize < 1 {
		return nil, &ConfigError{Field: "history size", Reason: "must be at least 1"}
	}

	e := &Engine{
		strategy:       cfg.Strategy,
		clock:          cfg.Clock,
		bufferCapacity: cfg.BufferCapacity,
		tolerance:      cfg.Tolerance,
		immediate:      cfg.ImmediateSync,
		syncInterval:   cfg.SyncInterval,
		threshold:      cfg.QualityChangeThreshold,
		smoothing:      cfg.QualitySmoothing,
		historySize:    cfg.HistorySize,
		streams:        make(map[string]*streamState),
		syncCbs:        make(map[string]func(Frame)),
		dataCbs:        make(map[string]func([]StreamData)),
		qualityCbs:     make(map[string]func(Metrics)),
		errorCbs:       make(map[string]func(AlignmentError)),
		dispatchCh:     make(chan engineEvent, dispatchBuffer),
		dispatchDone:   make(chan struct{}),
	}
	go e.dispatchWorker()
	return e, nil
}

// randomID generates a random subscription ID (8 byte random hex
// encoded value).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// StreamConfig registers one stream with an engine. Producer is
// optional: streams fed directly through ProcessStreamData leave it
// nil.
type StreamConfig struct {
	ID             string
	Kind           string
	Producer       Producer
	BufferCapacity int
}

// AddStream registers a stream and, when a producer is supplied,
// subscribes to its data callback. Re-adding an existing ID replaces
// the registration with a fresh buffer.
func (e *Engine) AddStream(cfg StreamConfig) error {
	if cfg.Producer != nil {
		if cfg.ID == "" {
			cfg.ID = cfg.Producer.ID()
		}
		if cfg.Kind == "" {
			cfg.Kind = cfg.Producer.Kind()
		}
	}
	if cfg.ID == "" {
		return &ConfigError{Field: "stream id", Reason: "must not be empty"}
	}
	capacity := cfg.BufferCapacity
	if capacity == 0 {
		capacity = e.bufferCapacity
	}

	st := &streamState{
		id:     cfg.ID,
		kind:   cfg.Kind,
		buffer: NewStreamBuffer(capacity),
	}

	e.mu.Lock()
	var replaced func()
	if old, ok := e.streams[cfg.ID]; ok {
		replaced = old.unsubscribe
		e.retiredEvictions += old.buffer.Evicted()
	}
	e.streams[cfg.ID] = st
	e.mu.Unlock()
	if replaced != nil {
		replaced()
	}

	if cfg.Producer == nil {
		return nil
	}

	id := cfg.ID
	unsub := cfg.Producer.OnData(func(s StreamSample) {
		if s.StreamID == "" {
			s.StreamID = id
		}
		e.ProcessStreamData(s)
	})

	e.mu.Lock()
	if cur, ok := e.streams[id]; ok && cur == st {
		st.unsubscribe = unsub
		e.mu.Unlock()
		return nil
	}
	// Lost a race with RemoveStream or a replacement; drop the
	// subscription immediately.
	e.mu.Unlock()
	unsub()
	return nil
}

// RemoveStream unsubscribes and drops all state for id, including any
// per-stream state held by the strategy. Removing an unknown stream is
// a no-op.
func (e *Engine) RemoveStream(id string) bool {
	e.mu.Lock()
	st, ok := e.streams[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.streams, id)
	e.retiredEvictions += st.buffer.Evicted()
	e.strategy.ForgetStream(id)
	unsub := st.unsubscribe
	st.unsubscribe = nil
	e.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	return true
}

// ProcessStreamData ingests one sample. Samples for unregistered
// streams are dropped and counted, never an error, so removal races
// with live producers stay quiet. In immediate mode the sample is also
// aligned on arrival.
func (e *Engine) ProcessStreamData(s StreamSample) bool {
	e.mu.Lock()
	st, ok := e.streams[s.StreamID]
	if !ok {
		e.unknownDropped++
		e.mu.Unlock()
		return false
	}
	st.buffer.Add(s)
	st.lastSeen = units.TimeToMillis(e.clock.Now())
	st.lastTimestamp = s.Timestamp
	e.samplesIngested++
	immediate := e.immediate
	e.mu.Unlock()

	if immediate {
		e.syncSample(s)
	}
	return true
}

// SynchronizeStreams runs one alignment pass against target. It
// returns false without running when another pass is already in
// flight; the skipped work is picked up by the next pass over the same
// buffers.
func (e *Engine) SynchronizeStreams(target float64) (Frame, bool) {
	if !e.syncing.CompareAndSwap(false, true) {
		e.deferredPasses.Add(1)
		return Frame{}, false
	}
	defer e.syncing.Store(false)

	e.mu.Lock()
	frame, data, errs, quality := e.runPassLocked(target)
	e.mu.Unlock()

	e.emit(engineEvent{frame: &frame, data: data, quality: quality, errs: errs})
	return frame, true
}

// runPassLocked performs the alignment pass. e.mu must be held.
func (e *Engine) runPassLocked(target float64) (Frame, []StreamData, []AlignmentError, *Metrics) {
	results := make(map[string]Result, len(e.streams))
	samples := make(map[string]StreamSample, len(e.streams))
	var errs []AlignmentError

	if w, ok := e.strategy.(*Window); ok {
		buffers := make(map[string]*StreamBuffer, len(e.streams))
		for id, st := range e.streams {
			if st.buffer.Len() > 0 {
				buffers[id] = st.buffer
			}
		}
		results = w.FindBestAlignment(buffers, target)
		for id := range results {
			if s, ok := buffers[id].Closest(target, w.Tolerance()); ok {
				samples[id] = s
			}
		}
	} else {
		for id, st := range e.streams {
			s, ok := st.buffer.Closest(target, e.tolerance)
			if !ok {
				continue
			}
			res, usable, err := e.safeAlign(s, target)
			if err != nil {
				st.errors++
				errs = append(errs, AlignmentError{StreamID: id, Err: err})
				results[id] = Result{StreamID: id, AlignedTimestamp: target}
				samples[id] = s
				continue
			}
			if !usable {
				continue
			}
			results[id] = res
			samples[id] = s
		}
	}

	for id := range results {
		if st, ok := e.streams[id]; ok {
			st.results++
		}
	}

	m := e.passMetricsLocked(target, results)
	frame := Frame{
		ID:      "frm_" + uuid.NewString(),
		Target:  target,
		Results: results,
		Metrics: m,
	}
	e.lastMetrics = m
	e.history = append(e.history, PassSummary{
		Target:  target,
		Quality: m.Quality,
		Latency: m.Latency,
		When:    m.LastUpdate,
	})
	if len(e.history) > e.historySize {
		e.history = e.history[len(e.history)-e.historySize:]
	}

	data := e.taggedDataLocked(results, samples)
	quality := e.qualityChangeLocked(m)
	debugf("sync pass target=%.3f streams=%d results=%d quality=%.3f",
		target, len(e.streams), len(results), m.Quality)
	return frame, data, errs, quality
}

// safeAlign calls the strategy and converts a panic into an error so a
// misbehaving strategy for one stream never aborts the pass.
func (e *Engine) safeAlign(s StreamSample, ref float64) (res Result, usable bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			usable = false
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	return e.strategy.Align(s, ref)
}

// passMetricsLocked aggregates one pass's results. Quality averages
// confidence over every registered stream, so a silent stream drags
// quality down instead of disappearing from it.
func (e *Engine) passMetricsLocked(target float64, results map[string]Result) Metrics {
	var confSum, latSum float64
	for _, r := range results {
		confSum += r.Confidence
		d := r.AlignedTimestamp - target
		if d < 0 {
			d = -d
		}
		latSum += d
	}
	m := Metrics{
		LastUpdate:     e.clock.Now(),
		DroppedSamples: e.droppedLocked(),
	}
	if n := len(e.streams); n > 0 {
		m.Quality = confSum / float64(n)
	}
	if len(results) > 0 {
		m.Latency = latSum / float64(len(results))
		m.AlignmentAccuracy = confSum / float64(len(results))
	}
	e.passLatencies = append(e.passLatencies, m.Latency)
	if len(e.passLatencies) > DefaultQualityWindow {
		e.passLatencies = e.passLatencies[len(e.passLatencies)-DefaultQualityWindow:]
	}
	if len(e.passLatencies) >= 2 {
		m.Jitter = stat.StdDev(e.passLatencies, nil)
	}
	return m
}

// droppedLocked totals samples lost anywhere: buffer evictions on live
// and removed streams, ingest for unknown streams, and callback queue
// overflow.
func (e *Engine) droppedLocked() uint64 {
	total := e.retiredEvictions + e.unknownDropped + e.dispatchDrops.Load()
	for _, st := range e.streams {
		total += st.buffer.Evicted()
	}
	return total
}

// taggedDataLocked builds the stream-kind-annotated payload view of a
// pass, ordered by stream ID.
func (e *Engine) taggedDataLocked(results map[string]Result, samples map[string]StreamSample) []StreamData {
	if len(results) == 0 {
		return nil
	}
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	data := make([]StreamData, 0, len(ids))
	for _, id := range ids {
		r := results[id]
		sd := StreamData{
			StreamID:   id,
			Timestamp:  r.AlignedTimestamp,
			Confidence: r.Confidence,
		}
		if st, ok := e.streams[id]; ok {
			sd.Kind = st.kind
		}
		if s, ok := samples[id]; ok {
			sd.Payload = s.Payload
		}
		data = append(data, sd)
	}
	return data
}

// qualityChangeLocked folds the pass quality into the moving average
// and reports metrics to notify with, or nil when the smoothed value
// has not moved past the threshold. The first pass seeds the average
// silently.
func (e *Engine) qualityChangeLocked(m Metrics) *Metrics {
	if !e.emaInit {
		e.emaInit = true
		e.qualityEMA = m.Quality
		e.lastNotified = m.Quality
		return nil
	}
	e.qualityEMA = e.smoothing*m.Quality + (1-e.smoothing)*e.qualityEMA
	diff := e.qualityEMA - e.lastNotified
	if diff < 0 {
		diff = -diff
	}
	if diff <= e.threshold {
		return nil
	}
	e.lastNotified = e.qualityEMA
	out := m
	out.Quality = e.qualityEMA
	return &out
}

// syncSample aligns a single just-arrived sample in immediate mode.
// The result goes out through OnSynchronizedData only; frames remain
// the product of full passes.
func (e *Engine) syncSample(s StreamSample) {
	if !e.syncing.CompareAndSwap(false, true) {
		e.deferredPasses.Add(1)
		return
	}
	defer e.syncing.Store(false)

	e.mu.Lock()
	st, ok := e.streams[s.StreamID]
	if !ok {
		e.mu.Unlock()
		return
	}
	res, usable, err := e.safeAlign(s, s.Timestamp)
	var data []StreamData
	var errs []AlignmentError
	switch {
	case err != nil:
		st.errors++
		errs = []AlignmentError{{StreamID: s.StreamID, Err: err}}
	case usable:
		st.results++
		data = []StreamData{{
			StreamID:   s.StreamID,
			Kind:       st.kind,
			Timestamp:  res.AlignedTimestamp,
			Confidence: res.Confidence,
			Payload:    s.Payload,
		}}
	}
	e.mu.Unlock()

	if data != nil || errs != nil {
		e.emit(engineEvent{data: data, errs: errs})
	}
}

// Start begins automatic passes on the configured interval. Starting a
// running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	stop := make(chan struct{})
	ticker := e.clock.NewTicker(e.syncInterval)
	e.stopCh = stop
	e.ticker = ticker
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C():
				e.SynchronizeStreams(units.TimeToMillis(now))
			}
		}
	}()
}

// Stop halts automatic passes and releases the ticker. Stopping a
// stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.ticker.Stop()
	e.stopCh = nil
	e.ticker = nil
	e.mu.Unlock()
	e.wg.Wait()
}

// Close stops the engine, detaches every producer subscription, and
// shuts down the callback dispatcher after draining queued events.
func (e *Engine) Close() {
	e.Stop()

	e.mu.Lock()
	unsubs := make([]func(), 0, len(e.streams))
	for _, st := range e.streams {
		if st.unsubscribe != nil {
			unsubs = append(unsubs, st.unsubscribe)
			st.unsubscribe = nil
		}
	}
	e.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}

	e.dispatchMu.Lock()
	if !e.dispatchClosed {
		e.dispatchClosed = true
		close(e.dispatchCh)
	}
	e.dispatchMu.Unlock()
	<-e.dispatchDone
}

// OnSync registers a callback invoked with every synchronized frame.
// The returned function unsubscribes it.
func (e *Engine) OnSync(fn func(Frame)) func() {
	id := randomID()
	e.cbMu.Lock()
	e.syncCbs[id] = fn
	e.cbMu.Unlock()
	return func() {
		e.cbMu.Lock()
		delete(e.syncCbs, id)
		e.cbMu.Unlock()
	}
}

// OnSynchronizedData registers a callback invoked with the
// stream-kind-annotated view of each pass that produced results.
func (e *Engine) OnSynchronizedData(fn func([]StreamData)) func() {
	id := randomID()
	e.cbMu.Lock()
	e.dataCbs[id] = fn
	e.cbMu.Unlock()
	return func() {
		e.cbMu.Lock()
		delete(e.dataCbs, id)
		e.cbMu.Unlock()
	}
}

// OnQualityChange registers a callback fired when the smoothed quality
// moves by more than the configured threshold. The delivered metrics
// carry the smoothed quality.
func (e *Engine) OnQualityChange(fn func(Metrics)) func() {
	id := randomID()
	e.cbMu.Lock()
	e.qualityCbs[id] = fn
	e.cbMu.Unlock()
	return func() {
		e.cbMu.Lock()
		delete(e.qualityCbs, id)
		e.cbMu.Unlock()
	}
}

// OnError registers a callback for per-stream alignment failures.
func (e *Engine) OnError(fn func(AlignmentError)) func() {
	id := randomID()
	e.cbMu.Lock()
	e.errorCbs[id] = fn
	e.cbMu.Unlock()
	return func() {
		e.cbMu.Lock()
		delete(e.errorCbs, id)
		e.cbMu.Unlock()
	}
}

// emit queues an event for the dispatcher without blocking. Overflow
// is counted as drops.
func (e *Engine) emit(ev engineEvent) {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	if e.dispatchClosed {
		return
	}
	select {
	case e.dispatchCh <- ev:
	default:
		e.dispatchDrops.Add(1)
	}
}

// dispatchWorker serializes all callback invocations on one goroutine.
func (e *Engine) dispatchWorker() {
	defer close(e.dispatchDone)
	for ev := range e.dispatchCh {
		if ev.frame != nil {
			for _, fn := range e.snapshotSyncCbs() {
				fn(*ev.frame)
			}
		}
		if len(ev.data) > 0 {
			for _, fn := range e.snapshotDataCbs() {
				fn(ev.data)
			}
		}
		if ev.quality != nil {
			for _, fn := range e.snapshotQualityCbs() {
				fn(*ev.quality)
			}
		}
		for _, ae := range ev.errs {
			for _, fn := range e.snapshotErrorCbs() {
				fn(ae)
			}
		}
	}
}

func (e *Engine) snapshotSyncCbs() []func(Frame) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	out := make([]func(Frame), 0, len(e.syncCbs))
	for _, fn := range e.syncCbs {
		out = append(out, fn)
	}
	return out
}

func (e *Engine) snapshotDataCbs() []func([]StreamData) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	out := make([]func([]StreamData), 0, len(e.dataCbs))
	for _, fn := range e.dataCbs {
		out = append(out, fn)
	}
	return out
}

func (e *Engine) snapshotQualityCbs() []func(Metrics) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	out := make([]func(Metrics), 0, len(e.qualityCbs))
	for _, fn := range e.qualityCbs {
		out = append(out, fn)
	}
	return out
}

func (e *Engine) snapshotErrorCbs() []func(AlignmentError) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	out := make([]func(AlignmentError), 0, len(e.errorCbs))
	for _, fn := range e.errorCbs {
		out = append(out, fn)
	}
	return out
}

// Stats reports an engine snapshot for status surfaces.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.lastMetrics
	m.DroppedSamples = e.droppedLocked()
	return EngineStats{
		StreamCount:     len(e.streams),
		Strategy:        e.strategy.Kind(),
		Tolerance:       e.tolerance,
		Running:         e.running,
		SamplesIngested: e.samplesIngested,
		DeferredPasses:  e.deferredPasses.Load(),
		Metrics:         m,
	}
}

// Metrics reports the most recent pass metrics with drop counters
// refreshed.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.lastMetrics
	m.DroppedSamples = e.droppedLocked()
	return m
}

// History returns a copy of the retained pass summaries, oldest first.
func (e *Engine) History() []PassSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PassSummary, len(e.history))
	copy(out, e.history)
	return out
}

// Streams reports per-stream registration snapshots ordered by ID.
func (e *Engine) Streams() []StreamInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	infos := make([]StreamInfo, 0, len(e.streams))
	for _, st := range e.streams {
		infos = append(infos, StreamInfo{
			StreamID:      st.id,
			Kind:          st.kind,
			Buffered:      st.buffer.Len(),
			Evicted:       st.buffer.Evicted(),
			LastSeen:      st.lastSeen,
			LastTimestamp: st.lastTimestamp,
			Results:       st.results,
			Errors:        st.errors,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StreamID < infos[j].StreamID })
	return infos
}

// Strategy exposes the configured strategy. It is fixed for the
// engine's lifetime; callers must not invoke mutating strategy methods
// while the engine is running.
func (e *Engine) Strategy() Strategy { return e.strategy }

// StrategyQuality reports the strategy's own health estimate derived
// from its internal counters.
func (e *Engine) StrategyQuality() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategy.Quality(nil)
}

// UpdateClockSync feeds one resolved clock exchange to the software
// strategy. Engines running any other strategy reject the call.
func (e *Engine) UpdateClockSync(streamID string, serverTime, clientTime float64) error {
	sw, ok := e.strategy.(*Software)
	if !ok {
		return &ConfigError{Field: "strategy", Reason: "clock sync requires the software strategy"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sw.UpdateClockSync(streamID, serverTime, clientTime)
	return nil
}

// ClockState reports the software strategy's sync state for one
// stream. The second return is false for other strategies or unknown
// streams.
func (e *Engine) ClockState(streamID string) (ClockState, bool) {
	sw, ok := e.strategy.(*Software)
	if !ok {
		return ClockState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return sw.ClockStateFor(streamID)
}

// RegisterSyncEvent records a sync event with the event strategy.
// Engines running any other strategy reject the call.
func (e *Engine) RegisterSyncEvent(eventType string, timestamp float64, metadata map[string]string) (SyncEvent, error) {
	ev, ok := e.strategy.(*Event)
	if !ok {
		return SyncEvent{}, &ConfigError{Field: "strategy", Reason: "sync events require the event strategy"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return ev.RegisterEvent(eventType, timestamp, metadata), nil
}

// SyncEvents reports the retained sync events when the event strategy
// is active, nil otherwise.
func (e *Engine) SyncEvents() []SyncEvent {
	ev, ok := e.strategy.(*Event)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return ev.Events()
}
