package align

import (
	"context"
	"sync"
)

// Producer is a source of stream samples: a sensor bridge, a serial
// telemetry reader, a capture replay. Start may block on device setup
// and honors ctx for cancellation; Stop releases the source and is
// safe to call more than once. OnData registers a sample callback and
// returns its unsubscribe function.
type Producer interface {
	ID() string
	Kind() string
	Start(ctx context.Context) error
	Stop() error
	OnData(fn func(StreamSample)) func()
}

// Feed implements the OnData fan-out side of Producer. Concrete
// producers embed it and call Publish for each decoded sample.
type Feed struct {
	mu   sync.Mutex
	subs map[string]func(StreamSample)
}

// OnData registers fn and returns its unsubscribe function.
func (f *Feed) OnData(fn func(StreamSample)) func() {
	id := randomID()
	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[string]func(StreamSample))
	}
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Publish delivers s to every subscriber. Callbacks run on the
// caller's goroutine in unspecified order.
func (f *Feed) Publish(s StreamSample) {
	f.mu.Lock()
	subs := make([]func(StreamSample), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// Subscribers reports the current subscriber count.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
