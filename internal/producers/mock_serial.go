package producers

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// MockPort is an in-memory PortInterface for tests. Reads block until
// data arrives or the port closes, matching real port semantics, so a
// bufio.Scanner over a MockPort behaves like one over hardware.
type MockPort struct {
	mu   sync.Mutex
	cond *sync.Cond

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	readErr  error
	closed   bool
}

// NewMockPort creates an empty mock port.
func NewMockPort() *MockPort {
	p := &MockPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *MockPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.readErr != nil {
			err := p.readErr
			p.readErr = nil
			return 0, err
		}
		if p.readBuf.Len() > 0 {
			return p.readBuf.Read(b)
		}
		if p.closed {
			return 0, io.EOF
		}
		p.cond.Wait()
	}
}

func (p *MockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	return p.writeBuf.Write(b)
}

// Close wakes any blocked reader; subsequent reads drain buffered data
// and then report EOF.
func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// Closed reports whether Close was called.
func (p *MockPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// FeedLine queues one newline-terminated line for subsequent reads.
func (p *MockPort) FeedLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.WriteString(line)
	p.readBuf.WriteByte('\n')
	p.cond.Signal()
}

// FailRead makes the next Read return err.
func (p *MockPort) FailRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
	p.cond.Broadcast()
}

// Written returns everything written to the port.
func (p *MockPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.writeBuf.Bytes()...)
}
