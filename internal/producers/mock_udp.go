package producers

import (
	"net"
	"sync"
	"time"
)

// timeoutError mimics the net package's deadline expiry error for mock
// reads.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// MockUDPPacket is one canned datagram served by a MockUDPSocket.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockUDPSocket implements UDPSocket over a fixed packet sequence.
// Reads past the end of the sequence report a timeout, matching a
// socket with an expired read deadline; reads after Close report
// net.ErrClosed.
type MockUDPSocket struct {
	mu sync.Mutex

	packets []MockUDPPacket

	// ReadIndex is the position of the next packet to serve.
	ReadIndex int

	// ReadError is returned by the next ReadFromUDP call, then cleared.
	ReadError error

	// Closed reports whether Close was called.
	Closed bool

	// ReadBufferSize records the last SetReadBuffer value.
	ReadBufferSize int

	// SetReadBufferError is returned by SetReadBuffer when set.
	SetReadBufferError error

	// ReadDeadline records the last SetReadDeadline value.
	ReadDeadline time.Time

	// LocalAddress is reported by LocalAddr.
	LocalAddress *net.UDPAddr
}

// NewMockUDPSocket creates a mock socket serving the given packets in
// order.
func NewMockUDPSocket(packets []MockUDPPacket) *MockUDPSocket {
	return &MockUDPSocket{packets: packets}
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return 0, nil, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, nil, err
	}
	if m.ReadIndex >= len(m.packets) {
		return 0, nil, timeoutError{}
	}

	pkt := m.packets[m.ReadIndex]
	m.ReadIndex++
	n := copy(b, pkt.Data)
	return n, pkt.Addr, nil
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetReadBufferError != nil {
		return m.SetReadBufferError
	}
	m.ReadBufferSize = bytes
	return nil
}

func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadDeadline = t
	return nil
}

func (m *MockUDPSocket) LocalAddr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LocalAddress != nil {
		return m.LocalAddress
	}
	return &net.UDPAddr{IP: net.IPv4zero, Port: 0}
}

func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Append queues further packets behind any not yet served.
func (m *MockUDPSocket) Append(packets ...MockUDPPacket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets = append(m.packets, packets...)
}

// Reset rewinds the packet sequence and clears all recorded state.
func (m *MockUDPSocket) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadIndex = 0
	m.ReadError = nil
	m.Closed = false
	m.ReadBufferSize = 0
	m.SetReadBufferError = nil
	m.ReadDeadline = time.Time{}
}

// MockListenCall records one ListenUDP invocation on a mock factory.
type MockListenCall struct {
	Network string
	Addr    *net.UDPAddr
}

// MockUDPSocketFactory implements UDPSocketFactory for tests.
type MockUDPSocketFactory struct {
	mu sync.Mutex

	// Socket is returned by ListenUDP when Error is unset.
	Socket *MockUDPSocket

	// Error is returned by ListenUDP when set.
	Error error

	// ListenCalls records every ListenUDP invocation.
	ListenCalls []MockListenCall
}

// NewMockUDPSocketFactory creates a factory returning the given socket.
func NewMockUDPSocketFactory(socket *MockUDPSocket) *MockUDPSocketFactory {
	return &MockUDPSocketFactory{Socket: socket}
}

func (f *MockUDPSocketFactory) ListenUDP(network string, addr *net.UDPAddr) (UDPSocket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListenCalls = append(f.ListenCalls, MockListenCall{Network: network, Addr: addr})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Socket, nil
}
