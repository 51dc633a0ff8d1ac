package producers

import (
	"net"
	"time"
)

// UDPSocket is the surface of a bound UDP socket used by the gaze
// listener. The abstraction enables unit testing without real sockets.
type UDPSocket interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// UDPSocketFactory creates UDP sockets. Tests substitute a mock
// factory to inject canned datagrams.
type UDPSocketFactory interface {
	ListenUDP(network string, addr *net.UDPAddr) (UDPSocket, error)
}

// realUDPSocketFactory opens sockets through the net package.
// *net.UDPConn satisfies UDPSocket directly.
type realUDPSocketFactory struct{}

// NewRealUDPSocketFactory returns the production socket factory.
func NewRealUDPSocketFactory() UDPSocketFactory {
	return realUDPSocketFactory{}
}

func (realUDPSocketFactory) ListenUDP(network string, addr *net.UDPAddr) (UDPSocket, error) {
	return net.ListenUDP(network, addr)
}
