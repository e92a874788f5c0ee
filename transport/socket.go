package transport

import (
	"errors"
	"net/netip"
)

var (
	// ErrAddrInUse is returned when binding to an address another socket
	// already holds.
	ErrAddrInUse = errors.New("transport: address already in use")

	// ErrAlreadyBound is returned when binding a socket twice.
	ErrAlreadyBound = errors.New("transport: socket already bound")

	// ErrClosed is returned when using a closed socket.
	ErrClosed = errors.New("transport: socket closed")
)

// A Datagram is a payload travelling between two sockets.
type Datagram struct {
	Payload []byte
	From    netip.AddrPort
	To      netip.AddrPort
}

// A Socket sends and receives datagrams. Receiving never blocks: Recv
// reports whether a datagram was available.
type Socket interface {
	// Bind attaches the socket to a local address. An invalid address or a
	// zero port selects an ephemeral one.
	Bind(addr netip.AddrPort) error

	// SendTo transmits the payload. Delivery is not guaranteed and
	// undeliverable datagrams are dropped silently.
	SendTo(payload []byte, dst netip.AddrPort) error

	// Recv returns the next queued datagram, if any.
	Recv() (Datagram, bool)

	// SetRecvCallback installs the function called when a datagram arrives.
	// A nil function removes it.
	SetRecvCallback(fn func(s Socket))

	// LocalAddr returns the bound address.
	LocalAddr() netip.AddrPort

	// Close unbinds the socket and drops the queued datagrams.
	Close() error
}

// A SocketFactory creates sockets.
type SocketFactory interface {
	NewSocket() Socket
}
