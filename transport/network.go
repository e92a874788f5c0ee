// Package transport provides an in-memory datagram network whose deliveries
// happen as events of a simulation engine.
package transport

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/sarchlab/fedsim/sim"
	"github.com/sarchlab/fedsim/vtime"
	"github.com/sirupsen/logrus"
)

// HookPosDeliver marks a datagram reaching a socket. The item is the
// Datagram.
var HookPosDeliver = &sim.HookPos{Name: "Deliver"}

// HookPosDrop marks a datagram that no socket could accept. The item is the
// Datagram.
var HookPosDrop = &sim.HookPos{Name: "Drop"}

const firstEphemeralPort = 49152

// Builder can build networks.
type Builder struct {
	engine  sim.Engine
	latency vtime.Time
}

// MakeBuilder creates a new Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithEngine sets the engine that schedules deliveries.
func (b Builder) WithEngine(e sim.Engine) Builder {
	b.engine = e
	return b
}

// WithLatency sets the delay between a send and the matching delivery.
func (b Builder) WithLatency(latency vtime.Time) Builder {
	b.latency = latency
	return b
}

// Build creates the network.
func (b Builder) Build(name string) *Network {
	if b.engine == nil {
		panic("transport: network requires an engine")
	}

	if b.latency < 0 {
		panic(fmt.Sprintf("transport: negative latency %s", b.latency))
	}

	return &Network{
		name:     name,
		engine:   b.engine,
		latency:  b.latency,
		bound:    make(map[netip.AddrPort]*socket),
		nextPort: firstEphemeralPort,
		log:      logrus.WithField("network", name),
	}
}

// A Network connects the sockets it creates.
type Network struct {
	sim.HookableBase

	name    string
	engine  sim.Engine
	latency vtime.Time
	log     *logrus.Entry

	mu        sync.Mutex
	bound     map[netip.AddrPort]*socket
	nextPort  uint16
	delivered uint64
	dropped   uint64
}

// Name returns the name of the network.
func (n *Network) Name() string {
	return n.name
}

// NewSocket creates an unbound socket attached to the network.
func (n *Network) NewSocket() Socket {
	return &socket{network: n}
}

// Delivered returns the number of datagrams handed to a socket.
func (n *Network) Delivered() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.delivered
}

// Dropped returns the number of datagrams no socket accepted.
func (n *Network) Dropped() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.dropped
}

func (n *Network) bind(s *socket, addr netip.AddrPort) (netip.AddrPort, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ip := addr.Addr()
	if !ip.IsValid() {
		ip = netip.IPv4Unspecified()
	}

	ip = ip.Unmap()

	port := addr.Port()
	if port == 0 {
		p, err := n.ephemeralPortLocked(ip)
		if err != nil {
			return netip.AddrPort{}, err
		}

		port = p
	}

	local := netip.AddrPortFrom(ip, port)
	if _, taken := n.bound[local]; taken {
		return netip.AddrPort{}, fmt.Errorf("%w: %s", ErrAddrInUse, local)
	}

	n.bound[local] = s

	return local, nil
}

func (n *Network) ephemeralPortLocked(ip netip.Addr) (uint16, error) {
	for i := 0; i < 1<<16-firstEphemeralPort; i++ {
		p := n.nextPort

		n.nextPort++
		if n.nextPort == 0 {
			n.nextPort = firstEphemeralPort
		}

		if _, taken := n.bound[netip.AddrPortFrom(ip, p)]; !taken {
			return p, nil
		}
	}

	return 0, fmt.Errorf("%w: no ephemeral port left on %s", ErrAddrInUse, ip)
}

func (n *Network) unbind(local netip.AddrPort) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.bound, local)
}

// lookup finds the socket bound to dst, or to the unspecified address of the
// same family on the same port.
func (n *Network) lookup(dst netip.AddrPort) *socket {
	n.mu.Lock()
	defer n.mu.Unlock()

	ip := dst.Addr().Unmap()
	if s, ok := n.bound[netip.AddrPortFrom(ip, dst.Port())]; ok {
		return s
	}

	wildcard := netip.IPv4Unspecified()
	if ip.Is6() {
		wildcard = netip.IPv6Unspecified()
	}

	return n.bound[netip.AddrPortFrom(wildcard, dst.Port())]
}

func (n *Network) send(d Datagram) error {
	_, err := n.engine.Schedule(n.latency, func() {
		n.deliver(d)
	})

	return err
}

func (n *Network) deliver(d Datagram) {
	dst := n.lookup(d.To)
	if dst == nil || !dst.enqueue(d) {
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()

		n.log.WithFields(logrus.Fields{
			"now":   n.engine.Now(),
			"from":  d.From,
			"to":    d.To,
			"bytes": len(d.Payload),
		}).Debug("datagram dropped")

		n.InvokeHook(sim.HookCtx{Domain: n, Pos: HookPosDrop, Item: d})

		return
	}

	n.mu.Lock()
	n.delivered++
	n.mu.Unlock()

	n.InvokeHook(sim.HookCtx{Domain: n, Pos: HookPosDeliver, Item: d})

	dst.notify()
}

type socket struct {
	network *Network

	mu       sync.Mutex
	local    netip.AddrPort
	bound    bool
	closed   bool
	rx       []Datagram
	callback func(s Socket)
}

func (s *socket) Bind(addr netip.AddrPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.bound {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, s.local)
	}

	local, err := s.network.bind(s, addr)
	if err != nil {
		return err
	}

	s.local = local
	s.bound = true

	return nil
}

func (s *socket) SendTo(payload []byte, dst netip.AddrPort) error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	if !s.bound {
		local, err := s.network.bind(s, netip.AddrPort{})
		if err != nil {
			s.mu.Unlock()
			return err
		}

		s.local = local
		s.bound = true
	}

	d := Datagram{
		Payload: append([]byte(nil), payload...),
		From:    s.local,
		To:      dst,
	}
	s.mu.Unlock()

	return s.network.send(d)
}

func (s *socket) Recv() (Datagram, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rx) == 0 {
		return Datagram{}, false
	}

	d := s.rx[0]
	s.rx[0] = Datagram{}
	s.rx = s.rx[1:]

	return d, true
}

func (s *socket) SetRecvCallback(fn func(s Socket)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callback = fn
}

func (s *socket) LocalAddr() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.local
}

func (s *socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.bound {
		s.network.unbind(s.local)
	}

	s.closed = true
	s.rx = nil
	s.callback = nil

	return nil
}

func (s *socket) enqueue(d Datagram) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.rx = append(s.rx, d)

	return true
}

func (s *socket) notify() {
	s.mu.Lock()
	fn := s.callback
	s.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}
