// Package federate bridges a simulated network and a co-simulation fabric.
//
// An Application is an endpoint of the simulated network. Sending writes a
// "<topic>=<value>" payload to a peer endpoint. Every payload an endpoint
// receives is republished into the fabric, which makes the value visible to
// the other federates at the virtual time it was received.
package federate

import (
	"fmt"
	"net/netip"
	"reflect"

	"github.com/sarchlab/fedsim/sim"
	"github.com/sarchlab/fedsim/transport"
	"github.com/sirupsen/logrus"
)

// HookPosTx marks a payload about to be transmitted. The item is the payload
// bytes and the detail is the Payload.
var HookPosTx = &sim.HookPos{Name: "Tx"}

// HookPosRx marks a payload drained from the socket. The item is the payload
// bytes and the detail is the Payload.
var HookPosRx = &sim.HookPos{Name: "Rx"}

// Builder can build endpoints.
type Builder struct {
	engine    sim.Engine
	sockets   transport.SocketFactory
	publisher Publisher
	registry  *Registry
	local     netip.AddrPort
	metrics   *Metrics
	logger    *logrus.Entry
}

// MakeBuilder creates a new Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithEngine sets the engine the endpoint schedules its receive drains on.
func (b Builder) WithEngine(e sim.Engine) Builder {
	b.engine = e
	return b
}

// WithNetwork sets where the endpoint creates its socket.
func (b Builder) WithNetwork(f transport.SocketFactory) Builder {
	b.sockets = f
	return b
}

// WithFabric sets where received values are republished.
func (b Builder) WithFabric(p Publisher) Builder {
	b.publisher = p
	return b
}

// WithRegistry sets the registry the endpoint is registered in.
func (b Builder) WithRegistry(r *Registry) Builder {
	b.registry = r
	return b
}

// WithLocal sets the address and port the endpoint binds to.
func (b Builder) WithLocal(addr netip.Addr, port uint16) Builder {
	b.local = netip.AddrPortFrom(addr, port)
	return b
}

// WithMetrics sets the metrics the endpoint reports to.
func (b Builder) WithMetrics(m *Metrics) Builder {
	b.metrics = m
	return b
}

// WithLogger sets the logger of the endpoint.
func (b Builder) WithLogger(l *logrus.Entry) Builder {
	b.logger = l
	return b
}

// Build creates an endpoint. An empty name is accepted here but the endpoint
// cannot be started until it is named.
func (b Builder) Build(name string) *Application {
	if b.engine == nil {
		panic("federate: endpoint requires an engine")
	}

	if b.sockets == nil {
		panic("federate: endpoint requires a network")
	}

	a := &Application{
		engine:    b.engine,
		sockets:   b.sockets,
		publisher: b.publisher,
		registry:  b.registry,
		metrics:   b.metrics,
		localAddr: b.local.Addr(),
		localPort: b.local.Port(),
		baseLog:   b.logger,
	}

	if a.baseLog == nil {
		a.baseLog = logrus.NewEntry(logrus.StandardLogger())
	}

	a.log = a.baseLog

	if name != "" {
		a.SetName(name)
	}

	return a
}

type drainEvent struct {
	*sim.EventBase
}

// An Application is a named endpoint of the simulated network.
type Application struct {
	sim.HookableBase

	name      string
	localAddr netip.Addr
	localPort uint16
	sent      uint32
	received  uint64
	state     State

	engine    sim.Engine
	sockets   transport.SocketFactory
	socket    transport.Socket
	publisher Publisher
	registry  *Registry
	metrics   *Metrics

	drainPending bool

	baseLog *logrus.Entry
	log     *logrus.Entry
}

// Name returns the name of the endpoint.
func (a *Application) Name() string {
	return a.name
}

// SetName names the endpoint and registers it under that name. A name
// already taken by another endpoint is fatal.
func (a *Application) SetName(name string) {
	if a.registry != nil {
		if a.name != "" {
			a.registry.Remove(a.name, a)
		}

		if err := a.registry.Add(name, a); err != nil {
			a.log.WithError(err).Error("cannot register endpoint")
			panic(err)
		}
	}

	a.name = name
	a.log = a.baseLog.WithField("federate", name)
}

// SetLocal sets the address and port the endpoint binds to at the next
// start. Peers address the endpoint through them.
func (a *Application) SetLocal(addr netip.Addr, port uint16) {
	a.localAddr = addr
	a.localPort = port
}

// LocalAddr returns the configured local address.
func (a *Application) LocalAddr() netip.Addr {
	return a.localAddr
}

// LocalPort returns the configured local port.
func (a *Application) LocalPort() uint16 {
	return a.localPort
}

// Address returns where peers reach the endpoint: the configured address
// and port when both are set, the address the socket is bound to otherwise.
func (a *Application) Address() netip.AddrPort {
	configured := netip.AddrPortFrom(a.localAddr, a.localPort)
	if a.localAddr.IsValid() && a.localPort != 0 {
		return configured
	}

	if a.socket != nil {
		return a.socket.LocalAddr()
	}

	return configured
}

// Sent returns the number of payloads sent.
func (a *Application) Sent() uint32 {
	return a.sent
}

// Received returns the number of payloads received.
func (a *Application) Received() uint64 {
	return a.received
}

// State returns the lifecycle state.
func (a *Application) State() State {
	return a.state
}

// StartApplication binds the socket and starts receiving. Starting an
// unnamed endpoint is fatal.
func (a *Application) StartApplication() error {
	if a.name == "" {
		err := fmt.Errorf("%w: endpoint at %s", ErrMissingName,
			netip.AddrPortFrom(a.localAddr, a.localPort))
		a.log.Error(err)
		panic(err)
	}

	if a.socket == nil {
		s := a.sockets.NewSocket()

		bindTo := netip.AddrPort{}
		if a.localAddr.IsValid() {
			bindTo = netip.AddrPortFrom(a.localAddr, a.localPort)
		}

		if err := s.Bind(bindTo); err != nil {
			_ = s.Close()
			return fmt.Errorf("federate: start %q: %w", a.name, err)
		}

		a.socket = s
	}

	a.socket.SetRecvCallback(a.onReceive)
	a.state = Started

	a.log.WithFields(logrus.Fields{
		"now":     a.engine.Now(),
		"address": a.socket.LocalAddr(),
	}).Debug("endpoint started")

	return nil
}

// StopApplication closes the socket. Payloads not drained yet are lost.
func (a *Application) StopApplication() {
	if a.socket != nil {
		if err := a.socket.Close(); err != nil {
			a.log.WithError(err).Debug("closing socket")
		}

		a.socket.SetRecvCallback(nil)
		a.socket = nil
	}

	a.drainPending = false
	a.state = Stopped

	a.log.WithField("now", a.engine.Now()).Debug("endpoint stopped")
}

// Send writes "<topic>=<value>" to dst. The Tx hook sees the payload before
// it is transmitted. The sent counter grows even if the transport cannot
// deliver the payload. A nil dst is reported as ErrUnknownFederate.
func (a *Application) Send(dst *Application, topic, value string) error {
	if a.state != Started {
		return fmt.Errorf("%w: %q is %s", ErrNotStarted, a.name, a.state)
	}

	if dst == nil {
		return fmt.Errorf("%w: %q has no destination for %q",
			ErrUnknownFederate, a.name, topic)
	}

	p := Payload{Topic: topic, Value: value}
	buf := p.Encode()

	a.InvokeHook(sim.HookCtx{
		Domain: a,
		Pos:    HookPosTx,
		Item:   buf,
		Detail: p,
	})

	to := dst.Address()
	fields := logrus.Fields{
		"now":   a.engine.Now(),
		"bytes": len(buf),
		"to":    dst.Name(),
		"addr":  to,
	}

	if !to.IsValid() {
		a.log.WithFields(fields).Debug("destination has no address")
	} else if err := a.socket.SendTo(buf, to); err != nil {
		a.log.WithFields(fields).WithError(err).Debug("send failed")
	} else {
		a.log.WithFields(fields).Info("sent")
	}

	a.sent++
	a.metrics.incSent(a.name)

	return nil
}

// SendTo sends to the endpoint registered under name.
func (a *Application) SendTo(name, topic, value string) error {
	if a.registry == nil {
		return fmt.Errorf("%w: %q, no registry", ErrUnknownFederate, name)
	}

	dst, err := a.registry.Lookup(name)
	if err != nil {
		return err
	}

	return a.Send(dst, topic, value)
}

func (a *Application) onReceive(transport.Socket) {
	if a.drainPending {
		return
	}

	evt := drainEvent{sim.NewEventBase(a.engine.Now(), a)}
	if _, err := a.engine.ScheduleEvent(evt); err != nil {
		a.log.WithError(err).Error("cannot schedule drain")
		return
	}

	a.drainPending = true
}

// Handle handles the events scheduled by the endpoint.
func (a *Application) Handle(e sim.Event) error {
	switch e.(type) {
	case drainEvent:
		a.drainPending = false
		a.HandleReceive()
	default:
		a.log.Panicf("cannot handle event of type %s", reflect.TypeOf(e))
	}

	return nil
}

// HandleReceive drains every datagram available on the socket and
// republishes its value into the fabric. A payload without '=' is fatal.
func (a *Application) HandleReceive() {
	if a.socket == nil {
		return
	}

	for {
		d, ok := a.socket.Recv()
		if !ok {
			return
		}

		a.receive(d)
	}
}

func (a *Application) receive(d transport.Datagram) {
	p, err := DecodePayload(d.Payload)
	if err != nil {
		a.log.WithFields(logrus.Fields{
			"now":  a.engine.Now(),
			"from": d.From,
		}).Error(err)
		panic(err)
	}

	a.received++
	a.metrics.incReceived(a.name)

	a.log.WithFields(logrus.Fields{
		"now":   a.engine.Now(),
		"from":  d.From,
		"bytes": len(d.Payload),
		"topic": p.Topic,
	}).Info("received")

	a.InvokeHook(sim.HookCtx{
		Domain: a,
		Pos:    HookPosRx,
		Item:   d.Payload,
		Detail: p,
	})

	if a.publisher == nil {
		return
	}

	err = a.publisher.Publish(p.Topic, p.Value)
	a.metrics.incPublished(a.name, err)

	if err != nil {
		a.log.WithError(err).WithField("topic", p.Topic).Warn("publish failed")
	}
}
