// Package fabric provides an in-process co-simulation fabric.
//
// Federates join a Broker and publish values under their own name. Time
// advances in rounds: a round completes once every federate that has not
// finished requests a time, and every federate is granted the earliest time
// requested. Values published before a round completes are delivered to the
// subscribers with its grant.
package fabric

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/fedsim/federate"
	"github.com/sarchlab/fedsim/vtime"
	"github.com/sirupsen/logrus"
)

var (
	// ErrDuplicateFederate is returned when joining with a taken name.
	ErrDuplicateFederate = errors.New("fabric: duplicate federate")

	// ErrFinished is returned when a finished client is used.
	ErrFinished = errors.New("fabric: federate finished")

	// ErrTimeRegression is returned when a client requests a time before
	// its last grant.
	ErrTimeRegression = errors.New("fabric: time request before last grant")
)

type publication struct {
	key   string
	value string
	time  vtime.Time
}

type round struct {
	done       chan struct{}
	grant      vtime.Time
	deliveries map[string][]federate.Update
}

func newRound() *round {
	return &round{done: make(chan struct{})}
}

// A Broker synchronizes the federates of one co-simulation.
type Broker struct {
	mu       sync.Mutex
	clients  map[string]*Client
	active   int
	requests map[string]vtime.Time
	pending  []publication
	current  *round
	rounds   uint64
	log      *logrus.Entry
}

// NewBroker creates a broker without federates.
func NewBroker() *Broker {
	return &Broker{
		clients:  make(map[string]*Client),
		requests: make(map[string]vtime.Time),
		current:  newRound(),
		log:      logrus.WithField("component", "fabric"),
	}
}

// Join adds a federate.
func (b *Broker) Join(name string) (*Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateFederate, name)
	}

	c := &Client{
		broker: b,
		name:   name,
		subs:   make(map[string]bool),
		values: make(map[string]string),
	}
	b.clients[name] = c
	b.active++

	b.log.WithField("federate", name).Debug("federate joined")

	return c, nil
}

// Federates returns the names of the federates in lexical order.
func (b *Broker) Federates() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.clients))
	for name := range b.clients {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Rounds returns the number of completed time rounds.
func (b *Broker) Rounds() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.rounds
}

func (b *Broker) completeRoundLocked() {
	if b.active == 0 || len(b.requests) < b.active {
		return
	}

	grant := vtime.MaxTime
	for _, t := range b.requests {
		grant = vtime.Min(grant, t)
	}

	r := b.current
	r.grant = grant
	r.deliveries = make(map[string][]federate.Update)

	for _, p := range b.pending {
		for name, c := range b.clients {
			if c.finished || !c.subs[p.key] {
				continue
			}

			r.deliveries[name] = append(r.deliveries[name], federate.Update{
				Key:   p.key,
				Value: p.value,
				Time:  p.time,
			})
		}
	}

	b.log.WithFields(logrus.Fields{
		"round":        b.rounds,
		"grant":        grant,
		"publications": len(b.pending),
	}).Trace("round complete")

	b.pending = nil
	b.requests = make(map[string]vtime.Time)
	b.current = newRound()
	b.rounds++

	close(r.done)
}

// A Client is the connection of one federate to a Broker.
type Client struct {
	broker *Broker
	name   string

	subs     map[string]bool
	values   map[string]string
	events   []federate.Update
	now      vtime.Time
	finished bool
}

var _ federate.Fabric = (*Client)(nil)

// Name returns the name of the federate.
func (c *Client) Name() string {
	return c.name
}

// Subscribe asks for the values published under key, "<federate>/<topic>".
func (c *Client) Subscribe(key string) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.finished {
		return ErrFinished
	}

	c.subs[key] = true

	return nil
}

// Publish publishes value under "<federate>/<topic>" at the time of the last
// grant.
func (c *Client) Publish(topic, value string) error {
	b := c.broker

	b.mu.Lock()
	defer b.mu.Unlock()

	if c.finished {
		return fmt.Errorf("%w: %q publishing %q", ErrFinished, c.name, topic)
	}

	b.pending = append(b.pending, publication{
		key:   c.name + "/" + topic,
		value: value,
		time:  c.now,
	})

	return nil
}

// TimeRequest blocks until the round completes and returns the grant, which
// is never later than next.
func (c *Client) TimeRequest(
	ctx context.Context,
	next vtime.Time,
) (vtime.Time, error) {
	b := c.broker

	b.mu.Lock()

	if c.finished {
		b.mu.Unlock()
		return c.now, ErrFinished
	}

	if next < c.now {
		b.mu.Unlock()
		return c.now, fmt.Errorf("%w: %s < %s", ErrTimeRegression, next, c.now)
	}

	r := b.current
	b.requests[c.name] = next
	b.completeRoundLocked()
	b.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		b.mu.Lock()
		defer b.mu.Unlock()

		select {
		case <-r.done:
			// The round completed concurrently; take the grant.
		default:
			delete(b.requests, c.name)
			return c.now, ctx.Err()
		}

		c.acceptLocked(r)

		return c.now, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c.acceptLocked(r)

	return c.now, nil
}

func (c *Client) acceptLocked(r *round) {
	c.now = r.grant
	c.events = r.deliveries[c.name]

	for _, u := range c.events {
		c.values[u.Key] = u.Value
	}
}

// Events returns the updates delivered with the last grant. Each update is
// returned once.
func (c *Client) Events() []federate.Update {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	events := c.events
	c.events = nil

	return events
}

// Value returns the latest value received under key.
func (c *Client) Value(key string) (string, bool) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	v, ok := c.values[key]

	return v, ok
}

// Alone tells whether every other federate has finished.
func (c *Client) Alone() bool {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	return !c.finished && c.broker.active == 1
}

// Now returns the last grant.
func (c *Client) Now() vtime.Time {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	return c.now
}

// Finish leaves the federation. Peers no longer wait for the federate.
func (c *Client) Finish() error {
	b := c.broker

	b.mu.Lock()
	defer b.mu.Unlock()

	if c.finished {
		return ErrFinished
	}

	c.finished = true
	b.active--
	delete(b.requests, c.name)

	b.log.WithFields(logrus.Fields{
		"federate": c.name,
		"now":      c.now,
	}).Debug("federate finished")

	b.completeRoundLocked()

	return nil
}
