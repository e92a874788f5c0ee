package federate

import (
	"context"

	"github.com/sarchlab/fedsim/vtime"
	"github.com/sirupsen/logrus"
)

// An UpdateHandler consumes the values received from peer federates.
type UpdateHandler interface {
	OnUpdate(u Update)
}

// UpdateHandlerFunc adapts a function to the UpdateHandler interface.
type UpdateHandlerFunc func(u Update)

// OnUpdate calls f(u).
func (f UpdateHandlerFunc) OnUpdate(u Update) {
	f(u)
}

// A Synchronizer lets an engine advance only as far as the fabric grants.
// It is installed as the time gate of the engine and as one of its
// simulation end handlers.
type Synchronizer struct {
	ctx      context.Context
	fabric   Fabric
	handlers map[string][]UpdateHandler
	catchAll []UpdateHandler
	log      *logrus.Entry
}

// NewSynchronizer creates a synchronizer. Time requests give up when ctx is
// done.
func NewSynchronizer(ctx context.Context, fabric Fabric) *Synchronizer {
	return &Synchronizer{
		ctx:      ctx,
		fabric:   fabric,
		handlers: make(map[string][]UpdateHandler),
		log:      logrus.WithField("component", "synchronizer"),
	}
}

// Subscribe subscribes to key and routes its updates to h. An empty key
// routes every update to h without subscribing.
func (s *Synchronizer) Subscribe(key string, h UpdateHandler) error {
	if key == "" {
		s.catchAll = append(s.catchAll, h)
		return nil
	}

	if _, ok := s.handlers[key]; !ok {
		if err := s.fabric.Subscribe(key); err != nil {
			return err
		}
	}

	s.handlers[key] = append(s.handlers[key], h)

	return nil
}

// Grant asks the fabric for next.
func (s *Synchronizer) Grant(now, next vtime.Time) (vtime.Time, error) {
	granted, err := s.fabric.TimeRequest(s.ctx, next)
	if err != nil {
		return now, err
	}

	s.log.WithFields(logrus.Fields{
		"now":     now,
		"next":    next,
		"granted": granted,
	}).Trace("time granted")

	return granted, nil
}

// Granted dispatches the updates that arrived with the grant.
func (s *Synchronizer) Granted(_ vtime.Time) {
	for _, u := range s.fabric.Events() {
		for _, h := range s.handlers[u.Key] {
			h.OnUpdate(u)
		}

		for _, h := range s.catchAll {
			h.OnUpdate(u)
		}
	}
}

// Handle leaves the federation once the simulation ends.
func (s *Synchronizer) Handle(now vtime.Time) {
	if err := s.fabric.Finish(); err != nil {
		s.log.WithError(err).WithField("now", now).Warn("cannot finish")
	}
}
