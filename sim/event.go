package sim

import (
	"fmt"

	"github.com/sarchlab/fedsim/vtime"
)

// An Event is something going to happen in the future.
type Event interface {
	// Return the time that the event should happen
	Time() vtime.Time

	// Returns the handler that can should handle the event
	Handler() Handler

	// IsSecondary tells if the event is a secondary event. Secondary event are
	// handled after all same-time primary events are handled.
	IsSecondary() bool
}

// EventBase provides the basic fields and getters for other events
type EventBase struct {
	ID        string
	time      vtime.Time
	handler   Handler
	secondary bool
}

// NewEventBase creates a new EventBase
func NewEventBase(t vtime.Time, handler Handler) *EventBase {
	e := new(EventBase)
	e.ID = GetIDGenerator().Generate()
	e.time = t
	e.handler = handler
	e.secondary = false

	return e
}

// Time return the time that the event is going to happen
func (e *EventBase) Time() vtime.Time {
	return e.time
}

// SetHandler sets which handler that handles the event.
func (e *EventBase) SetHandler(h Handler) {
	e.handler = h
}

// Handler returns the handler to handle the event.
func (e *EventBase) Handler() Handler {
	return e.handler
}

// IsSecondary returns true if the event is a secondary event.
func (e *EventBase) IsSecondary() bool {
	return e.secondary
}

// SetSecondary marks the event as a secondary event.
func (e *EventBase) SetSecondary(secondary bool) {
	e.secondary = secondary
}

// A Handler defines a domain for the events.
//
// One event is always constraint to one Handler, which means the event can
// only be scheduled by one handler and can only directly modify that handler.
type Handler interface {
	Handle(e Event) error
}

// A Named object is an object that has a name. Traces use the name of a
// handler when it has one.
type Named interface {
	Name() string
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(e Event) error

// Handle calls f(e).
func (f HandlerFunc) Handle(e Event) error {
	return f(e)
}

// A CallbackEvent is an event that runs a function when dispatched. The event
// is its own handler.
type CallbackEvent struct {
	*EventBase
	fn func()
}

// NewCallbackEvent creates an event that calls fn at time t.
func NewCallbackEvent(t vtime.Time, fn func()) *CallbackEvent {
	e := &CallbackEvent{fn: fn}
	e.EventBase = NewEventBase(t, e)

	return e
}

// Handle runs the callback.
func (e *CallbackEvent) Handle(_ Event) error {
	if e.fn != nil {
		e.fn()
	}

	return nil
}

// An EventID identifies a scheduled event. The zero value never refers to an
// event.
type EventID struct {
	uid uint64
	ts  vtime.Time
	id  string
}

// UID returns the insertion sequence number of the event.
func (id EventID) UID() uint64 {
	return id.uid
}

// Time returns the time the event was scheduled for, in the resolution that
// was active when the id was handed out.
func (id EventID) Time() vtime.Time {
	return id.ts
}

// IsZero tells if the id does not refer to any event.
func (id EventID) IsZero() bool {
	return id.uid == 0
}

func (id EventID) String() string {
	if id.IsZero() {
		return "event(none)"
	}

	return fmt.Sprintf("event(%d, %s, %s)", id.uid, id.id, id.ts)
}

// A ScheduledEvent is an entry of the event queues. Entries are ordered by
// time first and by insertion sequence second.
//
// The entry keeps its own copy of the event time, which the engine rescales
// when the time resolution changes.
type ScheduledEvent struct {
	Event     Event
	Seq       uint64
	ID        string
	at        vtime.Time
	cancelled bool
}

// NewScheduledEvent creates an entry for evt with the given insertion
// sequence number.
func NewScheduledEvent(evt Event, seq uint64) *ScheduledEvent {
	return &ScheduledEvent{Event: evt, Seq: seq, at: evt.Time()}
}

// Time returns the time the entry is dispatched at.
func (s *ScheduledEvent) Time() vtime.Time {
	return s.at
}

// Cancelled tells if the entry has been cancelled and will not be dispatched.
func (s *ScheduledEvent) Cancelled() bool {
	return s.cancelled
}

// EventID returns the identifier handed out when the entry was scheduled.
func (s *ScheduledEvent) EventID() EventID {
	return EventID{uid: s.Seq, ts: s.Time(), id: s.ID}
}

// Before tells if s must be dispatched before o.
func (s *ScheduledEvent) Before(o *ScheduledEvent) bool {
	t1, t2 := s.Time(), o.Time()
	if t1 != t2 {
		return t1 < t2
	}

	return s.Seq < o.Seq
}
