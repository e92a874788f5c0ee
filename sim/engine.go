// Package sim provides the discrete event engine that advances virtual time.
//
// Events are ordered by their virtual time and, for events that share a time,
// by the order in which they were scheduled. Runs are deterministic: the same
// sequence of Schedule and Cancel calls always dispatches the same events in
// the same order.
package sim

import (
	"errors"

	"github.com/sarchlab/fedsim/vtime"
)

var (
	// ErrOutOfOrder is returned when an event would happen before the
	// current time.
	ErrOutOfOrder = errors.New("sim: event scheduled in the past")

	// ErrBeyondHorizon is returned when an event time cannot be represented
	// at the active resolution.
	ErrBeyondHorizon = errors.New("sim: event scheduled beyond the time horizon")
)

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	Now() vtime.Time
}

// EventScheduler can be used to schedule future events.
type EventScheduler interface {
	// Schedule runs fn after delay. A negative delay is rejected with
	// ErrOutOfOrder.
	Schedule(delay vtime.Time, fn func()) (EventID, error)

	// ScheduleEvent registers an event at its absolute time.
	ScheduleEvent(evt Event) (EventID, error)

	// Cancel makes a scheduled event inert. Unknown, dispatched and already
	// cancelled ids are ignored.
	Cancel(id EventID)
}

// A SimulationEndHandler is a handler that is called after the simulation ends.
type SimulationEndHandler interface {
	Handle(now vtime.Time)
}

// A TimeGate decides how far the engine may advance its clock. Federated
// engines use it to wait for their peers.
type TimeGate interface {
	// Grant is called before the clock moves from now toward next, the time
	// of the earliest pending event, or vtime.MaxTime if none is pending. It
	// returns the time the engine is allowed to reach.
	Grant(now, next vtime.Time) (vtime.Time, error)

	// Granted is called once the clock has moved to a granted time. It may
	// schedule new events.
	Granted(now vtime.Time)
}

// An Engine is a unit that keeps the discrete event simulation run.
type Engine interface {
	Hookable
	TimeTeller
	EventScheduler

	// Stop ends Run once delay has elapsed. Events of later times stay
	// pending.
	Stop(delay vtime.Time) (EventID, error)

	// Run will process all the events until the simulation finishes
	Run() error

	// Destroy drops all pending events without dispatching them.
	Destroy()

	// Pause will pause the simulation until continue is called.
	Pause()

	// Continue will continue the paused simulation
	Continue()

	// RegisterSimulationEndHandler registers a handler that perform some
	// actions after the simulation is finished.
	RegisterSimulationEndHandler(handler SimulationEndHandler)

	// Finished invokes all the registered SimulationEndHandler
	Finished()
}
