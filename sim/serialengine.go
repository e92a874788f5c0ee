package sim

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/sarchlab/fedsim/vtime"
	"github.com/sirupsen/logrus"
)

// A SerialEngine is an Engine that always run events one after another.
type SerialEngine struct {
	HookableBase

	timeLock sync.RWMutex
	time     vtime.Time

	queueLock      sync.Mutex
	queue          EventQueue
	secondaryQueue EventQueue
	pending        map[uint64]*ScheduledEvent
	destroyEvents  []*ScheduledEvent
	nextSeq        uint64
	stopped        bool
	dispatched     uint64

	gate        TimeGate
	log         *logrus.Entry
	unsubscribe func()

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex

	singleRunLock sync.Mutex

	simulationEndHandlers []SimulationEndHandler
}

// NewSerialEngine creates a SerialEngine
func NewSerialEngine() *SerialEngine {
	return NewSerialEngineWithQueues(NewEventQueue(), NewEventQueue())
}

// NewSerialEngineWithQueues creates a SerialEngine that keeps its primary and
// secondary events in the given queues.
func NewSerialEngineWithQueues(primary, secondary EventQueue) *SerialEngine {
	e := new(SerialEngine)

	e.queue = primary
	e.secondaryQueue = secondary
	e.pending = make(map[uint64]*ScheduledEvent)
	e.log = logrus.WithField("component", "engine")
	e.unsubscribe = vtime.Default().Subscribe(e)

	return e
}

// SetTimeGate installs a gate that must grant every advance of the clock.
func (e *SerialEngine) SetTimeGate(g TimeGate) {
	e.gate = g
}

// SetLogger replaces the logger of the engine.
func (e *SerialEngine) SetLogger(l *logrus.Entry) {
	e.log = l
}

// Schedule runs fn once delay has elapsed.
func (e *SerialEngine) Schedule(delay vtime.Time, fn func()) (EventID, error) {
	now := e.readNow()

	if delay < 0 {
		return EventID{}, fmt.Errorf("%w: delay %s at %s",
			ErrOutOfOrder, delay, now)
	}

	if delay > vtime.MaxTime-now {
		return EventID{}, fmt.Errorf("%w: delay %s at %s",
			ErrBeyondHorizon, delay, now)
	}

	return e.ScheduleEvent(NewCallbackEvent(now+delay, fn))
}

// ScheduleNow runs fn at the current time, after the events already
// scheduled for now.
func (e *SerialEngine) ScheduleNow(fn func()) (EventID, error) {
	return e.Schedule(0, fn)
}

// ScheduleEvent register an event to be happen in the future
func (e *SerialEngine) ScheduleEvent(evt Event) (EventID, error) {
	now := e.readNow()
	if evt.Time() < now {
		return EventID{}, fmt.Errorf("%w: %s @ %s, now %s",
			ErrOutOfOrder, reflect.TypeOf(evt), evt.Time(), now)
	}

	e.queueLock.Lock()
	defer e.queueLock.Unlock()

	se := e.newEntryLocked(evt)

	if evt.IsSecondary() {
		e.secondaryQueue.Push(se)
	} else {
		e.queue.Push(se)
	}

	return se.EventID(), nil
}

// ScheduleDestroy registers fn to run when the engine is destroyed. Destroy
// callbacks run in the order they were registered.
func (e *SerialEngine) ScheduleDestroy(fn func()) EventID {
	e.queueLock.Lock()
	defer e.queueLock.Unlock()

	se := e.newEntryLocked(NewCallbackEvent(vtime.MaxTime, fn))
	e.destroyEvents = append(e.destroyEvents, se)

	return se.EventID()
}

func (e *SerialEngine) newEntryLocked(evt Event) *ScheduledEvent {
	e.nextSeq++

	se := NewScheduledEvent(evt, e.nextSeq)
	se.ID = GetIDGenerator().Generate()
	e.pending[se.Seq] = se

	return se
}

// Stop schedules the end of the current Run after delay.
func (e *SerialEngine) Stop(delay vtime.Time) (EventID, error) {
	return e.Schedule(delay, func() {
		e.queueLock.Lock()
		e.stopped = true
		e.queueLock.Unlock()

		e.log.WithField("now", e.readNow()).Debug("simulation stopped")
	})
}

// Cancel makes the event inert. The entry is dropped when it reaches the
// front of its queue.
func (e *SerialEngine) Cancel(id EventID) {
	if id.IsZero() {
		return
	}

	e.queueLock.Lock()
	defer e.queueLock.Unlock()

	se, ok := e.pending[id.uid]
	if !ok {
		return
	}

	se.cancelled = true
	delete(e.pending, id.uid)
}

// IsExpired tells if the event has been dispatched or cancelled, or if the
// id does not refer to any event.
func (e *SerialEngine) IsExpired(id EventID) bool {
	if id.IsZero() {
		return true
	}

	e.queueLock.Lock()
	defer e.queueLock.Unlock()

	_, ok := e.pending[id.uid]

	return !ok
}

// DelayLeft returns the time left until the event happens. It returns 0 for
// expired events.
func (e *SerialEngine) DelayLeft(id EventID) vtime.Time {
	if id.IsZero() {
		return 0
	}

	e.queueLock.Lock()
	se, ok := e.pending[id.uid]
	e.queueLock.Unlock()

	if !ok {
		return 0
	}

	return se.Time() - e.readNow()
}

// PrepareRescale converts the clock and the pending events to a new time
// resolution. The engine subscribes itself to the default registry when it
// is created, so changing the resolution keeps the durations of everything
// already scheduled.
func (e *SerialEngine) PrepareRescale(
	convert func(vtime.Time) (vtime.Time, bool),
) (func(), error) {
	e.queueLock.Lock()
	defer e.queueLock.Unlock()

	now := e.readNow()

	newNow, ok := convert(now)
	if !ok {
		return nil, fmt.Errorf("%w: clock at %d ticks",
			ErrBeyondHorizon, int64(now))
	}

	times := make(map[*ScheduledEvent]vtime.Time, len(e.pending))
	for _, se := range e.pending {
		t, ok := convert(se.at)
		if !ok {
			return nil, fmt.Errorf("%w: event %s at %d ticks",
				ErrBeyondHorizon, se.ID, int64(se.at))
		}

		times[se] = t
	}

	commit := func() {
		e.queueLock.Lock()
		defer e.queueLock.Unlock()

		e.writeNow(newNow)

		for se, t := range times {
			se.at = t
		}

		requeue(e.queue)
		requeue(e.secondaryQueue)
	}

	return commit, nil
}

// requeue restores the order of q after its entries changed time. Cancelled
// entries are dropped.
func requeue(q EventQueue) {
	entries := make([]*ScheduledEvent, 0, q.Len())
	for q.Len() > 0 {
		entries = append(entries, q.Pop())
	}

	for _, se := range entries {
		if !se.cancelled {
			q.Push(se)
		}
	}
}

// EventCount returns the number of events dispatched so far.
func (e *SerialEngine) EventCount() uint64 {
	e.queueLock.Lock()
	defer e.queueLock.Unlock()

	return e.dispatched
}

// MaximumSimulationTime returns the latest time an event can be scheduled
// at.
func (e *SerialEngine) MaximumSimulationTime() vtime.Time {
	return vtime.MaxTime
}

func (e *SerialEngine) readNow() vtime.Time {
	e.timeLock.RLock()
	t := e.time
	e.timeLock.RUnlock()

	return t
}

func (e *SerialEngine) writeNow(t vtime.Time) {
	e.timeLock.Lock()
	e.time = t
	e.timeLock.Unlock()
}

// Run processes the scheduled events until no event is left or a stop event
// fires. A handler error aborts the run and is returned.
func (e *SerialEngine) Run() error {
	e.singleRunLock.Lock()
	defer e.singleRunLock.Unlock()

	e.queueLock.Lock()
	e.stopped = false
	e.queueLock.Unlock()

	for {
		e.pauseLock.Lock()
		more, err := e.step()
		e.pauseLock.Unlock()

		if err != nil || !more {
			return err
		}
	}
}

func (e *SerialEngine) step() (bool, error) {
	if e.isStopped() {
		return false, nil
	}

	se := e.nextEvent(false)

	if e.gate != nil {
		now := e.readNow()

		target := vtime.MaxTime
		if se != nil {
			target = se.Time()
		}

		if target > now {
			return e.advanceThroughGate(now, target, se == nil)
		}
	}

	if se == nil {
		return false, nil
	}

	se = e.nextEvent(true)

	return true, e.dispatch(se)
}

// advanceThroughGate asks the gate to move the clock from now toward target.
// The caller re-evaluates the queues afterwards since the gate may have
// scheduled new events. It returns false when there is nothing left to run.
func (e *SerialEngine) advanceThroughGate(
	now, target vtime.Time,
	idle bool,
) (bool, error) {
	granted, err := e.gate.Grant(now, target)
	if err != nil {
		return false, fmt.Errorf("sim: time grant at %s: %w", now, err)
	}

	if granted < now {
		return false, fmt.Errorf("%w: granted %s, now %s",
			ErrOutOfOrder, granted, now)
	}

	if granted > target {
		granted = target
	}

	if idle && granted == vtime.MaxTime {
		return false, nil
	}

	e.writeNow(granted)
	e.gate.Granted(granted)

	return true, nil
}

func (e *SerialEngine) dispatch(se *ScheduledEvent) error {
	now := e.readNow()
	if se.Time() < now {
		e.log.WithFields(logrus.Fields{
			"event": se.ID,
			"time":  se.Time(),
			"now":   now,
		}).Panic("cannot run event in the past")
	}

	e.writeNow(se.Time())

	hookCtx := HookCtx{
		Domain: e,
		Pos:    HookPosBeforeEvent,
		Item:   se.Event,
		Detail: se,
	}
	e.InvokeHook(hookCtx)

	handler := se.Event.Handler()
	err := handler.Handle(se.Event)

	e.queueLock.Lock()
	e.dispatched++
	e.queueLock.Unlock()

	hookCtx.Pos = HookPosAfterEvent
	e.InvokeHook(hookCtx)

	if err != nil {
		return fmt.Errorf("sim: event %s @ %s: %w",
			reflect.TypeOf(se.Event), se.Time(), err)
	}

	return nil
}

func (e *SerialEngine) isStopped() bool {
	e.queueLock.Lock()
	defer e.queueLock.Unlock()

	return e.stopped
}

// nextEvent returns the earliest live event, dropping cancelled entries on
// the way. If remove is set, the event is taken out of its queue.
func (e *SerialEngine) nextEvent(remove bool) *ScheduledEvent {
	e.queueLock.Lock()
	defer e.queueLock.Unlock()

	dropCancelled(e.queue)
	dropCancelled(e.secondaryQueue)

	var q EventQueue

	switch {
	case e.queue.Len() == 0 && e.secondaryQueue.Len() == 0:
		return nil
	case e.queue.Len() == 0:
		q = e.secondaryQueue
	case e.secondaryQueue.Len() == 0:
		q = e.queue
	case e.queue.Peek().Time() <= e.secondaryQueue.Peek().Time():
		q = e.queue
	default:
		q = e.secondaryQueue
	}

	if !remove {
		return q.Peek()
	}

	se := q.Pop()
	delete(e.pending, se.Seq)

	return se
}

func dropCancelled(q EventQueue) {
	for q.Len() > 0 && q.Peek().cancelled {
		q.Pop()
	}
}

// Destroy runs the destroy callbacks and drops every pending event without
// dispatching it. Calling it again has no effect.
func (e *SerialEngine) Destroy() {
	e.queueLock.Lock()
	callbacks := e.destroyEvents
	e.destroyEvents = nil
	e.queueLock.Unlock()

	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}

	for _, se := range callbacks {
		e.queueLock.Lock()
		_, live := e.pending[se.Seq]
		delete(e.pending, se.Seq)
		e.queueLock.Unlock()

		if !live {
			continue
		}

		if err := se.Event.Handler().Handle(se.Event); err != nil {
			e.log.WithError(err).Warn("destroy callback failed")
		}
	}

	e.queueLock.Lock()
	defer e.queueLock.Unlock()

	dropped := 0
	for _, q := range []EventQueue{e.queue, e.secondaryQueue} {
		for q.Len() > 0 {
			se := q.Pop()
			if !se.cancelled {
				se.cancelled = true
				dropped++
			}
		}
	}

	e.pending = make(map[uint64]*ScheduledEvent)

	if dropped > 0 {
		e.log.WithField("dropped", dropped).Debug("engine destroyed")
	}
}

// Pause prevents the SerialEngine to trigger more events.
func (e *SerialEngine) Pause() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if e.isPaused {
		return
	}

	e.pauseLock.Lock()
	e.isPaused = true
}

// Continue allows the SerialEngine to trigger more events.
func (e *SerialEngine) Continue() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if !e.isPaused {
		return
	}

	e.pauseLock.Unlock()
	e.isPaused = false
}

// IsPaused tells if the engine is paused.
func (e *SerialEngine) IsPaused() bool {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	return e.isPaused
}

// Now returns the current time at which the engine is at. Specifically, the
// run time of the current event.
func (e *SerialEngine) Now() vtime.Time {
	return e.readNow()
}

// CurrentTime is an alias of Now.
func (e *SerialEngine) CurrentTime() vtime.Time {
	return e.readNow()
}

// RegisterSimulationEndHandler invokes all the registered simulation end
// handler.
func (e *SerialEngine) RegisterSimulationEndHandler(
	handler SimulationEndHandler,
) {
	e.simulationEndHandlers = append(e.simulationEndHandlers, handler)
}

// Finished should be called after the simulation ends. This function
// calls all the registered SimulationEndHandler.
func (e *SerialEngine) Finished() {
	now := e.readNow()
	for _, h := range e.simulationEndHandlers {
		h.Handle(now)
	}
}
