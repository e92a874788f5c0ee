package sim

import (
	"container/heap"
	"container/list"
	"sync"
)

// EventQueue are a queue of scheduled events ordered by time and insertion
// sequence.
type EventQueue interface {
	Push(evt *ScheduledEvent)
	Pop() *ScheduledEvent
	Len() int
	Peek() *ScheduledEvent
}

// EventQueueImpl provides a thread safe event queue
type EventQueueImpl struct {
	sync.Mutex
	events eventHeap
}

// NewEventQueue creates and returns a newly created EventQueue
func NewEventQueue() *EventQueueImpl {
	q := new(EventQueueImpl)
	q.events = make([]*ScheduledEvent, 0)
	heap.Init(&q.events)

	return q
}

// Push adds an event to the event queue
func (q *EventQueueImpl) Push(evt *ScheduledEvent) {
	q.Lock()
	heap.Push(&q.events, evt)
	q.Unlock()
}

// Pop returns the next earliest event
func (q *EventQueueImpl) Pop() *ScheduledEvent {
	q.Lock()
	e := heap.Pop(&q.events).(*ScheduledEvent)
	q.Unlock()

	return e
}

// Len returns the number of event in the queue
func (q *EventQueueImpl) Len() int {
	q.Lock()
	l := q.events.Len()
	q.Unlock()

	return l
}

// Peek returns the event in front of the queue without removing it from the
// queue
func (q *EventQueueImpl) Peek() *ScheduledEvent {
	q.Lock()
	evt := q.events[0]
	q.Unlock()

	return evt
}

type eventHeap []*ScheduledEvent

// Len returns the length of the event queue
func (h eventHeap) Len() int {
	return len(h)
}

// Less determines the order between two events. Equal-time events keep the
// order in which they were scheduled.
func (h eventHeap) Less(i, j int) bool {
	return h[i].Before(h[j])
}

// Swap changes the position of two events in the event queue
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

// Push adds an event into the event queue
func (h *eventHeap) Push(x interface{}) {
	event := x.(*ScheduledEvent)
	*h = append(*h, event)
}

// Pop removes and returns the next event to happen
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	event := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]

	return event
}

// InsertionQueue is a queue that is based on insertion sort
type InsertionQueue struct {
	lock sync.RWMutex
	l    *list.List
}

// NewInsertionQueue returns a new InsertionQueue
func NewInsertionQueue() *InsertionQueue {
	q := new(InsertionQueue)
	q.l = list.New()

	return q
}

// Push add an event to the event queue
func (q *InsertionQueue) Push(evt *ScheduledEvent) {
	q.lock.Lock()
	defer q.lock.Unlock()

	// Scan from the back, most new events land close to the tail.
	for ele := q.l.Back(); ele != nil; ele = ele.Prev() {
		if !evt.Before(ele.Value.(*ScheduledEvent)) {
			q.l.InsertAfter(evt, ele)
			return
		}
	}

	q.l.PushFront(evt)
}

// Pop returns the event with the smallest time, and removes it from the queue
func (q *InsertionQueue) Pop() *ScheduledEvent {
	q.lock.Lock()
	evt := q.l.Remove(q.l.Front())
	q.lock.Unlock()

	return evt.(*ScheduledEvent)
}

// Len return the number of events in the queue
func (q *InsertionQueue) Len() int {
	q.lock.RLock()
	l := q.l.Len()
	q.lock.RUnlock()

	return l
}

// Peek returns the event at the front of the queue without removing it from
// the queue.
func (q *InsertionQueue) Peek() *ScheduledEvent {
	q.lock.RLock()
	evt := q.l.Front().Value.(*ScheduledEvent)
	q.lock.RUnlock()

	return evt
}
