package tracing

import (
	"sync"

	"github.com/sarchlab/fedsim/datarecording"
	"github.com/sarchlab/fedsim/vtime"
	"github.com/tebeka/atexit"
)

// Tables written by the DBTracer.
const (
	EventTable   = "events"
	PayloadTable = "payloads"
)

// EventEntry is a row of the events table. Ticks counts resolution steps.
type EventEntry struct {
	ID        string
	Ticks     int64
	Seconds   float64
	Kind      string
	Handler   string
	Secondary bool
}

// PayloadEntry is a row of the payloads table.
type PayloadEntry struct {
	Ticks   int64
	Seconds float64
	Where   string
	What    string
	Topic   string
	Value   string
	Bytes   int
	From    string
	To      string
}

// DBTracer is a tracer that stores records into a data recorder.
type DBTracer struct {
	mu      sync.Mutex
	backend datarecording.DataRecorder

	startTime, endTime vtime.Time
	terminated         bool
}

// NewDBTracer creates a new DBTracer. It creates its tables in the recorder.
func NewDBTracer(dataRecorder datarecording.DataRecorder) *DBTracer {
	dataRecorder.CreateTable(EventTable, EventEntry{})
	dataRecorder.CreateTable(PayloadTable, PayloadEntry{})

	t := &DBTracer{
		backend:   dataRecorder,
		startTime: vtime.MinTime,
		endTime:   vtime.MaxTime,
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// SetTimeRange limits the records kept to those within [startTime, endTime].
func (t *DBTracer) SetTimeRange(startTime, endTime vtime.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startTime = startTime
	t.endTime = endTime
}

func (t *DBTracer) inRangeLocked(at vtime.Time) bool {
	return !t.terminated && at >= t.startTime && at <= t.endTime
}

// TraceEvent stores an event record.
func (t *DBTracer) TraceEvent(r EventRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inRangeLocked(r.Time) {
		return
	}

	t.backend.InsertData(EventTable, EventEntry{
		ID:        r.ID,
		Ticks:     r.Time.TimeStep(),
		Seconds:   r.Time.GetSeconds(),
		Kind:      r.Kind,
		Handler:   r.Handler,
		Secondary: r.Secondary,
	})
}

// TracePayload stores a payload record.
func (t *DBTracer) TracePayload(r PayloadRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inRangeLocked(r.Time) {
		return
	}

	t.backend.InsertData(PayloadTable, PayloadEntry{
		Ticks:   r.Time.TimeStep(),
		Seconds: r.Time.GetSeconds(),
		Where:   r.Where,
		What:    r.What,
		Topic:   r.Topic,
		Value:   r.Value,
		Bytes:   r.Bytes,
		From:    r.From,
		To:      r.To,
	})
}

// Terminate flushes the recorder. Records arriving afterwards are ignored.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return
	}

	t.terminated = true
	t.backend.Flush()
}
