// Package tracing collects records of what happens during a simulation by
// hooking into the engine, the network and the endpoints.
package tracing

import (
	"github.com/sarchlab/fedsim/vtime"
)

// An EventRecord describes a dispatched event.
type EventRecord struct {
	ID        string
	Time      vtime.Time
	Kind      string
	Handler   string
	Secondary bool
}

// What a payload record describes.
const (
	PayloadTx      = "tx"
	PayloadRx      = "rx"
	PayloadDeliver = "deliver"
	PayloadDrop    = "drop"
)

// A PayloadRecord describes a payload seen by an endpoint or the network.
type PayloadRecord struct {
	Time  vtime.Time
	Where string
	What  string
	Topic string
	Value string
	Bytes int
	From  string
	To    string
}

// A Tracer can collect records.
type Tracer interface {
	TraceEvent(r EventRecord)
	TracePayload(r PayloadRecord)
}
