package tracing

import (
	"context"

	"github.com/sarchlab/fedsim/datarecording"
)

// A TraceReader reads back the tables written by a DBTracer.
type TraceReader struct {
	*datarecording.Reader
}

// OpenTrace opens a recording file written by a DBTracer.
func OpenTrace(filename string) (*TraceReader, error) {
	r, err := datarecording.OpenReader(filename)
	if err != nil {
		return nil, err
	}

	return NewTraceReader(r), nil
}

// NewTraceReader maps the trace tables of r to EventEntry and PayloadEntry.
func NewTraceReader(r *datarecording.Reader) *TraceReader {
	r.MapTable(EventTable, EventEntry{})
	r.MapTable(PayloadTable, PayloadEntry{})

	return &TraceReader{Reader: r}
}

// Events returns a page of the dispatched events and the number of events
// passing the filters.
func (t *TraceReader) Events(
	ctx context.Context,
	page datarecording.Page,
) ([]EventEntry, int, error) {
	rows, err := t.Read(ctx, EventTable, page)
	if err != nil {
		return nil, 0, err
	}

	events := make([]EventEntry, 0, len(rows.Entries))
	for _, e := range rows.Entries {
		events = append(events, *e.(*EventEntry))
	}

	return events, rows.Total, nil
}

// Payloads returns a page of the payload records and the number of records
// passing the filters.
func (t *TraceReader) Payloads(
	ctx context.Context,
	page datarecording.Page,
) ([]PayloadEntry, int, error) {
	rows, err := t.Read(ctx, PayloadTable, page)
	if err != nil {
		return nil, 0, err
	}

	payloads := make([]PayloadEntry, 0, len(rows.Entries))
	for _, e := range rows.Entries {
		payloads = append(payloads, *e.(*PayloadEntry))
	}

	return payloads, rows.Total, nil
}

// A Summary counts what a trace holds.
type Summary struct {
	Events int
	// Payloads counts the payload records by what they describe, such as
	// PayloadTx.
	Payloads map[string]int
	// LastSeconds is the time of the last dispatched event.
	LastSeconds float64
}

// Summarize counts the records of the trace.
func (t *TraceReader) Summarize(ctx context.Context) (Summary, error) {
	s := Summary{Payloads: make(map[string]int)}

	last, total, err := t.Events(ctx, datarecording.Page{
		OrderBy: "Ticks DESC",
		Limit:   1,
	})
	if err != nil {
		return Summary{}, err
	}

	s.Events = total
	if len(last) > 0 {
		s.LastSeconds = last[0].Seconds
	}

	for _, what := range []string{
		PayloadTx, PayloadRx, PayloadDeliver, PayloadDrop,
	} {
		_, n, err := t.Payloads(ctx, datarecording.Page{
			Match: map[string]any{"What": what},
			Limit: 1,
		})
		if err != nil {
			return Summary{}, err
		}

		s.Payloads[what] = n
	}

	return s, nil
}
