package tracing

import (
	"github.com/sirupsen/logrus"
)

// LogTracer writes records to a logger at debug level.
type LogTracer struct {
	log *logrus.Entry
}

// NewLogTracer creates a LogTracer. A nil logger uses the standard logger.
func NewLogTracer(logger *logrus.Entry) *LogTracer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &LogTracer{log: logger}
}

// TraceEvent logs a dispatched event.
func (t *LogTracer) TraceEvent(r EventRecord) {
	t.log.WithFields(logrus.Fields{
		"now":     r.Time,
		"id":      r.ID,
		"kind":    r.Kind,
		"handler": r.Handler,
	}).Debug("event")
}

// TracePayload logs a payload.
func (t *LogTracer) TracePayload(r PayloadRecord) {
	fields := logrus.Fields{
		"now":   r.Time,
		"where": r.Where,
		"topic": r.Topic,
		"bytes": r.Bytes,
	}

	if r.From != "" {
		fields["from"] = r.From
		fields["to"] = r.To
	}

	t.log.WithFields(fields).Debug(r.What)
}
