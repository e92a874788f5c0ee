package tracing

import (
	"reflect"

	"github.com/sarchlab/fedsim/federate"
	"github.com/sarchlab/fedsim/sim"
	"github.com/sarchlab/fedsim/transport"
)

// CollectTrace lets the tracer collect records from a domain. The domain can
// be an engine, a network or an endpoint. Records are stamped with the time
// told by timeTeller.
func CollectTrace(
	domain sim.Hookable,
	timeTeller sim.TimeTeller,
	tracer Tracer,
) {
	domain.AcceptHook(&traceHook{t: tracer, timeTeller: timeTeller})
}

// A traceHook turns hook invocations into records.
type traceHook struct {
	t          Tracer
	timeTeller sim.TimeTeller
}

// Func calls the tracer when the hook is triggered
func (h *traceHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case sim.HookPosBeforeEvent:
		h.traceEvent(ctx)
	case federate.HookPosTx:
		h.traceEndpoint(ctx, PayloadTx)
	case federate.HookPosRx:
		h.traceEndpoint(ctx, PayloadRx)
	case transport.HookPosDeliver:
		h.traceDatagram(ctx, PayloadDeliver)
	case transport.HookPosDrop:
		h.traceDatagram(ctx, PayloadDrop)
	}
}

func (h *traceHook) traceEvent(ctx sim.HookCtx) {
	evt := ctx.Item.(sim.Event)

	r := EventRecord{
		Time:      evt.Time(),
		Kind:      typeName(evt),
		Handler:   typeName(evt.Handler()),
		Secondary: evt.IsSecondary(),
	}

	if se, ok := ctx.Detail.(*sim.ScheduledEvent); ok {
		r.ID = se.ID
		r.Time = se.Time()
	}

	if named, ok := evt.Handler().(sim.Named); ok {
		r.Handler = named.Name()
	}

	h.t.TraceEvent(r)
}

func (h *traceHook) traceEndpoint(ctx sim.HookCtx, what string) {
	p := ctx.Detail.(federate.Payload)

	h.t.TracePayload(PayloadRecord{
		Time:  h.timeTeller.Now(),
		Where: domainName(ctx.Domain),
		What:  what,
		Topic: p.Topic,
		Value: p.Value,
		Bytes: len(ctx.Item.([]byte)),
	})
}

func (h *traceHook) traceDatagram(ctx sim.HookCtx, what string) {
	d := ctx.Item.(transport.Datagram)

	r := PayloadRecord{
		Time:  h.timeTeller.Now(),
		Where: domainName(ctx.Domain),
		What:  what,
		Bytes: len(d.Payload),
		From:  d.From.String(),
		To:    d.To.String(),
	}

	if p, err := federate.DecodePayload(d.Payload); err == nil {
		r.Topic = p.Topic
		r.Value = p.Value
	}

	h.t.TracePayload(r)
}

func domainName(domain sim.Hookable) string {
	if named, ok := domain.(sim.Named); ok {
		return named.Name()
	}

	return typeName(domain)
}

func typeName(v any) string {
	if v == nil {
		return ""
	}

	return reflect.TypeOf(v).String()
}
