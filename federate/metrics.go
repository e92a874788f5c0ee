package federate

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts the traffic of the endpoints.
type Metrics struct {
	gatherer prometheus.Gatherer

	PayloadsSent     *prometheus.CounterVec
	PayloadsReceived *prometheus.CounterVec
	Publications     *prometheus.CounterVec
	PublishFailures  *prometheus.CounterVec
}

// NewMetrics registers the endpoint metrics against reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{gatherer: gatherer}

	specs := []struct {
		dst  **prometheus.CounterVec
		name string
		help string
	}{
		{&m.PayloadsSent, "fedsim_payloads_sent_total",
			"Payloads sent by an endpoint, including undeliverable ones."},
		{&m.PayloadsReceived, "fedsim_payloads_received_total",
			"Payloads drained from the socket of an endpoint."},
		{&m.Publications, "fedsim_publications_total",
			"Values republished into the co-simulation fabric."},
		{&m.PublishFailures, "fedsim_publish_failures_total",
			"Values the co-simulation fabric refused."},
	}

	for _, s := range specs {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: s.name,
			Help: s.help,
		}, []string{"endpoint"})

		vec, err := registerCounterVec(reg, vec, s.name)
		if err != nil {
			return nil, err
		}

		*s.dst = vec
	}

	return m, nil
}

// Gatherer returns the gatherer the metrics are exposed through.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}

	return m.gatherer
}

func (m *Metrics) incSent(endpoint string) {
	if m == nil {
		return
	}

	m.PayloadsSent.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) incReceived(endpoint string) {
	if m == nil {
		return
	}

	m.PayloadsReceived.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) incPublished(endpoint string, err error) {
	if m == nil {
		return
	}

	if err != nil {
		m.PublishFailures.WithLabelValues(endpoint).Inc()
		return
	}

	m.Publications.WithLabelValues(endpoint).Inc()
}

func registerCounterVec(
	reg prometheus.Registerer,
	vec *prometheus.CounterVec,
	name string,
) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}

			return nil, fmt.Errorf(
				"collector %s already registered with incompatible type", name)
		}

		return nil, err
	}

	return vec, nil
}
