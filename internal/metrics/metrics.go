// Package metrics exposes bridge counters for Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mqtt2serial"

// Reasons an inbound event produced no command.
const (
	ReasonLifecycle = "lifecycle"
	ReasonTopic     = "topic"
)

type Metrics struct {
	commandsRouted *prometheus.CounterVec
	eventsIgnored  *prometheus.CounterVec
	serialWrites   *prometheus.CounterVec
	serialErrors   prometheus.Counter
	acksPublished  *prometheus.CounterVec
	ackErrors      prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commandsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_routed_total",
			Help:      "Commands enqueued for the serial worker.",
		}, []string{"command"}),
		eventsIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ignored_total",
			Help:      "Broker events that did not map to a command.",
		}, []string{"reason"}),
		serialWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_writes_total",
			Help:      "Commands written to the serial link.",
		}, []string{"command"}),
		serialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_write_errors_total",
			Help:      "Failed serial writes.",
		}),
		acksPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_published_total",
			Help:      "Acknowledgements published after a serial write.",
		}, []string{"command"}),
		ackErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ack_publish_errors_total",
			Help:      "Failed acknowledgement publishes.",
		}),
	}
	reg.MustRegister(m.commandsRouted, m.eventsIgnored, m.serialWrites, m.serialErrors, m.acksPublished, m.ackErrors)
	return m
}

func (m *Metrics) CommandRouted(cmd string) {
	if m == nil {
		return
	}
	m.commandsRouted.WithLabelValues(cmd).Inc()
}

func (m *Metrics) EventIgnored(reason string) {
	if m == nil {
		return
	}
	m.eventsIgnored.WithLabelValues(reason).Inc()
}

func (m *Metrics) SerialWrite(cmd string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.serialErrors.Inc()
		return
	}
	m.serialWrites.WithLabelValues(cmd).Inc()
}

func (m *Metrics) AckPublished(cmd string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ackErrors.Inc()
		return
	}
	m.acksPublished.WithLabelValues(cmd).Inc()
}
