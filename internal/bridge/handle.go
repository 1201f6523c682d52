package bridge

import (
	"fmt"
	"sync"
)

// Broker is the broker client as seen by the bridge.
type Broker interface {
	Subscribe(topic string, qos byte) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Handle serializes all broker operations behind one mutex. It is shared by
// the orchestrator and the relay worker.
type Handle struct {
	mu     sync.Mutex
	broker Broker
}

func NewHandle(broker Broker) *Handle {
	return &Handle{broker: broker}
}

func (h *Handle) Publish(topic string, qos byte, retained bool, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broker.Publish(topic, qos, retained, payload)
}

// Announce subscribes to the control topic and then publishes the retained
// availability payload, as one step under the lock.
func (h *Handle) Announce(a Announcement) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.broker.Subscribe(a.ControlTopic, a.QoS); err != nil {
		return fmt.Errorf("subscribe %s: %w", a.ControlTopic, err)
	}
	if err := h.broker.Publish(a.AvailabilityTopic, a.QoS, true, []byte(a.Online)); err != nil {
		return fmt.Errorf("publish %s: %w", a.AvailabilityTopic, err)
	}
	return nil
}

// Announcement is what the bridge tells the broker on (re)connect.
type Announcement struct {
	ControlTopic      string
	AvailabilityTopic string
	Online            string
	QoS               byte
}
