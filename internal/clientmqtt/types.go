package clientmqtt

import (
	"errors"
	"time"
)

// Domain-specific errors for broker operations. Use errors.Is to check them.
var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrInvalidQoS       = errors.New("mqtt: invalid QoS level (must be 0, 1 or 2)")
	ErrInvalidTopic     = errors.New("mqtt: topic cannot be empty")
	ErrClosed           = errors.New("mqtt: client closed")
)

type MQTTConf struct {
	ClientID       string        // ClientID - unique client name on the broker.
	Host           string        // Host - broker address.
	Port           int           // Port - broker port.
	User           string        // User - broker login.
	Password       string        // Password - broker password; gates credentials in the URL.
	ConnectTimeout time.Duration // ConnectTimeout - budget for the initial connect.
	EventBuffer    int           // EventBuffer - inbound events buffered before the handler blocks.
	Will           *Will         // Will - optional last will.
}

// Will is the message the broker publishes if the client vanishes.
type Will struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

// EventKind classifies an inbound Event.
type EventKind int

const (
	EventMessage EventKind = iota
	EventConnected
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one thing the transport delivered. Topic is empty when absent.
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte
	Err     error
}
