package clientmqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"mqtt2serial/internal/logger"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultOperationTimeout  = 5 * time.Second
	defaultDisconnectQuiesce = 500 // milliseconds
	defaultEventBuffer       = 64
	maxQoS                   = 2
)

// ClientMQTT wraps the paho client. Inbound traffic is exposed as a blocking
// NextEvent call instead of callbacks.
type ClientMQTT struct {
	log       logger.Logger
	cfgClient MQTTConf
	client    mqtt.Client
	opts      *mqtt.ClientOptions

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	connects    atomic.Int32
	onReconnect atomic.Pointer[func()]
}

// NewClient конструктор.
func NewClient(log logger.Logger, cfgClient MQTTConf) *ClientMQTT {
	size := cfgClient.EventBuffer
	if size < 1 {
		size = defaultEventBuffer
	}
	return &ClientMQTT{
		log:       log,
		cfgClient: cfgClient,
		events:    make(chan Event, size),
		closed:    make(chan struct{}),
	}
}

// Start connects to the broker. The initial connect is not retried; once
// connected, paho reconnects on its own.
func (c *ClientMQTT) Start(ctx context.Context) error {
	if c.log.GetLevel() == logrus.DebugLevel.String() {
		mqtt.DEBUG = pahoLogger{c.log.With(logger.Fields{"module": "paho"}).Entry, logrus.DebugLevel}
	}
	mqtt.ERROR = pahoLogger{c.log.With(logger.Fields{"module": "paho"}).Entry, logrus.ErrorLevel}
	mqtt.CRITICAL = pahoLogger{c.log.With(logger.Fields{"module": "paho"}).Entry, logrus.ErrorLevel}
	mqtt.WARN = pahoLogger{c.log.With(logger.Fields{"module": "paho"}).Entry, logrus.WarnLevel}

	timeout := c.cfgClient.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	c.log.With(logger.Fields{"module": "mqtt"}).Infof("Connecting to %s",
		RedactedURL(c.cfgClient.Host, c.cfgClient.Port, c.cfgClient.User, c.cfgClient.Password))

	c.opts = mqtt.NewClientOptions().
		AddBroker(BrokerURL(c.cfgClient.Host, c.cfgClient.Port, c.cfgClient.User, c.cfgClient.Password)).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetOrderMatters(true).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(timeout).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(30 * time.Second)

	if w := c.cfgClient.Will; w != nil {
		c.opts.SetWill(w.Topic, w.Payload, w.QoS, w.Retained)
	}

	c.client = mqtt.NewClient(c.opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, token.Error())
		}
	case <-time.After(timeout):
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}

	c.log.With(logger.Fields{"module": "mqtt"}).Infof("Status: %v", c.client.IsConnected())
	return nil
}

// Stop disconnects and unblocks NextEvent.
func (c *ClientMQTT) Stop() error {
	c.closeOnce.Do(func() { close(c.closed) })
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(defaultDisconnectQuiesce)
	}
	return nil
}

// NextEvent blocks until the transport delivers an event. It fails with
// ErrClosed after Stop and with ctx.Err() on cancellation.
func (c *ClientMQTT) NextEvent(ctx context.Context) (Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.closed:
		return Event{}, ErrClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// SetOnReconnect registers fn to run after every connect except the first.
func (c *ClientMQTT) SetOnReconnect(fn func()) {
	c.onReconnect.Store(&fn)
}

// IsConnected reports the paho connection state.
func (c *ClientMQTT) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// HealthCheck returns nil while connected.
func (c *ClientMQTT) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Subscribe subscribes topic; messages go through the default handler into NextEvent.
func (c *ClientMQTT) Subscribe(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, qos, nil)
	if !token.WaitTimeout(defaultOperationTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, topic, defaultOperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	c.log.With(logger.Fields{"module": "mqtt"}).Debugf("topic %s subscribed", topic)
	return nil
}

// Publish sends payload and waits for the broker acknowledgement (QoS > 0).
func (c *ClientMQTT) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultOperationTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, defaultOperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.With(logger.Fields{"module": "mqtt"}).Info("client connected to server")
	c.pushLifecycle(Event{Kind: EventConnected})

	if c.connects.Add(1) == 1 {
		return
	}
	if fn := c.onReconnect.Load(); fn != nil && *fn != nil {
		(*fn)()
	}
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.With(logger.Fields{"module": "mqtt"}).Errorf("server connect lost: %v", err)
	c.pushLifecycle(Event{Kind: EventDisconnected, Err: err})
}

// messageHandler runs on paho's router goroutine. With OrderMatters set it is
// called in arrival order, and blocking here applies back-pressure instead of
// dropping messages.
func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.log.With(logger.Fields{"module": "mqtt"}).Debugf("received message: %q from topic: %s", msg.Payload(), msg.Topic())

	payload := append([]byte(nil), msg.Payload()...)
	select {
	case c.events <- Event{Kind: EventMessage, Topic: msg.Topic(), Payload: payload}:
	case <-c.closed:
	}
}

// pushLifecycle never blocks; lifecycle events carry no command and may be dropped.
func (c *ClientMQTT) pushLifecycle(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.With(logger.Fields{"module": "mqtt"}).Debugf("event buffer full, %s event dropped", ev.Kind)
	}
}

// pahoLogger routes paho's internal logging into logrus.
type pahoLogger struct {
	entry *logrus.Entry
	level logrus.Level
}

func (l pahoLogger) Println(v ...interface{}) {
	l.entry.Logln(l.level, v...)
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	l.entry.Logf(l.level, format, v...)
}
