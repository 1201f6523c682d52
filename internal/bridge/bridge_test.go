package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqtt2serial/internal/clientmqtt"
	"mqtt2serial/internal/logger"
	"mqtt2serial/internal/metrics"
	"mqtt2serial/internal/projector"
)

const (
	controlTopic      = "bedroom/projector/switch/set"
	availabilityTopic = "bedroom/projector/available"
	ackTopic          = "bedroom/projector/switch"
)

var errSourceClosed = errors.New("source closed")

// timeline records broker and serial activity in the order it happened.
type timeline struct {
	mu      sync.Mutex
	entries []string
}

func (tl *timeline) add(format string, args ...interface{}) {
	tl.mu.Lock()
	tl.entries = append(tl.entries, fmt.Sprintf(format, args...))
	tl.mu.Unlock()
}

func (tl *timeline) Entries() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.entries...)
}

// fakeBroker implements Broker and router.EventSource.
type fakeBroker struct {
	tl           *timeline
	events       chan clientmqtt.Event
	subscribeErr error
}

func newFakeBroker(tl *timeline) *fakeBroker {
	return &fakeBroker{tl: tl, events: make(chan clientmqtt.Event, 16)}
}

func (b *fakeBroker) Subscribe(topic string, qos byte) error {
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.tl.add("subscribe %s qos=%d", topic, qos)
	return nil
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	b.tl.add("publish %s qos=%d retained=%t %s", topic, qos, retained, payload)
	return nil
}

func (b *fakeBroker) NextEvent(ctx context.Context) (clientmqtt.Event, error) {
	select {
	case ev, ok := <-b.events:
		if !ok {
			return clientmqtt.Event{}, errSourceClosed
		}
		return ev, nil
	case <-ctx.Done():
		return clientmqtt.Event{}, ctx.Err()
	}
}

func (b *fakeBroker) deliver(topic, payload string) {
	b.events <- clientmqtt.Event{Kind: clientmqtt.EventMessage, Topic: topic, Payload: []byte(payload)}
}

// serialPort records writes on the timeline.
type serialPort struct {
	tl *timeline
}

func (p serialPort) Write(b []byte) (int, error) {
	p.tl.add("serial %q", b)
	return len(b), nil
}

func newTestBridge(tl *timeline, broker *fakeBroker, m *metrics.Metrics) *Bridge {
	return New(logger.Discard(), Config{
		ControlTopic:      controlTopic,
		AvailabilityTopic: availabilityTopic,
		AckTopic:          ackTopic,
		QoS:               1,
		QueueSize:         4,
	}, NewHandle(broker), broker, projector.NewWriter(logger.Discard(), serialPort{tl}, "\n"), m)
}

func TestBridgeAnnouncesBeforeProcessingCommands(t *testing.T) {
	tl := &timeline{}
	broker := newFakeBroker(tl)
	// already waiting in the transport when the bridge starts
	broker.deliver(controlTopic, "ON")
	close(broker.events)

	err := newTestBridge(tl, broker, nil).Run(context.Background())

	require.ErrorIs(t, err, errSourceClosed)
	assert.Equal(t, []string{
		"subscribe bedroom/projector/switch/set qos=1",
		"publish bedroom/projector/available qos=1 retained=true online",
		`serial "ON\n"`,
		"publish bedroom/projector/switch qos=1 retained=false ON",
	}, tl.Entries())
}

func TestBridgeRoutesCommandsInOrder(t *testing.T) {
	tl := &timeline{}
	broker := newFakeBroker(tl)
	reg := prometheus.NewRegistry()

	broker.deliver(controlTopic, "ON")
	broker.deliver(controlTopic, "OFF")
	broker.deliver(controlTopic, "ON")
	broker.deliver(controlTopic, "ON")
	close(broker.events)

	err := newTestBridge(tl, broker, metrics.New(reg)).Run(context.Background())
	require.ErrorIs(t, err, errSourceClosed)

	var serial, acks []string
	for _, e := range tl.Entries()[2:] {
		if strings.HasPrefix(e, "serial") {
			serial = append(serial, e)
		} else {
			acks = append(acks, e)
		}
	}
	assert.Equal(t, []string{`serial "ON\n"`, `serial "OFF\n"`, `serial "ON\n"`, `serial "ON\n"`}, serial)
	assert.Equal(t, []string{
		"publish bedroom/projector/switch qos=1 retained=false ON",
		"publish bedroom/projector/switch qos=1 retained=false OFF",
		"publish bedroom/projector/switch qos=1 retained=false ON",
		"publish bedroom/projector/switch qos=1 retained=false ON",
	}, acks)

	// one series per command label
	n, err := testutil.GatherAndCount(reg, "mqtt2serial_serial_writes_total", "mqtt2serial_acks_published_total")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestBridgeIgnoresUnrelatedTopic(t *testing.T) {
	tl := &timeline{}
	broker := newFakeBroker(tl)
	broker.deliver("unrelated/topic", "ON")
	broker.events <- clientmqtt.Event{Kind: clientmqtt.EventDisconnected, Err: errors.New("eof")}
	close(broker.events)

	err := newTestBridge(tl, broker, nil).Run(context.Background())

	require.ErrorIs(t, err, errSourceClosed)
	for _, e := range tl.Entries() {
		assert.NotContains(t, e, "serial")
	}
	assert.Len(t, tl.Entries(), 2)
}

func TestBridgeAnnounceFailure(t *testing.T) {
	tl := &timeline{}
	broker := newFakeBroker(tl)
	broker.subscribeErr = clientmqtt.ErrSubscribeFailed
	broker.deliver(controlTopic, "ON")

	err := newTestBridge(tl, broker, nil).Run(context.Background())

	require.ErrorIs(t, err, clientmqtt.ErrSubscribeFailed)
	assert.Empty(t, tl.Entries(), "nothing may be written or published after a failed startup")
}

func TestBridgeStopsOnCancel(t *testing.T) {
	tl := &timeline{}
	broker := newFakeBroker(tl)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() { errCh <- newTestBridge(tl, broker, nil).Run(ctx) }()

	broker.deliver(controlTopic, "OFF")
	require.Eventually(t, func() bool { return len(tl.Entries()) == 4 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop")
	}
}

type exclusiveBroker struct {
	inflight atomic.Int32
	overlap  atomic.Bool
}

func (b *exclusiveBroker) enter() {
	if b.inflight.Add(1) > 1 {
		b.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)
	b.inflight.Add(-1)
}

func (b *exclusiveBroker) Subscribe(string, byte) error { b.enter(); return nil }

func (b *exclusiveBroker) Publish(string, byte, bool, []byte) error { b.enter(); return nil }

func TestHandleSerializesBrokerAccess(t *testing.T) {
	broker := &exclusiveBroker{}
	h := NewHandle(broker)
	a := Announcement{ControlTopic: controlTopic, AvailabilityTopic: availabilityTopic, Online: PayloadOnline, QoS: 1}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Publish(ackTopic, 1, false, []byte("ON")))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Announce(a))
		}()
	}
	wg.Wait()

	assert.False(t, broker.overlap.Load(), "two broker operations ran at the same time")
}
