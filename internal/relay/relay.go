// Package relay decouples blocking serial writes from the broker event loop.
//
// A Relay owns a bounded FIFO of commands and a single consumer (Run) that
// writes each command to the device and then acknowledges it on the broker.
// The acknowledgement only says the write was attempted; nothing is read back.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mqtt2serial/internal/command"
	"mqtt2serial/internal/logger"
	"mqtt2serial/internal/metrics"
)

// ErrClosed is returned by Enqueue once the relay is closed.
var ErrClosed = errors.New("relay: closed")

// CommandWriter performs the blocking device write.
type CommandWriter interface {
	Send(cmd command.Command) error
}

// Publisher publishes to the broker.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type Relay struct {
	log       logger.Logger
	writer    CommandWriter
	publisher Publisher
	ackTopic  string
	qos       byte
	metrics   *metrics.Metrics

	queue     chan command.Command
	done      chan struct{}
	closeOnce sync.Once
}

// Options configure a Relay.
type Options struct {
	Writer    CommandWriter
	Publisher Publisher
	AckTopic  string
	QoS       byte
	Size      int
	Log       logger.Logger
	Metrics   *metrics.Metrics
}

func New(opts Options) *Relay {
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	size := opts.Size
	if size < 1 {
		size = 1
	}
	return &Relay{
		log:       log,
		writer:    opts.Writer,
		publisher: opts.Publisher,
		ackTopic:  opts.AckTopic,
		qos:       opts.QoS,
		metrics:   opts.Metrics,
		queue:     make(chan command.Command, size),
		done:      make(chan struct{}),
	}
}

// Enqueue appends cmd to the queue, blocking while it is full.
func (r *Relay) Enqueue(ctx context.Context, cmd command.Command) error {
	// a closed relay must never accept, even with free capacity
	select {
	case <-r.done:
		return ErrClosed
	default:
	}

	select {
	case r.queue <- cmd:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting commands. Run finishes what is already queued and returns.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}

// Done is closed when the relay is closed.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Run consumes the queue until the relay is closed, ctx is cancelled or a
// write/publish fails. The relay is closed when Run returns.
func (r *Relay) Run(ctx context.Context) error {
	defer r.Close()
	log := r.log.With(logger.Fields{"module": "relay"})
	log.Debug("worker started")

	for {
		select {
		case cmd := <-r.queue:
			if err := r.dispatch(cmd); err != nil {
				log.Errorf("worker stopped: %v", err)
				return err
			}
		case <-r.done:
			return r.drain()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain dispatches whatever was queued before Close.
func (r *Relay) drain() error {
	for {
		select {
		case cmd := <-r.queue:
			if err := r.dispatch(cmd); err != nil {
				return err
			}
		default:
			r.log.With(logger.Fields{"module": "relay"}).Debug("queue closed, worker finished")
			return nil
		}
	}
}

func (r *Relay) dispatch(cmd command.Command) error {
	wireStr := command.Encode(cmd)

	err := r.writer.Send(cmd)
	r.metrics.SerialWrite(wireStr, err)
	if err != nil {
		return err
	}
	r.log.With(logger.Fields{"module": "relay"}).Infof("projector <- %s", wireStr)

	err = r.publisher.Publish(r.ackTopic, r.qos, false, []byte(wireStr))
	r.metrics.AckPublished(wireStr, err)
	if err != nil {
		return fmt.Errorf("publish ack %s: %w", wireStr, err)
	}
	return nil
}
