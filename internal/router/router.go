// Package router turns broker events into projector commands.
package router

import (
	"bytes"
	"context"
	"fmt"

	"mqtt2serial/internal/clientmqtt"
	"mqtt2serial/internal/command"
	"mqtt2serial/internal/logger"
	"mqtt2serial/internal/metrics"
)

// onToken is the only payload that switches the device on. Matching is
// exact and case-sensitive; everything else on the control topic means off.
var onToken = []byte("ON")

// EventSource blocks until the transport delivers the next event.
type EventSource interface {
	NextEvent(ctx context.Context) (clientmqtt.Event, error)
}

// Queue accepts routed commands. Close is called when the router stops.
type Queue interface {
	Enqueue(ctx context.Context, cmd command.Command) error
	Close()
}

// Classify maps an event to a command. ok is false for anything that is not
// a message on controlTopic.
func Classify(ev clientmqtt.Event, controlTopic string) (cmd command.Command, ok bool) {
	if ev.Kind != clientmqtt.EventMessage {
		return 0, false
	}
	if ev.Topic == "" || ev.Topic != controlTopic {
		return 0, false
	}
	if bytes.Equal(ev.Payload, onToken) {
		return command.TurnOn, true
	}
	return command.TurnOff, true
}

type Router struct {
	log          logger.Logger
	source       EventSource
	queue        Queue
	controlTopic string
	metrics      *metrics.Metrics
	ready        <-chan struct{}
}

// Options configure a Router. Ready, when set, holds the first NextEvent
// until it is closed.
type Options struct {
	Source       EventSource
	Queue        Queue
	ControlTopic string
	Log          logger.Logger
	Metrics      *metrics.Metrics
	Ready        <-chan struct{}
}

func New(opts Options) *Router {
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Router{
		log:          log,
		source:       opts.Source,
		queue:        opts.Queue,
		controlTopic: opts.ControlTopic,
		metrics:      opts.Metrics,
		ready:        opts.Ready,
	}
}

// Run routes events until the source fails, the queue rejects a command or
// ctx is cancelled. The queue is closed on return.
func (r *Router) Run(ctx context.Context) error {
	defer r.queue.Close()
	log := r.log.With(logger.Fields{"module": "router"})

	if r.ready != nil {
		select {
		case <-r.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	log.Debug("worker started")

	for {
		ev, err := r.source.NextEvent(ctx)
		if err != nil {
			log.Errorf("worker stopped: %v", err)
			return fmt.Errorf("next event: %w", err)
		}

		cmd, ok := Classify(ev, r.controlTopic)
		if !ok {
			r.ignore(log, ev)
			continue
		}

		log.Debugf("%s %q -> %v", ev.Topic, ev.Payload, cmd)
		if err := r.queue.Enqueue(ctx, cmd); err != nil {
			log.Errorf("worker stopped: %v", err)
			return fmt.Errorf("enqueue %v: %w", cmd, err)
		}
		r.metrics.CommandRouted(command.Encode(cmd))
	}
}

func (r *Router) ignore(log *logger.Log, ev clientmqtt.Event) {
	switch ev.Kind {
	case clientmqtt.EventMessage:
		r.metrics.EventIgnored(metrics.ReasonTopic)
		log.Debugf("ignoring message on %q", ev.Topic)
	case clientmqtt.EventDisconnected, clientmqtt.EventError:
		r.metrics.EventIgnored(metrics.ReasonLifecycle)
		log.Warnf("transport %s: %v", ev.Kind, ev.Err)
	default:
		r.metrics.EventIgnored(metrics.ReasonLifecycle)
		log.Debugf("transport %s", ev.Kind)
	}
}
