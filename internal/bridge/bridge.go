// Package bridge wires the router and the relay together and owns their lifetime.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mqtt2serial/internal/logger"
	"mqtt2serial/internal/metrics"
	"mqtt2serial/internal/relay"
	"mqtt2serial/internal/router"
)

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Config holds what the bridge needs from the settings.
type Config struct {
	ControlTopic      string
	AvailabilityTopic string
	AckTopic          string
	QoS               byte
	QueueSize         int
}

type Bridge struct {
	log     logger.Logger
	cfg     Config
	handle  *Handle
	source  router.EventSource
	writer  relay.CommandWriter
	metrics *metrics.Metrics
}

func New(log logger.Logger, cfg Config, handle *Handle, source router.EventSource, writer relay.CommandWriter, m *metrics.Metrics) *Bridge {
	if log == nil {
		log = logger.Discard()
	}
	return &Bridge{
		log:     log,
		cfg:     cfg,
		handle:  handle,
		source:  source,
		writer:  writer,
		metrics: m,
	}
}

// Announcement returns the subscribe/online step used at startup and on reconnect.
func (b *Bridge) Announcement() Announcement {
	return Announcement{
		ControlTopic:      b.cfg.ControlTopic,
		AvailabilityTopic: b.cfg.AvailabilityTopic,
		Online:            PayloadOnline,
		QoS:               b.cfg.QoS,
	}
}

// Run starts the relay and router workers, announces the bridge and blocks
// until both workers have stopped. Workers are not restarted: a returned
// error means the process should exit and be restarted from outside.
func (b *Bridge) Run(ctx context.Context) error {
	log := b.log.With(logger.Fields{"module": "bridge"})

	rl := relay.New(relay.Options{
		Writer:    b.writer,
		Publisher: b.handle,
		AckTopic:  b.cfg.AckTopic,
		QoS:       b.cfg.QoS,
		Size:      b.cfg.QueueSize,
		Log:       b.log,
		Metrics:   b.metrics,
	})

	ready := make(chan struct{})
	rt := router.New(router.Options{
		Source:       b.source,
		Queue:        rl,
		ControlTopic: b.cfg.ControlTopic,
		Log:          b.log,
		Metrics:      b.metrics,
		Ready:        ready,
	})

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var relayErr, routerErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		relayErr = rl.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		routerErr = rt.Run(workerCtx)
	}()

	if err := b.handle.Announce(b.Announcement()); err != nil {
		log.Errorf("startup announcement failed: %v", err)
		cancel()
		rl.Close()
		wg.Wait()
		return fmt.Errorf("announce: %w", err)
	}
	log.Infof("online on %s, listening on %s", b.cfg.AvailabilityTopic, b.cfg.ControlTopic)
	close(ready)

	wg.Wait()
	return joinWorkerErrors(ctx, relayErr, routerErr)
}

// joinWorkerErrors drops errors caused by our own cancellation.
func joinWorkerErrors(ctx context.Context, relayErr, routerErr error) error {
	var errs []error
	if relayErr != nil && !(ctx.Err() != nil && errors.Is(relayErr, context.Canceled)) {
		errs = append(errs, fmt.Errorf("relay: %w", relayErr))
	}
	if routerErr != nil && !(ctx.Err() != nil && errors.Is(routerErr, context.Canceled)) {
		errs = append(errs, fmt.Errorf("router: %w", routerErr))
	}
	return errors.Join(errs...)
}
