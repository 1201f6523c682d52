// Package projector writes logical commands to the projector over a serial link.
package projector

import (
	"errors"
	"fmt"
	"io"

	"go.bug.st/serial"

	"mqtt2serial/internal/command"
	"mqtt2serial/internal/config"
	"mqtt2serial/internal/logger"
)

// ErrInvalidCommand is returned by Send for a command with no wire string.
var ErrInvalidCommand = errors.New("projector: invalid command")

// drainer is implemented by ports that can block until output reaches the hardware.
type drainer interface {
	Drain() error
}

// Writer sends commands to the device. It is owned by a single goroutine.
type Writer struct {
	log        logger.Logger
	port       io.Writer
	terminator string
}

// NewWriter wraps an already opened port.
func NewWriter(log logger.Logger, port io.Writer, terminator string) *Writer {
	return &Writer{
		log:        log,
		port:       port,
		terminator: terminator,
	}
}

// Open opens the serial device described by cfg (8N1 at cfg.Baud).
func Open(cfg config.SerialConf) (serial.Port, error) {
	port, err := serial.Open(cfg.Device, &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}
	return port, nil
}

// Send writes the wire string of cmd followed by the terminator and blocks
// until the bytes are flushed. Nothing is read back from the device.
func (w *Writer) Send(cmd command.Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, cmd)
	}

	buf := []byte(command.Encode(cmd) + w.terminator)
	n, err := w.port.Write(buf)
	if err != nil {
		return fmt.Errorf("serial write %v: %w", cmd, err)
	}
	if n != len(buf) {
		return fmt.Errorf("serial write %v: %w (%d of %d bytes)", cmd, io.ErrShortWrite, n, len(buf))
	}

	if d, ok := w.port.(drainer); ok {
		if err := d.Drain(); err != nil {
			return fmt.Errorf("serial drain %v: %w", cmd, err)
		}
	}

	w.log.With(logger.Fields{"module": "serial"}).Debugf("sent %q", buf)
	return nil
}
