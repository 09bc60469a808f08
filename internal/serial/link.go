// Package serial implements SerialLink (spec.md §4.1/§4.1a): the raw
// byte-stream seam between the device multiplexer and the physical
// serial ports, backed by go.bug.st/serial.
package serial

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// ErrOpenFailed wraps a failure to open the port — a fatal-init
// condition per spec.md §7 (retry forever with fixed backoff).
var ErrOpenFailed = errors.New("serial: open failed")

// ErrIoError wraps a read/write failure on an already-open port — a
// transient condition per spec.md §7 (log and continue).
var ErrIoError = errors.New("serial: io error")

// readTimeout approximates the source's VMIN=0/VTIME≈100ms termios
// setting: a Read call returns whatever bytes are available (possibly
// zero) after waiting at most this long.
const readTimeout = 100 * time.Millisecond

// Link is the seam DeviceMux uses to reach the wire (MotorDriver goes
// through DeviceMux). Read never blocks indefinitely: Open configures
// the port for a bounded per-call read timeout so the gather loop stays
// responsive to shutdown.
type Link interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	// Clear discards any buffered but unread input, used when
	// resynchronizing after a suspected framing error.
	Clear() error
	Close() error
}

// port is the go.bug.st/serial-backed Link implementation.
type port struct {
	p serial.Port
}

// Open configures and opens the named serial port at the given baud
// rate: 8 data bits, no parity, one stop bit, no flow control, raw
// mode with a bounded read timeout.
func Open(path string, baud int) (Link, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpenFailed, path, err)
	}

	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: set read timeout on %s: %v", ErrOpenFailed, path, err)
	}

	return &port{p: p}, nil
}

func (s *port) Read(buf []byte) (int, error) {
	n, err := s.p.Read(buf)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return n, nil
}

func (s *port) Write(buf []byte) (int, error) {
	n, err := s.p.Write(buf)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return n, nil
}

func (s *port) Clear() error {
	return s.p.ResetInputBuffer()
}

func (s *port) Close() error {
	return s.p.Close()
}
