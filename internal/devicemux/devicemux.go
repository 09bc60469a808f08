// Package devicemux implements DeviceMux (spec.md §4.2): a length-
// prefixed framing layer shared by two logical peripherals — Handheld
// and Motors — multiplexed over one SerialLink.
package devicemux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/metrics"
	"github.com/arobi/officer-rig/internal/serial"
)

// Device identifies which peripheral a message is for or from.
type Device uint8

const (
	Handheld Device = 0
	Motors   Device = 1
)

func (d Device) String() string {
	if d == Motors {
		return "motors"
	}
	return "handheld"
}

// ErrPayloadTooLarge is returned by Write when payload exceeds 7 bytes
// (extraLen is a 3-bit field).
var ErrPayloadTooLarge = errors.New("devicemux: payload too large")

// maxPayload is the largest payload extraLen (3 bits) can encode.
const maxPayload = 7

// pollInterval paces Read's try_read spin loop (spec.md §4.2: "polling
// a short sleep (10 ms)").
const pollInterval = 10 * time.Millisecond

// DeviceMessage is one assembled frame: a header byte plus its
// payload, tagged with the device it was framed under.
type DeviceMessage struct {
	Device  Device
	Header  byte
	Payload []byte
}

// Command is the low 4 bits of a message's header byte.
func (m DeviceMessage) Command() byte {
	return m.Header & 0x0F
}

// DeviceMux owns the gather task and the shared FIFO buffer it feeds.
type DeviceMux struct {
	link    serial.Link
	log     *logging.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	buffer  []DeviceMessage
	writeMu sync.Mutex
}

// New creates a DeviceMux over link. Call Run in its own goroutine to
// start the gather task.
func New(link serial.Link, log *logging.Logger, m *metrics.Metrics) *DeviceMux {
	return &DeviceMux{link: link, log: log, metrics: m}
}

// Run is the gather task: reads one byte at a time, assembling
// DeviceMessages and enqueueing them, until ctx is canceled. SerialLink
// reads are non-blocking with a short internal timeout, so this loop's
// only pacing comes from that timeout (spec.md §4.2).
func (mux *DeviceMux) Run(ctx context.Context) {
	var buf [1]byte
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := mux.link.Read(buf[:])
		if err != nil {
			mux.log.Log("devicemux read error: "+err.Error(), logging.RawSerial|logging.Error)
			continue
		}
		if n == 0 {
			continue
		}

		header := buf[0]
		device := Device((header >> 7) & 0x01)
		extraLen := int((header >> 4) & 0x07)

		payload := make([]byte, 0, extraLen)
		for len(payload) < extraLen {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var pb [1]byte
			n, err := mux.link.Read(pb[:])
			if err != nil {
				mux.log.Log("devicemux payload read error: "+err.Error(), logging.RawSerial|logging.Error)
				continue
			}
			if n == 0 {
				continue
			}
			payload = append(payload, pb[0])
		}

		msg := DeviceMessage{Device: device, Header: header, Payload: payload}
		mux.enqueue(msg)
		if mux.metrics != nil {
			mux.metrics.MuxMessages.WithLabelValues(device.String()).Inc()
		}
		mux.log.Log(fmt.Sprintf("devicemux assembled message for %s", device), logging.DeviceSerial)
	}
}

func (mux *DeviceMux) enqueue(msg DeviceMessage) {
	mux.mu.Lock()
	defer mux.mu.Unlock()
	mux.buffer = append(mux.buffer, msg)
}

// TryRead scans the buffer in FIFO order and removes/returns the first
// message matching device, or ok=false if none is queued.
func (mux *DeviceMux) TryRead(device Device) (DeviceMessage, bool) {
	mux.mu.Lock()
	defer mux.mu.Unlock()
	for i, msg := range mux.buffer {
		if msg.Device == device {
			mux.buffer = append(mux.buffer[:i], mux.buffer[i+1:]...)
			return msg, true
		}
	}
	return DeviceMessage{}, false
}

// Read blocks, polling TryRead, until a message for device arrives or
// ctx is canceled.
func (mux *DeviceMux) Read(ctx context.Context, device Device) (DeviceMessage, error) {
	for {
		if msg, ok := mux.TryRead(device); ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return DeviceMessage{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// ReadWithHeader repeatedly Reads from device, discarding any message
// whose header doesn't equal header, until a match is found or ctx is
// canceled. CommandBus.SendCommand awaits acks this way; the discarded
// messages are lost, which is why MotorDriver runs its own ack loop
// that keeps success tokens.
func (mux *DeviceMux) ReadWithHeader(ctx context.Context, device Device, header byte) (DeviceMessage, error) {
	for {
		msg, err := mux.Read(ctx, device)
		if err != nil {
			return DeviceMessage{}, err
		}
		if msg.Header == header {
			return msg, nil
		}
	}
}

// Write composes the header byte and writes header||payload to the
// link as a single call.
func (mux *DeviceMux) Write(device Device, command byte, payload []byte) error {
	if len(payload) > maxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	header := byte(device&0x01)<<7 | byte(len(payload)&0x07)<<4 | command&0x0F
	buf := make([]byte, 0, 1+len(payload))
	buf = append(buf, header)
	buf = append(buf, payload...)

	mux.writeMu.Lock()
	defer mux.writeMu.Unlock()
	_, err := mux.link.Write(buf)
	if err != nil {
		return fmt.Errorf("devicemux write: %w", err)
	}
	return nil
}
