// Package motor implements MotorDriver (spec.md §4.5): a stateless
// translator from high-level motion requests to the motor's 6-byte
// move wire format, plus the ack/success/fault protocol layered over
// DeviceMux, grounded on original_source/odroid/src/io/motor_controller.cpp.
package motor

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/arobi/officer-rig/internal/config"
	"github.com/arobi/officer-rig/internal/devicemux"
	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/metrics"
)

// Command kinds, carried in a write's low nibble. Only the ack
// sentinel (0x8F) and success token (0x81) values are fixed by the
// wire protocol (spec.md §4.2/§4.5); these outbound command codes are
// this driver's own choice of the remaining nibble space.
const (
	cmdActivate      byte = 0x3
	cmdDeactivate    byte = 0x4
	cmdSetSpeeds     byte = 0x5
	cmdSetHeadlights byte = 0x6
	cmdRelMoveAsync  byte = 0x7
	cmdRelMoveSync   byte = 0x8
	cmdAbsMoveAsync  byte = 0x9
	cmdAbsMoveSync   byte = 0xA
)

const (
	ackSentinelLowNibble  byte = 0x0F
	successTokenLowNibble byte = 0x01
	faultMarkerLowNibble  byte = 0x02
)

// Axis holds the angle/step bounds for one motor axis.
type Axis struct {
	AngleMin, AngleMax float64
	StepMin, StepMax   int
}

// AxisFromConfig adapts config.MotorAxisConfig (JSON bounds) into Axis.
func AxisFromConfig(c config.MotorAxisConfig) Axis {
	return Axis{
		AngleMin: float64(c.AngleBounds.Min),
		AngleMax: float64(c.AngleBounds.Max),
		StepMin:  c.StepBounds.Min,
		StepMax:  c.StepBounds.Max,
	}
}

// AngleToStep maps an angle to a motor step per spec.md §4.5: linear
// interpolation between the axis bounds, rounded toward zero. Angles
// outside [AngleMin, AngleMax] map outside [StepMin, StepMax]; this
// driver does not clamp — the motor firmware is the range enforcer.
func (a Axis) AngleToStep(angle float64) int {
	prop := (angle - a.AngleMin) / (a.AngleMax - a.AngleMin)
	step := float64(a.StepMin) + prop*float64(a.StepMax-a.StepMin)
	return int(math.Trunc(step))
}

// HeadlightState is the commanded headlight on/off state.
type HeadlightState bool

// Driver translates motion requests into wire commands over a
// DeviceMux and manages the ack/success/fault protocol.
type Driver struct {
	mux     *devicemux.DeviceMux
	log     *logging.Logger
	metrics *metrics.Metrics

	Pan  Axis
	Tilt Axis

	mu               sync.Mutex
	pendingSuccess   []devicemux.DeviceMessage
	currentHeadlight HeadlightState
}

// New creates a Driver over mux with the given per-axis configs.
func New(mux *devicemux.DeviceMux, pan, tilt Axis, log *logging.Logger, m *metrics.Metrics) *Driver {
	return &Driver{mux: mux, Pan: pan, Tilt: tilt, log: log, metrics: m}
}

// encodeMove packs pan/tilt steps into the 6-byte big-endian 24-bit
// signed payload (spec.md §4.5).
func encodeMove(panStep, tiltStep int) []byte {
	buf := make([]byte, 6)
	put24 := func(b []byte, v int) {
		b[0] = byte(v >> 16)
		b[1] = byte(v >> 8)
		b[2] = byte(v)
	}
	put24(buf[0:3], panStep)
	put24(buf[3:6], tiltStep)
	return buf
}

// decodeMove recovers the (pan, tilt) step values from a move payload,
// used by round-trip tests and any component that needs to inspect a
// move already on the wire.
func decodeMove(payload []byte) (panStep, tiltStep int, err error) {
	if len(payload) != 6 {
		return 0, 0, fmt.Errorf("motor: move payload must be 6 bytes, got %d", len(payload))
	}
	get24 := func(b []byte) int {
		v := int(b[0])<<16 | int(b[1])<<8 | int(b[2])
		if v&0x800000 != 0 {
			v -= 1 << 24
		}
		return v
	}
	return get24(payload[0:3]), get24(payload[3:6]), nil
}

func (d *Driver) sendMove(ctx context.Context, command byte, kind string, horizontalAngle, verticalAngle float64) error {
	panStep := d.Pan.AngleToStep(horizontalAngle)
	tiltStep := d.Tilt.AngleToStep(verticalAngle)
	payload := encodeMove(panStep, tiltStep)

	d.log.Log(fmt.Sprintf("MOVE %s H:%.3f V:%.3f", kind, horizontalAngle, verticalAngle), logging.Movements)

	if err := d.mux.Write(devicemux.Motors, command, payload); err != nil {
		return fmt.Errorf("motor: write move: %w", err)
	}
	if d.metrics != nil {
		d.metrics.MotorCommands.WithLabelValues(kind).Inc()
	}
	return d.awaitAck(ctx)
}

// RelMoveAsync issues a relative move without waiting for physical
// completion.
func (d *Driver) RelMoveAsync(ctx context.Context, horizontalAngle, verticalAngle float64) error {
	return d.sendMove(ctx, cmdRelMoveAsync, "rel_async", horizontalAngle, verticalAngle)
}

// sendRawMove writes an already wire-encoded 6-byte move payload
// straight through, skipping angle-to-step conversion. Used by
// internal/dispatch for Handheld move commands, which arrive
// pre-encoded in the same format MotorDriver itself produces
// (spec.md §6 command table).
func (d *Driver) sendRawMove(ctx context.Context, command byte, kind string, payload []byte) error {
	if len(payload) != 6 {
		return fmt.Errorf("motor: raw move payload must be 6 bytes, got %d", len(payload))
	}
	if err := d.mux.Write(devicemux.Motors, command, payload); err != nil {
		return fmt.Errorf("motor: write raw move: %w", err)
	}
	if d.metrics != nil {
		d.metrics.MotorCommands.WithLabelValues(kind).Inc()
	}
	return d.awaitAck(ctx)
}

// RawRelMoveAsync, RawRelMoveSync, RawAbsMoveAsync, and RawAbsMoveSync
// pass a pre-encoded 6-byte move payload straight to the wire.
func (d *Driver) RawRelMoveAsync(ctx context.Context, payload []byte) error {
	return d.sendRawMove(ctx, cmdRelMoveAsync, "rel_async_raw", payload)
}

func (d *Driver) RawRelMoveSync(ctx context.Context, payload []byte) error {
	return d.sendRawMove(ctx, cmdRelMoveSync, "rel_sync_raw", payload)
}

func (d *Driver) RawAbsMoveAsync(ctx context.Context, payload []byte) error {
	return d.sendRawMove(ctx, cmdAbsMoveAsync, "abs_async_raw", payload)
}

func (d *Driver) RawAbsMoveSync(ctx context.Context, payload []byte) error {
	return d.sendRawMove(ctx, cmdAbsMoveSync, "abs_sync_raw", payload)
}

// RelMoveSync issues a relative move; the motor elicits a later
// success token once the move physically completes (observe it via
// TryReadMessage).
func (d *Driver) RelMoveSync(ctx context.Context, horizontalAngle, verticalAngle float64) error {
	return d.sendMove(ctx, cmdRelMoveSync, "rel_sync", horizontalAngle, verticalAngle)
}

// AbsMoveAsync issues an absolute move without waiting for physical
// completion.
func (d *Driver) AbsMoveAsync(ctx context.Context, horizontalAngle, verticalAngle float64) error {
	return d.sendMove(ctx, cmdAbsMoveAsync, "abs_async", horizontalAngle, verticalAngle)
}

// AbsMoveSync issues an absolute move; the motor elicits a later
// success token once the move physically completes.
func (d *Driver) AbsMoveSync(ctx context.Context, horizontalAngle, verticalAngle float64) error {
	return d.sendMove(ctx, cmdAbsMoveSync, "abs_sync", horizontalAngle, verticalAngle)
}

// Activate sends Activate, awaits its ack, then awaits the separate
// success token that signals motor calibration has completed.
func (d *Driver) Activate(ctx context.Context) error {
	d.log.Log("activating motors", logging.Movements)
	if err := d.mux.Write(devicemux.Motors, cmdActivate, nil); err != nil {
		return fmt.Errorf("motor: write activate: %w", err)
	}
	if err := d.awaitAck(ctx); err != nil {
		return err
	}
	return d.awaitSuccess(ctx)
}

// Deactivate sends Deactivate and awaits its ack.
func (d *Driver) Deactivate(ctx context.Context) error {
	d.log.Log("deactivating motors", logging.Movements)
	if err := d.mux.Write(devicemux.Motors, cmdDeactivate, nil); err != nil {
		return fmt.Errorf("motor: write deactivate: %w", err)
	}
	return d.awaitAck(ctx)
}

// SetSpeeds sends the 2-byte speed payload and awaits its ack.
func (d *Driver) SetSpeeds(ctx context.Context, vx, vy byte) error {
	d.log.Log(fmt.Sprintf("setting motor speeds to (%d, %d)", vx, vy), logging.Movements)
	if err := d.mux.Write(devicemux.Motors, cmdSetSpeeds, []byte{vx, vy}); err != nil {
		return fmt.Errorf("motor: write set speeds: %w", err)
	}
	return d.awaitAck(ctx)
}

// SetHeadlights sends the 1-byte headlight state, unless it already
// matches the last-commanded state.
func (d *Driver) SetHeadlights(ctx context.Context, state HeadlightState) error {
	d.mu.Lock()
	current := d.currentHeadlight
	d.mu.Unlock()
	if current == state {
		return nil
	}

	var payload byte
	if state {
		payload = 1
	}
	if err := d.mux.Write(devicemux.Motors, cmdSetHeadlights, []byte{payload}); err != nil {
		return fmt.Errorf("motor: write set headlights: %w", err)
	}
	if err := d.awaitAck(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	d.currentHeadlight = state
	d.mu.Unlock()
	return nil
}

// awaitAck loops reading Motors messages until the ack sentinel
// arrives. Success tokens encountered along the way are stashed so
// TryReadMessage can still observe them later (spec.md §4.5: "consumed
// and discarded for the purpose of ack-matching" — they stop blocking
// the ack wait, but are not lost). Fault markers are logged and
// otherwise ignored; any other byte is treated the same as a stray
// success response, matching the source's "hopefully a success byte"
// fallback.
func (d *Driver) awaitAck(ctx context.Context) error {
	for {
		msg, err := d.mux.Read(ctx, devicemux.Motors)
		if err != nil {
			return fmt.Errorf("motor: await ack: %w", err)
		}

		lsb := msg.Header & 0x0F
		switch {
		case lsb == ackSentinelLowNibble:
			if d.metrics != nil {
				d.metrics.MotorAcks.Inc()
			}
			return nil
		case lsb == faultMarkerLowNibble:
			d.log.Log("motor fault marker received", logging.Movements|logging.Error)
			if d.metrics != nil {
				d.metrics.MotorFaults.Inc()
			}
		case lsb == successTokenLowNibble:
			d.stashSuccess(msg)
		default:
			// Any other byte is treated the same as a stray success
			// response and stashed, matching the source's "hopefully a
			// success byte, just read another one" fallback.
			d.stashSuccess(msg)
		}
	}
}

// awaitSuccess blocks for exactly one stashed or freshly arriving
// success-shaped message, used only by Activate's calibration wait.
func (d *Driver) awaitSuccess(ctx context.Context) error {
	if _, ok := d.TryReadMessage(); ok {
		return nil
	}
	if _, err := d.mux.Read(ctx, devicemux.Motors); err != nil {
		return fmt.Errorf("motor: await success: %w", err)
	}
	return nil
}

func (d *Driver) stashSuccess(msg devicemux.DeviceMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingSuccess = append(d.pendingSuccess, msg)
}

// TryReadMessage non-blockingly returns the oldest stashed success
// message, if any, then falls back to a non-blocking check of the
// mux's Motors queue directly — this is how the search FSM observes
// "a motor success token arrived" (spec.md §4.6).
func (d *Driver) TryReadMessage() (devicemux.DeviceMessage, bool) {
	d.mu.Lock()
	if len(d.pendingSuccess) > 0 {
		msg := d.pendingSuccess[0]
		d.pendingSuccess = d.pendingSuccess[1:]
		d.mu.Unlock()
		return msg, true
	}
	d.mu.Unlock()

	return d.mux.TryRead(devicemux.Motors)
}
