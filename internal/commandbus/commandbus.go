// Package commandbus implements CommandBus (spec.md §4.7): a thin
// command/response layer over DeviceMux that parses a message's low
// nibble as a command code and leaves the rest as opaque arguments.
package commandbus

import (
	"context"
	"fmt"

	"github.com/arobi/officer-rig/internal/devicemux"
)

// acknowledgeCode is the low-nibble value both the motor-ack sentinel
// and the Handheld Acknowledge command share (spec.md §4.2/§4.5/§6:
// "four ones in the LSBs").
const acknowledgeCode byte = 0x0F

// Command is one parsed Handheld/Motors message: a 4-bit code plus its
// payload bytes.
type Command struct {
	Code byte
	Args []byte
}

// Bus layers command semantics over a DeviceMux.
type Bus struct {
	mux *devicemux.DeviceMux
}

// New creates a Bus over mux.
func New(mux *devicemux.DeviceMux) *Bus {
	return &Bus{mux: mux}
}

// ReadCommand pops the next message from device and parses it as a
// Command.
func (b *Bus) ReadCommand(ctx context.Context, device devicemux.Device) (Command, error) {
	msg, err := b.mux.Read(ctx, device)
	if err != nil {
		return Command{}, fmt.Errorf("commandbus: read command: %w", err)
	}
	return Command{Code: msg.Command(), Args: msg.Payload}, nil
}

// SendCommand writes cmd to device and blocks for its ack.
func (b *Bus) SendCommand(ctx context.Context, device devicemux.Device, cmd Command) error {
	if err := b.mux.Write(device, cmd.Code, cmd.Args); err != nil {
		return fmt.Errorf("commandbus: send command: %w", err)
	}
	ackHeader := byte(device&0x01)<<7 | acknowledgeCode
	if _, err := b.mux.ReadWithHeader(ctx, device, ackHeader); err != nil {
		return fmt.Errorf("commandbus: await ack: %w", err)
	}
	return nil
}

// AcknowledgeReceived sends an empty-payload Acknowledge message to
// device, used to ack an inbound command that carries no other reply.
func (b *Bus) AcknowledgeReceived(device devicemux.Device) error {
	if err := b.mux.Write(device, acknowledgeCode, nil); err != nil {
		return fmt.Errorf("commandbus: acknowledge: %w", err)
	}
	return nil
}

// SendResponse writes a raw, uninterpreted message body to device.
func (b *Bus) SendResponse(device devicemux.Device, code byte, payload []byte) error {
	if err := b.mux.Write(device, code, payload); err != nil {
		return fmt.Errorf("commandbus: send response: %w", err)
	}
	return nil
}

// TryReadResponse non-blockingly pops the next raw message body for
// device, without interpreting it as a command.
func (b *Bus) TryReadResponse(device devicemux.Device) (devicemux.DeviceMessage, bool) {
	return b.mux.TryRead(device)
}
