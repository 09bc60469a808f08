// Package dispatch implements CommandDispatch (spec.md §4.11/§6): a
// thin loop that reads Handheld commands off the CommandBus and maps
// each command code to a call into the tracking pipeline or the motor
// driver, then acknowledges receipt.
package dispatch

import (
	"context"
	"fmt"

	"github.com/arobi/officer-rig/internal/commandbus"
	"github.com/arobi/officer-rig/internal/devicemux"
	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/motor"
)

// Command codes from spec.md §6's Handheld command table.
const (
	CmdPing                 byte = 1
	CmdStartOfficerTracking byte = 2
	CmdStopOfficerTracking  byte = 3
	CmdSendKeyword          byte = 4
	CmdRelMoveSync          byte = 5
	CmdRelMoveAsync         byte = 6
	CmdAbsMoveSync          byte = 7
	CmdAbsMoveAsync         byte = 8
	CmdActivate             byte = 9
	CmdDeactivate           byte = 10
	CmdSetSpeeds            byte = 11
	CmdAcknowledge          byte = 15
)

// Tracking starts and stops officer tracking: opening/closing the live
// feed and registering/unregistering the per-frame locator+motion
// callback. Implemented by the wiring layer in cmd/officer-rig, which
// is the only place that has both a FramePipeline and a
// motion.Controller in scope.
type Tracking interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Dispatcher maps Handheld commands onto the rig's components.
type Dispatcher struct {
	bus      *commandbus.Bus
	driver   *motor.Driver
	tracking Tracking
	log      *logging.Logger

	// Keywords receives the payload of each SendKeyword command as a
	// string. Buffered; a send that would block is dropped rather than
	// stalling the dispatch loop, since a missed keyword is less harmful
	// than a stuck command queue.
	Keywords chan string
}

// New creates a Dispatcher. tracking may be nil, in which case
// StartOfficerTracking/StopOfficerTracking are acknowledged but no-ops.
func New(bus *commandbus.Bus, driver *motor.Driver, tracking Tracking, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		driver:   driver,
		tracking: tracking,
		log:      log,
		Keywords: make(chan string, 8),
	}
}

// Run reads and dispatches Handheld commands until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		cmd, err := d.bus.ReadCommand(ctx, devicemux.Handheld)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.Log("dispatch: read command: "+err.Error(), logging.Commands|logging.Error)
			continue
		}
		if err := d.handle(ctx, cmd); err != nil {
			d.log.Log("dispatch: handle command: "+err.Error(), logging.Commands|logging.Error)
			continue
		}
		if cmd.Code != CmdAcknowledge {
			if err := d.bus.AcknowledgeReceived(devicemux.Handheld); err != nil {
				d.log.Log("dispatch: acknowledge: "+err.Error(), logging.Commands|logging.Error)
			}
		}
	}
}

// handle executes one parsed command per spec.md §6's command table.
func (d *Dispatcher) handle(ctx context.Context, cmd commandbus.Command) error {
	switch cmd.Code {
	case CmdPing:
		return nil

	case CmdStartOfficerTracking:
		if d.tracking == nil {
			return nil
		}
		return d.tracking.Start(ctx)

	case CmdStopOfficerTracking:
		if d.tracking == nil {
			return nil
		}
		return d.tracking.Stop(ctx)

	case CmdSendKeyword:
		select {
		case d.Keywords <- string(cmd.Args):
		default:
			d.log.Log("dispatch: keyword channel full, dropping", logging.Commands)
		}
		return nil

	case CmdRelMoveSync:
		return d.driver.RawRelMoveSync(ctx, cmd.Args)

	case CmdRelMoveAsync:
		return d.driver.RawRelMoveAsync(ctx, cmd.Args)

	case CmdAbsMoveSync:
		return d.driver.RawAbsMoveSync(ctx, cmd.Args)

	case CmdAbsMoveAsync:
		return d.driver.RawAbsMoveAsync(ctx, cmd.Args)

	case CmdActivate:
		return d.driver.Activate(ctx)

	case CmdDeactivate:
		return d.driver.Deactivate(ctx)

	case CmdSetSpeeds:
		if len(cmd.Args) != 2 {
			return fmt.Errorf("dispatch: SetSpeeds payload must be 2 bytes, got %d", len(cmd.Args))
		}
		return d.driver.SetSpeeds(ctx, cmd.Args[0], cmd.Args[1])

	case CmdAcknowledge:
		// An ack for a command we issued ourselves; commandbus.SendCommand
		// already consumes these via its header-matched read, so one
		// reaching the dispatch loop is stray and ignored.
		return nil

	default:
		return fmt.Errorf("dispatch: unknown command code %#x", cmd.Code)
	}
}
