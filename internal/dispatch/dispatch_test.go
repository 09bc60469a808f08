package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/arobi/officer-rig/internal/commandbus"
	"github.com/arobi/officer-rig/internal/devicemux"
	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/motor"
	"github.com/arobi/officer-rig/internal/serial"
)

type fakeTracking struct {
	started, stopped bool
	startErr, stopErr error
}

func (f *fakeTracking) Start(ctx context.Context) error {
	f.started = true
	return f.startErr
}

func (f *fakeTracking) Stop(ctx context.Context) error {
	f.stopped = true
	return f.stopErr
}

func testAxis() motor.Axis {
	return motor.Axis{AngleMin: -90, AngleMax: 90, StepMin: -900, StepMax: 900}
}

func encodeHandheldCommand(code byte, payload []byte) []byte {
	header := byte(len(payload)&0x7)<<4 | (code & 0xF)
	return append([]byte{header}, payload...)
}

// runOneCommand feeds a single Handheld command (plus whatever
// Motors-side ack bytes the handler's driver calls will need) and
// drives exactly one Dispatcher.Run iteration by canceling ctx once the
// Handheld ack has been written back. A nil driver is replaced by one
// built on the same mux, so motorAckBytes reach it.
func runOneCommand(t *testing.T, handheldBytes []byte, motorAckBytes []byte, driver *motor.Driver, tracking Tracking) (*serial.FakeLink, *Dispatcher) {
	t.Helper()
	link := serial.NewFakeLink()
	link.Feed(append(append([]byte{}, handheldBytes...), motorAckBytes...))

	mux := devicemux.New(link, logging.New(0, nil), nil)
	bus := commandbus.New(mux)
	if driver == nil {
		driver = motor.New(mux, testAxis(), testAxis(), logging.New(0, nil), nil)
	}
	d := New(bus, driver, tracking, logging.New(0, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go mux.Run(ctx)

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	// Give the loop one round-trip to process the command and write its
	// ack back, then stop it.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	return link, d
}

func TestPingIsAcknowledgedOnly(t *testing.T) {
	mux := devicemux.New(serial.NewFakeLink(), logging.New(0, nil), nil)
	driver := motor.New(mux, testAxis(), testAxis(), logging.New(0, nil), nil)
	link, _ := runOneCommand(t, encodeHandheldCommand(CmdPing, nil), nil, driver, nil)

	want := []byte{0x0F} // Handheld Acknowledge: device=0, extraLen=0, cmd=0xF
	if got := link.Written.Bytes(); string(got) != string(want) {
		t.Fatalf("wire bytes = %v, want %v", got, want)
	}
}

func TestStartStopOfficerTrackingInvokesHooks(t *testing.T) {
	mux := devicemux.New(serial.NewFakeLink(), logging.New(0, nil), nil)
	driver := motor.New(mux, testAxis(), testAxis(), logging.New(0, nil), nil)
	tracking := &fakeTracking{}

	runOneCommand(t, encodeHandheldCommand(CmdStartOfficerTracking, nil), nil, driver, tracking)
	if !tracking.started {
		t.Fatalf("expected Start to be called")
	}

	tracking2 := &fakeTracking{}
	runOneCommand(t, encodeHandheldCommand(CmdStopOfficerTracking, nil), nil, driver, tracking2)
	if !tracking2.stopped {
		t.Fatalf("expected Stop to be called")
	}
}

func TestSendKeywordDeliversToChannel(t *testing.T) {
	link := serial.NewFakeLink()
	link.Feed(encodeHandheldCommand(CmdSendKeyword, []byte("fox")))

	mux := devicemux.New(link, logging.New(0, nil), nil)
	bus := commandbus.New(mux)
	driver := motor.New(mux, testAxis(), testAxis(), logging.New(0, nil), nil)
	d := New(bus, driver, nil, logging.New(0, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go mux.Run(ctx)
	go d.Run(ctx)

	select {
	case kw := <-d.Keywords:
		if kw != "fox" {
			t.Fatalf("keyword = %q, want %q", kw, "fox")
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timed out waiting for keyword")
	}
}

func TestActivateCallsDriver(t *testing.T) {
	// Handheld Activate command, then a Motors ack+success for the
	// driver's Activate() call; the driver shares the command's mux.
	link, _ := runOneCommand(t, encodeHandheldCommand(CmdActivate, nil), []byte{0x8F, 0x81}, nil, nil)

	// The Motors-side Activate write plus the eventual Handheld ack
	// should both appear on the wire.
	written := link.Written.Bytes()
	if len(written) == 0 {
		t.Fatalf("expected wire activity, got none")
	}
}

func TestSetSpeedsRejectsWrongPayloadSize(t *testing.T) {
	mux := devicemux.New(serial.NewFakeLink(), logging.New(0, nil), nil)
	driver := motor.New(mux, testAxis(), testAxis(), logging.New(0, nil), nil)
	bus := commandbus.New(mux)
	d := New(bus, driver, nil, logging.New(0, nil))

	err := d.handle(context.Background(), commandbus.Command{Code: CmdSetSpeeds, Args: []byte{0x7F}})
	if err == nil {
		t.Fatal("expected error for short SetSpeeds payload")
	}
}

func TestRelMoveSyncPassesRawPayloadThrough(t *testing.T) {
	link := serial.NewFakeLink()
	link.Feed([]byte{0x8F}) // Motors ack for the relayed move
	mux := devicemux.New(link, logging.New(0, nil), nil)
	driver := motor.New(mux, testAxis(), testAxis(), logging.New(0, nil), nil)
	bus := commandbus.New(mux)
	d := New(bus, driver, nil, logging.New(0, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go mux.Run(ctx)

	payload := []byte{0x00, 0x00, 0x64, 0x00, 0x00, 0xC8}
	err := d.handle(ctx, commandbus.Command{Code: CmdRelMoveSync, Args: payload})
	if err != nil {
		t.Fatalf("handle RelMoveSync: %v", err)
	}

	written := link.Written.Bytes()
	if len(written) != 7 {
		t.Fatalf("expected a 7-byte move message on the wire, got %d bytes", len(written))
	}
	for i, b := range payload {
		if written[1+i] != b {
			t.Fatalf("payload byte %d = %#x, want %#x (pass-through must not re-encode)", i, written[1+i], b)
		}
	}
}
