package motor

import (
	"context"
	"testing"
	"time"

	"github.com/arobi/officer-rig/internal/devicemux"
	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/serial"
)

func testAxis() Axis {
	return Axis{AngleMin: 0, AngleMax: 360, StepMin: 0, StepMax: 3600}
}

func TestAngleToStepLinear(t *testing.T) {
	a := testAxis()
	if got := a.AngleToStep(180); got != 1800 {
		t.Fatalf("AngleToStep(180) = %d, want 1800", got)
	}
	if got := a.AngleToStep(0); got != 0 {
		t.Fatalf("AngleToStep(0) = %d, want 0", got)
	}
}

func TestAngleToStepRoundsTowardZero(t *testing.T) {
	a := Axis{AngleMin: 0, AngleMax: 1, StepMin: 0, StepMax: 10}
	if got := a.AngleToStep(0.99); got != 9 {
		t.Fatalf("AngleToStep(0.99) = %d, want 9 (truncated, not rounded)", got)
	}
}

func TestEncodeDecodeMoveRoundTrip(t *testing.T) {
	pan, tilt := -12345, 54321
	payload := encodeMove(pan, tilt)
	gotPan, gotTilt, err := decodeMove(payload)
	if err != nil {
		t.Fatalf("decodeMove: %v", err)
	}
	if gotPan != pan || gotTilt != tilt {
		t.Fatalf("round trip = (%d, %d), want (%d, %d)", gotPan, gotTilt, pan, tilt)
	}
}

func newTestDriver(link serial.Link) (*Driver, *devicemux.DeviceMux) {
	mux := devicemux.New(link, logging.New(0, nil), nil)
	return New(mux, testAxis(), testAxis(), logging.New(0, nil), nil), mux
}

// TestAckInterleave drives two consecutive RelMoveSync commands while
// the mux has the byte stream [0x81, 0x8F, 0x81, 0x8F] queued for
// Motors; both commands must succeed and a success token must still be
// observable via TryReadMessage afterward (spec.md §8 scenario 2).
func TestAckInterleave(t *testing.T) {
	link := serial.NewFakeLink()
	link.Feed([]byte{0x81, 0x8F, 0x81, 0x8F})

	driver, mux := newTestDriver(link)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go mux.Run(ctx)

	if err := driver.RelMoveSync(ctx, 10, 10); err != nil {
		t.Fatalf("first RelMoveSync: %v", err)
	}
	if err := driver.RelMoveSync(ctx, 20, 20); err != nil {
		t.Fatalf("second RelMoveSync: %v", err)
	}

	if _, ok := driver.TryReadMessage(); !ok {
		t.Fatalf("expected a success token to still be observable via TryReadMessage")
	}
}

func TestSetHeadlightsNoopWhenUnchanged(t *testing.T) {
	link := serial.NewFakeLink()
	driver, mux := newTestDriver(link)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go mux.Run(ctx)

	// Default state is off (false); setting to off again must not write.
	if err := driver.SetHeadlights(ctx, false); err != nil {
		t.Fatalf("SetHeadlights: %v", err)
	}
	if link.Written.Len() != 0 {
		t.Fatalf("expected no wire write for a no-op headlight state change")
	}
}

func TestFaultMarkerDoesNotAbortAckWait(t *testing.T) {
	link := serial.NewFakeLink()
	// Fault marker (lsb 0x02) then the real ack.
	link.Feed([]byte{0x82, 0x8F})
	driver, mux := newTestDriver(link)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go mux.Run(ctx)

	if err := driver.RelMoveAsync(ctx, 5, 5); err != nil {
		t.Fatalf("RelMoveAsync with interleaved fault: %v", err)
	}
}
