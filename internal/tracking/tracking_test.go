package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/arobi/officer-rig/internal/config"
	"github.com/arobi/officer-rig/internal/devicemux"
	"github.com/arobi/officer-rig/internal/locator"
	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/motion"
	"github.com/arobi/officer-rig/internal/motor"
	"github.com/arobi/officer-rig/internal/pipeline"
	"github.com/arobi/officer-rig/internal/serial"
)

func testAxis() motor.Axis {
	return motor.Axis{AngleMin: -90, AngleMax: 90, StepMin: -900, StepMax: 900}
}

// fakeAdapter emits a fixed number of empty frames then blocks until
// ctx is canceled, satisfying pipeline.CameraAdapter.
type fakeAdapter struct {
	remaining int
}

func (a *fakeAdapter) NextFrame(ctx context.Context) (pipeline.Frame, error) {
	if a.remaining <= 0 {
		<-ctx.Done()
		return pipeline.Frame{}, ctx.Err()
	}
	a.remaining--
	return pipeline.Frame{Width: 4, Height: 4, Pix: make([]byte, 48)}, nil
}
func (a *fakeAdapter) FindDevices(ctx context.Context) ([]string, error)  { return nil, nil }
func (a *fakeAdapter) Reset(ctx context.Context) error                    { return nil }
func (a *fakeAdapter) Reconnect(ctx context.Context, serial string) error { return nil }
func (a *fakeAdapter) SetFrameWidth(width int) error                     { return nil }
func (a *fakeAdapter) SetFrameHeight(height int) error                   { return nil }
func (a *fakeAdapter) SetFrameRate(hz float64) error                     { return nil }
func (a *fakeAdapter) SetFilter(filter string) error                     { return nil }

func TestStartRegistersCallbackAndDrivesGuidance(t *testing.T) {
	link := serial.NewFakeLink()
	// Activate (ack+success), SetSpeeds (ack), then per guided frame the
	// search FSM's AbsMoveSync (ack) plus, while circling, one message read
	// as a success token; the 3 empty frames and Stop's Deactivate need
	// fewer than the 16 acks fed.
	acks := make([]byte, 0, 32)
	for i := 0; i < 16; i++ {
		acks = append(acks, 0x8F)
	}
	link.Feed(acks)

	mux := devicemux.New(link, logging.New(0, nil), nil)
	driver := motor.New(mux, testAxis(), testAxis(), logging.New(0, nil), nil)
	mc := motion.New(driver, locator.Vec2{}, motion.AngleBounds{Min: -10, Max: 10}, 127, 127, logging.New(0, nil), nil)
	loc := locator.New(1, locator.ConfidenceStrategy{}, logging.New(0, nil))

	adapter := &fakeAdapter{remaining: 3}
	p := pipeline.New(adapter, nil, logging.New(0, nil), nil)

	proc := New(p, loc, mc, nil, nil, config.ImageProcessingConfig{}, 0, 4, 4, 10, logging.New(0, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go mux.Run(ctx)

	if err := proc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !proc.IsProcessing() {
		t.Fatal("expected IsProcessing true after Start")
	}

	p.StartLiveFeed(ctx)
	time.Sleep(100 * time.Millisecond)
	p.StopLiveFeed()

	if err := proc.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if proc.IsProcessing() {
		t.Fatal("expected IsProcessing false after Stop")
	}
}

func TestStartIsNoopWhenAlreadyProcessing(t *testing.T) {
	link := serial.NewFakeLink()
	link.Feed([]byte{0x8F, 0x81, 0x8F})
	mux := devicemux.New(link, logging.New(0, nil), nil)
	driver := motor.New(mux, testAxis(), testAxis(), logging.New(0, nil), nil)
	mc := motion.New(driver, locator.Vec2{}, motion.AngleBounds{Min: -10, Max: 10}, 127, 127, logging.New(0, nil), nil)
	loc := locator.New(1, locator.ConfidenceStrategy{}, logging.New(0, nil))
	adapter := &fakeAdapter{remaining: 0}
	p := pipeline.New(adapter, nil, logging.New(0, nil), nil)
	proc := New(p, loc, mc, nil, nil, config.ImageProcessingConfig{}, 0, 4, 4, 10, logging.New(0, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go mux.Run(ctx)

	if err := proc.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := proc.Start(ctx); err != nil {
		t.Fatalf("second Start should no-op, got error: %v", err)
	}
	proc.Stop(ctx)
}
