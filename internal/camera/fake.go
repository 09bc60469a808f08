package camera

import (
	"context"
	"sync"

	"github.com/arobi/officer-rig/internal/pipeline"
)

// FakeAdapter is a deterministic in-memory CameraAdapter used by tests
// and -sim mode. Frames are supplied by FrameSource; calling FailNext makes
// the next NextFrame call return an error, exercising the power-cycle
// path without real hardware.
type FakeAdapter struct {
	mu          sync.Mutex
	FrameSource func() (pipeline.Frame, error)
	devices     []string
	failNext    bool
	width       int
	height      int
	rate        float64
	filter      string
}

// NewFakeAdapter creates a FakeAdapter that reports serial as always
// discoverable.
func NewFakeAdapter(serial string) *FakeAdapter {
	return &FakeAdapter{devices: []string{serial}}
}

// FailNext arranges for the next NextFrame call to return an error.
func (f *FakeAdapter) FailNext() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = true
}

func (f *FakeAdapter) NextFrame(ctx context.Context) (pipeline.Frame, error) {
	f.mu.Lock()
	fail := f.failNext
	f.failNext = false
	source := f.FrameSource
	f.mu.Unlock()

	if fail {
		return pipeline.Frame{}, context.DeadlineExceeded
	}
	if source != nil {
		return source()
	}
	return pipeline.Frame{Width: 1, Height: 1, Pix: []byte{0, 0, 0}}, nil
}

func (f *FakeAdapter) FindDevices(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

func (f *FakeAdapter) Reset(ctx context.Context) error { return nil }

func (f *FakeAdapter) Reconnect(ctx context.Context, serial string) error { return nil }

func (f *FakeAdapter) SetFrameWidth(width int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.width = width
	return nil
}

func (f *FakeAdapter) SetFrameHeight(height int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = height
	return nil
}

func (f *FakeAdapter) SetFrameRate(hz float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate = hz
	return nil
}

func (f *FakeAdapter) SetFilter(filter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
	return nil
}
