package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedAdapter emits sequential frames and, after failAfter frames
// have been emitted, returns an error exactly once before resuming.
type scriptedAdapter struct {
	mu        sync.Mutex
	emitted   int
	failAfter int
	failed    bool
}

func (a *scriptedAdapter) NextFrame(ctx context.Context) (Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.emitted == a.failAfter && !a.failed {
		a.failed = true
		return Frame{}, errors.New("simulated timeout")
	}

	f := Frame{Width: 2, Height: 2, Pix: make([]byte, 12)}
	a.emitted++
	return f, nil
}

func (a *scriptedAdapter) FindDevices(ctx context.Context) ([]string, error) { return nil, nil }
func (a *scriptedAdapter) Reset(ctx context.Context) error                   { return nil }
func (a *scriptedAdapter) Reconnect(ctx context.Context, serial string) error { return nil }
func (a *scriptedAdapter) SetFrameWidth(int) error                          { return nil }
func (a *scriptedAdapter) SetFrameHeight(int) error                         { return nil }
func (a *scriptedAdapter) SetFrameRate(float64) error                       { return nil }
func (a *scriptedAdapter) SetFilter(string) error                           { return nil }

type countingCycler struct {
	mu    sync.Mutex
	count int
}

func (c *countingCycler) PowerCycle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func TestPowerCycleMidFeedNoGapNoDuplicate(t *testing.T) {
	adapter := &scriptedAdapter{failAfter: 50}
	cycler := &countingCycler{}
	p := New(adapter, cycler, nil, nil)

	var mu sync.Mutex
	var indices []uint64
	p.Register(func(f Frame) {
		mu.Lock()
		indices = append(indices, f.Index)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.StartLiveFeed(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(indices)
		mu.Unlock()
		if n >= 100 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for frames, got %d", n)
		}
		time.Sleep(time.Millisecond)
	}

	p.StopLiveFeed()

	mu.Lock()
	defer mu.Unlock()
	for i, idx := range indices[:100] {
		if idx != uint64(i) {
			t.Fatalf("index at position %d = %d, want %d (no gap/dup expected)", i, idx, i)
		}
	}
	if cycler.count != 1 {
		t.Fatalf("expected exactly 1 power cycle, got %d", cycler.count)
	}
}
