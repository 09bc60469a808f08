package camera

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arobi/officer-rig/internal/logging"
)

func TestConnectAppliesPendingSettings(t *testing.T) {
	adapter := NewFakeAdapter("cam-1")
	s := New(adapter, "cam-1", logging.New(0, nil), nil)

	if err := s.SetFrameWidth(640); err != nil {
		t.Fatalf("SetFrameWidth: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.width != 640 {
		t.Fatalf("width = %d, want 640", adapter.width)
	}
}

// concurrentCycleAdapter counts how many times Reset is invoked, so a
// test can assert PowerCycle's singleflight dedup actually collapses
// concurrent callers into one hardware reset.
type concurrentCycleAdapter struct {
	*FakeAdapter
	mu        sync.Mutex
	resets    int
	resetHold chan struct{}
}

func (c *concurrentCycleAdapter) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.resets++
	c.mu.Unlock()
	if c.resetHold != nil {
		<-c.resetHold
	}
	return nil
}

func TestPowerCycleDedupsConcurrentCallers(t *testing.T) {
	adapter := &concurrentCycleAdapter{FakeAdapter: NewFakeAdapter("cam-1"), resetHold: make(chan struct{})}
	s := New(adapter, "cam-1", logging.New(0, nil), nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.PowerCycle(context.Background())
		}()
	}

	// Let every goroutine reach Reset and block there, then release them
	// all at once; singleflight should mean only one Reset call happened.
	time.Sleep(20 * time.Millisecond)
	close(adapter.resetHold)
	wg.Wait()

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.resets != 1 {
		t.Fatalf("expected exactly 1 Reset call across concurrent PowerCycle callers, got %d", adapter.resets)
	}
}

func TestEnsureConnectedReturnsImmediatelyWhenNotSupervised(t *testing.T) {
	adapter := NewFakeAdapter("cam-1")
	s := New(adapter, "cam-1", logging.New(0, nil), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.EnsureConnected(ctx); err != nil {
		t.Fatalf("EnsureConnected with shouldBeConnected=false should not block: %v", err)
	}
}

func TestEnsureConnectedBlocksUntilReconnected(t *testing.T) {
	adapter := NewFakeAdapter("cam-1")
	s := New(adapter, "cam-1", logging.New(0, nil), nil)
	s.pollInterval = time.Millisecond

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.EnsureConnected(ctx); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
}
