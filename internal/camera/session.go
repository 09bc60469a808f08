// Package camera implements the supervised camera connection
// (spec.md §4.3's CameraSession): it keeps a CameraAdapter connected
// across transient hardware faults by power-cycling and reapplying the
// user's settings, without ever dropping the pipeline's live-feed loop.
package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/metrics"
	"github.com/arobi/officer-rig/internal/pipeline"
)

// Settings are the user-configured camera parameters that must be
// reapplied, in order, after every power cycle. Optional fields model
// the source's nullable pointers: a field left unset was never
// configured and is skipped on reapply.
type Settings struct {
	Width  *int
	Height *int
	FPS    *float64
	Filter *string
}

// Session owns the CameraAdapter connection lifecycle. It implements
// pipeline.PowerCycler so the FramePipeline's live-feed task can trigger
// recovery without knowing any hardware details.
type Session struct {
	adapter pipeline.CameraAdapter
	log     *logging.Logger
	metrics *metrics.Metrics

	serial string

	mu                sync.Mutex
	connected         bool
	shouldBeConnected bool
	settings          Settings

	cycleGroup singleflight.Group

	// pollInterval paces the reconnect/device-discovery spin loops.
	pollInterval time.Duration
}

// New creates a Session for the adapter, targeting the given camera
// serial number.
func New(adapter pipeline.CameraAdapter, serial string, log *logging.Logger, m *metrics.Metrics) *Session {
	return &Session{
		adapter:      adapter,
		serial:       serial,
		log:          log,
		metrics:      m,
		pollInterval: 100 * time.Millisecond,
	}
}

// Connect performs the initial connection and marks shouldBeConnected,
// which is only ever cleared by Shutdown (spec.md §4.3 supervision
// invariant).
func (s *Session) Connect(ctx context.Context) error {
	if err := s.adapter.Reconnect(ctx, s.serial); err != nil {
		return fmt.Errorf("camera connect: %w", err)
	}
	s.mu.Lock()
	s.connected = true
	s.shouldBeConnected = true
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.CameraConnected.Set(1)
	}
	s.applySettingsLocked(ctx)
	return nil
}

// Shutdown clears shouldBeConnected; after this no EnsureConnected call
// will block waiting for reconnection.
func (s *Session) Shutdown() {
	s.mu.Lock()
	s.shouldBeConnected = false
	s.connected = false
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.CameraConnected.Set(0)
	}
}

// SetFrameWidth, SetFrameHeight, SetFrameRate, and SetFilter record the
// user's desired setting and apply it immediately. They're replayed, in
// this order, by PowerCycle after every reconnect.
func (s *Session) SetFrameWidth(width int) error {
	s.mu.Lock()
	s.settings.Width = &width
	s.mu.Unlock()
	return s.adapter.SetFrameWidth(width)
}

func (s *Session) SetFrameHeight(height int) error {
	s.mu.Lock()
	s.settings.Height = &height
	s.mu.Unlock()
	return s.adapter.SetFrameHeight(height)
}

func (s *Session) SetFrameRate(hz float64) error {
	s.mu.Lock()
	s.settings.FPS = &hz
	s.mu.Unlock()
	return s.adapter.SetFrameRate(hz)
}

func (s *Session) SetFilter(filter string) error {
	s.mu.Lock()
	s.settings.Filter = &filter
	s.mu.Unlock()
	return s.adapter.SetFilter(filter)
}

// EnsureConnected blocks until the camera is connected if
// shouldBeConnected is set, polling while PowerCycle performs the
// reconnect; it makes no reconnect attempt of its own. To a caller,
// transient disconnects surface only as increased latency. No other
// Session method calls it.
func (s *Session) EnsureConnected(ctx context.Context) error {
	s.mu.Lock()
	should := s.shouldBeConnected
	connected := s.connected
	s.mu.Unlock()

	if connected || !should {
		return nil
	}
	return s.waitForConnected(ctx, false)
}

func (s *Session) waitForConnected(ctx context.Context, attemptToConnect bool) error {
	s.log.Log("waiting for camera to connect", logging.Camera)
	for {
		s.mu.Lock()
		connected := s.connected
		s.mu.Unlock()
		if connected {
			return nil
		}

		if attemptToConnect {
			if err := s.adapter.Reconnect(ctx, s.serial); err == nil {
				s.mu.Lock()
				s.connected = true
				s.mu.Unlock()
				if s.metrics != nil {
					s.metrics.CameraConnected.Set(1)
				}
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// PowerCycle resets the device, waits until it reappears, reconnects,
// and reapplies every user-configured setting. Concurrent callers
// collapse onto a single in-flight cycle via singleflight, enforcing
// "at most one power-cycle in progress for a given camera at any time"
// (spec.md §3).
func (s *Session) PowerCycle(ctx context.Context) error {
	_, err, _ := s.cycleGroup.Do(s.serial, func() (interface{}, error) {
		if s.metrics != nil {
			s.metrics.CameraPowerCycles.Inc()
		}
		return nil, s.powerCycleOnce(ctx)
	})
	return err
}

func (s *Session) powerCycleOnce(ctx context.Context) error {
	s.log.Log("power cycling camera", logging.Camera)

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.CameraConnected.Set(0)
	}

	if err := s.adapter.Reset(ctx); err != nil {
		s.log.Log("camera reset failed: "+err.Error(), logging.Camera|logging.Error)
	}

	if err := s.waitForDeviceDiscoverable(ctx); err != nil {
		return err
	}

	if err := s.waitForConnected(ctx, true); err != nil {
		return fmt.Errorf("power cycle reconnect: %w", err)
	}

	s.applySettingsLocked(ctx)
	s.log.Log("camera power cycle finished", logging.Camera)
	return nil
}

// waitForDeviceDiscoverable polls FindDevices until the expected serial
// appears, per spec.md §4.3's PowerCycle description.
func (s *Session) waitForDeviceDiscoverable(ctx context.Context) error {
	for {
		devices, err := s.adapter.FindDevices(ctx)
		if err == nil {
			for _, d := range devices {
				if d == s.serial {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

func (s *Session) applySettingsLocked(ctx context.Context) {
	s.mu.Lock()
	settings := s.settings
	s.mu.Unlock()

	if settings.Width != nil {
		_ = s.adapter.SetFrameWidth(*settings.Width)
	}
	if settings.Height != nil {
		_ = s.adapter.SetFrameHeight(*settings.Height)
	}
	if settings.FPS != nil {
		_ = s.adapter.SetFrameRate(*settings.FPS)
	}
	if settings.Filter != nil {
		_ = s.adapter.SetFilter(*settings.Filter)
	}
}
