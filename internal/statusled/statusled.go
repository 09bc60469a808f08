// Package statusled implements StatusLED (spec.md §4.10): a flasher
// for the rig's status LED, driven by writing an ASCII brightness
// value to a sysfs-style brightness file — the same open/truncate/
// write/close sequence the original StatusLED used, but seamed behind
// a Target interface so tests never touch the filesystem.
package statusled

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arobi/officer-rig/internal/logging"
)

const (
	brightnessOn  byte = 255
	brightnessOff byte = 0

	flashOnTime  = 200 * time.Millisecond
	flashOffTime = 200 * time.Millisecond
)

// Target receives brightness writes. FileTarget is the production
// implementation; tests substitute a recording fake.
type Target interface {
	SetBrightness(brightness byte) error
}

// FileTarget writes brightness as plain ASCII text to a sysfs LED
// brightness file, truncating it on every write.
type FileTarget struct {
	Path string
}

func (f FileTarget) SetBrightness(brightness byte) error {
	if err := os.WriteFile(f.Path, []byte(strconv.Itoa(int(brightness))), 0o644); err != nil {
		return fmt.Errorf("statusled: write %s: %w", f.Path, err)
	}
	return nil
}

// StatusLED runs a background flash sequence: FlashesPerPause short
// on/off blinks, then a long pause, repeated until StopFlashing.
type StatusLED struct {
	target Target
	log    *logging.Logger

	FlashesPerPause int
	PauseTime       time.Duration

	mu       sync.Mutex
	flashing atomic.Bool
	enabled  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
}

// New creates a StatusLED over target, enabled by default with one
// flash per pause and a 750ms pause (the original's defaults).
func New(target Target, log *logging.Logger) *StatusLED {
	s := &StatusLED{
		target:          target,
		log:             log,
		FlashesPerPause: 1,
		PauseTime:       750 * time.Millisecond,
	}
	s.enabled.Store(true)
	return s
}

// IsFlashing reports whether the flash loop is currently running.
func (s *StatusLED) IsFlashing() bool {
	return s.flashing.Load()
}

// IsEnabled reports whether the LED is allowed to flash.
func (s *StatusLED) IsEnabled() bool {
	return s.enabled.Load()
}

// SetEnabled toggles whether the LED may flash. Disabling stops any
// flash sequence in progress.
func (s *StatusLED) SetEnabled(enabled bool) {
	if !enabled {
		s.StopFlashing(true)
	}
	s.enabled.Store(enabled)
}

// StartFlashing begins a repeating flash sequence of flashesPerPause
// blinks separated by PauseTime. No-op if disabled or already flashing.
func (s *StatusLED) StartFlashing(flashesPerPause int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.IsEnabled() || s.IsFlashing() {
		return
	}
	s.FlashesPerPause = flashesPerPause
	s.flashing.Store(true)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.runFlash(s.stop, s.done)
}

// Phase is the rig's high-level lifecycle phase, the thing an operator
// without a console reads off the LED's flash count (spec.md §7 /
// SPEC_FULL.md §3 StatusPhase).
type Phase int

const (
	Booting Phase = iota
	WaitingForCommand
	Tracking
	ShuttingDown
)

// flashesForPhase is the StartFlashing count each Phase drives:
// Booting and ShuttingDown flash most often per pause (3) to stand out during the
// rig's two transient states, Tracking flashes twice so "locked on"
// reads differently from idle across a room, and WaitingForCommand
// keeps the original's default of one.
func flashesForPhase(phase Phase) int {
	switch phase {
	case Booting, ShuttingDown:
		return 3
	case Tracking:
		return 2
	default:
		return 1
	}
}

// SetPhase restarts the flash sequence at the count phase calls for,
// replacing whatever count is currently running.
func (s *StatusLED) SetPhase(phase Phase) {
	s.StopFlashing(false)
	s.StartFlashing(flashesForPhase(phase))
}

// StopFlashing halts the flash sequence and, if reset is true, leaves
// the LED off.
func (s *StatusLED) StopFlashing(reset bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.IsEnabled() || !s.IsFlashing() {
		return
	}
	s.flashing.Store(false)
	close(s.stop)
	<-s.done

	if reset {
		if err := s.target.SetBrightness(brightnessOff); err != nil {
			s.log.Log("statusled: reset brightness: "+err.Error(), logging.LED|logging.Error)
		}
	}
}

func (s *StatusLED) runFlash(stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	for s.IsFlashing() {
		s.log.Log(fmt.Sprintf("starting flash sequence of %d", s.FlashesPerPause), logging.LED)

		for i := 0; i < s.FlashesPerPause-1 && s.IsFlashing(); i++ {
			s.set(brightnessOn)
			if !s.sleep(stop, flashOnTime) {
				return
			}
			if !s.IsFlashing() {
				break
			}
			s.set(brightnessOff)
			if !s.sleep(stop, flashOffTime) {
				return
			}
		}
		if !s.IsFlashing() {
			return
		}

		s.set(brightnessOn)
		if !s.sleep(stop, flashOnTime) {
			return
		}

		if !s.IsFlashing() {
			return
		}
		s.set(brightnessOff)
		if !s.sleep(stop, s.PauseTime) {
			return
		}

		s.log.Log("flash sequence finished", logging.LED)
	}
}

func (s *StatusLED) set(brightness byte) {
	if err := s.target.SetBrightness(brightness); err != nil {
		s.log.Log("statusled: set brightness: "+err.Error(), logging.LED|logging.Error)
		return
	}
	s.log.Log(fmt.Sprintf("LED set to %d", brightness), logging.LED)
}

// sleep waits for d or stop, whichever comes first. Returns false if
// stop fired, signaling the flash loop should exit immediately.
func (s *StatusLED) sleep(stop <-chan struct{}, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-stop:
		return false
	}
}
