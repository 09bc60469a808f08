// Package motion implements MotionController (spec.md §4.6): drives
// the motor from per-frame locator decisions and owns the three-state
// search FSM used once the subject is lost.
package motion

import (
	"context"

	"github.com/arobi/officer-rig/internal/locator"
	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/metrics"
	"github.com/arobi/officer-rig/internal/motor"
)

// SearchState is the three-state FSM driven by successive
// found=false locator decisions (spec.md §4.6).
type SearchState int

const (
	NotSearching SearchState = iota
	CheckingLastSeen
	Circling
)

func (s SearchState) String() string {
	switch s {
	case CheckingLastSeen:
		return "checking_last_seen"
	case Circling:
		return "circling"
	default:
		return "not_searching"
	}
}

// lastSeen remembers the most recent found=true decision so the
// search FSM can return to it before falling back to circling.
type lastSeen struct {
	found bool
	x, y  float64
}

// AngleBounds is an inclusive [Min, Max] angle range in degrees, used
// for the horizontal search sweep (config.Config's AngleXBoundsMin/Max).
type AngleBounds struct {
	Min, Max float64
}

// Controller drives motor.Driver from locator decisions.
type Controller struct {
	driver  *motor.Driver
	log     *logging.Logger
	metrics *metrics.Metrics

	HorizontalFov float64
	VerticalFov   float64

	HomeAngles               locator.Vec2
	AngleXBounds             AngleBounds
	MotorSpeedX, MotorSpeedY uint8

	lastSeen         lastSeen
	searchState      SearchState
	movingTowardsMin bool
}

// New creates a Controller over driver. Call CalibrateFOV once the
// camera's resolution is known.
func New(driver *motor.Driver, homeAngles locator.Vec2, angleXBounds AngleBounds, speedX, speedY uint8, log *logging.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		driver:       driver,
		log:          log,
		metrics:      m,
		HomeAngles:   homeAngles,
		AngleXBounds: angleXBounds,
		MotorSpeedX:  speedX,
		MotorSpeedY:  speedY,
	}
}

// CalibrateFOV sets HorizontalFov/VerticalFov from the camera's active
// resolution: linear in resolution per spec.md §4.6.
func (c *Controller) CalibrateFOV(width, height int) {
	c.HorizontalFov = 44.8 * float64(width) / 1440
	c.VerticalFov = 34.6 * float64(height) / 1080
}

// SearchState reports the FSM's current state, for status/metrics.
func (c *Controller) SearchState() SearchState {
	return c.searchState
}

// InitializeGuidance activates the motors then applies the configured
// speeds (spec.md §4.6).
func (c *Controller) InitializeGuidance(ctx context.Context) error {
	if err := c.driver.Activate(ctx); err != nil {
		return err
	}
	return c.driver.SetSpeeds(ctx, c.MotorSpeedX, c.MotorSpeedY)
}

// UninitializeGuidance deactivates the motors.
func (c *Controller) UninitializeGuidance(ctx context.Context) error {
	return c.driver.Deactivate(ctx)
}

// ShouldGuide reports whether the frame pipeline should invoke GuideTo
// for the given frame index, per the skip policy in spec.md §4.6: only
// frames where index % (framesToSkip + 1) == 0.
func ShouldGuide(index uint64, framesToSkip int) bool {
	if framesToSkip < 0 {
		framesToSkip = 0
	}
	return index%uint64(framesToSkip+1) == 0
}

// GuideTo implements the per-decision behavior table in spec.md §4.6.
func (c *Controller) GuideTo(ctx context.Context, decision locator.OfficerDecision) error {
	if !decision.Found {
		return c.stepSearch(ctx)
	}

	c.lastSeen = lastSeen{found: true, x: decision.Movement.X, y: decision.Movement.Y}
	c.resetSearch()

	if decision.ShouldMove {
		dx, dy := decision.Movement.X, decision.Movement.Y
		// Image +y is up; the motor's +y is down, hence the negation.
		return c.driver.RelMoveAsync(ctx, dx*c.HorizontalFov/2, -dy*c.VerticalFov/2)
	}
	return c.driver.RelMoveAsync(ctx, 0, 0)
}

func (c *Controller) resetSearch() {
	c.searchState = NotSearching
	if c.metrics != nil {
		c.metrics.SearchState.Set(float64(c.searchState))
	}
}

func (c *Controller) setSearchState(s SearchState) {
	c.searchState = s
	if c.metrics != nil {
		c.metrics.SearchState.Set(float64(s))
	}
}

// stepSearch advances the search FSM by exactly one found=false call.
func (c *Controller) stepSearch(ctx context.Context) error {
	switch c.searchState {
	case NotSearching:
		c.setSearchState(CheckingLastSeen)
		return c.checkLastSeen(ctx)

	case CheckingLastSeen:
		if _, ok := c.driver.TryReadMessage(); ok {
			c.setSearchState(Circling)
			return c.moveToMin(ctx)
		}
		return nil

	case Circling:
		if _, ok := c.driver.TryReadMessage(); ok {
			if c.movingTowardsMin {
				return c.moveToMax(ctx)
			}
			return c.moveToMin(ctx)
		}
		return nil
	}
	return nil
}

// checkLastSeen implements spec.md §4.6's CheckLastSeen action: return
// to the last place the officer was seen, or go straight to circling
// if nothing was ever recorded.
func (c *Controller) checkLastSeen(ctx context.Context) error {
	if c.lastSeen.found {
		x, y := c.lastSeen.x, c.lastSeen.y
		c.lastSeen.found = false
		return c.driver.AbsMoveSync(ctx, x*c.HorizontalFov, y*c.VerticalFov)
	}
	c.setSearchState(Circling)
	return c.moveToMin(ctx)
}

func (c *Controller) moveToMin(ctx context.Context) error {
	c.movingTowardsMin = true
	return c.driver.AbsMoveSync(ctx, c.AngleXBounds.Min, c.HomeAngles.Y)
}

func (c *Controller) moveToMax(ctx context.Context) error {
	c.movingTowardsMin = false
	return c.driver.AbsMoveSync(ctx, c.AngleXBounds.Max, c.HomeAngles.Y)
}
