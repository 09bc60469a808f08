// Package locator implements OfficerLocator (spec.md §4.4): it turns a
// frame's embedded detection boxes into a single normalized movement
// decision using a two-region hysteresis policy, with the actual
// "which box is the officer" choice delegated to a pluggable
// BoxSelectionStrategy (spec.md §9 design note — this replaces the
// source's OfficerLocator/ConfidenceOfficerLocator/SmartOfficerLocator
// inheritance chain with composition).
package locator

import (
	"fmt"

	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/pipeline"
)

// Vec2 is a 2D vector, used both for pixel-space proportions and for
// the normalized [-1,+1]^2 movement offset.
type Vec2 struct {
	X float64
	Y float64
}

// Region classifies a detection's center against the locator's two
// frame-centered rectangles.
type Region int

const (
	None Region = iota
	Safe
	Target
)

// OfficerDecision is the per-frame output. Movement is meaningless
// when Found is false, and MotionController must not read it in that
// case (spec.md §8 invariant 4).
type OfficerDecision struct {
	Found      bool
	ShouldMove bool
	Movement   Vec2
}

// LocatorState is the hysteresis memory that persists across frames.
type LocatorState struct {
	IsTravelingToTarget bool
	LastRegion          Region
}

// BoxSelectionStrategy picks at most one box from the officer-class
// candidates already filtered by confidence and clamped to the frame.
// ConfidenceStrategy and HSVConfirmationStrategy are the two concrete
// strategies the core ships; callers may supply their own.
type BoxSelectionStrategy interface {
	Select(frame pipeline.Frame, boxes []pipeline.DetectionBox) (pipeline.DetectionBox, bool)
}

// OfficerLocator derives an OfficerDecision from a frame's detections.
type OfficerLocator struct {
	ClassID             int16
	ConfidenceThreshold float32

	TargetRegionProportion Vec2
	SafeRegionProportion   Vec2

	Strategy BoxSelectionStrategy

	log   *logging.Logger
	state LocatorState
}

// New creates an OfficerLocator for the given officer class, accepting
// all confidences by default (spec.md §4.4: ConfidenceThreshold
// defaults to 0, matching the source's OfficerLocator constructor).
func New(classID int16, strategy BoxSelectionStrategy, log *logging.Logger) *OfficerLocator {
	return &OfficerLocator{
		ClassID:  classID,
		Strategy: strategy,
		log:      log,
	}
}

// State returns the locator's current hysteresis memory.
func (l *OfficerLocator) State() LocatorState {
	return l.state
}

// Locate runs the per-frame pipeline described in spec.md §4.4: filter
// by class and confidence, clamp to frame bounds, delegate box
// selection to Strategy, normalize the chosen center, and apply the
// target/safe hysteresis rule.
func (l *OfficerLocator) Locate(frame pipeline.Frame) OfficerDecision {
	candidates := l.candidateBoxes(frame)
	l.log.Log(fmt.Sprintf("found %d bounding boxes", len(candidates)), logging.Officers)

	box, ok := l.Strategy.Select(frame, candidates)
	if !ok {
		return OfficerDecision{Found: false}
	}

	cx, cy := box.CenterX(), box.CenterY()
	region := l.regionOf(cx, cy, frame)

	shouldMove := l.applyHysteresis(region)

	xn := cx/(float64(frame.Width)/2) - 1
	yn := 1 - cy/(float64(frame.Height)/2)

	return OfficerDecision{
		Found:      true,
		ShouldMove: shouldMove,
		Movement:   Vec2{X: xn, Y: yn},
	}
}

// candidateBoxes filters the frame's detections to the officer class
// at or above ConfidenceThreshold, then clamps each into the frame's
// pixel bounds (spec.md §4.4 steps 1-2).
func (l *OfficerLocator) candidateBoxes(frame pipeline.Frame) []pipeline.DetectionBox {
	var out []pipeline.DetectionBox
	for _, d := range frame.Detections {
		if d.ClassID != l.ClassID || d.Confidence < l.ConfidenceThreshold {
			continue
		}
		out = append(out, d.Clamp(frame.Width-1, frame.Height-1))
	}
	return out
}

// regionOf classifies a pixel-space point against the target and safe
// rectangles, both centered on the frame.
func (l *OfficerLocator) regionOf(cx, cy float64, frame pipeline.Frame) Region {
	if isInRegion(cx, cy, l.TargetRegionProportion, frame) {
		return Target
	}
	if isInRegion(cx, cy, l.SafeRegionProportion, frame) {
		return Safe
	}
	return None
}

func isInRegion(cx, cy float64, proportion Vec2, frame pipeline.Frame) bool {
	w, h := float64(frame.Width), float64(frame.Height)
	left := (0.5 - proportion.X/2) * w
	right := (0.5 + proportion.X/2) * w
	top := (0.5 - proportion.Y/2) * h
	bottom := (0.5 + proportion.Y/2) * h
	return cx > left && cx < right && cy > top && cy < bottom
}

// applyHysteresis implements spec.md §4.4 step 7: enter "traveling"
// once the officer leaves both regions, stay traveling through Safe,
// and clear it only on reaching Target.
func (l *OfficerLocator) applyHysteresis(region Region) bool {
	switch region {
	case Target:
		l.state.IsTravelingToTarget = false
	case Safe:
		// Traveling state is unchanged: remains true if already
		// traveling, stays false if we arrived at Safe directly.
	case None:
		l.state.IsTravelingToTarget = true
	}
	l.state.LastRegion = region
	return l.state.IsTravelingToTarget
}
