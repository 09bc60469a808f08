package locator

import (
	"math"

	"github.com/arobi/officer-rig/internal/pipeline"
)

// ConfidenceStrategy selects the candidate box with maximum confidence,
// grounded on the source's ConfidenceOfficerLocator::GetDesiredOfficerLocation.
type ConfidenceStrategy struct{}

func (ConfidenceStrategy) Select(_ pipeline.Frame, boxes []pipeline.DetectionBox) (pipeline.DetectionBox, bool) {
	return bestByConfidence(boxes, func(pipeline.DetectionBox) bool { return true })
}

// HSVConfirmationStrategy additionally requires a minimum fraction of a
// candidate box's pixels to fall within an HSV range before it is
// eligible, grounded on the source's SmartOfficerLocator. MinHSV/MaxHSV
// use OpenCV's 8-bit HSV convention (H in [0,179], S and V in
// [0,255]); subsampling uses stride 10 in both axes, matching the
// source's `row/col += 10` scan.
type HSVConfirmationStrategy struct {
	MinHSV    [3]uint8
	MaxHSV    [3]uint8
	Threshold float64 // fraction of sampled pixels required in range; config.Default sets 0.15
}

const hsvSampleStride = 10

func (s HSVConfirmationStrategy) Select(frame pipeline.Frame, boxes []pipeline.DetectionBox) (pipeline.DetectionBox, bool) {
	return bestByConfidence(boxes, func(box pipeline.DetectionBox) bool {
		return s.fractionInRange(frame, box) >= s.Threshold
	})
}

// fractionInRange samples box's sub-rectangle on a stride-10 grid,
// converts each sample to HSV, and returns the fraction within
// [MinHSV, MaxHSV] inclusive on every channel.
func (s HSVConfirmationStrategy) fractionInRange(frame pipeline.Frame, box pipeline.DetectionBox) float64 {
	inRange, total := 0, 0
	for y := box.TopLeftY; y < box.BottomRightY; y += hsvSampleStride {
		for x := box.TopLeftX; x < box.BottomRightX; x += hsvSampleStride {
			r, g, b := frame.At(x, y)
			h, sat, v := rgbToHSV8(r, g, b)
			if h >= s.MinHSV[0] && h <= s.MaxHSV[0] &&
				sat >= s.MinHSV[1] && sat <= s.MaxHSV[1] &&
				v >= s.MinHSV[2] && v <= s.MaxHSV[2] {
				inRange++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(inRange) / float64(total)
}

// rgbToHSV8 converts an RGB8 pixel to OpenCV's 8-bit HSV convention:
// hue halved into [0,179], saturation and value scaled to [0,255].
func rgbToHSV8(r, g, b byte) (h, s, v uint8) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	max := math.Max(rf, math.Max(gf, bf))
	min := math.Min(rf, math.Min(gf, bf))
	delta := max - min

	var hue float64
	switch {
	case delta == 0:
		hue = 0
	case max == rf:
		hue = 60 * math.Mod((gf-bf)/delta, 6)
	case max == gf:
		hue = 60 * ((bf-rf)/delta + 2)
	default:
		hue = 60 * ((rf-gf)/delta + 4)
	}
	if hue < 0 {
		hue += 360
	}

	var sat float64
	if max != 0 {
		sat = delta / max
	}

	return uint8(hue / 2), uint8(sat * 255), uint8(max * 255)
}

// bestByConfidence returns the highest-confidence box among those
// satisfying eligible, matching both source strategies' "track the
// best box seen so far" loop.
func bestByConfidence(boxes []pipeline.DetectionBox, eligible func(pipeline.DetectionBox) bool) (pipeline.DetectionBox, bool) {
	var best pipeline.DetectionBox
	found := false
	for _, box := range boxes {
		if !eligible(box) {
			continue
		}
		if !found || box.Confidence > best.Confidence {
			best = box
			found = true
		}
	}
	return best, found
}
