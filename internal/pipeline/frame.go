// Package pipeline implements the frame fan-out pipeline: a single
// producer (the live-feed task) pulls frames from a CameraAdapter and
// dispatches each one to a dynamic set of registered callbacks under a
// mutation-safe registration discipline (spec.md §4.3).
package pipeline

import "context"

// DetectionBox is one object-detection bounding box embedded in a frame,
// in pixel coordinates as delivered; Clamp fits it into the frame's
// pixel bounds (the locator does this before selecting a box).
type DetectionBox struct {
	ClassID      int16
	Confidence   float32
	TopLeftX     int
	TopLeftY     int
	BottomRightX int
	BottomRightY int
}

// Clamp returns a copy of b with its rectangle clamped into
// [0, maxX] x [0, maxY], guaranteeing 0 <= tl <= br <= max.
func (b DetectionBox) Clamp(maxX, maxY int) DetectionBox {
	clamp := func(v, max int) int {
		if v < 0 {
			return 0
		}
		if v > max {
			return max
		}
		return v
	}
	out := b
	out.TopLeftX = clamp(b.TopLeftX, maxX)
	out.TopLeftY = clamp(b.TopLeftY, maxY)
	out.BottomRightX = clamp(b.BottomRightX, maxX)
	out.BottomRightY = clamp(b.BottomRightY, maxY)
	if out.BottomRightX < out.TopLeftX {
		out.BottomRightX = out.TopLeftX
	}
	if out.BottomRightY < out.TopLeftY {
		out.BottomRightY = out.TopLeftY
	}
	return out
}

// CenterX returns the horizontal pixel center of the box.
func (b DetectionBox) CenterX() float64 {
	return float64(b.TopLeftX+b.BottomRightX) / 2.0
}

// CenterY returns the vertical pixel center of the box.
func (b DetectionBox) CenterY() float64 {
	return float64(b.TopLeftY+b.BottomRightY) / 2.0
}

// Frame is one RGB8 image pulled from the camera, carrying whatever
// detections the machine-vision SDK embedded in it. A Frame is owned by
// the pipeline for the duration of one fan-out; consumers that need to
// retain pixel data past their callback must Clone it.
type Frame struct {
	Index      uint64
	Width      int
	Height     int
	Pix        []byte // RGB8, row-major, 3 bytes/pixel
	Detections []DetectionBox
}

// Clone returns a deep copy of the frame's pixel buffer and detections,
// safe to retain beyond the callback that received it.
func (f Frame) Clone() Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	dets := make([]DetectionBox, len(f.Detections))
	copy(dets, f.Detections)
	return Frame{Index: f.Index, Width: f.Width, Height: f.Height, Pix: pix, Detections: dets}
}

// At returns the RGB triple at (x, y). Callers are responsible for
// bounds-checking; it is a programmer error to call this out of range.
func (f Frame) At(x, y int) (r, g, b byte) {
	i := (y*f.Width + x) * 3
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// CameraAdapter is the seam to the machine-vision SDK (out of scope per
// spec.md §1 — the concrete binding is an external collaborator). The
// pipeline's live-feed task drives this interface exclusively.
type CameraAdapter interface {
	// NextFrame blocks until a frame is available or timeout elapses.
	// A timeout is reported via ctx's deadline being exceeded.
	NextFrame(ctx context.Context) (Frame, error)

	// FindDevices lists the serials of currently discoverable cameras.
	FindDevices(ctx context.Context) ([]string, error)

	// Reset power-cycles the underlying device (e.g. DeviceReset()).
	Reset(ctx context.Context) error

	// Reconnect re-initializes the connection to the named serial.
	Reconnect(ctx context.Context, serial string) error

	SetFrameWidth(width int) error
	SetFrameHeight(height int) error
	SetFrameRate(hz float64) error
	SetFilter(filter string) error
}
