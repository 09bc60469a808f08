// Package recorder implements Recorder (spec.md §4.8): an AddFrame
// sink that buffers frames off the critical path and drains them onto
// disk as an MJPEG-encoded AVI, the way the original Recorder class
// buffered cv::Mat frames into a background-threaded VideoWriter.
package recorder

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"
	"sync/atomic"

	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/metrics"
	"github.com/arobi/officer-rig/internal/pipeline"
)

// frameBuffer bounds how many frames may queue for encoding before
// AddFrame starts dropping, so a slow disk never backs up the frame
// pipeline's dispatch loop.
const frameBuffer = 32

// jpegQuality matches the orbital/hal Camera.encodeJPEG default.
const jpegQuality = 85

// Recorder buffers pipeline.Frame values and drains them into an
// MJPEG AVI file on a background goroutine.
type Recorder struct {
	log     *logging.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	recording atomic.Bool
	frames    chan pipeline.Frame
	done      chan struct{}
	file      *os.File
	writer    *aviWriter
}

// New creates an idle Recorder. Call StartRecording to begin writing.
func New(log *logging.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{log: log, metrics: m}
}

// IsRecording reports whether a file is currently open for writing.
func (r *Recorder) IsRecording() bool {
	return r.recording.Load()
}

// StartRecording opens fileName and begins draining frames into it at
// the given resolution/frame rate. No-op if already recording.
func (r *Recorder) StartRecording(fileName string, width, height, fps int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording.Load() {
		return nil
	}

	f, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("recorder: create %s: %w", fileName, err)
	}
	w, err := newAVIWriter(f, width, height, fps)
	if err != nil {
		f.Close()
		return fmt.Errorf("recorder: init AVI writer: %w", err)
	}

	r.file = f
	r.writer = w
	r.frames = make(chan pipeline.Frame, frameBuffer)
	r.done = make(chan struct{})
	r.recording.Store(true)

	go r.drain(r.frames, r.done)
	r.log.Log("recording started: "+fileName, logging.Recording)
	return nil
}

// StopRecording stops draining and finalizes the AVI file. No-op if
// not currently recording.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording.Load() {
		return nil
	}
	r.recording.Store(false)
	close(r.frames)
	<-r.done
	r.log.Log("recording stopped", logging.Recording)
	return nil
}

// AddFrame enqueues frame for encoding. A frame is dropped, rather than
// blocking the caller, if the encode queue is full.
func (r *Recorder) AddFrame(frame pipeline.Frame) {
	if !r.recording.Load() {
		return
	}
	select {
	case r.frames <- frame.Clone():
	default:
		if r.metrics != nil {
			r.metrics.FramesDropped.WithLabelValues("recorder_backpressure").Inc()
		}
	}
}

// Callback adapts AddFrame to pipeline.Callback, so a Recorder can be
// registered directly on a FramePipeline.
func (r *Recorder) Callback() pipeline.Callback {
	return func(frame pipeline.Frame) { r.AddFrame(frame) }
}

func (r *Recorder) drain(frames <-chan pipeline.Frame, done chan struct{}) {
	defer close(done)
	for frame := range frames {
		jpegBytes, err := encodeJPEG(frame)
		if err != nil {
			r.log.Log("recorder: encode frame: "+err.Error(), logging.Recording|logging.Error)
			continue
		}
		if err := r.writer.AddFrame(jpegBytes); err != nil {
			r.log.Log("recorder: write frame: "+err.Error(), logging.Recording|logging.Error)
		}
	}
	if err := r.writer.Close(); err != nil {
		r.log.Log("recorder: close AVI: "+err.Error(), logging.Recording|logging.Error)
	}
	r.file.Close()
}

// frameImage adapts a pipeline.Frame to image.Image for image/jpeg,
// without copying its pixel buffer.
type frameImage struct {
	f pipeline.Frame
}

func (fi frameImage) ColorModel() color.Model { return color.RGBAModel }
func (fi frameImage) Bounds() image.Rectangle { return image.Rect(0, 0, fi.f.Width, fi.f.Height) }
func (fi frameImage) At(x, y int) color.Color {
	r, g, b := fi.f.At(x, y)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func encodeJPEG(frame pipeline.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frameImage{f: frame}, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
