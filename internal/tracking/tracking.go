// Package tracking implements the begin/end-processing half of
// StartOfficerTracking/StopOfficerTracking (spec.md §6), adapted from
// the original ImageProcessor: a single live-feed callback that feeds
// the locator+motion loop and, per config, the recorder and display
// window.
package tracking

import (
	"context"
	"fmt"

	"github.com/arobi/officer-rig/internal/config"
	"github.com/arobi/officer-rig/internal/display"
	"github.com/arobi/officer-rig/internal/locator"
	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/motion"
	"github.com/arobi/officer-rig/internal/pipeline"
	"github.com/arobi/officer-rig/internal/recorder"
)

// Processor starts and stops one officer-tracking session: locating
// the subject, driving the motors, and optionally recording/displaying
// frames, all behind the single callback it registers on the pipeline.
type Processor struct {
	pipeline        *pipeline.FramePipeline
	locator         *locator.OfficerLocator
	motion          *motion.Controller
	recorder        *recorder.Recorder
	display         *display.Window
	cfg             config.ImageProcessingConfig
	framesToSkip    int
	frameWidth      int
	frameHeight     int
	recordFrameRate int
	log             *logging.Logger

	callbackKey  uint32
	processing   bool
	sessionIndex int
}

// New creates a Processor wired to the rig's shared components.
// recorder and display may be nil, in which case their config flags
// are treated as always-off. frameWidth/frameHeight/recordFrameRate
// size the AVI container the recorder opens on Start.
func New(p *pipeline.FramePipeline, loc *locator.OfficerLocator, mc *motion.Controller, rec *recorder.Recorder, win *display.Window, cfg config.ImageProcessingConfig, framesToSkip, frameWidth, frameHeight, recordFrameRate int, log *logging.Logger) *Processor {
	return &Processor{
		pipeline: p, locator: loc, motion: mc, recorder: rec, display: win,
		cfg: cfg, framesToSkip: framesToSkip,
		frameWidth: frameWidth, frameHeight: frameHeight, recordFrameRate: recordFrameRate,
		log: log,
	}
}

// IsProcessing reports whether a session is currently active.
func (p *Processor) IsProcessing() bool {
	return p.processing
}

// Start implements dispatch.Tracking: registers the callback, starts
// the motor guidance loop, and opens the recorder/display sinks the
// config calls for.
func (p *Processor) Start(ctx context.Context) error {
	if p.processing {
		return nil
	}

	if err := p.motion.InitializeGuidance(ctx); err != nil {
		return fmt.Errorf("tracking: initialize guidance: %w", err)
	}

	p.sessionIndex++
	if p.cfg.RecordFrames && p.recorder != nil {
		fileName := fmt.Sprintf("%d_OfficerFootage.avi", p.sessionIndex)
		if err := p.recorder.StartRecording(fileName, p.frameWidth, p.frameHeight, p.recordFrameRate); err != nil {
			return fmt.Errorf("tracking: start recording: %w", err)
		}
	}
	if p.cfg.DisplayFrames && p.display != nil {
		p.display.Show()
	}

	p.callbackKey = p.pipeline.RegisterNamed("tracker", p.onFrame(ctx))
	p.processing = true
	p.log.Log("tracking session started", logging.Information)
	return nil
}

// Stop implements dispatch.Tracking: unregisters the callback and
// closes the recorder/display sinks, then deactivates the motors.
func (p *Processor) Stop(ctx context.Context) error {
	if !p.processing {
		return nil
	}

	p.pipeline.Unregister(p.callbackKey)

	if p.cfg.RecordFrames && p.recorder != nil {
		if err := p.recorder.StopRecording(); err != nil {
			p.log.Log("tracking: stop recording: "+err.Error(), logging.Error)
		}
	}
	if p.cfg.DisplayFrames && p.display != nil {
		p.display.Close()
	}

	p.processing = false
	p.log.Log("tracking session stopped", logging.Information)
	return p.motion.UninitializeGuidance(ctx)
}

// onFrame returns the per-frame callback: locate, guide, then fan out
// to recorder/display per config.
func (p *Processor) onFrame(ctx context.Context) pipeline.Callback {
	return func(frame pipeline.Frame) {
		decision := p.locator.Locate(frame)
		if motion.ShouldGuide(frame.Index, p.framesToSkip) {
			if err := p.motion.GuideTo(ctx, decision); err != nil {
				p.log.Log("tracking: guide: "+err.Error(), logging.Error)
			}
		}

		if p.cfg.RecordFrames && p.recorder != nil {
			p.recorder.AddFrame(frame)
		}
		if p.cfg.DisplayFrames && p.display != nil {
			p.display.Update(frame)
		}
	}
}
