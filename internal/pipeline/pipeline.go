package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/metrics"
)

// acquireTimeout bounds a single NextFrame attempt (spec.md §4.3 step 1).
const acquireTimeout = 1 * time.Second

// PowerCycler is invoked by the live-feed task when frame acquisition
// times out or errors. Implemented by internal/camera's CameraSession,
// which owns the reconnect-and-reapply-settings sequence; the pipeline
// itself only needs to know "retry after this returns".
type PowerCycler interface {
	PowerCycle(ctx context.Context) error
}

// FramePipeline pulls frames from a CameraAdapter on a single
// background task and fans them out to registered callbacks in
// registration order, in strictly increasing frame-index order.
type FramePipeline struct {
	adapter  CameraAdapter
	cycler   PowerCycler
	registry *CallbackRegistry
	log      *logging.Logger
	metrics  *metrics.Metrics

	running  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a FramePipeline over adapter. cycler may be nil, in which
// case a timeout simply retries NextFrame without any reconnect step
// (useful for adapters, such as the in-memory fake, that never fail).
func New(adapter CameraAdapter, cycler PowerCycler, log *logging.Logger, m *metrics.Metrics) *FramePipeline {
	return &FramePipeline{
		adapter:  adapter,
		cycler:   cycler,
		registry: NewCallbackRegistry(),
		log:      log,
		metrics:  m,
	}
}

// Register adds a callback to the fan-out set and returns its key.
func (p *FramePipeline) Register(cb Callback) uint32 {
	return p.registry.Register(cb)
}

// RegisterNamed adds a callback under a human-readable name, used only
// to label its per-invocation duration metric (e.g. "tracker",
// "recorder", "display").
func (p *FramePipeline) RegisterNamed(name string, cb Callback) uint32 {
	return p.registry.RegisterNamed(name, cb)
}

// Unregister removes a callback. A no-op for an unknown key.
func (p *FramePipeline) Unregister(key uint32) {
	p.registry.Unregister(key)
}

// IsRunning reports whether the live-feed task is active.
func (p *FramePipeline) IsRunning() bool {
	return p.running.Load()
}

// StartLiveFeed launches the background live-feed task if not already
// running. Idempotent.
func (p *FramePipeline) StartLiveFeed(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.done = make(chan struct{})
	go p.runLiveFeed(ctx)
}

// StopLiveFeed signals the live-feed task to stop and waits for it to
// exit. Idempotent; there is no timeout on the join, matching spec.md
// §5 — the task is expected to observe the flag within one acquire
// attempt.
func (p *FramePipeline) StopLiveFeed() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	<-p.done
	p.stopOnce = sync.Once{}
}

func (p *FramePipeline) runLiveFeed(ctx context.Context) {
	defer close(p.done)
	var index uint64

	for p.running.Load() {
		acqCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
		frame, err := p.adapter.NextFrame(acqCtx)
		cancel()

		if err != nil {
			p.log.Log("frame acquisition failed, power-cycling", logging.Frames|logging.Error)
			if p.metrics != nil {
				p.metrics.FramesDropped.WithLabelValues("timeout").Inc()
			}
			if p.cycler != nil {
				if cycErr := p.cycler.PowerCycle(ctx); cycErr != nil {
					p.log.Log("power cycle failed: "+cycErr.Error(), logging.Frames|logging.Error)
				}
			}
			// Index is not incremented on a failed acquisition: the
			// next successful frame resumes at the same index.
			continue
		}

		frame.Index = index
		index++

		p.dispatch(frame)
	}
}

func (p *FramePipeline) dispatch(frame Frame) {
	if p.metrics != nil {
		p.metrics.FramesDispatched.Inc()
	}
	p.registry.Dispatch(frame, func(key uint32, name string, cb Callback) {
		start := time.Now()
		cb(frame)
		if p.metrics != nil {
			p.metrics.CallbackDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	})
}
