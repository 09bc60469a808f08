// Package metrics exposes the rig's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the rig updates.
type Metrics struct {
	FramesDispatched  prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	CallbackDuration  *prometheus.HistogramVec
	MuxMessages       *prometheus.CounterVec
	MotorCommands     *prometheus.CounterVec
	MotorAcks         prometheus.Counter
	MotorFaults       prometheus.Counter
	SearchState       prometheus.Gauge
	CameraPowerCycles prometheus.Counter
	CameraConnected   prometheus.Gauge
}

// New registers and returns a fresh Metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry across repeated test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "officerrig", Subsystem: "pipeline", Name: "frames_dispatched_total",
			Help: "Frames dispatched to all registered callbacks.",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "officerrig", Subsystem: "pipeline", Name: "frames_dropped_total",
			Help: "Frame acquisition attempts that did not produce a frame.",
		}, []string{"reason"}),
		CallbackDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "officerrig", Subsystem: "pipeline", Name: "callback_duration_seconds",
			Help:    "Time spent inside a single registered callback.",
			Buckets: prometheus.DefBuckets,
		}, []string{"callback"}),
		MuxMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "officerrig", Subsystem: "devicemux", Name: "messages_total",
			Help: "Messages gathered from the serial link, by device.",
		}, []string{"device"}),
		MotorCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "officerrig", Subsystem: "motor", Name: "commands_total",
			Help: "Motor commands written, by kind.",
		}, []string{"kind"}),
		MotorAcks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "officerrig", Subsystem: "motor", Name: "acks_total",
			Help: "Ack sentinels received from the motor.",
		}),
		MotorFaults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "officerrig", Subsystem: "motor", Name: "faults_total",
			Help: "Fault markers received from the motor.",
		}),
		SearchState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "officerrig", Subsystem: "motion", Name: "search_state",
			Help: "Current search FSM state (0=NotSearching, 1=CheckingLastSeen, 2=Circling).",
		}),
		CameraPowerCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "officerrig", Subsystem: "camera", Name: "power_cycles_total",
			Help: "Camera power-cycle sequences performed.",
		}),
		CameraConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "officerrig", Subsystem: "camera", Name: "connected",
			Help: "1 if the camera is currently connected, 0 otherwise.",
		}),
	}
}
