// OFFICER-RIG - Pan/Tilt Officer Tracking Rig
// Locates a uniformed officer in the live camera feed and steers the
// pan/tilt motors to keep them framed, relaying Handheld commands over
// a shared serial link with the motor controller.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arobi/officer-rig/internal/camera"
	"github.com/arobi/officer-rig/internal/commandbus"
	"github.com/arobi/officer-rig/internal/config"
	"github.com/arobi/officer-rig/internal/devicemux"
	"github.com/arobi/officer-rig/internal/dispatch"
	"github.com/arobi/officer-rig/internal/display"
	"github.com/arobi/officer-rig/internal/httpapi"
	"github.com/arobi/officer-rig/internal/locator"
	"github.com/arobi/officer-rig/internal/logging"
	"github.com/arobi/officer-rig/internal/metrics"
	"github.com/arobi/officer-rig/internal/motion"
	"github.com/arobi/officer-rig/internal/motor"
	"github.com/arobi/officer-rig/internal/pipeline"
	"github.com/arobi/officer-rig/internal/recorder"
	"github.com/arobi/officer-rig/internal/serial"
	"github.com/arobi/officer-rig/internal/statusled"
	"github.com/arobi/officer-rig/internal/tracking"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
	gitCommit = "unknown"

	configFile = flag.String("config", "", "Configuration file path (defaults built in if empty)")
	httpPort   = flag.Int("http-port", 0, "HTTP API port (overrides config)")

	simMode = flag.Bool("sim", false, "Simulation mode (no real hardware)")
)

// Rig bundles every subsystem needed to run one officer-tracking
// session end to end.
type Rig struct {
	cfg *config.Config
	log *logging.Logger

	link   serial.Link
	mux    *devicemux.DeviceMux
	bus    *commandbus.Bus
	driver *motor.Driver
	mc     *motion.Controller

	camSession *camera.Session
	pipeline   *pipeline.FramePipeline
	locator    *locator.OfficerLocator
	recorder   *recorder.Recorder
	display    *display.Window
	led        *statusled.StatusLED
	dispatcher *dispatch.Dispatcher
	tracking   *tracking.Processor

	registry   *prometheus.Registry
	httpServer *http.Server

	running bool
	mu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	flag.Parse()

	printBanner()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	rig := &Rig{ctx: ctx, cancel: cancel}

	if err := rig.Initialize(); err != nil {
		log.Fatalf("Failed to initialize OFFICER-RIG: %v", err)
	}

	if err := rig.Start(); err != nil {
		log.Fatalf("Failed to start OFFICER-RIG: %v", err)
	}

	log.Println("OFFICER-RIG is OPERATIONAL")
	log.Println("   Press Ctrl+C to shutdown")

	<-sigChan
	log.Println("Shutdown signal received, gracefully stopping...")

	if err := rig.Shutdown(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	log.Println("OFFICER-RIG shutdown complete")
}

func printBanner() {
	fmt.Println("================================================")
	fmt.Println(" OFFICER-RIG - Pan/Tilt Officer Tracking Rig")
	fmt.Printf(" version=%s build=%s commit=%s\n", version, buildTime, gitCommit)
	fmt.Println("================================================")
}

// Initialize wires every subsystem but starts nothing running yet.
func (r *Rig) Initialize() error {
	log.Println("Initializing OFFICER-RIG...")

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if *httpPort != 0 {
		cfg.HTTPPort = *httpPort
	}
	r.cfg = cfg

	r.log = logging.New(logging.Flag(cfg.LogFlags), nil)

	r.registry = prometheus.NewRegistry()
	m := metrics.New(r.registry)

	// 1. Serial link shared by Motors and Handheld (spec.md §2).
	log.Println("   Opening serial link...")
	if *simMode {
		r.link = serial.NewFakeLink()
	} else {
		link, err := serial.Open(cfg.HandheldSerial.Path, cfg.HandheldSerial.Baud)
		if err != nil {
			return fmt.Errorf("open serial link: %w", err)
		}
		r.link = link
	}
	r.mux = devicemux.New(r.link, r.log, m)
	r.bus = commandbus.New(r.mux)
	log.Println("   ✓ Serial link ready")

	// 2. Motors and motion guidance.
	log.Println("   Initializing motor driver...")
	pan := motor.AxisFromConfig(cfg.Motors.Pan)
	tilt := motor.AxisFromConfig(cfg.Motors.Tilt)
	r.driver = motor.New(r.mux, pan, tilt, r.log, m)
	r.mc = motion.New(
		r.driver,
		locator.Vec2{X: cfg.HomeAngles.X, Y: cfg.HomeAngles.Y},
		motion.AngleBounds{Min: cfg.AngleXBoundsMin, Max: cfg.AngleXBoundsMax},
		cfg.MotorSpeedX, cfg.MotorSpeedY,
		r.log, m,
	)
	log.Println("   ✓ Motor driver and motion controller ready")

	// 3. Camera and frame pipeline.
	log.Println("   Initializing camera session...")
	var adapter pipeline.CameraAdapter
	if *simMode {
		adapter = camera.NewFakeAdapter(cfg.Camera.Serial)
	} else {
		adapter = camera.NewHardwareAdapter(camera.HardwareConfig{
			Backend: "gige",
			Address: cfg.Camera.Serial,
		})
	}
	r.camSession = camera.New(adapter, cfg.Camera.Serial, r.log, m)
	r.pipeline = pipeline.New(adapter, r.camSession, r.log, m)
	r.mc.CalibrateFOV(cfg.Camera.Width, cfg.Camera.Height)
	log.Println("   ✓ Camera session ready")

	// 4. Officer locator.
	var strategy locator.BoxSelectionStrategy
	if cfg.Locator.UseHSVConfirmation {
		strategy = locator.HSVConfirmationStrategy{
			MinHSV:    cfg.Locator.MinHSV,
			MaxHSV:    cfg.Locator.MaxHSV,
			Threshold: cfg.Locator.OfficerThreshold,
		}
	} else {
		strategy = locator.ConfidenceStrategy{}
	}
	r.locator = locator.New(cfg.Locator.OfficerClassID, strategy, r.log)
	r.locator.ConfidenceThreshold = float32(cfg.Locator.ConfidenceThreshold)
	r.locator.TargetRegionProportion = locator.Vec2{
		X: cfg.Locator.TargetRegionProportionX,
		Y: cfg.Locator.TargetRegionProportionY,
	}
	r.locator.SafeRegionProportion = locator.Vec2{
		X: cfg.Locator.SafeRegionProportionX,
		Y: cfg.Locator.SafeRegionProportionY,
	}

	// 5. Recorder and display window.
	r.recorder = recorder.New(r.log, m)
	r.display = display.New("officer-rig", r.log)

	// 6. Status LED.
	log.Println("   Initializing status LED...")
	var ledTarget statusled.Target
	if *simMode || cfg.StatusLED.BrightnessFile == "" {
		ledTarget = noopLEDTarget{}
	} else {
		ledTarget = statusled.FileTarget{Path: cfg.StatusLED.BrightnessFile}
	}
	r.led = statusled.New(ledTarget, r.log)
	r.led.SetEnabled(cfg.StatusLED.Enabled)
	r.led.SetPhase(statusled.Booting)
	log.Println("   ✓ Status LED ready")

	// 7. Tracking session processor, gluing locator+motion+recorder+display.
	r.tracking = tracking.New(
		r.pipeline, r.locator, r.mc, r.recorder, r.display,
		cfg.ImageProcessing, cfg.CameraFramesToSkip,
		cfg.Camera.Width, cfg.Camera.Height, int(cfg.Camera.FrameRate),
		r.log,
	)

	// 8. Handheld command dispatch. ledTrackingAdapter keeps the LED's
	// flash count following the Tracking/WaitingForCommand phases that
	// StartOfficerTracking/StopOfficerTracking drive.
	r.dispatcher = dispatch.New(r.bus, r.driver, ledTrackingAdapter{proc: r.tracking, led: r.led}, r.log)

	// 9. HTTP API.
	router := httpapi.NewRouter(r.registry, r.status, http.HandlerFunc(r.display.ServeHTTP))
	r.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}

	log.Println("OFFICER-RIG initialization complete")
	return nil
}

// status assembles the /status JSON snapshot from live subsystem state.
func (r *Rig) status() any {
	return map[string]any{
		"processing":  r.tracking.IsProcessing(),
		"searchState": r.mc.SearchState().String(),
		"recording":   r.recorder.IsRecording(),
		"displayed":   r.display.IsShown(),
		"ledFlashing": r.led.IsFlashing(),
	}
}

// Start brings every background loop up: the camera connection, the
// live-feed pipeline, the device multiplexer, command dispatch, and
// the HTTP server.
func (r *Rig) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	if err := r.camSession.Connect(r.ctx); err != nil {
		return fmt.Errorf("connect camera: %w", err)
	}

	go r.mux.Run(r.ctx)
	r.pipeline.StartLiveFeed(r.ctx)

	go func() {
		if err := r.dispatcher.Run(r.ctx); err != nil {
			r.log.Log("dispatcher exited: "+err.Error(), logging.Error)
		}
	}()

	r.led.SetPhase(statusled.WaitingForCommand)

	go func() {
		log.Printf("HTTP API listening on %s", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.log.Log("http server: "+err.Error(), logging.Error)
		}
	}()

	r.running = true
	return nil
}

// Shutdown stops every background loop in reverse order and releases
// the serial link and camera connection.
func (r *Rig) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r.led.SetPhase(statusled.ShuttingDown)

	if err := r.tracking.Stop(shutdownCtx); err != nil {
		r.log.Log("stop tracking: "+err.Error(), logging.Error)
	}

	r.cancel()
	r.pipeline.StopLiveFeed()
	r.led.StopFlashing(true)
	r.camSession.Shutdown()

	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.log.Log("http server shutdown: "+err.Error(), logging.Error)
	}

	if err := r.link.Close(); err != nil {
		r.log.Log("close serial link: "+err.Error(), logging.Error)
	}

	r.running = false
	return nil
}

// noopLEDTarget discards brightness writes, used in simulation mode or
// when no brightness file is configured.
type noopLEDTarget struct{}

func (noopLEDTarget) SetBrightness(byte) error { return nil }

// ledTrackingAdapter wraps tracking.Processor so the status LED's
// flash count follows the Tracking/WaitingForCommand phase transitions
// that StartOfficerTracking/StopOfficerTracking drive, implementing
// dispatch.Tracking.
type ledTrackingAdapter struct {
	proc *tracking.Processor
	led  *statusled.StatusLED
}

func (a ledTrackingAdapter) Start(ctx context.Context) error {
	if err := a.proc.Start(ctx); err != nil {
		return err
	}
	a.led.SetPhase(statusled.Tracking)
	return nil
}

func (a ledTrackingAdapter) Stop(ctx context.Context) error {
	if err := a.proc.Stop(ctx); err != nil {
		return err
	}
	a.led.SetPhase(statusled.WaitingForCommand)
	return nil
}
