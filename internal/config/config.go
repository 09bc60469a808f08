// Package config decodes the JSON settings file consumed at startup.
// Producing/editing that file (the calibration GUI) is out of scope;
// this is just the struct shape and the encoding/json decode of it,
// matching spec.md's "Settings (consumed, not specified)" section.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/arobi/officer-rig/internal/logging"
)

// SerialConfig describes one physical serial device.
type SerialConfig struct {
	Path string `json:"path"`
	Baud int    `json:"baud"`
}

// CameraConfig describes the camera connection and capture settings.
type CameraConfig struct {
	Serial      string  `json:"serial"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FrameRate   float64 `json:"frameRate"`
	Filter      string  `json:"filter"`
	BufferCount int     `json:"bufferCount"`
}

// Bounds is an inclusive [Min, Max] range.
type Bounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// MotorAxisConfig holds the angle/step mapping for one motor axis.
type MotorAxisConfig struct {
	AngleBounds Bounds `json:"angleBounds"`
	StepBounds  Bounds `json:"stepBounds"`
}

// MotorConfig holds both axes.
type MotorConfig struct {
	Pan  MotorAxisConfig `json:"pan"`
	Tilt MotorAxisConfig `json:"tilt"`
}

// HSVBound is a 3-channel HSV bound (hue, saturation, value).
type HSVBound [3]uint8

// LocatorConfig holds OfficerLocator parameters.
type LocatorConfig struct {
	OfficerClassID          int16    `json:"officerClassId"`
	ConfidenceThreshold     float64  `json:"confidenceThreshold"`
	TargetRegionProportionX float64  `json:"targetRegionProportionX"`
	TargetRegionProportionY float64  `json:"targetRegionProportionY"`
	SafeRegionProportionX   float64  `json:"safeRegionProportionX"`
	SafeRegionProportionY   float64  `json:"safeRegionProportionY"`
	UseHSVConfirmation      bool     `json:"useHsvConfirmation"`
	MinHSV                  HSVBound `json:"minHsv"`
	MaxHSV                  HSVBound `json:"maxHsv"`
	OfficerThreshold        float64  `json:"officerThreshold"`
}

// Vector2Config is a plain (x, y) pair read from JSON.
type Vector2Config struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// StatusLEDConfig configures the filesystem-backed status LED.
type StatusLEDConfig struct {
	BrightnessFile string `json:"brightnessFile"`
	Enabled        bool   `json:"enabled"`
}

// ImageProcessingConfig selects which consumers a tracking session
// feeds besides the locator/motion loop, which always runs.
type ImageProcessingConfig struct {
	RecordFrames  bool `json:"recordFrames"`
	DisplayFrames bool `json:"displayFrames"`
	ShowBoxes     bool `json:"showBoxes"`
}

// Config is the root settings document.
type Config struct {
	// HandheldSerial is the single physical serial link DeviceMux reads
	// and writes: both the Handheld and Motors logical peers share it,
	// distinguished by the header's device bit (spec.md §2). MotorSerial
	// is retained for settings-file compatibility but unused by the
	// multiplexer, which requires exactly one physical link.
	HandheldSerial     SerialConfig          `json:"handheldSerial"`
	MotorSerial        SerialConfig          `json:"motorSerial"`
	Camera             CameraConfig          `json:"camera"`
	Locator            LocatorConfig         `json:"locator"`
	Motors             MotorConfig           `json:"motors"`
	HomeAngles         Vector2Config         `json:"homeAngles"`
	AngleXBoundsMin    float64               `json:"angleXBoundsMin"`
	AngleXBoundsMax    float64               `json:"angleXBoundsMax"`
	MotorSpeedX        uint8                 `json:"motorSpeedX"`
	MotorSpeedY        uint8                 `json:"motorSpeedY"`
	StatusLED          StatusLEDConfig       `json:"statusLed"`
	LogFlags           uint32                `json:"logFlags"`
	CameraFramesToSkip int                   `json:"cameraFramesToSkip"`
	ImageProcessing    ImageProcessingConfig `json:"imageProcessing"`
	HTTPPort           int                   `json:"httpPort"`
}

// Load reads and decodes a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns a Config with conservative defaults, used when no
// config file is supplied (e.g. in tests or -sim mode).
func Default() *Config {
	return &Config{
		HandheldSerial: SerialConfig{Path: "/dev/ttyUSB0", Baud: 9600},
		MotorSerial:    SerialConfig{Path: "/dev/ttyUSB0", Baud: 9600},
		Camera: CameraConfig{
			Width: 1440, Height: 1080, FrameRate: 30, BufferCount: 4,
		},
		Locator: LocatorConfig{
			ConfidenceThreshold:     0,
			TargetRegionProportionX: 0.2, TargetRegionProportionY: 0.2,
			SafeRegionProportionX: 0.6, SafeRegionProportionY: 0.6,
			OfficerThreshold: 0.15,
			MaxHSV:           HSVBound{179, 255, 255},
		},
		Motors: MotorConfig{
			Pan:  MotorAxisConfig{AngleBounds: Bounds{Min: 0, Max: 359}, StepBounds: Bounds{Min: 0, Max: 4095}},
			Tilt: MotorAxisConfig{AngleBounds: Bounds{Min: -90, Max: 90}, StepBounds: Bounds{Min: 0, Max: 4095}},
		},
		AngleXBoundsMin: 0,
		AngleXBoundsMax: 359,
		MotorSpeedX:     127,
		MotorSpeedY:     127,
		LogFlags:        uint32(logging.Error | logging.Information),
		ImageProcessing: ImageProcessingConfig{RecordFrames: true, DisplayFrames: true},
		HTTPPort:        8080,
	}
}
