// Package logging provides the process-wide log handle used across the
// rig. Every subsystem is constructed with a *Logger rather than reaching
// for a package-global, but the flag-bitmap filtering semantics of the
// original controller are preserved: a message fires iff
// msg_flags & configured_flags != 0.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Flag is a bit in the log-flag bitmap. Multiple flags combine with OR.
type Flag uint32

const (
	Error Flag = 1 << iota
	Debug
	Information
	Frames
	Officers
	Movements
	Recording
	RawSerial
	DeviceSerial
	Acknowledge
	Locking
	Camera
	LED
	Commands
)

// Logger wraps a logrus.Logger with the configured flag bitmap.
type Logger struct {
	entry      *logrus.Logger
	configured Flag
}

// New creates a Logger writing JSON-formatted entries to the given
// output (os.Stdout by default) filtered by the configured flag bitmap.
func New(configured Flag, output *os.File) *Logger {
	if output == nil {
		output = os.Stdout
	}
	l := logrus.New()
	l.SetOutput(output)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	return &Logger{entry: l, configured: configured}
}

// SetConfigured changes the active flag bitmap at runtime.
func (lg *Logger) SetConfigured(flags Flag) {
	lg.configured = flags
}

// Log emits msg if any bit of flags is set in the configured bitmap.
func (lg *Logger) Log(msg string, flags Flag, fields ...logrus.Fields) {
	if lg == nil || lg.configured&flags == 0 {
		return
	}
	e := lg.entry.WithField("flags", uint32(flags))
	for _, f := range fields {
		e = e.WithFields(f)
	}
	if flags&Error != 0 {
		e.Error(msg)
	} else {
		e.Info(msg)
	}
}

// With returns a logrus entry pre-populated with fields, for call sites
// that want to chain .Debug()/.Warn() directly without bitmap filtering
// (reserved for unconditional startup/shutdown messages).
func (lg *Logger) With(fields logrus.Fields) *logrus.Entry {
	return lg.entry.WithFields(fields)
}

// Raw returns the underlying logrus.Logger for direct use (e.g. by
// third-party middleware that wants an io.Writer or logrus hook).
func (lg *Logger) Raw() *logrus.Logger {
	return lg.entry
}
