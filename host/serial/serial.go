// Package serial opens the serial device carrying the register bridge.
package serial

import (
	"io"
	"time"
)

// Port is an open serial device.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data received but not read.
	Flush() error
}

// Bridge link defaults.
const (
	DefaultBaud        = 115200
	DefaultReadTimeout = 100 * time.Millisecond
)

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., "/dev/ttyMFD1", "/dev/ttyUSB0")
	Device string

	Baud int

	// ReadTimeout bounds a single read; zero blocks.
	ReadTimeout time.Duration
}

// DefaultConfig returns the bridge defaults for device.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: DefaultReadTimeout,
	}
}
