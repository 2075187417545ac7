package serial

import (
	"runtime"
	"time"
)

const (
	// DefaultBaudRate is the rate trace UARTs are usually run at.
	DefaultBaudRate = 9600
	// DefaultDelimiter terminates a line. A trailing '\r' is removed by trimming.
	DefaultDelimiter = "\n"
)

// DefaultDevice is the serial device used when none is given.
var DefaultDevice = defaultDevice(runtime.GOOS)

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device      string
	BaudRate    int
	Delimiter   string        // default "\n"
	ReadTimeout time.Duration // zero blocks until data arrives
}

// DefaultConfig returns the configuration serialtail runs with when no flags are given.
func DefaultConfig() Config {
	return Config{
		Device:    DefaultDevice,
		BaudRate:  DefaultBaudRate,
		Delimiter: DefaultDelimiter,
	}
}

// Device returns the path the port was opened from.
func (s *Port) Device() string { return s.config.Device }

// Delimiter returns the line terminator configured for the port.
func (s *Port) Delimiter() string { return s.config.Delimiter }

func (c Config) withDefaults() Config {
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Delimiter == "" {
		c.Delimiter = DefaultDelimiter
	}
	return c
}

func defaultDevice(goos string) string {
	switch goos {
	case "windows":
		return "COM1"
	case "darwin":
		return "/dev/cu.usbserial"
	case "freebsd", "openbsd", "netbsd":
		return "/dev/cuaU0"
	default:
		return "/dev/ttyUSB0"
	}
}
