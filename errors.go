package serial

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by Port.Read once the port has been closed.
	ErrClosed = errors.New("serial port closed")
	// ErrTimeout is returned by Port.Read when Config.ReadTimeout elapses without data.
	ErrTimeout = errors.New("serial read timeout")
	// ErrHangup is returned by Port.Read when the device goes away mid-stream.
	ErrHangup = errors.New("device hung up")

	errUnsupportedBaud = errors.New("unsupported baud rate")
)

// ConnectionError reports a device that could not be opened or configured:
// missing device, busy port, permission denied, not a terminal.
type ConnectionError struct {
	Device string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Device, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ReadError reports an I/O failure in the middle of the stream.
type ReadError struct {
	Device string
	Err    error
}

func (e *ReadError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("read: %v", e.Err)
	}
	return fmt.Sprintf("read %s: %v", e.Device, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
