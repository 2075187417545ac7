//go:build !linux

package serial

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	bugst "go.bug.st/serial"
)

// Port is an open serial device in 8N1 mode.
// Close may be called from any goroutine to unblock a pending Read.
type Port struct {
	port      bugst.Port
	done      chan struct{}
	closeOnce sync.Once
	config    Config
}

// Open opens a serial port using the provided Config.
// Any failure is returned as a *ConnectionError.
func Open(cfg Config) (*Port, error) {
	cfg = cfg.withDefaults()
	if cfg.BaudRate < 0 {
		return nil, &ConnectionError{Device: cfg.Device, Err: errors.Wrapf(errUnsupportedBaud, "%d", cfg.BaudRate)}
	}
	p, err := bugst.Open(cfg.Device, &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, &ConnectionError{Device: cfg.Device, Err: errors.Wrap(err, "open")}
	}
	if cfg.ReadTimeout > 0 {
		if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
			p.Close()
			return nil, &ConnectionError{Device: cfg.Device, Err: errors.Wrap(err, "set read timeout")}
		}
	}
	return &Port{port: p, done: make(chan struct{}), config: cfg}, nil
}

// Read blocks until data is available, the read timeout elapses (ErrTimeout),
// the device hangs up (ErrHangup) or the port is closed (ErrClosed).
func (s *Port) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	select {
	case <-s.done:
		return 0, ErrClosed
	default:
	}
	if n > 0 {
		return n, err
	}
	if err != nil && err != io.EOF {
		return 0, err
	}
	// Without a timeout a zero-byte read only happens once the device is gone.
	if err == io.EOF || s.config.ReadTimeout <= 0 {
		return 0, errors.Wrap(ErrHangup, s.config.Device)
	}
	return 0, ErrTimeout
}

// Close closes the serial port and unblocks any pending Read.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *Port) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.port.Close()
	})
	return err
}
