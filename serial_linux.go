package serial

import (
	"io"
	"math"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Port is an open serial device in raw 8N1 mode.
// Close may be called from any goroutine to unblock a pending Read.
type Port struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	config    Config
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
}

// Open opens a serial port using the provided Config.
// Any failure is returned as a *ConnectionError.
func Open(cfg Config) (*Port, error) {
	cfg = cfg.withDefaults()
	fail := func(err error) (*Port, error) {
		return nil, &ConnectionError{Device: cfg.Device, Err: err}
	}

	baud, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return fail(errors.Wrapf(errUnsupportedBaud, "%d", cfg.BaudRate))
	}

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK|syscall.O_CLOEXEC, 0666)
	if err != nil {
		return fail(errors.Wrap(err, "open"))
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return fail(errors.Wrap(err, "get termios"))
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		unix.Close(fd)
		return fail(errors.Wrap(err, "set termios"))
	}

	// Configuration is done, reads block from here on.
	if err := syscall.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return fail(errors.Wrap(err, "set blocking"))
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return fail(errors.Wrap(err, "pipe"))
	}

	return &Port{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), cfg.Device),
		done:   make(chan struct{}),
		config: cfg,
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
	}, nil
}

// Read blocks until data is available, the read timeout elapses (ErrTimeout),
// the device hangs up (ErrHangup) or the port is closed (ErrClosed).
func (s *Port) Read(p []byte) (int, error) {
	timeout := pollTimeout(s.config.ReadTimeout)
	for {
		select {
		case <-s.done:
			return 0, ErrClosed
		default:
		}
		pfd := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},
			{Fd: int32(s.pipeR), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfd, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "poll")
		}
		select {
		case <-s.done:
			return 0, ErrClosed
		default:
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			var b [1]byte
			unix.Read(s.pipeR, b[:])
			return 0, ErrClosed
		}
		if n == 0 {
			return 0, ErrTimeout
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			n, err := s.file.Read(p)
			// A raw tty with VMIN=1 only reads zero bytes, or fails with EIO, once the other end is gone.
			if n == 0 && (err == nil || err == io.EOF || errors.Is(err, unix.EIO)) {
				return 0, errors.Wrap(ErrHangup, s.config.Device)
			}
			return n, err
		}
	}
}

// Close closes the serial port and unblocks any pending Read.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *Port) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		// Wake up poll using self-pipe
		unix.Write(s.pipeW, []byte{1})
		err = s.file.Close()
		unix.Close(s.pipeR)
		unix.Close(s.pipeW)
	})
	return err
}

// pollTimeout converts d to poll(2) milliseconds: -1 blocks, values are
// rounded up to 1ms and clamped to the C int range.
func pollTimeout(d time.Duration) int {
	if d <= 0 {
		return -1
	}
	ms := d / time.Millisecond
	if ms == 0 {
		return 1
	}
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 1200:
		return unix.B1200, true
	case 2400:
		return unix.B2400, true
	case 4800:
		return unix.B4800, true
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	case 921600:
		return unix.B921600, true
	default:
		return 0, false
	}
}
