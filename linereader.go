package serial

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	readBufferSize = 4096
	// DefaultMaxLineLength bounds an unterminated line before it is emitted as is.
	DefaultMaxLineLength = 64 * 1024
)

// Stats counts what a LineReader has seen so far.
type Stats struct {
	Lines int   // non-blank lines written to the sink
	Blank int   // lines dropped because they were empty after trimming
	Bytes int64 // raw bytes read from the source
}

// LineReader splits a byte stream into lines and writes every line that is
// non-empty after trimming to a sink, one per line.
type LineReader struct {
	src     io.Reader
	out     io.Writer
	delim   []byte
	maxLine int
	device  string
	log     *zap.Logger
	pending []byte
	line    []byte
	stats   Stats
}

// Option configures a LineReader.
type Option func(*LineReader)

// WithDelimiter sets the line terminator. Empty keeps the default "\n".
func WithDelimiter(delim string) Option {
	return func(r *LineReader) {
		if delim != "" {
			r.delim = []byte(delim)
		}
	}
}

// WithMaxLineLength sets how many bytes may accumulate without a delimiter
// before they are emitted as a line. Values below 1 keep the default.
func WithMaxLineLength(n int) Option {
	return func(r *LineReader) {
		if n > 0 {
			r.maxLine = n
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(r *LineReader) {
		if log != nil {
			r.log = log
		}
	}
}

// WithDevice names the source in returned errors.
func WithDevice(device string) Option {
	return func(r *LineReader) { r.device = device }
}

// NewLineReader returns a LineReader reading from src and writing to out.
// When src is a *Port its device name and delimiter are used unless
// overridden by opts.
func NewLineReader(src io.Reader, out io.Writer, opts ...Option) *LineReader {
	r := &LineReader{
		src:     src,
		out:     out,
		delim:   []byte(DefaultDelimiter),
		maxLine: DefaultMaxLineLength,
		log:     zap.NewNop(),
	}
	if p, ok := src.(*Port); ok {
		r.device = p.Device()
		if d := p.Delimiter(); d != "" {
			r.delim = []byte(d)
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats returns the counters collected so far.
func (r *LineReader) Stats() Stats { return r.stats }

// Run reads until the stream ends, the context is cancelled or an error occurs.
//
// If the source is an io.Closer it is closed when ctx is done, which unblocks
// a pending read; Run then returns ctx.Err(). End of stream and a source closed
// by its owner return nil after any unterminated trailing line is emitted.
// A read timeout (ErrTimeout) completes the pending partial line and reading
// continues. Any other read failure is returned as a *ReadError.
func (r *LineReader) Run(ctx context.Context) error {
	if c, ok := r.src.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.src.Read(buf)
		if n > 0 {
			r.stats.Bytes += int64(n)
			r.pending = append(r.pending, buf[:n]...)
			if werr := r.drain(); werr != nil {
				return werr
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case errors.Is(err, ErrTimeout):
			if werr := r.flush(); werr != nil {
				return werr
			}
		case errors.Is(err, io.EOF), errors.Is(err, ErrClosed):
			r.log.Debug("end of stream", zap.String("device", r.device), zap.Error(err))
			return r.flush()
		default:
			r.log.Error("read failed", zap.String("device", r.device), zap.Error(err))
			return &ReadError{Device: r.device, Err: err}
		}
	}
}

// drain emits every complete line in the pending buffer, then splits off
// maxLine-sized pieces of an overlong unterminated line.
func (r *LineReader) drain() error {
	rest := r.pending
	for {
		idx := bytes.Index(rest, r.delim)
		if idx < 0 {
			break
		}
		if err := r.emit(rest[:idx]); err != nil {
			return err
		}
		rest = rest[idx+len(r.delim):]
	}
	for len(rest) >= r.maxLine {
		r.log.Debug("line too long, emitting", zap.String("device", r.device), zap.Int("max", r.maxLine))
		if err := r.emit(rest[:r.maxLine]); err != nil {
			return err
		}
		rest = rest[r.maxLine:]
	}
	r.pending = r.pending[:copy(r.pending, rest)]
	return nil
}

// flush emits the unterminated partial line, if any.
func (r *LineReader) flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	err := r.emit(r.pending)
	r.pending = r.pending[:0]
	return err
}

func (r *LineReader) emit(raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		r.stats.Blank++
		return nil
	}
	r.line = append(r.line[:0], trimmed...)
	r.line = append(r.line, '\n')
	if _, err := r.out.Write(r.line); err != nil {
		return errors.Wrap(err, "write line")
	}
	r.stats.Lines++
	return nil
}
