package serial

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// chunk is one scripted Read result.
type chunk struct {
	data string
	err  error
}

type scriptedReader struct {
	chunks []chunk
}

func (s *scriptedReader) Read(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return copy(p, c.data), c.err
}

// blockingReader blocks every Read until it is closed.
type blockingReader struct {
	closed chan struct{}
	once   sync.Once
}

func newBlockingReader() *blockingReader {
	return &blockingReader{closed: make(chan struct{})}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	<-b.closed
	return 0, ErrClosed
}

func (b *blockingReader) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, io.ErrClosedPipe }

func runLines(t *testing.T, input string, opts ...Option) (string, Stats) {
	t.Helper()
	var out bytes.Buffer
	r := NewLineReader(strings.NewReader(input), &out, opts...)
	require.NoError(t, r.Run(context.Background()))
	return out.String(), r.Stats()
}

func TestLineReader_TrimsAndSkipsBlank(t *testing.T) {
	out, st := runLines(t, "hello\r\n\r\n world \r\n")
	require.Equal(t, "hello\nworld\n", out)
	require.Equal(t, 2, st.Lines)
	require.Equal(t, 1, st.Blank)
	require.EqualValues(t, len("hello\r\n\r\n world \r\n"), st.Bytes)
}

func TestLineReader_EmptyStream(t *testing.T) {
	out, st := runLines(t, "")
	require.Empty(t, out)
	require.Zero(t, st.Lines)
}

func TestLineReader_Cases(t *testing.T) {
	tests := []struct {
		name  string
		input string
		delim string
		want  string
	}{
		{"only blank lines", "\n \n\t\r\n   \r\n", "", ""},
		{"embedded whitespace kept", "  a  b\tc  \n", "", "a  b\tc\n"},
		{"unterminated tail flushed at eof", "first\nsecond", "", "first\nsecond\n"},
		{"crlf delimiter", "one\r\ntwo\nstill two\r\n", "\r\n", "one\ntwo\nstill two\n"},
		{"multi byte delimiter split", "a;;b;;;;c", ";;", "a\nb\nc\n"},
		{"bare carriage returns", "x\ry\n", "", "x\ry\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, _ := runLines(t, tc.input, WithDelimiter(tc.delim))
			require.Equal(t, tc.want, out)
		})
	}
}

func TestLineReader_NeverEmitsBlankLines(t *testing.T) {
	inputs := []string{
		"\n\n\n",
		"a\n\nb\n \n",
		" \r\n\t\r\nz",
		strings.Repeat("line\n\n", 2000),
	}
	for _, in := range inputs {
		out, _ := runLines(t, in)
		if out == "" {
			continue
		}
		for _, l := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
			require.NotEmpty(t, l)
			require.Equal(t, strings.TrimSpace(l), l)
		}
	}
}

func TestLineReader_LineSplitAcrossReads(t *testing.T) {
	src := &scriptedReader{chunks: []chunk{
		{data: "hel"},
		{data: "lo\r"},
		{data: "\nwor"},
		{data: "ld\n"},
	}}
	var out bytes.Buffer
	require.NoError(t, NewLineReader(src, &out).Run(context.Background()))
	require.Equal(t, "hello\nworld\n", out.String())
}

func TestLineReader_TimeoutCompletesPartialLine(t *testing.T) {
	src := &scriptedReader{chunks: []chunk{
		{data: "prompt> "},
		{err: ErrTimeout},
		{err: ErrTimeout},
		{data: "next\n"},
	}}
	var out bytes.Buffer
	r := NewLineReader(src, &out)
	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, "prompt>\nnext\n", out.String())
	require.Equal(t, 2, r.Stats().Lines)
}

func TestLineReader_ReadError(t *testing.T) {
	boom := errors.New("input/output error")
	src := &scriptedReader{chunks: []chunk{
		{data: "partial\ncut"},
		{err: boom},
	}}
	var out bytes.Buffer
	err := NewLineReader(src, &out, WithDevice("/dev/ttyUSB0")).Run(context.Background())

	var rerr *ReadError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, "/dev/ttyUSB0", rerr.Device)
	require.ErrorIs(t, err, boom)
	require.Equal(t, "partial\n", out.String())
}

func TestLineReader_ClosedSourceEndsRun(t *testing.T) {
	src := &scriptedReader{chunks: []chunk{
		{data: "last words", err: ErrClosed},
	}}
	var out bytes.Buffer
	require.NoError(t, NewLineReader(src, &out).Run(context.Background()))
	require.Equal(t, "last words\n", out.String())
}

func TestLineReader_WriteError(t *testing.T) {
	err := NewLineReader(strings.NewReader("x\n"), failingWriter{}).Run(context.Background())
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestLineReader_CancelClosesSource(t *testing.T) {
	src := newBlockingReader()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- NewLineReader(src, io.Discard).Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for Run to return after cancel")
	}
	select {
	case <-src.closed:
	default:
		t.Fatal("source was not closed")
	}
}

func TestLineReader_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := NewLineReader(strings.NewReader("never\n"), &out).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, out.String())
}

func TestLineReader_MaxLineLength(t *testing.T) {
	src := &scriptedReader{chunks: []chunk{
		{data: "abcdef"},
		{data: "ghij"},
		{data: "k\nxy\n"},
	}}
	var out bytes.Buffer
	r := NewLineReader(src, &out, WithMaxLineLength(4))
	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, "abcd\nefgh\nijk\nxy\n", out.String())
}

func TestLineReader_MaxLineLengthDefault(t *testing.T) {
	long := strings.Repeat("z", DefaultMaxLineLength+10)
	out, st := runLines(t, long)
	require.Equal(t, strings.Repeat("z", DefaultMaxLineLength)+"\n"+strings.Repeat("z", 10)+"\n", out)
	require.Equal(t, 2, st.Lines)
}
