// Command serialtail prints the non-blank lines received on a serial device.
//
//	serialtail [flags] [device-path]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	serial "github.com/luhtfiimanal/serialtail"
	"github.com/luhtfiimanal/serialtail/internal/logging"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg := serial.DefaultConfig()

	fs := pflag.NewFlagSet("serialtail", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVarP(&cfg.BaudRate, "baud", "b", cfg.BaudRate, "baud rate")
	delim := fs.StringP("delimiter", "d", `\n`, `line terminator, \n \r \t escapes allowed`)
	fs.DurationVarP(&cfg.ReadTimeout, "timeout", "t", 0, "complete a partial line after this much silence (0 waits forever)")
	logLevel := fs.String("log-level", "warn", "diagnostic log level: debug, info, warn, error")
	logFile := fs.String("log-file", "", "also write diagnostics to this rotating JSON log")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: serialtail [flags] [device-path]\n\ndevice-path defaults to %s\n\n", serial.DefaultDevice)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "serialtail: %v\n", err)
		fs.Usage()
		return exitUsage
	}
	if fs.NArg() > 1 {
		fmt.Fprintf(stderr, "serialtail: too many arguments: %v\n", fs.Args())
		fs.Usage()
		return exitUsage
	}
	if fs.NArg() == 1 {
		cfg.Device = fs.Arg(0)
	}
	d, err := parseDelimiter(*delim)
	if err != nil {
		fmt.Fprintf(stderr, "serialtail: %v\n", err)
		return exitUsage
	}
	cfg.Delimiter = d
	if cfg.ReadTimeout < 0 {
		fmt.Fprintf(stderr, "serialtail: negative timeout %v\n", cfg.ReadTimeout)
		return exitUsage
	}

	log, closeLog, err := logging.New(logging.Config{
		Level:      *logLevel,
		Console:    stderr,
		File:       *logFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 7,
	})
	if err != nil {
		fmt.Fprintf(stderr, "serialtail: %v\n", err)
		return exitUsage
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return tail(ctx, cfg, stdout, stderr, log)
}

// tail owns the port for the duration of one run and maps the outcome to an exit code.
func tail(ctx context.Context, cfg serial.Config, stdout, stderr io.Writer, log *zap.Logger) int {
	port, err := serial.Open(cfg)
	if err != nil {
		log.Error("open failed", zap.String("device", cfg.Device), zap.Error(err))
		fmt.Fprintf(stderr, "serialtail: %v\n", err)
		return exitFatal
	}
	defer port.Close()
	log.Info("port opened", zap.String("device", cfg.Device), zap.Int("baud_rate", cfg.BaudRate))

	r := serial.NewLineReader(port, stdout, serial.WithLogger(log))
	err = r.Run(ctx)

	st := r.Stats()
	log.Debug("stopped",
		zap.Int("lines", st.Lines),
		zap.Int("blank", st.Blank),
		zap.Int64("bytes", st.Bytes))

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		log.Info("interrupted", zap.String("device", cfg.Device))
		return exitOK
	default:
		fmt.Fprintf(stderr, "serialtail: %v\n", err)
		return exitFatal
	}
}

func parseDelimiter(s string) (string, error) {
	d, err := strconv.Unquote(`"` + s + `"`)
	if err != nil {
		return "", errors.Wrapf(err, "delimiter %q", s)
	}
	if d == "" {
		return "", errors.New("delimiter must not be empty")
	}
	return d, nil
}
