// Package serial tails line-oriented text from a serial device, typically the
// trace UART of a microcontroller.
//
// A Port is opened from a Config and read by a LineReader, which splits the
// byte stream on the configured delimiter, trims each line and writes the
// non-blank ones to a sink. On Linux the port is driven with raw termios
// syscalls and a self-pipe so Close unblocks a pending read from any
// goroutine; other platforms go through go.bug.st/serial.
//
// Example usage:
//
//	cfg := serial.DefaultConfig()
//	cfg.Device = "/dev/ttyACM0"
//	port, err := serial.Open(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//
//	r := serial.NewLineReader(port, os.Stdout, serial.WithDelimiter(cfg.Delimiter))
//	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
package serial
