package sensorboard

import (
	"context"
	"sync"
	"time"

	"github.com/Station-Manager/types"
)

// Link runs the board side of the command protocol over an open serial
// port: one goroutine alternates draining the port through the Assembler
// with emitting periodic status reports. Commands are dispatched to the
// bound Handler from that goroutine.
type Link struct {
	port portHandle
	cfg  types.SerialConfig
	opts Options

	asm      *Assembler
	source   *portSource
	reporter *Reporter

	writeMu sync.Mutex

	closeCh chan struct{}
	doneCh  chan struct{}

	closed bool
	mu     sync.RWMutex

	statsMu sync.RWMutex
	stats   Stats
}

// Open opens a serial port with the given configuration and starts the
// protocol loop, dispatching parsed commands to handler.
func Open(cfg types.SerialConfig, handler Handler, opts Options) (*Link, error) {
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	p, err := openPort(cfg.PortName, portMode(&cfg))
	if err != nil {
		return nil, err
	}

	// The loop paces itself on the port's read timeout, so a blocking
	// default would stall shutdown.
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = opts.PollInterval
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		_ = p.Close()
		return nil, err
	}

	return newLink(p, cfg, handler, opts), nil
}

// newLink constructs a Link around an existing port handle.
func newLink(p portHandle, cfg types.SerialConfig, handler Handler, opts Options) *Link {
	opts = opts.withDefaults()

	l := &Link{
		port:    p,
		cfg:     cfg,
		opts:    opts,
		source:  newPortSource(p, readChunkPool),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if opts.Diagnostics {
		l.asm = NewAssembler(opts.LineCapacity, handler, linkDiag{l})
	} else {
		l.asm = NewAssembler(opts.LineCapacity, handler, nil)
	}

	if opts.ReportInterval > 0 {
		relays, _ := handler.(*RelayBank)
		l.reporter = NewReporter(opts.BoardName, relays)
	}

	go l.runLoop()

	return l
}

// linkDiag adapts the link's guarded write path to the io.Writer sink the
// assembler expects for parse-failure diagnostics.
type linkDiag struct {
	l *Link
}

func (d linkDiag) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.l.opts.PollInterval*10)
	defer cancel()
	if err := d.l.Write(ctx, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Write sends raw bytes out the port, honoring ctx between partial writes.
// The protocol loop uses it for reports and diagnostics; callers may use it
// for ad-hoc output.
func (l *Link) Write(ctx context.Context, data []byte) error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if len(data) == 0 {
		return nil
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	written := 0
	for written < len(data) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := l.port.Write(data[written:])
		if err != nil {
			return err
		}
		written += n
	}

	return nil
}

// Stats returns the protocol counters as of the last completed poll.
func (l *Link) Stats() Stats {
	l.statsMu.RLock()
	defer l.statsMu.RUnlock()
	return l.stats
}

// Close shuts down the protocol loop and closes the port. It is safe to
// call multiple times.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.closeCh)
	l.mu.Unlock()

	// Close the underlying port first to unblock any in-flight Read.
	err := l.port.Close()

	// Wait for the loop to finish cleanup.
	<-l.doneCh
	return err
}

// runLoop drains the port through the assembler and emits due reports.
// It exits on Close or on a port read error.
func (l *Link) runLoop() {
	defer close(l.doneCh)
	defer l.source.release()

	var nextReport time.Time
	if l.reporter != nil {
		nextReport = time.Now().Add(l.opts.ReportInterval)
	}

	for {
		select {
		case <-l.closeCh:
			return
		default:
		}

		// One fill per pass; a timed-out read yields zero bytes and
		// simply paces the loop.
		if _, err := l.source.fill(); err != nil {
			return
		}

		l.asm.Poll(l.source)

		l.statsMu.Lock()
		l.stats = l.asm.Stats()
		l.statsMu.Unlock()

		if l.reporter != nil && !time.Now().Before(nextReport) {
			l.emitReport()
			nextReport = time.Now().Add(l.opts.ReportInterval)
		}
	}
}

// emitReport writes one status line; failures are dropped, as a board
// cannot do anything else with them.
func (l *Link) emitReport() {
	line, err := l.reporter.Encode()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.PollInterval*10)
	defer cancel()
	_ = l.Write(ctx, line)
}
