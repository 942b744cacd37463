package sensorboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Station-Manager/config"
	"github.com/Station-Manager/logging"
	"github.com/Station-Manager/types"
	"go.uber.org/atomic"
)

const (
	ServiceName = "sensorboard"

	// MaxBufferSize defines the maximum allowed buffer size for Write
	// operations. Board traffic is line-oriented and small; 64KB leaves
	// generous headroom while preventing excessive allocation.
	MaxBufferSize = 64 * 1024 // 64KB
)

// writeOperation represents a queued write operation
type writeOperation struct {
	data     []byte
	ctx      context.Context
	resultCh chan writeResult
}

// writeResult holds the result of a write operation
type writeResult struct {
	n   int
	err error
}

// Service is the DI-managed variant of the board link: configuration and
// logging are injected, the port is opened from the shared serial config,
// and Run drives the protocol loop until shutdown. Outbound writes from any
// goroutine funnel through a single queue processor so the port never sees
// interleaved writes.
type Service struct {
	LoggerService *logging.Service `di.inject:"logger"`
	ConfigService *config.Service  `di.inject:"config"`

	// Handler receives parsed commands. If nil when Initialize runs, a
	// RelayBank is created and used, reachable via Relays.
	Handler Handler

	// Opts holds the protocol knobs. Zero value selects defaults.
	Opts Options

	Config      *types.SerialConfig
	initialized atomic.Bool
	isOpen      atomic.Bool
	handle      portHandle
	mu          sync.RWMutex

	relays   *RelayBank
	asm      *Assembler
	source   *portSource
	reporter *Reporter

	// Write queue for serial write operations
	writeQueue chan *writeOperation
	queueOnce  sync.Once
	queueDone  chan struct{}

	// Queue management mutex - protects writeQueue access during
	// initialization/cleanup
	queueMu     sync.RWMutex
	queueClosed atomic.Bool

	closeOnce      sync.Once
	queueCloseOnce sync.Once

	// Goroutine coordination
	writeGoroutineDone chan struct{}
	writeGoroutineOnce sync.Once

	// Metrics
	metrics            *Metrics
	metricsEnabled     atomic.Bool
	metricsBroadcaster *MetricsBroadcaster

	// Config synchronization - protects Config pointer and related fields
	configMu sync.RWMutex

	// Initialization synchronization - ensures Initialize() runs only once
	initOnce sync.Once
	initErr  error
}

// Initialize prepares the service. It is safe to call concurrently; the
// first call does the work and every call returns its result.
func (p *Service) Initialize() (err error) {
	p.initOnce.Do(func() {
		p.initErr = p.doInitialize()
	})
	return p.initErr
}

func (p *Service) doInitialize() (err error) {
	if p.initialized.Load() {
		return nil
	}

	defer func() {
		if err != nil {
			if p.metrics != nil {
				p.metrics.InitializationErrors.Add(1)
			}
		} else {
			p.initialized.Store(true)
		}
	}()

	p.metrics = &Metrics{}
	p.metricsEnabled.Store(true)

	if p.ConfigService == nil {
		p.metrics.InitializationErrors.Add(1)
		return errors.New("application config has not been set/injected")
	}
	if p.LoggerService == nil {
		p.metrics.InitializationErrors.Add(1)
		return errors.New("logger has not been set/injected")
	}

	cfg, err := p.serialPortConfig()
	if err != nil {
		p.metrics.ConfigurationErrors.Add(1)
		return fmt.Errorf("getting serial port config: %w", err)
	}
	p.setConfigSafe(cfg)

	if err = ValidateConfig(cfg); err != nil {
		p.metrics.ConfigurationErrors.Add(1)
		return fmt.Errorf("invalid serial port configuration: %w", err)
	}

	p.Opts = p.Opts.withDefaults()
	if err = p.Opts.validate(); err != nil {
		p.metrics.ConfigurationErrors.Add(1)
		return fmt.Errorf("invalid protocol options: %w", err)
	}

	if p.Handler == nil {
		p.relays = NewRelayBank()
		p.Handler = p.relays
	} else if rb, ok := p.Handler.(*RelayBank); ok {
		p.relays = rb
	}

	if p.Opts.Diagnostics {
		p.asm = NewAssembler(p.Opts.LineCapacity, p.Handler, serviceDiag{p})
	} else {
		p.asm = NewAssembler(p.Opts.LineCapacity, p.Handler, nil)
	}
	if p.Opts.ReportInterval > 0 {
		p.reporter = NewReporter(p.Opts.BoardName, p.relays)
	}

	p.queueDone = make(chan struct{})
	p.writeGoroutineDone = make(chan struct{})

	return nil
}

// Relays returns the relay bank the default handler mutates, or nil when a
// custom handler was bound.
func (p *Service) Relays() *RelayBank {
	return p.relays
}

// Open opens the configured serial port.
func (p *Service) Open() (err error) {
	if !p.initialized.Load() {
		if p.metrics != nil {
			p.metrics.ConnectionFailures.Add(1)
		}
		return ErrNotInitialized
	}

	p.metrics.ConnectionAttempts.Add(1)

	if p.isOpen.Load() {
		p.mu.RLock()
		handleExists := p.handle != nil
		p.mu.RUnlock()

		if handleExists {
			return nil
		}
		// Handle is nil but flag says open - reset state and continue
		p.isOpen.Store(false)
	}

	if p.isConfigNil() {
		p.metrics.ConfigurationErrors.Add(1)
		return errors.New("serial config has not been set/injected")
	}

	var portName string
	var readTimeout time.Duration
	var dtr, rts bool

	err = p.withConfigLock(func(cfg *types.SerialConfig) error {
		// Re-validate in case the config was modified after Initialize()
		if err := ValidateConfig(cfg); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		portName = cfg.PortName
		readTimeout = cfg.ReadTimeout
		dtr = cfg.DTR
		rts = cfg.RTS
		return nil
	})
	if err != nil {
		p.metrics.ConfigurationErrors.Add(1)
		return err
	}

	ok, listErr := isPortAvailable(portName)
	if listErr != nil {
		p.metrics.ConnectionFailures.Add(1)
		return fmt.Errorf("listing ports: %w", listErr)
	}
	if !ok {
		p.metrics.PortValidationErrors.Add(1)
		p.metrics.ConnectionFailures.Add(1)
		return ErrInvalidPortName
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check state under write lock in case another goroutine
	// changed it
	if p.isOpen.Load() && p.handle != nil {
		return nil
	}

	mode := portMode(p.getConfigSafeCopy())
	if p.handle, err = openPort(portName, mode); err != nil {
		p.metrics.ConnectionFailures.Add(1)
		p.metrics.HardwareErrors.Add(1)
		return fmt.Errorf("opening serial port: %w", err)
	}

	// The run loop paces itself on the read timeout.
	if readTimeout <= 0 {
		readTimeout = p.Opts.PollInterval
	}
	if err = p.handle.SetReadTimeout(readTimeout); err != nil {
		return p.handleOpenError(err)
	}
	if err = p.handle.SetDTR(dtr); err != nil {
		return p.handleOpenError(err)
	}
	if err = p.handle.SetRTS(rts); err != nil {
		return p.handleOpenError(err)
	}

	p.source = newPortSource(p.handle, readChunkPool)

	p.isOpen.Store(true)
	p.metrics.SuccessfulConnects.Add(1)
	p.metrics.LastConnectTime.Store(time.Now().Unix())
	p.metrics.ConnectionStartTime.Store(time.Now().UnixNano())

	return nil
}

// Run drives the protocol loop until shutdown is closed. Each pass drains
// whatever the port has, dispatches completed lines, mirrors the counters
// into metrics and emits a due status report. It never blocks longer than
// the port read timeout.
func (p *Service) Run(shutdown <-chan struct{}) error {
	if !p.initialized.Load() {
		return ErrNotInitialized
	}
	if !p.isOpen.Load() {
		return ErrPortNotOpen
	}

	p.LoggerService.DebugWith().Str("port", p.getPortName()).Msg("board protocol loop starting")

	var nextReport time.Time
	if p.reporter != nil {
		nextReport = time.Now().Add(p.Opts.ReportInterval)
	}

	for {
		select {
		case <-shutdown:
			return nil
		default:
		}

		if err := p.pollOnce(); err != nil {
			if !p.isOpen.Load() {
				// Close raced the read; a shut-down loop is not an error.
				return nil
			}
			p.metrics.ReadErrors.Add(1)
			return fmt.Errorf("reading serial port: %w", err)
		}

		if p.reporter != nil && !time.Now().Before(nextReport) {
			p.emitReport()
			nextReport = time.Now().Add(p.Opts.ReportInterval)
		}
	}
}

// pollOnce fills the source with at most one port read and lets the
// assembler drain it.
func (p *Service) pollOnce() error {
	p.mu.RLock()
	source := p.source
	open := p.isOpen.Load() && p.handle != nil
	p.mu.RUnlock()

	if !open || source == nil {
		return ErrPortNotOpen
	}

	if _, err := source.fill(); err != nil {
		return err
	}

	p.asm.Poll(source)
	p.metrics.setProtocolStats(p.asm.Stats())
	return nil
}

// emitReport queues one status line on the write path.
func (p *Service) emitReport() {
	line, err := p.reporter.Encode()
	if err != nil {
		return
	}
	if _, err = p.Write(line); err != nil {
		p.LoggerService.DebugWith().Err(err).Msg("status report write failed")
		return
	}
	p.metrics.ReportsSent.Add(1)
}

// serviceDiag routes assembler diagnostics through the write queue.
type serviceDiag struct {
	p *Service
}

func (d serviceDiag) Write(b []byte) (int, error) {
	return d.p.Write(b)
}

// Close shuts down the write queue and closes the port. Safe to call
// multiple times and from multiple goroutines.
func (p *Service) Close() error {
	if !p.initialized.Load() {
		return ErrNotInitialized
	}

	// Immediately mark as closed so pending operations see the state.
	p.isOpen.Store(false)
	p.queueClosed.Store(true)

	p.queueCloseOnce.Do(func() {
		if p.queueDone != nil {
			close(p.queueDone)
		}

		p.queueMu.RLock()
		goroutineDone := p.writeGoroutineDone
		p.queueMu.RUnlock()

		if goroutineDone != nil {
			select {
			case <-goroutineDone:
			case <-time.After(100 * time.Millisecond):
				// Timeout waiting for goroutine, proceed anyway
			}
		}

		p.queueMu.Lock()
		if p.writeQueue != nil {
			close(p.writeQueue)
			p.writeQueue = nil
		}
		p.queueMu.Unlock()
	})

	var closeErr error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.metrics != nil {
			startTime := p.metrics.ConnectionStartTime.Load()
			if startTime > 0 {
				p.metrics.TotalUptime.Add(time.Now().UnixNano() - startTime)
			}
			p.metrics.Disconnections.Add(1)
			p.metrics.LastDisconnectTime.Store(time.Now().Unix())
		}

		closeErr = p.closeWithoutLock()
	})

	return closeErr
}

// Write queues data for the port, waiting up to the configured write
// timeout (or indefinitely when none is configured).
func (p *Service) Write(b []byte) (int, error) {
	if !p.initialized.Load() {
		return 0, ErrNotInitialized
	}

	timeout := p.getWriteTimeout()
	if timeout <= 0 {
		return p.WriteWithContext(context.Background(), b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := p.WriteWithContext(ctx, b)
	if errors.Is(err, context.DeadlineExceeded) {
		err = ErrWriteTimeout
	}
	return n, err
}

// WriteWithContext queues data for the port with caller-controlled
// cancellation.
func (p *Service) WriteWithContext(ctx context.Context, b []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			// Recovered from a send to a closed queue during shutdown.
			n, err = 0, ErrPortNotOpen
		}
		if err != nil && p.metricsEnabled.Load() && p.metrics != nil {
			p.metrics.WriteErrors.Add(1)
		}
	}()

	if !p.initialized.Load() {
		return 0, ErrNotInitialized
	}
	if err = p.validateBuffer(b); err != nil {
		return 0, err
	}

	p.queueOnce.Do(p.initWriteQueue)

	resultCh := make(chan writeResult, 1)
	op := &writeOperation{data: b, ctx: ctx, resultCh: resultCh}

	p.queueMu.RLock()
	queue := p.writeQueue
	ok := p.isOpen.Load() && !p.queueClosed.Load() && queue != nil
	p.queueMu.RUnlock()

	if !ok {
		return 0, ErrPortNotOpen
	}

	select {
	case queue <- op:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case result := <-resultCh:
		if result.err == nil && p.metricsEnabled.Load() {
			p.metrics.BytesWritten.Add(int64(result.n))
		}
		return result.n, result.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// initWriteQueue initializes the write queue and starts the processor
// goroutine.
func (p *Service) initWriteQueue() {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	if p.writeQueue == nil {
		p.writeQueue = make(chan *writeOperation, 50)
	}

	p.writeGoroutineOnce.Do(func() {
		go p.processWrites()
	})
}

// processWrites handles all write operations from the queue in a single
// goroutine.
func (p *Service) processWrites() {
	defer func() {
		close(p.writeGoroutineDone)
		p.drainPendingOperations()
	}()

	for {
		p.queueMu.RLock()
		queue := p.writeQueue
		p.queueMu.RUnlock()

		if queue == nil {
			return
		}

		select {
		case op := <-queue:
			if op == nil {
				// Channel closed, exit
				return
			}
			if p.queueClosed.Load() {
				select {
				case op.resultCh <- writeResult{0, ErrPortNotOpen}:
				default:
				}
				close(op.resultCh)
				continue
			}
			p.executeWrite(op)
		case <-p.queueDone:
			return
		}
	}
}

// drainPendingOperations fails all queued writes during shutdown.
func (p *Service) drainPendingOperations() {
	p.queueMu.RLock()
	queue := p.writeQueue
	p.queueMu.RUnlock()

	if queue == nil {
		return
	}

	for {
		select {
		case op := <-queue:
			if op == nil {
				return
			}
			select {
			case op.resultCh <- writeResult{0, ErrPortNotOpen}:
			default:
			}
			close(op.resultCh)
		default:
			return
		}
	}
}

// executeWrite performs the actual write operation.
func (p *Service) executeWrite(op *writeOperation) {
	defer close(op.resultCh)

	select {
	case <-op.ctx.Done():
		select {
		case op.resultCh <- writeResult{0, op.ctx.Err()}:
		default:
		}
		return
	default:
	}

	// Hold the read lock so Close cannot invalidate the handle while the
	// write is in flight.
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result writeResult
	if !p.isOpen.Load() || p.handle == nil {
		result = writeResult{0, ErrPortNotOpen}
	} else {
		n, err := p.handle.Write(op.data)
		result = writeResult{n, err}
	}

	select {
	case op.resultCh <- result:
	case <-op.ctx.Done():
		// Context cancelled while writing
	}
}

// validateBuffer validates write buffer parameters.
func (p *Service) validateBuffer(b []byte) error {
	if len(b) == 0 {
		return ErrInvalidBuffer
	}
	if len(b) > MaxBufferSize {
		return ErrBufferTooLarge
	}
	return nil
}
