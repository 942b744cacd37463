package sensorboard

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks board-link health statistics.
type Metrics struct {
	// Connection Statistics
	ConnectionAttempts  atomic.Int64 // Total connection attempts
	SuccessfulConnects  atomic.Int64 // Successful connections
	ConnectionFailures  atomic.Int64 // Failed connections
	Disconnections      atomic.Int64 // Total disconnects
	LastConnectTime     atomic.Int64 // Unix timestamp of last connect
	LastDisconnectTime  atomic.Int64 // Unix timestamp of last disconnect
	TotalUptime         atomic.Int64 // Total connected time in nanoseconds
	ConnectionStartTime atomic.Int64 // When current connection started

	// Protocol events, mirrored from the assembler after each poll
	BytesIn      atomic.Int64 // bytes drained from the port
	Lines        atomic.Int64 // complete lines dispatched
	PinCommands  atomic.Int64 // "pin,value" lines matched
	NameCommands atomic.Int64 // "name=value" lines matched
	Mismatches   atomic.Int64 // lines failing both grammars
	Overflows    atomic.Int64 // lines abandoned at capacity
	InvalidBytes atomic.Int64 // garbage bytes that invalidated a line

	// Outbound
	ReportsSent  atomic.Int64 // status reports written
	BytesWritten atomic.Int64 // total bytes written
	WriteErrors  atomic.Int64 // failed writes
	ReadErrors   atomic.Int64 // failed port reads

	// Error Categories
	InitializationErrors atomic.Int64 // Service init failures
	ConfigurationErrors  atomic.Int64 // Config-related errors
	PortValidationErrors atomic.Int64 // Invalid port errors
	HardwareErrors       atomic.Int64 // Hardware/driver errors
}

// setProtocolStats overwrites the protocol counters with the assembler's
// running totals. The assembler keeps plain ints on its own goroutine; this
// is the sync point to the atomic view.
func (m *Metrics) setProtocolStats(s Stats) {
	m.BytesIn.Store(s.BytesIn)
	m.Lines.Store(s.Lines)
	m.PinCommands.Store(s.PinCommands)
	m.NameCommands.Store(s.NameCommands)
	m.Mismatches.Store(s.Mismatches)
	m.Overflows.Store(s.Overflows)
	m.InvalidBytes.Store(s.InvalidBytes)
}

// HealthStatus represents the overall health of the board link.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDown      HealthStatus = "down"
)

// Snapshot is a point-in-time copy of the metrics for consumers.
type Snapshot struct {
	Timestamp   time.Time
	IsConnected bool

	BytesIn      int64
	Lines        int64
	PinCommands  int64
	NameCommands int64
	Mismatches   int64
	Overflows    int64
	InvalidBytes int64
	ReportsSent  int64
	BytesWritten int64
	ReadErrors   int64
	WriteErrors  int64

	MatchRate     float64 // matched lines per hundred dispatched
	BytesPerSec   float64
	UptimeSeconds float64

	HealthStatus string
	HealthScore  float64
}

// Metrics calculation methods

func (m *Metrics) calculateMatchRate() float64 {
	lines := m.Lines.Load()
	if lines == 0 {
		return 100.0
	}
	matched := m.PinCommands.Load() + m.NameCommands.Load()
	return float64(matched) / float64(lines) * 100
}

func (m *Metrics) calculateThroughput(isConnected bool, connectionStartTime int64) float64 {
	if !isConnected || connectionStartTime == 0 {
		return 0.0
	}

	now := time.Now().UnixNano()
	duration := now - connectionStartTime
	if duration <= 0 {
		return 0.0
	}

	totalBytes := m.BytesIn.Load() + m.BytesWritten.Load()
	seconds := float64(duration) / float64(time.Second)
	return float64(totalBytes) / seconds
}

func (m *Metrics) calculateUptime(isConnected bool, connectionStartTime int64) float64 {
	if !isConnected || connectionStartTime == 0 {
		return 0.0
	}

	now := time.Now().UnixNano()
	duration := now - connectionStartTime
	if duration <= 0 {
		return 0.0
	}

	return float64(duration) / float64(time.Second)
}

func (m *Metrics) assessHealthStatus(snapshot *Snapshot) HealthStatus {
	if !snapshot.IsConnected {
		return HealthStatusDown
	}

	// A link that drops most of its lines is effectively broken even if
	// the port stays open.
	if snapshot.MatchRate < 50.0 && snapshot.Lines > 10 {
		return HealthStatusUnhealthy
	}

	if (snapshot.MatchRate < 90.0 && snapshot.Lines > 10) ||
		snapshot.ReadErrors+snapshot.WriteErrors > 3 {
		return HealthStatusDegraded
	}

	return HealthStatusHealthy
}

func (m *Metrics) calculateHealthScore(snapshot *Snapshot) float64 {
	if !snapshot.IsConnected {
		return 0.0
	}

	score := snapshot.MatchRate

	// Deduct for recovery events and I/O failures
	if snapshot.Lines > 0 {
		score -= float64(snapshot.Overflows+snapshot.InvalidBytes) / float64(snapshot.Lines) * 10
	}
	score -= float64(snapshot.ReadErrors+snapshot.WriteErrors) * 5

	if score < 0 {
		score = 0
	}

	return score
}

// MetricsBroadcaster handles channel-based metrics broadcasting.
type MetricsBroadcaster struct {
	metricsChannel   chan Snapshot
	broadcastTicker  *time.Ticker
	enabled          atomic.Bool
	stopCh           chan struct{}
	emissionInterval time.Duration
	stopOnce         sync.Once // Prevent double-close race
}

// NewMetricsBroadcaster creates a broadcaster with channel-based distribution.
func NewMetricsBroadcaster(channelSize int64, interval time.Duration) *MetricsBroadcaster {
	return &MetricsBroadcaster{
		metricsChannel:   make(chan Snapshot, channelSize),
		stopCh:           make(chan struct{}),
		emissionInterval: interval,
	}
}

// Start begins broadcasting snapshots to the channel.
func (mb *MetricsBroadcaster) Start(service *Service) {
	if !mb.enabled.CompareAndSwap(false, true) {
		return // Already running
	}

	mb.broadcastTicker = time.NewTicker(mb.emissionInterval)

	go func() {
		defer mb.broadcastTicker.Stop()

		for {
			select {
			case <-mb.stopCh:
				return
			case <-mb.broadcastTicker.C:
				mb.broadcastMetrics(service)
			}
		}
	}()
}

// Stop stops broadcasting metrics.
func (mb *MetricsBroadcaster) Stop() {
	if mb.enabled.CompareAndSwap(true, false) {
		mb.stopOnce.Do(func() {
			close(mb.stopCh)
			close(mb.metricsChannel)
		})
	}
}

// BroadcastImmediate sends metrics immediately (for critical events).
func (mb *MetricsBroadcaster) BroadcastImmediate(service *Service) {
	mb.broadcastMetrics(service)
}

// GetMetricsChannel returns the read-only metrics channel for consumers.
func (mb *MetricsBroadcaster) GetMetricsChannel() <-chan Snapshot {
	return mb.metricsChannel
}

func (mb *MetricsBroadcaster) broadcastMetrics(service *Service) {
	// Check if broadcaster is still enabled to prevent sending to closed channel
	if !mb.enabled.Load() {
		return
	}

	snapshot := service.GetMetricsSnapshot()

	// Non-blocking send to avoid goroutine blocking
	select {
	case mb.metricsChannel <- *snapshot:
		// Successfully sent
	default:
		// Channel full or closed, skip this broadcast
	}
}
