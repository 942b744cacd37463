package sensorboard

import (
	"fmt"
	"time"
)

// Metrics accessor and management methods for Service

// GetMetrics returns the current metrics instance.
func (p *Service) GetMetrics() *Metrics {
	if p.metrics == nil {
		return &Metrics{} // Return empty metrics if not initialized
	}
	return p.metrics
}

// GetMetricsSnapshot creates a point-in-time snapshot for consumers.
func (p *Service) GetMetricsSnapshot() *Snapshot {
	if p.metrics == nil {
		return &Snapshot{
			Timestamp:    time.Now(),
			HealthStatus: string(HealthStatusDown),
		}
	}

	now := time.Now()
	isConnected := p.isOpen.Load()
	connectionStartTime := p.metrics.ConnectionStartTime.Load()

	snapshot := &Snapshot{
		Timestamp:   now,
		IsConnected: isConnected,

		BytesIn:      p.metrics.BytesIn.Load(),
		Lines:        p.metrics.Lines.Load(),
		PinCommands:  p.metrics.PinCommands.Load(),
		NameCommands: p.metrics.NameCommands.Load(),
		Mismatches:   p.metrics.Mismatches.Load(),
		Overflows:    p.metrics.Overflows.Load(),
		InvalidBytes: p.metrics.InvalidBytes.Load(),
		ReportsSent:  p.metrics.ReportsSent.Load(),
		BytesWritten: p.metrics.BytesWritten.Load(),
		ReadErrors:   p.metrics.ReadErrors.Load(),
		WriteErrors:  p.metrics.WriteErrors.Load(),
	}

	snapshot.MatchRate = p.metrics.calculateMatchRate()
	snapshot.BytesPerSec = p.metrics.calculateThroughput(isConnected, connectionStartTime)
	snapshot.UptimeSeconds = p.metrics.calculateUptime(isConnected, connectionStartTime)

	health := p.metrics.assessHealthStatus(snapshot)
	snapshot.HealthStatus = string(health)
	snapshot.HealthScore = p.metrics.calculateHealthScore(snapshot)

	return snapshot
}

// EnableMetrics turns on metrics collection.
func (p *Service) EnableMetrics() {
	p.metricsEnabled.Store(true)
}

// DisableMetrics turns off metrics collection.
func (p *Service) DisableMetrics() {
	p.metricsEnabled.Store(false)
}

// StartMetricsBroadcast begins periodic snapshot emission on a channel.
func (p *Service) StartMetricsBroadcast(channelSize int64, interval time.Duration) (<-chan Snapshot, error) {
	if !p.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if interval <= 0 {
		return nil, fmt.Errorf("broadcast interval must be positive: %v", interval)
	}
	if p.metricsBroadcaster != nil {
		return p.metricsBroadcaster.GetMetricsChannel(), nil
	}

	p.metricsBroadcaster = NewMetricsBroadcaster(channelSize, interval)
	p.metricsBroadcaster.Start(p)
	return p.metricsBroadcaster.GetMetricsChannel(), nil
}

// StopMetricsBroadcast stops the broadcaster if one is running.
func (p *Service) StopMetricsBroadcast() {
	if p.metricsBroadcaster != nil {
		p.metricsBroadcaster.Stop()
	}
}
