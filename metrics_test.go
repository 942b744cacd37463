package sensorboard

import (
	"testing"
	"time"
)

func TestMetricsMatchRate(t *testing.T) {
	m := &Metrics{}

	if got := m.calculateMatchRate(); got != 100.0 {
		t.Fatalf("match rate with no lines = %f, want 100", got)
	}

	m.Lines.Store(10)
	m.PinCommands.Store(6)
	m.NameCommands.Store(2)

	if got := m.calculateMatchRate(); got != 80.0 {
		t.Fatalf("match rate = %f, want 80", got)
	}
}

func TestMetricsSetProtocolStats(t *testing.T) {
	m := &Metrics{}
	m.setProtocolStats(Stats{
		BytesIn:      100,
		Lines:        5,
		PinCommands:  3,
		NameCommands: 1,
		Mismatches:   1,
		Overflows:    2,
		InvalidBytes: 4,
	})

	if m.BytesIn.Load() != 100 || m.Lines.Load() != 5 || m.Overflows.Load() != 2 {
		t.Fatalf("protocol stats not mirrored")
	}

	// Totals are overwritten, not accumulated: the assembler already
	// keeps running counts.
	m.setProtocolStats(Stats{Lines: 6})
	if m.Lines.Load() != 6 {
		t.Fatalf("Lines = %d after second set, want 6", m.Lines.Load())
	}
}

func TestMetricsHealthAssessment(t *testing.T) {
	m := &Metrics{}

	tests := []struct {
		name string
		snap Snapshot
		want HealthStatus
	}{
		{"disconnected", Snapshot{}, HealthStatusDown},
		{"fresh link", Snapshot{IsConnected: true, MatchRate: 100}, HealthStatusHealthy},
		{"few lines, poor rate tolerated", Snapshot{IsConnected: true, MatchRate: 0, Lines: 2}, HealthStatusHealthy},
		{"mostly mismatches", Snapshot{IsConnected: true, MatchRate: 40, Lines: 100}, HealthStatusUnhealthy},
		{"some mismatches", Snapshot{IsConnected: true, MatchRate: 85, Lines: 100}, HealthStatusDegraded},
		{"io errors", Snapshot{IsConnected: true, MatchRate: 100, ReadErrors: 5}, HealthStatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.assessHealthStatus(&tt.snap); got != tt.want {
				t.Fatalf("assessHealthStatus = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetricsHealthScoreBounds(t *testing.T) {
	m := &Metrics{}

	snap := &Snapshot{IsConnected: true, MatchRate: 10, Lines: 10, Overflows: 50, InvalidBytes: 50, ReadErrors: 10}
	if got := m.calculateHealthScore(snap); got != 0 {
		t.Fatalf("score = %f, want clamped to 0", got)
	}

	snap = &Snapshot{IsConnected: false}
	if got := m.calculateHealthScore(snap); got != 0 {
		t.Fatalf("score while down = %f, want 0", got)
	}
}

func TestMetricsBroadcasterStopIdempotent(t *testing.T) {
	mb := NewMetricsBroadcaster(4, 10*time.Millisecond)

	svc := &Service{}
	mb.Start(svc)

	mb.Stop()
	mb.Stop() // must not double-close

	if _, open := <-mb.GetMetricsChannel(); open {
		// The channel may hold a buffered snapshot; drain until closed.
		for range mb.GetMetricsChannel() {
		}
	}
}
