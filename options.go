package sensorboard

import (
	"fmt"
	"time"
)

const (
	// DefaultLineCapacity matches the buffer the original board firmware
	// compiles in. Lines longer than the capacity are discarded whole, so
	// this bounds the longest acceptable command.
	DefaultLineCapacity = 32

	// MinLineCapacity is the shortest capacity that still fits a maximal
	// "255,255" command.
	MinLineCapacity = 8

	// DefaultPollInterval is how often the link drains the port when no
	// bytes are pending.
	DefaultPollInterval = 10 * time.Millisecond
)

// Options holds the board-protocol knobs that are not part of the serial
// port configuration. The zero value selects all defaults.
type Options struct {
	// BoardName identifies the board in status reports.
	BoardName string

	// LineCapacity is the fixed command-line buffer size. Zero selects
	// DefaultLineCapacity.
	LineCapacity int

	// PollInterval is the poll-loop tick. Zero selects DefaultPollInterval.
	PollInterval time.Duration

	// ReportInterval is how often a status report is written back out.
	// Zero disables reporting.
	ReportInterval time.Duration

	// Diagnostics controls whether parse-failure diagnostics are written
	// back to the peer, as the boards do.
	Diagnostics bool
}

// withDefaults fills in the zero-value fields.
func (o Options) withDefaults() Options {
	if o.BoardName == "" {
		o.BoardName = "sensor_board"
	}
	if o.LineCapacity == 0 {
		o.LineCapacity = DefaultLineCapacity
	}
	if o.PollInterval == 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// validate checks the option values after defaulting.
func (o Options) validate() error {
	if o.LineCapacity < MinLineCapacity {
		return ErrInvalidCapacity
	}
	if o.PollInterval < 0 {
		return fmt.Errorf("poll interval cannot be negative: %v", o.PollInterval)
	}
	if o.ReportInterval < 0 {
		return fmt.Errorf("report interval cannot be negative: %v", o.ReportInterval)
	}
	return nil
}
