package sensorboard

import "errors"

var (
	// ErrNotInitialized is returned by Service methods before Initialize.
	ErrNotInitialized = errors.New("sensorboard: service not initialized")
	// ErrPortNotOpen is returned when the serial port is not open.
	ErrPortNotOpen = errors.New("sensorboard: port not open")
	// ErrClosed is returned by Link operations after Close.
	ErrClosed = errors.New("sensorboard: link closed")
	// ErrInvalidPortName is returned when the configured port does not
	// exist or does not look like a serial device.
	ErrInvalidPortName = errors.New("sensorboard: invalid port name")
	// ErrInvalidBuffer is returned for nil or empty I/O buffers.
	ErrInvalidBuffer = errors.New("sensorboard: invalid buffer")
	// ErrBufferTooLarge is returned for I/O buffers above MaxBufferSize.
	ErrBufferTooLarge = errors.New("sensorboard: buffer too large")
	// ErrWriteTimeout is returned when a queued write did not complete in
	// the configured write timeout.
	ErrWriteTimeout = errors.New("sensorboard: write timeout")
	// ErrInvalidCapacity is returned for line capacities below the minimum.
	ErrInvalidCapacity = errors.New("sensorboard: invalid line capacity")
)
