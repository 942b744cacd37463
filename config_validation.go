package sensorboard

import (
	"fmt"

	"github.com/Station-Manager/types"
)

// ValidateConfig validates serial port configuration parameters
func ValidateConfig(cfg *types.SerialConfig) error {
	// Validate port name
	if cfg.PortName == "" {
		return fmt.Errorf("port name cannot be empty")
	}

	// Validate baud rate
	validBaudRates := []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400}
	if !isValidBaudRate(cfg.BaudRate, validBaudRates) {
		return fmt.Errorf("invalid baud rate %d, must be one of: %v", cfg.BaudRate, validBaudRates)
	}

	// Validate data bits
	if cfg.DataBits < 5 || cfg.DataBits > 8 {
		return fmt.Errorf("data bits must be 5-8, got: %d", cfg.DataBits)
	}

	// Validate parity
	validParity := []int{int(ParityNone), int(ParityOdd), int(ParityEven), int(ParityMark), int(ParitySpace)}
	if !containsInt(validParity, int(cfg.Parity)) {
		return fmt.Errorf("invalid parity value: %d", cfg.Parity)
	}

	// Validate stop bits
	validStopBits := []int{int(StopBits1), int(StopBits1Half), int(StopBits2)}
	if !containsInt(validStopBits, int(cfg.StopBits)) {
		return fmt.Errorf("invalid stop bits value: %d", cfg.StopBits)
	}

	// Validate timeouts
	if cfg.ReadTimeout < 0 {
		return fmt.Errorf("read timeout cannot be negative: %v", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout < 0 {
		return fmt.Errorf("write timeout cannot be negative: %v", cfg.WriteTimeout)
	}

	return nil
}

func isValidBaudRate(rate int, valid []int) bool {
	for _, v := range valid {
		if rate == v {
			return true
		}
	}
	return false
}

func containsInt(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}
