package sensorboard

import (
	"sort"
	"sync"
)

// Relay is one switchable output on the board.
type Relay struct {
	Name  string `json:"name"`
	Pin   uint8  `json:"pin"`
	State bool   `json:"state"`
}

// RelayBank holds the output state a board exposes over the command
// protocol. Commands address a relay either by pin number ("13,1") or by
// name ("mount=0"); a zero value switches the relay off, anything else on.
//
// The bank implements Handler so it can be bound directly to an Assembler.
// Dispatch happens on the link's poll goroutine while snapshots are taken
// from the reporter, hence the mutex.
type RelayBank struct {
	mu     sync.RWMutex
	byPin  map[uint8]*Relay
	byName map[string]*Relay
	order  []string // report ordering, insertion order of AddRelay

	unknown int64 // commands addressing no configured relay
}

// NewRelayBank returns an empty bank.
func NewRelayBank() *RelayBank {
	return &RelayBank{
		byPin:  make(map[uint8]*Relay),
		byName: make(map[string]*Relay),
	}
}

// AddRelay registers a relay under both its pin and its name. A relay
// re-added under an existing pin or name replaces the earlier entry.
func (rb *RelayBank) AddRelay(name string, pin uint8) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	r := &Relay{Name: name, Pin: pin}
	if _, seen := rb.byName[name]; !seen {
		rb.order = append(rb.order, name)
	}
	rb.byPin[pin] = r
	rb.byName[name] = r
}

// HandlePinValue implements Handler.
func (rb *RelayBank) HandlePinValue(pin, value uint8) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	r, ok := rb.byPin[pin]
	if !ok {
		rb.unknown++
		return
	}
	r.State = value != 0
}

// HandleNameValue implements Handler. The name view is not retained.
func (rb *RelayBank) HandleNameValue(name []byte, value uint8) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	r, ok := rb.byName[string(name)]
	if !ok {
		rb.unknown++
		return
	}
	r.State = value != 0
}

// State returns the current state of the named relay.
func (rb *RelayBank) State(name string) (bool, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	r, ok := rb.byName[name]
	if !ok {
		return false, false
	}
	return r.State, true
}

// PinState returns the current state of the relay on the given pin.
func (rb *RelayBank) PinState(pin uint8) (bool, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	r, ok := rb.byPin[pin]
	if !ok {
		return false, false
	}
	return r.State, true
}

// Snapshot returns the relays in registration order, copied.
func (rb *RelayBank) Snapshot() []Relay {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	out := make([]Relay, 0, len(rb.order))
	for _, name := range rb.order {
		out = append(out, *rb.byName[name])
	}
	return out
}

// UnknownCommands returns how many well-formed commands addressed a pin or
// name that is not configured on this bank.
func (rb *RelayBank) UnknownCommands() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.unknown
}

// Pins returns the configured pin numbers, sorted. Useful for the CLI's
// startup banner.
func (rb *RelayBank) Pins() []uint8 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	pins := make([]uint8, 0, len(rb.byPin))
	for pin := range rb.byPin {
		pins = append(pins, pin)
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })
	return pins
}
