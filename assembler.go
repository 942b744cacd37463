package sensorboard

import (
	"fmt"
	"io"
)

// ByteSource is the capability the Assembler needs from its input side:
// a non-blocking availability check and a single-byte read. ReadByte is
// valid only after Available reported true.
type ByteSource interface {
	Available() bool
	ReadByte() byte
}

// Handler receives the commands parsed from the input stream.
type Handler interface {
	// HandlePinValue is invoked for "pin,value" lines.
	HandlePinValue(pin, value uint8)

	// HandleNameValue is invoked for "name=value" lines. The name slice is
	// a view into the assembler's line buffer and is valid only for the
	// duration of the call; copy it if it must be retained.
	HandleNameValue(name []byte, value uint8)
}

// HandlerFuncs adapts two plain functions to Handler.
type HandlerFuncs struct {
	PinValue  func(pin, value uint8)
	NameValue func(name []byte, value uint8)
}

// HandlePinValue implements Handler.
func (h HandlerFuncs) HandlePinValue(pin, value uint8) {
	if h.PinValue != nil {
		h.PinValue(pin, value)
	}
}

// HandleNameValue implements Handler.
func (h HandlerFuncs) HandleNameValue(name []byte, value uint8) {
	if h.NameValue != nil {
		h.NameValue(name, value)
	}
}

// MismatchReason identifies which grammar a rejected line failed under.
type MismatchReason int

const (
	// ReasonUnrecognized means the line began with neither grammar.
	ReasonUnrecognized MismatchReason = iota
	// ReasonCommaNumber means the line began as "uint8,uint8" but the
	// remainder was malformed.
	ReasonCommaNumber
	// ReasonNameEqualsNumber means the line began as "name=uint8" but the
	// remainder was malformed.
	ReasonNameEqualsNumber
)

func (r MismatchReason) String() string {
	switch r {
	case ReasonCommaNumber:
		return "comma-number"
	case ReasonNameEqualsNumber:
		return "name-equals-number"
	default:
		return "unrecognized"
	}
}

// Stats counts the events seen by one Assembler. The assembler is owned by a
// single goroutine, so these are plain integers.
type Stats struct {
	BytesIn      int64 // bytes pulled from the source
	Lines        int64 // complete lines dispatched (matched or not)
	PinCommands  int64 // "pin,value" lines matched
	NameCommands int64 // "name=value" lines matched
	Mismatches   int64 // complete lines failing both grammars
	Overflows    int64 // lines abandoned for exceeding capacity
	InvalidBytes int64 // non-printable bytes that invalidated a line
}

// uint8 values on the wire: at most three digits, at most 255.
const (
	uint8MaxDigits = 3
	uint8MaxValue  = 255
)

// Assembler accumulates bytes from a source into lines and dispatches the
// two command grammars to a Handler.
//
// The per-byte state machine distinguishes three states: accumulating
// (default), line-ready (a complete terminated line is buffered), and
// resyncing (invalid input was seen; bytes are discarded until the next
// terminator). Overflowing the line buffer or receiving a non-printable
// byte mid-line abandons the line and enters resync, so a garbled stream
// can never corrupt a later well-formed line.
type Assembler struct {
	buf     *LineBuffer
	handler Handler
	diag    io.Writer // optional, parse-failure diagnostics

	hasLine bool
	resync  bool

	stats Stats
}

// NewAssembler returns an Assembler reading lines of at most capacity bytes.
// diag may be nil to suppress parse-failure diagnostics.
func NewAssembler(capacity int, handler Handler, diag io.Writer) *Assembler {
	return &Assembler{
		buf:     NewLineBuffer(capacity),
		handler: handler,
		diag:    diag,
	}
}

// Stats returns a copy of the event counters.
func (a *Assembler) Stats() Stats {
	return a.stats
}

// Poll drains src and dispatches every complete line it yields, then
// returns once no more bytes are immediately available. It never blocks:
// an exhausted source simply ends the call, and the caller invokes Poll
// again on its next scheduling turn.
func (a *Assembler) Poll(src ByteSource) {
	for a.accumulate(src) {
		a.hasLine = false
		a.dispatch()
		a.buf.Reset()
	}
}

// accumulate pulls bytes until a complete line is buffered or the source
// runs dry. Reports whether a line is ready.
func (a *Assembler) accumulate(src ByteSource) bool {
	if a.hasLine {
		return true
	}
	for src.Available() {
		c := src.ReadByte()
		a.stats.BytesIn++
		switch {
		case a.resync:
			if isTerminator(c) {
				a.resync = false
				a.buf.Reset()
			}
		case isTerminator(c):
			// A terminator on an empty buffer is a no-op, which tolerates
			// CR LF pairs and blank lines.
			if !a.buf.Empty() {
				a.hasLine = true
				return true
			}
		case c == ' ' || c == '\t':
			// Horizontal whitespace is stripped before matching.
		case isPrintable(c):
			if !a.buf.Append(c) {
				// Line too long for the buffer: abandon it rather than
				// process it truncated.
				a.stats.Overflows++
				a.resync = true
			}
		default:
			if a.buf.Len() == 0 {
				// Garbage before a line starts is common right after a
				// device connect; ignore it.
				break
			}
			a.stats.InvalidBytes++
			a.resync = true
		}
	}
	return false
}

// dispatch attempts the two grammars, in order, against the buffered line.
// The parse primitives do not rewind, so a failed alternative fails the
// whole line; the caller resets the buffer afterwards in every case.
func (a *Assembler) dispatch() {
	a.stats.Lines++

	if pin, ok := a.buf.ParseUint(uint8MaxDigits, uint8MaxValue); ok {
		if a.buf.MatchAndConsume(',') {
			if value, ok := a.buf.ParseUint(uint8MaxDigits, uint8MaxValue); ok && a.buf.Empty() {
				a.stats.PinCommands++
				a.handler.HandlePinValue(uint8(pin), uint8(value))
				return
			}
		}
		a.reject(ReasonCommaNumber)
		return
	}

	if name := a.buf.ParseIdentifier(); name != nil {
		if a.buf.MatchAndConsume('=') {
			if value, ok := a.buf.ParseUint(uint8MaxDigits, uint8MaxValue); ok && a.buf.Empty() {
				a.stats.NameCommands++
				a.handler.HandleNameValue(name, uint8(value))
				return
			}
		}
		a.reject(ReasonNameEqualsNumber)
		return
	}

	a.reject(ReasonUnrecognized)
}

// reject records a grammar mismatch and emits a diagnostic with the reason
// and the raw line content.
func (a *Assembler) reject(reason MismatchReason) {
	a.stats.Mismatches++
	if a.diag != nil {
		fmt.Fprintf(a.diag, "line not matched, reason=%s, line=%q\n", reason, a.buf.Bytes())
	}
}

// isTerminator reports whether c ends a line. A line may end with LF,
// CR LF or CR alone.
func isTerminator(c byte) bool {
	return c == '\n' || c == '\r'
}

// isPrintable reports whether c is an acceptable in-line character
// (printable ASCII; space and tab are filtered out before this check).
func isPrintable(c byte) bool {
	return c >= 0x20 && c < 0x7f
}
