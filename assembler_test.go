package sensorboard

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingHandler captures dispatched commands in order.
type recordingHandler struct {
	calls []string
}

func (h *recordingHandler) HandlePinValue(pin, value uint8) {
	h.calls = append(h.calls, fmt.Sprintf("pin:%d,%d", pin, value))
}

func (h *recordingHandler) HandleNameValue(name []byte, value uint8) {
	h.calls = append(h.calls, fmt.Sprintf("%s=%d", name, value))
}

func feed(capacity int, in []byte) (*recordingHandler, Stats, string) {
	h := &recordingHandler{}
	var diag bytes.Buffer
	asm := NewAssembler(capacity, h, &diag)
	src := &SliceSource{}
	src.Feed(in)
	asm.Poll(src)
	return h, asm.Stats(), diag.String()
}

func TestAssemblerDispatch(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		calls []string
	}{
		{"pin command", "12,34\n", []string{"pin:12,34"}},
		{"name command", "fan=1\n", []string{"fan=1"}},
		{"cr terminator", "12,34\r", []string{"pin:12,34"}},
		{"crlf pairs", "12,34\r\n56,7\r\n", []string{"pin:12,34", "pin:56,7"}},
		{"blank lines ignored", "\n\n12,34\n\n", []string{"pin:12,34"}},
		{"whitespace stripped", "12 , 34\n", []string{"pin:12,34"}},
		{"tabs stripped", "\tfan\t=\t1\n", []string{"fan=1"}},
		{"boundary 255", "255,0\n", []string{"pin:255,0"}},
		{"mixed grammars in order", "ab=7\r\n12,9\n", []string{"ab=7", "pin:12,9"}},
		{"underscore name", "main_fan=0\n", []string{"main_fan=0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, stats, _ := feed(32, []byte(tt.in))
			require.Equal(t, tt.calls, h.calls)
			require.EqualValues(t, len(tt.calls), stats.PinCommands+stats.NameCommands)
			require.EqualValues(t, 0, stats.Mismatches)
		})
	}
}

func TestAssemblerMismatches(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		reason string
	}{
		{"numeric overflow", "256,0\n", "unrecognized"},
		{"too many digits", "1000\n", "unrecognized"},
		{"missing comma", "12;34\n", "comma-number"},
		{"missing second number", "12,\n", "comma-number"},
		{"trailing junk after pair", "12,34x\n", "comma-number"},
		{"missing equals", "fan1\n", "name-equals-number"},
		{"missing value", "fan=\n", "name-equals-number"},
		{"value overflow", "fan=300\n", "name-equals-number"},
		{"trailing junk after name pair", "fan=1,\n", "name-equals-number"},
		{"uppercase start", "Fan=1\n", "unrecognized"},
		{"punctuation start", ",5\n", "unrecognized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, stats, diag := feed(32, []byte(tt.in))
			require.Empty(t, h.calls, "no handler may run for malformed input")
			require.EqualValues(t, 1, stats.Mismatches)
			require.Contains(t, diag, "reason="+tt.reason)
			require.Contains(t, diag, strings.TrimRight(tt.in, "\r\n"))
		})
	}
}

func TestAssemblerOverflowResync(t *testing.T) {
	capacity := 32
	in := append(bytes.Repeat([]byte{'7'}, capacity+5), []byte("\n5,5\n")...)

	h, stats, _ := feed(capacity, in)

	require.Equal(t, []string{"pin:5,5"}, h.calls)
	require.EqualValues(t, 1, stats.Overflows)
	require.EqualValues(t, 1, stats.Lines, "the oversized line must not be dispatched")
}

func TestAssemblerInvalidByteResync(t *testing.T) {
	// A control byte mid-line discards that line; the following
	// well-formed line still parses.
	in := []byte("12,\x019\nfan=1\n")

	h, stats, _ := feed(32, in)

	require.Equal(t, []string{"fan=1"}, h.calls)
	require.EqualValues(t, 1, stats.InvalidBytes)
}

func TestAssemblerLeadingGarbageIgnored(t *testing.T) {
	// Garbage before the first character of a line is what a fresh
	// connection looks like; it must not poison the line that follows.
	in := []byte("\x00\x01\x02fan=1\n")

	h, stats, _ := feed(32, in)

	require.Equal(t, []string{"fan=1"}, h.calls)
	require.EqualValues(t, 0, stats.InvalidBytes)
	require.EqualValues(t, 0, stats.Mismatches)
}

func TestAssemblerIncrementalDelivery(t *testing.T) {
	// Bytes arriving one at a time across many polls must assemble the
	// same commands as a single burst.
	h := &recordingHandler{}
	asm := NewAssembler(32, h, nil)
	src := &SliceSource{}

	for _, c := range []byte("ab=7\r\n12,9\n") {
		src.Feed([]byte{c})
		asm.Poll(src)
	}

	require.Equal(t, []string{"ab=7", "pin:12,9"}, h.calls)
}

func TestAssemblerUnterminatedLinePends(t *testing.T) {
	h := &recordingHandler{}
	asm := NewAssembler(32, h, nil)
	src := &SliceSource{}

	src.Feed([]byte("12,3"))
	asm.Poll(src)
	require.Empty(t, h.calls, "no dispatch before the terminator")

	src.Feed([]byte("4\n"))
	asm.Poll(src)
	require.Equal(t, []string{"pin:12,34"}, h.calls)
}

func TestAssemblerNilDiagSink(t *testing.T) {
	h := &recordingHandler{}
	asm := NewAssembler(32, h, nil)
	src := &SliceSource{}
	src.Feed([]byte("garbage!!\n"))

	require.NotPanics(t, func() { asm.Poll(src) })
	require.EqualValues(t, 1, asm.Stats().Mismatches)
}

func TestHandlerFuncsNilSafe(t *testing.T) {
	var h HandlerFuncs
	require.NotPanics(t, func() {
		h.HandlePinValue(1, 2)
		h.HandleNameValue([]byte("x"), 3)
	})
}
