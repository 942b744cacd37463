package sensorboard

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Station-Manager/types"
)

// mockPort simulates a serial port with a timeout-based Read, the way a
// real port behaves once SetReadTimeout is applied: no data yields (0, nil)
// after a short wait rather than blocking forever.
type mockPort struct {
	readCh  chan []byte
	writeMu sync.Mutex
	writes  [][]byte

	mu     sync.Mutex
	closed bool
	// errToReturn, if non-nil, will be returned on the next Read call
	// instead of data from readCh. This allows exercising error paths
	// from the run loop.
	errToReturn error
}

func newMockPort() *mockPort {
	return &mockPort{readCh: make(chan []byte, 16)}
}

func (m *mockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.errToReturn != nil {
		err := m.errToReturn
		m.errToReturn = nil
		m.mu.Unlock()
		return 0, err
	}
	m.mu.Unlock()

	select {
	case b, ok := <-m.readCh:
		if !ok {
			return 0, context.Canceled
		}
		n := copy(p, b)
		return n, nil
	case <-time.After(time.Millisecond):
		// read timeout elapsed with no data
		return 0, nil
	}
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	cp := make([]byte, len(p))
	copy(cp, p)
	m.writes = append(m.writes, cp)
	return len(p), nil
}

func (m *mockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.readCh)
		m.closed = true
	}
	return nil
}

func (m *mockPort) SetReadTimeout(d time.Duration) error { return nil }
func (m *mockPort) SetDTR(bool) error                    { return nil }
func (m *mockPort) SetRTS(bool) error                    { return nil }

func (m *mockPort) written() []byte {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	var all []byte
	for _, w := range m.writes {
		all = append(all, w...)
	}
	return all
}

func testConfig() types.SerialConfig {
	return types.SerialConfig{
		PortName: "/dev/ttyUSB0",
		BaudRate: 9600,
		DataBits: 8,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestLinkDispatchesCommands(t *testing.T) {
	mp := newMockPort()
	bank := newTestBank()

	l := newLink(mp, testConfig(), bank, Options{})
	defer l.Close()

	mp.readCh <- []byte("fan=1\r\n13,1\n")

	waitFor(t, func() bool {
		fan, _ := bank.State("fan")
		computer, _ := bank.PinState(13)
		return fan && computer
	}, "both commands to apply")

	stats := l.Stats()
	if stats.PinCommands != 1 || stats.NameCommands != 1 {
		t.Fatalf("stats = %+v, want one pin and one name command", stats)
	}
}

func TestLinkChunkedDelivery(t *testing.T) {
	mp := newMockPort()
	bank := newTestBank()

	l := newLink(mp, testConfig(), bank, Options{})
	defer l.Close()

	// A command split across reads, the way 9600 baud actually arrives.
	for _, chunk := range []string{"fa", "n=", "1\n"} {
		mp.readCh <- []byte(chunk)
	}

	waitFor(t, func() bool {
		on, _ := bank.State("fan")
		return on
	}, "chunked command to apply")
}

func TestLinkDiagnostics(t *testing.T) {
	mp := newMockPort()
	bank := newTestBank()

	l := newLink(mp, testConfig(), bank, Options{Diagnostics: true})
	defer l.Close()

	mp.readCh <- []byte("bogus!\n")

	waitFor(t, func() bool {
		return bytes.Contains(mp.written(), []byte("line not matched"))
	}, "diagnostic to be written back")

	if on, _ := bank.State("fan"); on {
		t.Fatalf("malformed line mutated a relay")
	}
}

func TestLinkStatusReports(t *testing.T) {
	mp := newMockPort()
	bank := newTestBank()

	l := newLink(mp, testConfig(), bank, Options{
		BoardName:      "telemetry_board",
		ReportInterval: 5 * time.Millisecond,
	})
	defer l.Close()

	waitFor(t, func() bool {
		return bytes.Contains(mp.written(), []byte(`"telemetry_board"`))
	}, "a status report")

	// Reports must be parseable lines.
	lines := bytes.Split(bytes.TrimRight(mp.written(), "\n"), []byte("\n"))
	rep, err := DecodeReport(lines[0])
	if err != nil {
		t.Fatalf("DecodeReport(%q): %v", lines[0], err)
	}
	if rep.Name != "telemetry_board" || rep.ReportNum < 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestLinkCloseIdempotent(t *testing.T) {
	mp := newMockPort()
	l := newLink(mp, testConfig(), newTestBank(), Options{})

	if err := l.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := l.Write(context.Background(), []byte("x")); err != ErrClosed {
		t.Fatalf("Write after Close = %v, want ErrClosed", err)
	}
}

func TestLinkExitsOnReadError(t *testing.T) {
	mp := newMockPort()
	l := newLink(mp, testConfig(), newTestBank(), Options{})

	mp.mu.Lock()
	mp.errToReturn = context.Canceled
	mp.mu.Unlock()

	select {
	case <-l.doneCh:
	case <-time.After(time.Second):
		t.Fatalf("run loop did not exit on read error")
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close after loop exit: %v", err)
	}
}
