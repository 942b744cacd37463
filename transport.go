package sensorboard

import (
	"time"

	gobug "go.bug.st/serial"
)

// allow tests to override external dependencies
var (
	openPort     = func(name string, mode *gobug.Mode) (portHandle, error) { return gobug.Open(name, mode) }
	getPortsList = gobug.GetPortsList
)

// portHandle abstracts the subset of go.bug.st/serial.Port used by this
// package, so tests can substitute a mock.
type portHandle interface {
	SetReadTimeout(timeout time.Duration) error
	SetDTR(bool) error
	SetRTS(bool) error
	Write([]byte) (int, error)
	Read([]byte) (int, error)
	Close() error
}

// readChunkSize is the per-fill read size. Boards emit at 9600 baud, so a
// small pooled chunk covers one poll interval comfortably.
const readChunkSize = 256

// portSource adapts a portHandle to the non-blocking ByteSource capability
// the assembler polls. fill performs at most one Read per call; the port's
// read timeout keeps that Read from stalling the poll loop. Available and
// ReadByte then serve the buffered bytes one at a time.
type portSource struct {
	handle portHandle
	pool   *BufferPool

	chunk []byte // pooled backing array for the pending bytes
	pend  []byte // unread remainder of the last fill
}

func newPortSource(handle portHandle, pool *BufferPool) *portSource {
	return &portSource{handle: handle, pool: pool}
}

// fill reads one chunk from the port into the pending buffer. A read that
// times out with no data leaves the source empty, which is not an error.
func (s *portSource) fill() (int, error) {
	if len(s.pend) > 0 {
		return 0, nil
	}
	if s.chunk == nil {
		s.chunk = s.pool.Get()
	}
	n, err := s.handle.Read(s.chunk)
	if err != nil {
		return 0, err
	}
	s.pend = s.chunk[:n]
	return n, nil
}

// Available implements ByteSource.
func (s *portSource) Available() bool {
	return len(s.pend) > 0
}

// ReadByte implements ByteSource. Valid only after Available reported true.
func (s *portSource) ReadByte() byte {
	c := s.pend[0]
	s.pend = s.pend[1:]
	return c
}

// release returns the pooled chunk. Called when the owning loop exits.
func (s *portSource) release() {
	if s.chunk != nil {
		s.pool.Put(s.chunk)
		s.chunk = nil
		s.pend = nil
	}
}

// SliceSource serves bytes from an in-memory slice. It backs the stdio mode
// of the board simulator and the tests.
type SliceSource struct {
	data []byte
}

// Feed appends more bytes to the source.
func (s *SliceSource) Feed(p []byte) {
	s.data = append(s.data, p...)
}

// Available implements ByteSource.
func (s *SliceSource) Available() bool {
	return len(s.data) > 0
}

// ReadByte implements ByteSource.
func (s *SliceSource) ReadByte() byte {
	c := s.data[0]
	s.data = s.data[1:]
	return c
}
