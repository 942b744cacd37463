package sensorboard

// LineBuffer stores the characters of one command line and supports minimal
// parsing of the buffered content. Capacity is fixed at construction; the
// buffer never grows, and a full buffer is a recoverable condition reported
// through Append rather than a failure of the buffer itself.
//
// Two cursors track state: wr counts characters stored, rd counts characters
// consumed by the parse primitives. 0 <= rd <= wr <= cap holds at all times.
type LineBuffer struct {
	buf []byte
	wr  int
	rd  int
}

// NewLineBuffer returns an empty buffer holding at most capacity characters.
func NewLineBuffer(capacity int) *LineBuffer {
	if capacity <= 0 {
		capacity = DefaultLineCapacity
	}
	return &LineBuffer{buf: make([]byte, capacity)}
}

// Reset discards all content by returning both cursors to zero. Stale bytes
// beyond the write cursor are unreachable, so the storage is not cleared.
func (b *LineBuffer) Reset() {
	b.wr = 0
	b.rd = 0
}

// Append stores c if there is room and reports whether it did. On a full
// buffer the state is left unchanged.
func (b *LineBuffer) Append(c byte) bool {
	if b.wr < len(b.buf) {
		b.buf[b.wr] = c
		b.wr++
		return true
	}
	return false
}

// Empty reports whether no unread content remains.
func (b *LineBuffer) Empty() bool {
	return b.rd >= b.wr
}

// Next returns the character at the read cursor and advances it.
// Callers must guard with Empty; calling Next on an empty buffer panics.
func (b *LineBuffer) Next() byte {
	if b.Empty() {
		panic("sensorboard: Next on empty LineBuffer")
	}
	c := b.buf[b.rd]
	b.rd++
	return c
}

// Peek returns the character at the read cursor without advancing it.
// Same precondition as Next.
func (b *LineBuffer) Peek() byte {
	if b.Empty() {
		panic("sensorboard: Peek on empty LineBuffer")
	}
	return b.buf[b.rd]
}

// ParseUint consumes a maximal run of decimal digits starting at the read
// cursor. It succeeds only if at least one digit was consumed, no more than
// maxDigits were consumed, and the accumulated value does not exceed
// maxValue. Leading + or - is not accepted.
//
// On failure the read cursor is left wherever consumption stopped: a caller
// that fails a grammar alternative must discard the whole line via Reset
// rather than attempt to rewind.
func (b *LineBuffer) ParseUint(maxDigits int, maxValue uint) (uint, bool) {
	var v uint
	digits := 0
	for !b.Empty() && isDigit(b.Peek()) {
		c := b.Next()
		v = v*10 + uint(c-'0')
		digits++
		if digits > maxDigits {
			return 0, false
		}
	}
	if digits == 0 || v > maxValue {
		return 0, false
	}
	return v, true
}

// ParseIdentifier consumes an identifier (a lowercase letter followed by a
// run of lowercase letters, digits and underscores) and returns it as a view
// into the buffer's storage. The view is valid only until the next Reset or
// Append; callers that retain it must copy. Returns nil if the next
// character is not a lowercase letter.
func (b *LineBuffer) ParseIdentifier() []byte {
	if b.Empty() || !isLowerAlpha(b.Peek()) {
		return nil
	}
	start := b.rd
	b.rd++
	for !b.Empty() && isIdentByte(b.Peek()) {
		b.rd++
	}
	return b.buf[start:b.rd]
}

// MatchAndConsume consumes the next character if it equals c and reports
// whether it did. On mismatch or an empty buffer nothing is consumed.
func (b *LineBuffer) MatchAndConsume(c byte) bool {
	if b.Empty() || b.Peek() != c {
		return false
	}
	b.rd++
	return true
}

// Len returns the number of characters stored.
func (b *LineBuffer) Len() int {
	return b.wr
}

// Cap returns the buffer capacity.
func (b *LineBuffer) Cap() int {
	return len(b.buf)
}

// Bytes returns the full stored content regardless of the read cursor.
// Like ParseIdentifier, the view is valid only until the next Reset or
// Append. Used for diagnostics when a line fails to match.
func (b *LineBuffer) Bytes() []byte {
	return b.buf[:b.wr]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isLowerAlpha(c byte) bool {
	return c >= 'a' && c <= 'z'
}

func isIdentByte(c byte) bool {
	return isLowerAlpha(c) || isDigit(c) || c == '_'
}
