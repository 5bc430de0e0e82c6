package http //nolint:revive // intentional naming for domain clarity

import "errors"

// ErrBufferFull is returned by BoundedBuffer.Write once its capacity is used.
var ErrBufferFull = errors.New("http: output buffer full")

// BoundedBuffer is an io.Writer over a caller-owned fixed slice. Writes past
// the end are dropped and recorded as truncation.
type BoundedBuffer struct {
	buf       []byte
	n         int
	truncated bool
}

// NewBoundedBuffer returns a writer that fills buf from the start.
func NewBoundedBuffer(buf []byte) *BoundedBuffer {
	return &BoundedBuffer{buf: buf}
}

// Write copies as much of p as fits. It returns ErrBufferFull when any byte
// of p did not fit.
func (b *BoundedBuffer) Write(p []byte) (int, error) {
	n := copy(b.buf[b.n:], p)
	b.n += n
	if n < len(p) {
		b.truncated = true
		return n, ErrBufferFull
	}
	return n, nil
}

// Bytes returns the written prefix of the buffer.
func (b *BoundedBuffer) Bytes() []byte {
	return b.buf[:b.n]
}

// Truncated reports whether any write overflowed the buffer.
func (b *BoundedBuffer) Truncated() bool {
	return b.truncated
}
