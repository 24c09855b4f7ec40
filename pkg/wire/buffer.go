// Package wire implements the positional big-endian byte container and
// read/write primitives shared by the RTP and RTCP codecs.
package wire

import "sync/atomic"

// Buffer is a reference-counted, shared-ownership byte container. Readers
// borrow slices of it directly rather than copying; a parsed packet holds a
// reference for as long as it needs the backing bytes to stay alive.
//
// This mirrors the shared-buffer handle the original C library borrows
// parsed fields from (a pomp_buffer): many readers, explicit ref/unref,
// no implicit copy-on-read.
type Buffer struct {
	data []byte
	refs *int32
}

// NewBuffer wraps data with an initial reference count of one. The caller
// must not mutate data after handing it to NewBuffer if any reader will
// borrow slices from it.
func NewBuffer(data []byte) *Buffer {
	refs := int32(1)
	return &Buffer{data: data, refs: &refs}
}

// Ref increments the reference count and returns the same handle, so call
// sites can write `pkt.raw = buf.Ref()`.
func (b *Buffer) Ref() *Buffer {
	if b == nil {
		return nil
	}
	atomic.AddInt32(b.refs, 1)
	return b
}

// Unref decrements the reference count. The underlying slice is left for
// the garbage collector once the last reference drops; Unref exists to
// make ownership transfers explicit and to let callers assert on leaks in
// tests, not to free memory manually.
func (b *Buffer) Unref() int32 {
	if b == nil {
		return 0
	}
	return atomic.AddInt32(b.refs, -1)
}

// RefCount reports the current reference count, for diagnostics and tests.
func (b *Buffer) RefCount() int32 {
	if b == nil {
		return 0
	}
	return atomic.LoadInt32(b.refs)
}

// Bytes returns the full backing slice. Mutating it while other readers
// hold slices derived from it is the caller's responsibility to avoid.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes in the container.
func (b *Buffer) Len() int { return len(b.data) }
