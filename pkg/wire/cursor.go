package wire

import "github.com/rtpjitter/pkg/rtperrors"

// Reader is a positional cursor over a Buffer. Every read advances the
// position by the size of the value read; slice reads return a borrowed
// view into the Buffer, never a copy.
type Reader struct {
	buf *Buffer
	pos int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf *Buffer) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the current read position.
func (r *Reader) Pos() int { return r.pos }

// SetPos repositions the cursor; used by readers that need to rewind a
// single byte (SDES item-type peek) or jump to a sub-packet's declared end.
func (r *Reader) SetPos(pos int) { r.pos = pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return r.buf.Len() - r.pos }

// Len returns the total length of the underlying container.
func (r *Reader) Len() int { return r.buf.Len() }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return rtperrors.New(rtperrors.KindShortBuffer,
			"need %d bytes, have %d", n, r.Remaining())
	}
	return nil
}

// U8 reads one byte in network order.
func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf.data[r.pos]
	r.pos++
	return v, nil
}

// U16 reads a 16-bit big-endian unsigned integer.
func (r *Reader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := uint16(r.buf.data[r.pos])<<8 | uint16(r.buf.data[r.pos+1])
	r.pos += 2
	return v, nil
}

// U32 reads a 32-bit big-endian unsigned integer.
func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	d := r.buf.data[r.pos : r.pos+4]
	v := uint32(d[0])<<24 | uint32(d[1])<<16 | uint32(d[2])<<8 | uint32(d[3])
	r.pos += 4
	return v, nil
}

// U64 reads a 64-bit big-endian unsigned integer.
func (r *Reader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	d := r.buf.data[r.pos : r.pos+8]
	v := uint64(d[0])<<56 | uint64(d[1])<<48 | uint64(d[2])<<40 | uint64(d[3])<<32 |
		uint64(d[4])<<24 | uint64(d[5])<<16 | uint64(d[6])<<8 | uint64(d[7])
	r.pos += 8
	return v, nil
}

// Slice returns a borrowed view of the next n bytes without copying.
func (r *Reader) Slice(n int) ([]byte, error) {
	if n < 0 {
		return nil, rtperrors.New(rtperrors.KindInvalidArgument, "negative slice length %d", n)
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	s := r.buf.data[r.pos : r.pos+n]
	r.pos += n
	return s, nil
}

// Writer is a positional cursor over a pre-allocated Buffer used for
// encoding. The backing slice's length is treated as its capacity; writes
// past the end fail with KindOverflow rather than growing the slice, so
// finalize-header flows that write into an already-sized buffer behave
// predictably.
type Writer struct {
	buf *Buffer
	pos int
}

// NewWriter returns a Writer positioned at the start of buf.
func NewWriter(buf *Buffer) *Writer {
	return &Writer{buf: buf}
}

// Pos returns the current write position.
func (w *Writer) Pos() int { return w.pos }

// SetPos repositions the cursor, used to rewind and patch a placeholder
// header once a sub-packet's body length is known.
func (w *Writer) SetPos(pos int) { w.pos = pos }

// Buffer returns the underlying Buffer being written to.
func (w *Writer) Buffer() *Buffer { return w.buf }

func (w *Writer) room(n int) error {
	if w.buf.Len()-w.pos < n {
		return rtperrors.New(rtperrors.KindOverflow,
			"need %d bytes, have %d", n, w.buf.Len()-w.pos)
	}
	return nil
}

// PutU8 writes one byte.
func (w *Writer) PutU8(v uint8) error {
	if err := w.room(1); err != nil {
		return err
	}
	w.buf.data[w.pos] = v
	w.pos++
	return nil
}

// PutU16 writes a 16-bit big-endian unsigned integer.
func (w *Writer) PutU16(v uint16) error {
	if err := w.room(2); err != nil {
		return err
	}
	w.buf.data[w.pos] = byte(v >> 8)
	w.buf.data[w.pos+1] = byte(v)
	w.pos += 2
	return nil
}

// PutU32 writes a 32-bit big-endian unsigned integer.
func (w *Writer) PutU32(v uint32) error {
	if err := w.room(4); err != nil {
		return err
	}
	d := w.buf.data[w.pos : w.pos+4]
	d[0], d[1], d[2], d[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
	w.pos += 4
	return nil
}

// PutU64 writes a 64-bit big-endian unsigned integer.
func (w *Writer) PutU64(v uint64) error {
	if err := w.room(8); err != nil {
		return err
	}
	d := w.buf.data[w.pos : w.pos+8]
	d[0], d[1], d[2], d[3] = byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32)
	d[4], d[5], d[6], d[7] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
	w.pos += 8
	return nil
}

// PutBytes copies b into the buffer at the current position.
func (w *Writer) PutBytes(b []byte) error {
	if err := w.room(len(b)); err != nil {
		return err
	}
	copy(w.buf.data[w.pos:], b)
	w.pos += len(b)
	return nil
}

// Align writes zero bytes until the position is a multiple of 4.
func (w *Writer) Align() error {
	for w.pos%4 != 0 {
		if err := w.PutU8(0); err != nil {
			return err
		}
	}
	return nil
}
