package wire

import (
	"testing"

	"github.com/rtpjitter/pkg/rtperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	buf := NewBuffer(make([]byte, 32))
	w := NewWriter(buf)

	require.NoError(t, w.PutU8(0xab))
	require.NoError(t, w.PutU16(0x1234))
	require.NoError(t, w.PutU32(0xdeadbeef))
	require.NoError(t, w.PutU64(0x0102030405060708))
	require.NoError(t, w.PutBytes([]byte("hi")))
	require.NoError(t, w.Align())
	assert.Equal(t, 0, w.Pos()%4)

	r := NewReader(buf)
	u8, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xab), u8)

	u16, err := r.U16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u16)

	u32, err := r.U32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), u32)

	u64, err := r.U64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), u64)

	s, err := r.Slice(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), s)
}

func TestReader_ShortBufferError(t *testing.T) {
	buf := NewBuffer([]byte{0x01})
	r := NewReader(buf)
	_, err := r.U32()
	require.Error(t, err)
	assert.True(t, rtperrors.IsShortBuffer(err))
}

func TestWriter_OverflowError(t *testing.T) {
	buf := NewBuffer(make([]byte, 2))
	w := NewWriter(buf)
	err := w.PutU32(1)
	require.Error(t, err)
	assert.True(t, rtperrors.IsOverflow(err))
}

func TestReader_SetPosRewind(t *testing.T) {
	buf := NewBuffer([]byte{1, 2, 3, 4})
	r := NewReader(buf)
	_, _ = r.U16()
	assert.Equal(t, 2, r.Pos())
	r.SetPos(0)
	assert.Equal(t, 0, r.Pos())
	assert.Equal(t, 4, r.Remaining())
}

func TestBuffer_RefCounting(t *testing.T) {
	buf := NewBuffer([]byte{1, 2, 3})
	assert.Equal(t, int32(1), buf.RefCount())
	buf.Ref()
	assert.Equal(t, int32(2), buf.RefCount())
	buf.Unref()
	assert.Equal(t, int32(1), buf.RefCount())
}

func TestBuffer_NilSafe(t *testing.T) {
	var b *Buffer
	assert.Nil(t, b.Ref())
	assert.Equal(t, int32(0), b.Unref())
	assert.Equal(t, int32(0), b.RefCount())
}
