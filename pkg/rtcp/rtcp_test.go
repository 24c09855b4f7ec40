package rtcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpjitter/pkg/ntp"
	"github.com/rtpjitter/pkg/wire"
)

func TestReceiverReport_RoundTrip(t *testing.T) {
	rr := &ReceiverReport{
		SSRC: 0xdeadbeef,
		Reports: []ReportBlock{
			{
				SSRC:             0x11223344,
				Fraction:         51,
				Lost:             -3,
				ExtHighestSeqnum: 4242,
				Jitter:           9,
				LSR:              ntp.Timestamp32{Seconds: 0x1234, Fraction: 0x5678},
				DLSR:             7,
			},
		},
	}

	buf := wire.NewBuffer(make([]byte, 64))
	w := wire.NewWriter(buf)
	require.NoError(t, WriteReceiverReport(w, rr))

	var got *ReceiverReport
	cbs := &Callbacks{ReceiverReport: func(r *ReceiverReport) { got = r }}
	readBuf := wire.NewBuffer(buf.Bytes()[:w.Pos()])
	require.NoError(t, Read(readBuf, cbs, nil))

	require.NotNil(t, got)
	assert.Equal(t, rr.SSRC, got.SSRC)
	require.Len(t, got.Reports, 1)
	assert.Equal(t, rr.Reports[0], got.Reports[0])
}

func TestSDES_PRIVRoundTrip(t *testing.T) {
	chunks := []SDESChunk{
		{
			SSRC: 1,
			Items: []SDESItem{
				{Type: SDESCNAME, Data: []byte("abc")},
				{Type: SDESPriv, PrivPrefix: []byte("x"), PrivValue: []byte("yz")},
			},
		},
	}

	buf := wire.NewBuffer(make([]byte, 64))
	w := wire.NewWriter(buf)
	require.NoError(t, WriteSDES(w, chunks))

	var items []*SDESItem
	cbs := &Callbacks{SDESItem: func(ssrc uint32, item *SDESItem) {
		assert.Equal(t, uint32(1), ssrc)
		items = append(items, item)
	}}
	readBuf := wire.NewBuffer(buf.Bytes()[:w.Pos()])
	require.NoError(t, Read(readBuf, cbs, nil))

	require.Len(t, items, 2)
	assert.Equal(t, []byte("abc"), items[0].Data)
	assert.Equal(t, []byte("x"), items[1].PrivPrefix)
	assert.Equal(t, []byte("yz"), items[1].PrivValue)
}

func TestSDES_TerminatorOnly(t *testing.T) {
	chunks := []SDESChunk{{SSRC: 7}}

	buf := wire.NewBuffer(make([]byte, 16))
	w := wire.NewWriter(buf)
	require.NoError(t, WriteSDES(w, chunks))

	called := false
	cbs := &Callbacks{SDESItem: func(uint32, *SDESItem) { called = true }}
	readBuf := wire.NewBuffer(buf.Bytes()[:w.Pos()])
	require.NoError(t, Read(readBuf, cbs, nil))
	assert.False(t, called)
}

func TestBYE_ZeroSourcesNoReason(t *testing.T) {
	buf := wire.NewBuffer(make([]byte, 16))
	w := wire.NewWriter(buf)
	require.NoError(t, WriteBYE(w, nil, nil))

	var got *BYE
	cbs := &Callbacks{BYE: func(b *BYE) { got = b }}
	readBuf := wire.NewBuffer(buf.Bytes()[:w.Pos()])
	require.NoError(t, Read(readBuf, cbs, nil))

	require.NotNil(t, got)
	assert.Empty(t, got.Sources)
	assert.Empty(t, got.Reason)
}

func TestTypeString_CorrectsKnownSRRRSwap(t *testing.T) {
	assert.Equal(t, "SR", TypeString(TypeSR))
	assert.Equal(t, "RR", TypeString(TypeRR))
}

func TestRead_ResilientToMalformedSubPacket(t *testing.T) {
	// First sub-packet: a well-formed-looking RTPFB header whose body
	// declares a status count above the capacity bound, so DecodeTWCC
	// fails partway through the 16-byte preamble. Its header correctly
	// declares a 20-byte total length, so the outer cursor lands exactly
	// on the following BYE regardless of the inner failure.
	flags := uint8(version<<flagsVerShift) | (fmtTWCC & flagsCountMask)
	corrupt := []byte{
		flags, TypeRTPFB, 0x00, 0x04, // header: length = 4 words = 20 bytes total
		0, 0, 0, 0, // senderSSRC
		0, 0, 0, 0, // mediaSSRC
		0, 0, // baseSeq
		0xff, 0xff, // statusCount = 0xffff, exceeds MaxStatusCount
		0, 0, 0, 0, // refTime/fbPktCount (never reached)
	}
	require.Len(t, corrupt, 20)

	buf := wire.NewBuffer(append(corrupt, make([]byte, 16)...))
	w := wire.NewWriter(buf)
	w.SetPos(len(corrupt))
	require.NoError(t, WriteBYE(w, []uint32{9}, nil))

	var gotBYE *BYE
	cbs := &Callbacks{BYE: func(b *BYE) { gotBYE = b }}
	require.NoError(t, Read(wire.NewBuffer(buf.Bytes()[:w.Pos()]), cbs, nil))
	require.NotNil(t, gotBYE)
	assert.Equal(t, []uint32{9}, gotBYE.Sources)
}
