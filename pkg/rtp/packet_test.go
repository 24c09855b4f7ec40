package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpjitter/pkg/rtperrors"
	"github.com/rtpjitter/pkg/wire"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Packet
		payload     []byte
		expectError bool
		errKind     rtperrors.Kind
	}{
		{
			name: "valid packet, no extension, no csrc",
			data: []byte{
				0x80, 0x60, // V=2, P=0, X=0, CC=0, M=0, PT=96
				0x00, 0x01, // sequence number 1
				0x00, 0x00, 0x03, 0xe8, // timestamp 1000
				0x12, 0x34, 0x56, 0x78, // ssrc
				0x01, 0x02, 0x03, // payload
			},
			expected: &Packet{
				Version:        2,
				PayloadType:    96,
				SequenceNumber: 1,
				Timestamp:      1000,
				SSRC:           0x12345678,
			},
			payload: []byte{0x01, 0x02, 0x03},
		},
		{
			name: "marker bit and csrc list",
			data: []byte{
				0x81, 0xe0, // V=2, CC=1, M=1, PT=96
				0x00, 0x02,
				0x00, 0x00, 0x07, 0xd0,
				0xaa, 0xbb, 0xcc, 0xdd,
				0x11, 0x22, 0x33, 0x44, // csrc[0]
				0xaa, 0xbb, // payload
			},
			expected: &Packet{
				Version:        2,
				Marker:         true,
				PayloadType:    96,
				SequenceNumber: 2,
				Timestamp:      2000,
				SSRC:           0xaabbccdd,
				CSRC:           []uint32{0x11223344},
			},
			payload: []byte{0xaa, 0xbb},
		},
		{
			name: "padding trimmed from payload",
			data: []byte{
				0xa0, 0x60, // V=2, P=1, PT=96
				0x00, 0x03,
				0x00, 0x00, 0x03, 0xe8,
				0x12, 0x34, 0x56, 0x78,
				0x01, 0x02, 0x02, // 1 data byte + 2 padding bytes, last byte is the pad count
			},
			expected: &Packet{
				Version:        2,
				PayloadType:    96,
				SequenceNumber: 3,
				Timestamp:      1000,
				SSRC:           0x12345678,
			},
			payload: []byte{0x01},
		},
		{
			name: "padding count exceeds payload",
			data: []byte{
				0xa0, 0x60,
				0x00, 0x04,
				0x00, 0x00, 0x03, 0xe8,
				0x12, 0x34, 0x56, 0x78,
				0x05, // single byte declaring 5 bytes of padding
			},
			expectError: true,
			errKind:     rtperrors.KindBadLength,
		},
		{
			name:        "too short",
			data:        []byte{0x80, 0x60, 0x00},
			expectError: true,
			errKind:     rtperrors.KindShortBuffer,
		},
		{
			name:        "bad version",
			data:        []byte{0x40, 0x60, 0x00, 0x01, 0x00, 0x00, 0x03, 0xe8, 0x12, 0x34, 0x56, 0x78},
			expectError: true,
			errKind:     rtperrors.KindBadVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := wire.NewBuffer(tt.data)
			p, err := Parse(buf)

			if tt.expectError {
				require.Error(t, err)
				assert.True(t, rtperrors.Is(err, tt.errKind))
				return
			}
			require.NoError(t, err)
			defer p.Destroy()

			assert.Equal(t, tt.expected.Version, p.Version)
			assert.Equal(t, tt.expected.Marker, p.Marker)
			assert.Equal(t, tt.expected.PayloadType, p.PayloadType)
			assert.Equal(t, tt.expected.SequenceNumber, p.SequenceNumber)
			assert.Equal(t, tt.expected.Timestamp, p.Timestamp)
			assert.Equal(t, tt.expected.SSRC, p.SSRC)
			assert.Equal(t, tt.expected.CSRC, p.CSRC)
			assert.Equal(t, tt.payload, p.Payload())
		})
	}
}

func TestParse_Extension(t *testing.T) {
	data := []byte{
		0x90, 0x60, // V=2, X=1, PT=96
		0x00, 0x01,
		0x00, 0x00, 0x03, 0xe8,
		0x12, 0x34, 0x56, 0x78,
		0xbe, 0xde, 0x00, 0x01, // extension id 0xbede, 1 word
		0x11, 0x22, 0x33, 0x44, // extension payload
		0x01, 0x02, // rtp payload
	}
	buf := wire.NewBuffer(data)
	p, err := Parse(buf)
	require.NoError(t, err)
	defer p.Destroy()

	assert.True(t, p.Extension)
	assert.Equal(t, uint16(0xbede), p.ExtHeader.ID)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, p.ExtensionPayload())
	assert.Equal(t, []byte{0x01, 0x02}, p.Payload())
}

func TestFinalizeHeader_RoundTrip(t *testing.T) {
	p := New()
	p.Marker = true
	p.PayloadType = 96
	p.SequenceNumber = 4242
	p.Timestamp = 90000
	p.SSRC = 0xdeadbeef

	buf := wire.NewBuffer(make([]byte, HeaderSize+3))
	require.NoError(t, FinalizeHeader(buf, p))
	copy(buf.Bytes()[HeaderSize:], []byte{0x01, 0x02, 0x03})

	parsed, err := Parse(buf)
	require.NoError(t, err)
	defer parsed.Destroy()

	assert.Equal(t, p.Marker, parsed.Marker)
	assert.Equal(t, p.PayloadType, parsed.PayloadType)
	assert.Equal(t, p.SequenceNumber, parsed.SequenceNumber)
	assert.Equal(t, p.Timestamp, parsed.Timestamp)
	assert.Equal(t, p.SSRC, parsed.SSRC)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, parsed.Payload())
}

func TestPacket_CloneSharesBuffer(t *testing.T) {
	data := []byte{
		0x80, 0x60, 0x00, 0x01, 0x00, 0x00, 0x03, 0xe8,
		0x12, 0x34, 0x56, 0x78, 0x01, 0x02, 0x03,
	}
	buf := wire.NewBuffer(data)
	p, err := Parse(buf)
	require.NoError(t, err)

	assert.Equal(t, int32(2), buf.RefCount())
	clone := p.Clone()
	assert.Equal(t, int32(3), buf.RefCount())

	p.Destroy()
	assert.Equal(t, int32(2), buf.RefCount())
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, clone.Payload())
	clone.Destroy()
	assert.Equal(t, int32(1), buf.RefCount())
}
