// Package rtp implements the RTP packet codec: parsing a datagram into
// header fields plus borrowed extension-header and payload slices, and
// finalizing a header into a pre-allocated buffer for the write path.
package rtp

import (
	"fmt"

	"github.com/rtpjitter/pkg/rtperrors"
	"github.com/rtpjitter/pkg/wire"
)

const (
	// HeaderSize is the fixed 12-byte RTP header (CSRC list excluded).
	HeaderSize = 12
	version    = 2

	flagsVersionShift   = 14
	flagsVersionMask    = 0x3
	flagsPaddingShift   = 13
	flagsPaddingMask    = 0x1
	flagsExtensionShift = 12
	flagsExtensionMask  = 0x1
	flagsCSRCShift      = 8
	flagsCSRCMask       = 0xf
	flagsMarkerShift    = 7
	flagsMarkerMask     = 0x1
	flagsPTMask         = 0x7f
)

// ExtensionHeader describes the RTP extension header's borrowed slice:
// (id, offset of the 4-byte id+length prefix, total length in bytes
// including that prefix).
type ExtensionHeader struct {
	ID     uint16
	Offset int
	Length int
}

// Packet is a parsed (or about-to-be-finalized) RTP packet. A parsed
// packet holds a reference to the underlying Buffer until Destroy is
// called; the extension and payload fields are (offset, length) views
// into that buffer, never copies. CSRC is decoded into its own slice.
type Packet struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32

	ExtHeader ExtensionHeader

	payloadOffset int
	payloadLength int

	paddingLength int

	raw *wire.Buffer

	// InTimestamp is the monotonic microsecond receipt time, set by the
	// caller before enqueueing into a jitter buffer.
	InTimestamp uint64
	// OutTimestamp is the release time computed by the jitter buffer.
	OutTimestamp uint64
	// RTPTimestampExt is the 64-bit unwrapped RTP timestamp, supplied by
	// the caller (it tracks timestamp wraparound across the session).
	RTPTimestampExt uint64
	// Priority is an optional caller-assigned importance hint.
	Priority int
}

// Payload returns the borrowed payload slice (padding already excluded).
func (p *Packet) Payload() []byte {
	if p.raw == nil {
		return nil
	}
	return p.raw.Bytes()[p.payloadOffset : p.payloadOffset+p.payloadLength]
}

// ExtensionPayload returns the borrowed extension-header opaque payload
// (excluding the 4-byte id+length prefix), or nil if Extension is unset.
func (p *Packet) ExtensionPayload() []byte {
	if !p.Extension || p.raw == nil {
		return nil
	}
	start := p.ExtHeader.Offset + 4
	end := p.ExtHeader.Offset + p.ExtHeader.Length
	return p.raw.Bytes()[start:end]
}

// PaddingLength returns the number of trailing padding bytes removed from
// the payload.
func (p *Packet) PaddingLength() int { return p.paddingLength }

// New returns an empty packet ready to have its header fields set and its
// header finalized into a fresh buffer.
func New() *Packet {
	return &Packet{Version: version}
}

// Clone returns a shallow copy that shares a reference to the same
// underlying buffer; the caller must Destroy both independently.
func (p *Packet) Clone() *Packet {
	clone := *p
	clone.raw = p.raw.Ref()
	return &clone
}

// Destroy releases the packet's reference to its backing buffer. It is
// safe to call on a packet with no backing buffer (raw == nil).
func (p *Packet) Destroy() {
	p.raw.Unref()
	p.raw = nil
}

// Parse reads one RTP datagram out of buf. On success the returned packet
// holds a reference to buf until Destroy is called.
func Parse(buf *wire.Buffer) (*Packet, error) {
	if buf.Len() < HeaderSize {
		return nil, rtperrors.New(rtperrors.KindShortBuffer,
			"rtp header needs %d bytes, have %d", HeaderSize, buf.Len())
	}

	r := wire.NewReader(buf)
	flags, err := r.U16()
	if err != nil {
		return nil, err
	}
	seq, err := r.U16()
	if err != nil {
		return nil, err
	}
	ts, err := r.U32()
	if err != nil {
		return nil, err
	}
	ssrc, err := r.U32()
	if err != nil {
		return nil, err
	}

	p := &Packet{
		Version:        uint8(flags>>flagsVersionShift) & flagsVersionMask,
		Padding:        (flags>>flagsPaddingShift)&flagsPaddingMask == 1,
		Extension:      (flags>>flagsExtensionShift)&flagsExtensionMask == 1,
		Marker:         (flags>>flagsMarkerShift)&flagsMarkerMask == 1,
		PayloadType:    uint8(flags & flagsPTMask),
		SequenceNumber: seq,
		Timestamp:      ts,
		SSRC:           ssrc,
	}

	if p.Version != version {
		return nil, rtperrors.New(rtperrors.KindBadVersion,
			"rtp version %d, expected %d", p.Version, version)
	}

	csrcCount := int(flags>>flagsCSRCShift) & flagsCSRCMask
	if csrcCount > 0 {
		if r.Remaining() < csrcCount*4 {
			return nil, rtperrors.New(rtperrors.KindBadLength,
				"rtp csrc list needs %d bytes, have %d", csrcCount*4, r.Remaining())
		}
		p.CSRC = make([]uint32, csrcCount)
		for i := 0; i < csrcCount; i++ {
			v, err := r.U32()
			if err != nil {
				return nil, err
			}
			p.CSRC[i] = v
		}
	}

	if p.Extension {
		if r.Remaining() < 4 {
			return nil, rtperrors.New(rtperrors.KindBadLength,
				"rtp extension header needs 4 bytes, have %d", r.Remaining())
		}
		p.ExtHeader.Offset = r.Pos()
		id, err := r.U16()
		if err != nil {
			return nil, err
		}
		words, err := r.U16()
		if err != nil {
			return nil, err
		}
		p.ExtHeader.ID = id
		p.ExtHeader.Length = int(words)*4 + 4
		if r.Remaining() < int(words)*4 {
			return nil, rtperrors.New(rtperrors.KindBadLength,
				"rtp extension payload needs %d bytes, have %d", int(words)*4, r.Remaining())
		}
		if _, err := r.Slice(int(words) * 4); err != nil {
			return nil, err
		}
	}

	p.payloadOffset = r.Pos()
	p.payloadLength = r.Len() - r.Pos()

	if p.Padding {
		if p.payloadLength < 1 {
			return nil, rtperrors.New(rtperrors.KindBadLength,
				"rtp padding flag set but payload is empty")
		}
		padding := buf.Bytes()[r.Len()-1]
		if int(padding) > p.payloadLength {
			return nil, rtperrors.New(rtperrors.KindBadLength,
				"rtp padding length %d exceeds payload length %d", padding, p.payloadLength)
		}
		p.payloadLength -= int(padding)
		p.paddingLength = int(padding)
	}

	p.raw = buf.Ref()
	return p, nil
}

// FinalizeHeader writes the fixed 12-byte header into buf at position 0.
// buf must already hold at least HeaderSize writable bytes; this supports
// "fill payload first, finalize header last" write flows.
func FinalizeHeader(buf *wire.Buffer, p *Packet) error {
	if buf.Len() < HeaderSize {
		return rtperrors.New(rtperrors.KindOverflow,
			"rtp header needs %d bytes, buffer has %d", HeaderSize, buf.Len())
	}

	var flags uint16
	flags |= uint16(p.Version&flagsVersionMask) << flagsVersionShift
	if p.Padding {
		flags |= flagsPaddingMask << flagsPaddingShift
	}
	if p.Extension {
		flags |= flagsExtensionMask << flagsExtensionShift
	}
	flags |= uint16(len(p.CSRC)&flagsCSRCMask) << flagsCSRCShift
	if p.Marker {
		flags |= flagsMarkerMask << flagsMarkerShift
	}
	flags |= uint16(p.PayloadType) & flagsPTMask

	w := wire.NewWriter(buf)
	if err := w.PutU16(flags); err != nil {
		return err
	}
	if err := w.PutU16(p.SequenceNumber); err != nil {
		return err
	}
	if err := w.PutU32(p.Timestamp); err != nil {
		return err
	}
	if err := w.PutU32(p.SSRC); err != nil {
		return err
	}
	return nil
}

// String returns a short debugging representation.
func (p *Packet) String() string {
	return fmt.Sprintf(
		"rtp.Packet{seq=%d ts=%d ssrc=0x%08x pt=%d marker=%t payload=%dB}",
		p.SequenceNumber, p.Timestamp, p.SSRC, p.PayloadType, p.Marker, p.payloadLength,
	)
}
