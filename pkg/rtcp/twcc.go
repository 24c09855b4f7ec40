package rtcp

import (
	"github.com/rtpjitter/pkg/rtperrors"
	"github.com/rtpjitter/pkg/wire"
)

// fmtTWCC is the RTPFB format (the header's count field) identifying the
// transport-wide congestion-control feedback layout, the only RTPFB
// variant this package decodes.
const fmtTWCC = 15

// MaxStatusCount bounds the number of packet-status symbols a single TWCC
// report may describe, guarding the decoder against a corrupt or hostile
// length field driving an unbounded allocation.
const MaxStatusCount = 0x7fff

// Symbol is one packet-status symbol: whether and how a packet's arrival
// delta is reported.
type Symbol uint8

const (
	// SymbolNotReceived marks a sequence number with no reported delta.
	SymbolNotReceived Symbol = 0
	// SymbolSmallDelta marks an 8-bit unsigned 250us-unit delta.
	SymbolSmallDelta Symbol = 1
	// SymbolLargeDelta marks a 16-bit signed 250us-unit delta.
	SymbolLargeDelta Symbol = 2
	// SymbolReserved is unused by this encoder but valid on the wire.
	SymbolReserved Symbol = 3
)

// TWCCReport is the decoded (or about-to-be-encoded) form of a transport-
// wide congestion-control feedback report: one symbol and one delta (in
// 250us units, meaningful only for SymbolSmallDelta/SymbolLargeDelta) per
// sequence number starting at BaseSeq.
type TWCCReport struct {
	SenderSSRC uint32
	MediaSSRC  uint32
	BaseSeq    uint16
	RefTime    uint32 // 24-bit value, 64ms units
	FbPktCount uint8

	Symbols []Symbol
	Deltas  []int32
	SeqNums []uint16
}

// chunkBuilder greedily packs a symbol stream into run-length, small-
// status-vector, and large-status-vector chunks.
type chunkBuilder struct {
	words   []uint16
	pending []Symbol
	isRun   bool
	isLarge bool
}

func encodeRunLength(symbol Symbol, run int) uint16 {
	return uint16(symbol&0x3)<<13 | uint16(run&0x1fff)
}

func encodeVectorSmall(symbols []Symbol) uint16 {
	v := uint16(0x8000)
	for i := 0; i < 14; i++ {
		var s Symbol
		if i < len(symbols) {
			s = symbols[i]
		}
		v |= uint16(s&0x1) << (13 - i)
	}
	return v
}

func encodeVectorLarge(symbols []Symbol) uint16 {
	v := uint16(0xc000)
	for i := 0; i < 7; i++ {
		var s Symbol
		if i < len(symbols) {
			s = symbols[i]
		}
		v |= uint16(s&0x3) << (12 - i*2)
	}
	return v
}

func (b *chunkBuilder) recompute() {
	b.isRun = true
	b.isLarge = false
	if len(b.pending) == 0 {
		return
	}
	first := b.pending[0]
	for _, s := range b.pending {
		if s != first {
			b.isRun = false
		}
		if s >= SymbolLargeDelta {
			b.isLarge = true
		}
	}
}

func (b *chunkBuilder) add(s Symbol) {
	// A full small-vector's worth of pending symbols that never turned
	// into a run or went large: flush it and start fresh. A status-
	// vector-small chunk always carries exactly 14 symbols on the wire
	// (decodeChunks reads 14 unconditionally), so the flush must wait for
	// the 14th symbol, not the 13th.
	if len(b.pending) == 14 && !b.isRun && !b.isLarge {
		b.words = append(b.words, encodeVectorSmall(b.pending))
		b.pending = b.pending[:0]
		b.isRun = false
		b.isLarge = false
	}

	// A large-vector's worth of pending symbols not (yet) a run: flush the
	// first 7 as a large-vector chunk and keep evaluating the remainder.
	if len(b.pending) >= 7 && !b.isRun && b.isLarge {
		b.words = append(b.words, encodeVectorLarge(b.pending[:7]))
		rest := make([]Symbol, len(b.pending)-7)
		copy(rest, b.pending[7:])
		b.pending = rest
		b.recompute()
	}

	// A long run broken by a new symbol: flush the run and start fresh.
	if len(b.pending) >= 13 && b.isRun && (len(b.pending) == 0 || s != b.pending[0]) {
		b.words = append(b.words, encodeRunLength(b.pending[0], len(b.pending)))
		b.pending = b.pending[:0]
		b.isRun = false
		b.isLarge = false
	}

	if len(b.pending) == 0 {
		b.isRun = true
		b.isLarge = s >= SymbolLargeDelta
	} else {
		if s != b.pending[0] {
			b.isRun = false
		}
		if s >= SymbolLargeDelta {
			b.isLarge = true
		}
	}
	b.pending = append(b.pending, s)
}

func (b *chunkBuilder) flush() {
	if len(b.pending) == 0 {
		return
	}
	switch {
	case b.isRun:
		b.words = append(b.words, encodeRunLength(b.pending[0], len(b.pending)))
	case b.isLarge:
		if len(b.pending) > 7 {
			b.words = append(b.words, encodeVectorLarge(b.pending[:7]))
			b.words = append(b.words, encodeVectorLarge(b.pending[7:]))
		} else {
			b.words = append(b.words, encodeVectorLarge(b.pending))
		}
	default:
		b.words = append(b.words, encodeVectorSmall(b.pending))
	}
	b.pending = b.pending[:0]
}

func decodeChunks(r *wire.Reader, statusCount uint16) ([]Symbol, error) {
	symbols := make([]Symbol, 0, statusCount)
	for uint16(len(symbols)) < statusCount {
		v, err := r.U16()
		if err != nil {
			return nil, err
		}
		switch v >> 15 {
		case 0: // run-length chunk
			symbol := Symbol((v >> 13) & 0x3)
			run := int(v & 0x1fff)
			for i := 0; i < run && uint16(len(symbols)) < statusCount; i++ {
				symbols = append(symbols, symbol)
			}
		default:
			if (v>>14)&0x1 == 0 { // status-vector-small
				for i := 0; i < 14 && uint16(len(symbols)) < statusCount; i++ {
					symbols = append(symbols, Symbol((v>>(13-i))&0x1))
				}
			} else { // status-vector-large
				for i := 0; i < 7 && uint16(len(symbols)) < statusCount; i++ {
					symbols = append(symbols, Symbol((v>>(12-i*2))&0x3))
				}
			}
		}
	}
	return symbols, nil
}

func decodeDeltas(r *wire.Reader, symbols []Symbol) ([]int32, error) {
	deltas := make([]int32, len(symbols))
	for i, s := range symbols {
		switch s {
		case SymbolSmallDelta:
			v, err := r.U8()
			if err != nil {
				return nil, err
			}
			deltas[i] = int32(v)
		case SymbolLargeDelta:
			v, err := r.U16()
			if err != nil {
				return nil, err
			}
			deltas[i] = int32(int16(v))
		}
	}
	return deltas, nil
}

// EncodeTWCC writes rep's preamble, packet-status chunks, and receive
// deltas to w, padding the sub-packet body to a 4-byte boundary.
func EncodeTWCC(w *wire.Writer, rep *TWCCReport) error {
	if len(rep.Symbols) > MaxStatusCount {
		return rtperrors.New(rtperrors.KindCapacity,
			"twcc status count %d exceeds bound %d", len(rep.Symbols), MaxStatusCount)
	}
	if len(rep.Deltas) != len(rep.Symbols) {
		return rtperrors.New(rtperrors.KindInvalidArgument, "twcc deltas/symbols length mismatch")
	}

	if err := w.PutU32(rep.SenderSSRC); err != nil {
		return err
	}
	if err := w.PutU32(rep.MediaSSRC); err != nil {
		return err
	}
	if err := w.PutU16(rep.BaseSeq); err != nil {
		return err
	}
	if err := w.PutU16(uint16(len(rep.Symbols))); err != nil {
		return err
	}
	refAndFb := (rep.RefTime&0xffffff)<<8 | uint32(rep.FbPktCount)
	if err := w.PutU32(refAndFb); err != nil {
		return err
	}

	b := &chunkBuilder{}
	for _, s := range rep.Symbols {
		b.add(s)
	}
	b.flush()
	for _, word := range b.words {
		if err := w.PutU16(word); err != nil {
			return err
		}
	}

	for i, s := range rep.Symbols {
		switch s {
		case SymbolSmallDelta:
			if err := w.PutU8(uint8(rep.Deltas[i])); err != nil {
				return err
			}
		case SymbolLargeDelta:
			if err := w.PutU16(uint16(int16(rep.Deltas[i]))); err != nil {
				return err
			}
		}
	}
	return w.Align()
}

// DecodeTWCC reads one TWCC report's preamble, chunks, and deltas from r.
// Deltas run to the end of whatever statusCount chunks produce; the caller
// (Read) is responsible for not reading past the sub-packet's declared
// end, since padding bytes are never chunk data.
func DecodeTWCC(r *wire.Reader) (*TWCCReport, error) {
	senderSSRC, err := r.U32()
	if err != nil {
		return nil, err
	}
	mediaSSRC, err := r.U32()
	if err != nil {
		return nil, err
	}
	baseSeq, err := r.U16()
	if err != nil {
		return nil, err
	}
	statusCount, err := r.U16()
	if err != nil {
		return nil, err
	}
	if statusCount > MaxStatusCount {
		return nil, rtperrors.New(rtperrors.KindCapacity,
			"twcc status count %d exceeds bound %d", statusCount, MaxStatusCount)
	}
	refAndFb, err := r.U32()
	if err != nil {
		return nil, err
	}

	symbols, err := decodeChunks(r, statusCount)
	if err != nil {
		return nil, err
	}
	deltas, err := decodeDeltas(r, symbols)
	if err != nil {
		return nil, err
	}
	seqNums := make([]uint16, len(symbols))
	for i := range symbols {
		seqNums[i] = baseSeq + uint16(i)
	}

	return &TWCCReport{
		SenderSSRC: senderSSRC,
		MediaSSRC:  mediaSSRC,
		BaseSeq:    baseSeq,
		RefTime:    refAndFb >> 8,
		FbPktCount: uint8(refAndFb),
		Symbols:    symbols,
		Deltas:     deltas,
		SeqNums:    seqNums,
	}, nil
}
