// Package rtcp implements the RTCP compound-packet codec: sender/receiver
// reports, source description, goodbye, application-defined packets, and
// the transport-wide congestion-control feedback extension (twcc.go).
//
// The compound reader is resilient by construction: a malformed
// sub-packet is reported through the logger and the outer cursor is
// always advanced to the sub-packet's declared end, so one bad packet
// type never desynchronizes the rest of the compound packet.
package rtcp

import (
	"github.com/pion/logging"
	"github.com/samber/lo"

	"github.com/rtpjitter/pkg/metrics"
	"github.com/rtpjitter/pkg/ntp"
	"github.com/rtpjitter/pkg/rtperrors"
	"github.com/rtpjitter/pkg/wire"
)

// Packet type octet values, RFC 3550 §6 (200/201 corrected per the known
// SR/RR label-swap bug in the reference documentation — see TypeString).
const (
	TypeSR    = 200
	TypeRR    = 201
	TypeSDES  = 202
	TypeBYE   = 203
	TypeAPP   = 204
	TypeRTPFB = 205
)

// SDES item type octets, RFC 3550 §6.5.
const (
	SDESEnd   = 0
	SDESCNAME = 1
	SDESName  = 2
	SDESEmail = 3
	SDESPhone = 4
	SDESLoc   = 5
	SDESTool  = 6
	SDESNote  = 7
	SDESPriv  = 8
)

const (
	version        = 2
	headerSize     = 4
	flagsVerShift  = 6
	flagsVerMask   = 0x03
	flagsPadShift  = 5
	flagsPadMask   = 0x01
	flagsCountMask = 0x1f
)

// TypeString maps a packet type to its short name. The source literature
// this library's wire format is drawn from swaps "SR" and "RR" in its own
// lookup table; this corrects it: 200 is "SR", 201 is "RR".
func TypeString(t uint8) string {
	switch t {
	case TypeSR:
		return "SR"
	case TypeRR:
		return "RR"
	case TypeSDES:
		return "SDES"
	case TypeBYE:
		return "BYE"
	case TypeAPP:
		return "APP"
	case TypeRTPFB:
		return "RTPFB"
	default:
		return "UNKNOWN"
	}
}

// SDESTypeString maps an SDES item type to its short name.
func SDESTypeString(t uint8) string {
	switch t {
	case SDESEnd:
		return "END"
	case SDESCNAME:
		return "CNAME"
	case SDESName:
		return "NAME"
	case SDESEmail:
		return "EMAIL"
	case SDESPhone:
		return "PHONE"
	case SDESLoc:
		return "LOC"
	case SDESTool:
		return "TOOL"
	case SDESNote:
		return "NOTE"
	case SDESPriv:
		return "PRIV"
	default:
		return "UNKNOWN"
	}
}

// ReportBlock is the reception-statistics block carried by SR and RR
// packets. Lost is a 24-bit signed quantity packed with Fraction into a
// single u32 on the wire; the valid range is documented rather than
// silently truncated on encode.
type ReportBlock struct {
	SSRC             uint32
	Fraction         uint8
	Lost             int32
	ExtHighestSeqnum uint32
	Jitter           uint32
	LSR              ntp.Timestamp32
	DLSR             uint32
}

// MinLost and MaxLost bound the 24-bit signed cumulative-lost field.
const (
	MinLost = -(1 << 23)
	MaxLost = 1<<23 - 1
)

// SenderReport is the decoded form of an RTCP SR sub-packet.
type SenderReport struct {
	SSRC         uint32
	NTPTimestamp ntp.Timestamp64
	RTPTimestamp uint32
	PacketCount  uint32
	ByteCount    uint32
	Reports      []ReportBlock
}

// ReceiverReport is the decoded form of an RTCP RR sub-packet.
type ReceiverReport struct {
	SSRC    uint32
	Reports []ReportBlock
}

// SDESItem is one TLV item within an SDES chunk. Data is a borrowed slice
// into the compound packet's buffer. For PRIV items, PrivPrefix/PrivValue
// further slice Data rather than issuing extra reads.
type SDESItem struct {
	Type       uint8
	Data       []byte
	PrivPrefix []byte
	PrivValue  []byte
}

// BYE is the decoded form of an RTCP BYE sub-packet. Reason is nil when
// absent; the decoder tolerates that absence.
type BYE struct {
	Sources []uint32
	Reason  []byte
}

// APP is the decoded form of an RTCP APP sub-packet.
type APP struct {
	SSRC    uint32
	Name    [4]byte
	Subtype uint8
	Data    []byte
}

// Callbacks is the set of typed dispatch targets for Read. Each is
// optional; a nil callback simply skips that event.
type Callbacks struct {
	SenderReport   func(*SenderReport)
	ReceiverReport func(*ReceiverReport)
	SDESItem       func(ssrc uint32, item *SDESItem)
	BYE            func(*BYE)
	APP            func(*APP)
	RTPFB          func(*TWCCReport)

	// Metrics, if non-nil, receives per-sub-packet error and TWCC-report
	// counts as Read walks the compound packet.
	Metrics *metrics.Metrics
}

func writeHeader(w *wire.Writer, headerPos int, typ uint8, count uint8) error {
	bodyEnd := w.Pos()
	w.SetPos(headerPos)
	flags := uint8(version<<flagsVerShift) | (count & flagsCountMask)
	length := uint16((bodyEnd-headerPos)/4 - 1)
	if err := w.PutU8(flags); err != nil {
		return err
	}
	if err := w.PutU8(typ); err != nil {
		return err
	}
	if err := w.PutU16(length); err != nil {
		return err
	}
	w.SetPos(bodyEnd)
	return nil
}

func writeReportBlock(w *wire.Writer, rb *ReportBlock) error {
	if rb.Lost < MinLost || rb.Lost > MaxLost {
		return rtperrors.New(rtperrors.KindInvalidArgument,
			"report block lost=%d out of 24-bit signed range", rb.Lost).WithField("Lost")
	}
	fractionLost := uint32(rb.Fraction)<<24 | (uint32(rb.Lost) & 0xffffff)
	if err := w.PutU32(rb.SSRC); err != nil {
		return err
	}
	if err := w.PutU32(fractionLost); err != nil {
		return err
	}
	if err := w.PutU32(rb.ExtHighestSeqnum); err != nil {
		return err
	}
	if err := w.PutU32(rb.Jitter); err != nil {
		return err
	}
	if err := w.PutU16(rb.LSR.Seconds); err != nil {
		return err
	}
	if err := w.PutU16(rb.LSR.Fraction); err != nil {
		return err
	}
	return w.PutU32(rb.DLSR)
}

// WriteSenderReport appends a SR sub-packet at the writer's current
// position, reserving and patching the 4-byte header in place.
func WriteSenderReport(w *wire.Writer, sr *SenderReport) error {
	if len(sr.Reports) > 31 {
		return rtperrors.New(rtperrors.KindInvalidArgument, "sender report count %d exceeds 31", len(sr.Reports))
	}
	headerPos := w.Pos()
	w.SetPos(headerPos + headerSize)

	if err := w.PutU32(sr.SSRC); err != nil {
		return err
	}
	if err := w.PutU32(sr.NTPTimestamp.Seconds); err != nil {
		return err
	}
	if err := w.PutU32(sr.NTPTimestamp.Fraction); err != nil {
		return err
	}
	if err := w.PutU32(sr.RTPTimestamp); err != nil {
		return err
	}
	if err := w.PutU32(sr.PacketCount); err != nil {
		return err
	}
	if err := w.PutU32(sr.ByteCount); err != nil {
		return err
	}
	for i := range sr.Reports {
		if err := writeReportBlock(w, &sr.Reports[i]); err != nil {
			return err
		}
	}
	return writeHeader(w, headerPos, TypeSR, uint8(len(sr.Reports)))
}

// WriteReceiverReport appends a RR sub-packet.
func WriteReceiverReport(w *wire.Writer, rr *ReceiverReport) error {
	if len(rr.Reports) > 31 {
		return rtperrors.New(rtperrors.KindInvalidArgument, "receiver report count %d exceeds 31", len(rr.Reports))
	}
	headerPos := w.Pos()
	w.SetPos(headerPos + headerSize)

	if err := w.PutU32(rr.SSRC); err != nil {
		return err
	}
	for i := range rr.Reports {
		if err := writeReportBlock(w, &rr.Reports[i]); err != nil {
			return err
		}
	}
	return writeHeader(w, headerPos, TypeRR, uint8(len(rr.Reports)))
}

func writeSDESItem(w *wire.Writer, item *SDESItem) error {
	if err := w.PutU8(item.Type); err != nil {
		return err
	}
	if len(item.Data) > 0 {
		if err := w.PutU8(uint8(len(item.Data))); err != nil {
			return err
		}
		return w.PutBytes(item.Data)
	}
	if item.Type == SDESPriv {
		dataLen := len(item.PrivPrefix) + len(item.PrivValue) + 1
		if dataLen > 255 {
			return rtperrors.New(rtperrors.KindInvalidArgument,
				"sdes priv prefix/value length %d exceeds 255", dataLen)
		}
		if err := w.PutU8(uint8(dataLen)); err != nil {
			return err
		}
		if err := w.PutU8(uint8(len(item.PrivPrefix))); err != nil {
			return err
		}
		if err := w.PutBytes(item.PrivPrefix); err != nil {
			return err
		}
		return w.PutBytes(item.PrivValue)
	}
	return w.PutU8(0)
}

// SDESChunk is one SSRC/CSRC plus its items, for WriteSDES.
type SDESChunk struct {
	SSRC  uint32
	Items []SDESItem
}

// compactSDESItems drops items with neither inline Data nor (for PRIV) a
// prefix/value pair: callers that assemble a chunk's items from sparse
// per-source metadata commonly end up with a few unset entries that would
// otherwise be written as zero-length TLVs.
func compactSDESItems(items []SDESItem) []SDESItem {
	return lo.Filter(items, func(item SDESItem, _ int) bool {
		if item.Type == SDESPriv {
			return len(item.PrivPrefix) > 0 || len(item.PrivValue) > 0
		}
		return len(item.Data) > 0
	})
}

// WriteSDES appends an SDES sub-packet made of the given chunks.
func WriteSDES(w *wire.Writer, chunks []SDESChunk) error {
	if len(chunks) > 31 {
		return rtperrors.New(rtperrors.KindInvalidArgument, "sdes chunk count %d exceeds 31", len(chunks))
	}
	headerPos := w.Pos()
	w.SetPos(headerPos + headerSize)

	for i := range chunks {
		if err := w.PutU32(chunks[i].SSRC); err != nil {
			return err
		}
		items := compactSDESItems(chunks[i].Items)
		for j := range items {
			if err := writeSDESItem(w, &items[j]); err != nil {
				return err
			}
		}
		if err := w.PutU8(SDESEnd); err != nil {
			return err
		}
		if err := w.Align(); err != nil {
			return err
		}
	}
	return writeHeader(w, headerPos, TypeSDES, uint8(len(chunks)))
}

// WriteBYE appends a BYE sub-packet. reason may be nil.
func WriteBYE(w *wire.Writer, sources []uint32, reason []byte) error {
	if len(sources) > 31 {
		return rtperrors.New(rtperrors.KindInvalidArgument, "bye source count %d exceeds 31", len(sources))
	}
	headerPos := w.Pos()
	w.SetPos(headerPos + headerSize)

	for _, ssrc := range sources {
		if err := w.PutU32(ssrc); err != nil {
			return err
		}
	}
	if len(reason) > 0 {
		if len(reason) > 255 {
			return rtperrors.New(rtperrors.KindInvalidArgument, "bye reason length %d exceeds 255", len(reason))
		}
		if err := w.PutU8(uint8(len(reason))); err != nil {
			return err
		}
		if err := w.PutBytes(reason); err != nil {
			return err
		}
		if err := w.Align(); err != nil {
			return err
		}
	}
	return writeHeader(w, headerPos, TypeBYE, uint8(len(sources)))
}

// WriteAPP appends an APP sub-packet.
func WriteAPP(w *wire.Writer, app *APP) error {
	headerPos := w.Pos()
	w.SetPos(headerPos + headerSize)

	if err := w.PutU32(app.SSRC); err != nil {
		return err
	}
	if err := w.PutBytes(app.Name[:]); err != nil {
		return err
	}
	if len(app.Data) > 0 {
		if err := w.PutBytes(app.Data); err != nil {
			return err
		}
	}
	if err := w.Align(); err != nil {
		return err
	}
	return writeHeader(w, headerPos, TypeAPP, app.Subtype&flagsCountMask)
}

// WriteRTPFB appends an RTPFB (transport-wide-cc) sub-packet carrying rep.
func WriteRTPFB(w *wire.Writer, rep *TWCCReport) error {
	headerPos := w.Pos()
	w.SetPos(headerPos + headerSize)
	if err := EncodeTWCC(w, rep); err != nil {
		return err
	}
	return writeHeader(w, headerPos, TypeRTPFB, fmtTWCC)
}

func readReportBlock(r *wire.Reader, rb *ReportBlock) error {
	ssrc, err := r.U32()
	if err != nil {
		return err
	}
	fractionLost, err := r.U32()
	if err != nil {
		return err
	}
	extHighest, err := r.U32()
	if err != nil {
		return err
	}
	jitter, err := r.U32()
	if err != nil {
		return err
	}
	lsrSec, err := r.U16()
	if err != nil {
		return err
	}
	lsrFrac, err := r.U16()
	if err != nil {
		return err
	}
	dlsr, err := r.U32()
	if err != nil {
		return err
	}

	rb.SSRC = ssrc
	rb.Fraction = uint8(fractionLost >> 24)
	lost := int32(fractionLost & 0xffffff)
	if lost&0x800000 != 0 {
		lost |= ^int32(0xffffff)
	}
	rb.Lost = lost
	rb.ExtHighestSeqnum = extHighest
	rb.Jitter = jitter
	rb.LSR = ntp.Timestamp32{Seconds: lsrSec, Fraction: lsrFrac}
	rb.DLSR = dlsr
	return nil
}

func readSenderReport(r *wire.Reader, end int, count uint8, cbs *Callbacks) error {
	var sr SenderReport
	ssrc, err := r.U32()
	if err != nil {
		return err
	}
	ntpSec, err := r.U32()
	if err != nil {
		return err
	}
	ntpFrac, err := r.U32()
	if err != nil {
		return err
	}
	rtpTS, err := r.U32()
	if err != nil {
		return err
	}
	pktCount, err := r.U32()
	if err != nil {
		return err
	}
	byteCount, err := r.U32()
	if err != nil {
		return err
	}
	sr.SSRC = ssrc
	sr.NTPTimestamp = ntp.Timestamp64{Seconds: ntpSec, Fraction: ntpFrac}
	sr.RTPTimestamp = rtpTS
	sr.PacketCount = pktCount
	sr.ByteCount = byteCount

	sr.Reports = make([]ReportBlock, count)
	for i := range sr.Reports {
		if err := readReportBlock(r, &sr.Reports[i]); err != nil {
			return err
		}
	}
	if cbs.SenderReport != nil {
		cbs.SenderReport(&sr)
	}
	return nil
}

func readReceiverReport(r *wire.Reader, end int, count uint8, cbs *Callbacks) error {
	var rr ReceiverReport
	ssrc, err := r.U32()
	if err != nil {
		return err
	}
	rr.SSRC = ssrc
	rr.Reports = make([]ReportBlock, count)
	for i := range rr.Reports {
		if err := readReportBlock(r, &rr.Reports[i]); err != nil {
			return err
		}
	}
	if cbs.ReceiverReport != nil {
		cbs.ReceiverReport(&rr)
	}
	return nil
}

func readSDESItem(r *wire.Reader, end int, ssrc uint32, cbs *Callbacks) error {
	typ, err := r.U8()
	if err != nil {
		return err
	}
	dataLen, err := r.U8()
	if err != nil {
		return err
	}
	if int(dataLen) > end-r.Pos() {
		return rtperrors.New(rtperrors.KindBadLength,
			"sdes item length %d exceeds remainder %d", dataLen, end-r.Pos())
	}
	var item SDESItem
	item.Type = typ
	if dataLen != 0 {
		data, err := r.Slice(int(dataLen))
		if err != nil {
			return err
		}
		item.Data = data
		if typ == SDESPriv {
			prefixLen := int(data[0])
			if prefixLen+1 > len(data) {
				return rtperrors.New(rtperrors.KindBadLength,
					"sdes priv prefix length %d exceeds item data %d", prefixLen, len(data))
			}
			item.PrivPrefix = data[1 : 1+prefixLen]
			item.PrivValue = data[1+prefixLen:]
		}
	}
	if cbs.SDESItem != nil {
		cbs.SDESItem(ssrc, &item)
	}
	return nil
}

func readSDESChunk(r *wire.Reader, end int, cbs *Callbacks) error {
	ssrc, err := r.U32()
	if err != nil {
		return err
	}
	for r.Pos() < end {
		typ, err := r.U8()
		if err != nil {
			return err
		}
		if typ == SDESEnd {
			break
		}
		r.SetPos(r.Pos() - 1)
		if err := readSDESItem(r, end, ssrc, cbs); err != nil {
			return err
		}
	}
	for r.Pos() < end && r.Pos()%4 != 0 {
		r.SetPos(r.Pos() + 1)
	}
	return nil
}

func readSDES(r *wire.Reader, end int, count uint8, cbs *Callbacks) error {
	for i := uint8(0); i < count; i++ {
		if err := readSDESChunk(r, end, cbs); err != nil {
			return err
		}
	}
	return nil
}

func readBYE(r *wire.Reader, end int, count uint8, cbs *Callbacks) error {
	var bye BYE
	bye.Sources = make([]uint32, count)
	for i := range bye.Sources {
		ssrc, err := r.U32()
		if err != nil {
			return err
		}
		bye.Sources[i] = ssrc
	}
	if r.Pos() < end {
		reasonLen, err := r.U8()
		if err != nil {
			return err
		}
		if end-r.Pos() < int(reasonLen) {
			return rtperrors.New(rtperrors.KindBadLength,
				"bye reason length %d exceeds remainder %d", reasonLen, end-r.Pos())
		}
		reason, err := r.Slice(int(reasonLen))
		if err != nil {
			return err
		}
		bye.Reason = reason
	}
	if cbs.BYE != nil {
		cbs.BYE(&bye)
	}
	return nil
}

func readAPP(r *wire.Reader, end int, subtype uint8, cbs *Callbacks) error {
	var app APP
	app.Subtype = subtype
	ssrc, err := r.U32()
	if err != nil {
		return err
	}
	app.SSRC = ssrc
	name, err := r.Slice(4)
	if err != nil {
		return err
	}
	copy(app.Name[:], name)
	if r.Pos() < end {
		data, err := r.Slice(end - r.Pos())
		if err != nil {
			return err
		}
		app.Data = data
	}
	if cbs.APP != nil {
		cbs.APP(&app)
	}
	return nil
}

func readRTPFB(r *wire.Reader, end int, fmtField uint8, cbs *Callbacks, log logging.LeveledLogger) error {
	if fmtField != fmtTWCC {
		if log != nil {
			log.Debugf("rtcp: skipping RTPFB format %d (only transport-wide-cc is supported)", fmtField)
		}
		return nil
	}
	rep, err := DecodeTWCC(r)
	if err != nil {
		return err
	}
	if r.Pos() > end {
		return rtperrors.New(rtperrors.KindBadLength,
			"rtpfb report runs %d bytes past its declared end", r.Pos()-end)
	}
	cbs.Metrics.IncTWCCReport("received")
	if cbs.RTPFB != nil {
		cbs.RTPFB(rep)
	}
	return nil
}

// Read parses every sub-packet in buf and dispatches through cbs. A
// malformed sub-packet is logged (if log is non-nil) and skipped; the
// outer cursor is unconditionally advanced to the sub-packet's declared
// end so framing for subsequent sub-packets is never corrupted.
func Read(buf *wire.Buffer, cbs *Callbacks, log logging.LeveledLogger) error {
	r := wire.NewReader(buf)
	total := buf.Len()

	for r.Pos() < total {
		if total-r.Pos() < headerSize {
			return rtperrors.New(rtperrors.KindBadLength,
				"rtcp header needs %d bytes, have %d", headerSize, total-r.Pos())
		}
		flags, err := r.U8()
		if err != nil {
			return err
		}
		typ, err := r.U8()
		if err != nil {
			return err
		}
		length, err := r.U16()
		if err != nil {
			return err
		}

		ver := (flags >> flagsVerShift) & flagsVerMask
		if ver != version {
			return rtperrors.New(rtperrors.KindBadVersion, "rtcp version %d, expected %d", ver, version)
		}
		count := flags & flagsCountMask

		if total-r.Pos() < int(length)*4 {
			return rtperrors.New(rtperrors.KindBadLength,
				"rtcp sub-packet declares %d words, only %d bytes remain", length, total-r.Pos())
		}
		end := r.Pos() + int(length)*4

		var subErr error
		switch typ {
		case TypeSR:
			subErr = readSenderReport(r, end, count, cbs)
		case TypeRR:
			subErr = readReceiverReport(r, end, count, cbs)
		case TypeSDES:
			subErr = readSDES(r, end, count, cbs)
		case TypeBYE:
			subErr = readBYE(r, end, count, cbs)
		case TypeAPP:
			subErr = readAPP(r, end, count, cbs)
		case TypeRTPFB:
			subErr = readRTPFB(r, end, count, cbs, log)
		default:
			if log != nil {
				log.Debugf("rtcp: unknown sub-packet type %d, skipping", typ)
			}
		}
		if subErr != nil {
			cbs.Metrics.IncRTCPError(TypeString(typ))
			if log != nil {
				log.Warnf("rtcp: sub-packet type %d (%s) failed: %v", typ, TypeString(typ), subErr)
			}
		}

		// Always advance to the declared end, regardless of inner errors.
		r.SetPos(end)
	}
	return nil
}
