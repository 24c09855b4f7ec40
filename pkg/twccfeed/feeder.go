// Package twccfeed accumulates per-packet transport-wide sequence numbers
// and arrival times on the receive side and builds outgoing RTPFB
// transport-wide congestion-control reports on the same batching cadence
// used throughout the example corpus's SFU feedback responders: flush once
// the pending count and elapsed time cross a threshold, or immediately on a
// marker bit if enough time has passed.
package twccfeed

import (
	"sort"

	"github.com/gammazero/deque"
	"github.com/samber/lo"

	"github.com/rtpjitter/pkg/metrics"
	"github.com/rtpjitter/pkg/rtcp"
	"github.com/rtpjitter/pkg/wire"
)

const (
	reportIntervalUS       = 100_000
	reportIntervalMarkedUS = 50_000
	minPending             = 20
	maxPending             = 100

	refTimeUnitUS = 64_000 // draft-holmer-rmcat reference-time granularity
	deltaUnitUS   = 250
)

type arrival struct {
	extSeq    uint32
	arrivalUS int64
}

// Feeder turns a stream of (sequence number, arrival time) observations for
// one media SSRC into batched TWCC feedback reports, handed to onFeedback
// as already-encoded RTPFB sub-packet bytes ready to append to a compound
// RTCP packet.
type Feeder struct {
	senderSSRC uint32
	mediaSSRC  uint32
	onFeedback func([]byte)
	metrics    *metrics.Metrics

	pending deque.Deque[arrival]

	haveSeq  bool
	lastSeq  uint16
	cycles   uint32

	haveLastExtSeq bool
	lastExtSeq     uint32

	lastReportUS int64
	fbPktCount   uint8
}

// New builds a Feeder for one media SSRC. senderSSRC identifies the
// feedback originator (the local endpoint); onFeedback is called
// synchronously from Push whenever a report is ready and may be nil to
// discard reports (useful in tests that only want to observe the error
// return). m may be nil to disable instrumentation.
func New(senderSSRC, mediaSSRC uint32, onFeedback func([]byte), m *metrics.Metrics) *Feeder {
	f := &Feeder{senderSSRC: senderSSRC, mediaSSRC: mediaSSRC, onFeedback: onFeedback, metrics: m}
	f.pending.SetMinCapacity(7)
	return f
}

// Push records one received packet's transport-wide sequence number and
// its arrival time (caller's monotonic clock, in microseconds), unwrapping
// 16-bit wraparound into a monotonically increasing extended sequence
// number. marker is the RTP marker bit, which shortens the batching delay.
func (f *Feeder) Push(seq uint16, arrivalUS int64, marker bool) error {
	first := !f.haveSeq
	if f.haveSeq && seq < 0x0fff && (f.lastSeq&0xffff) > 0xf000 {
		f.cycles += 1 << 16
	}
	f.lastSeq = seq
	f.haveSeq = true

	f.pending.PushBack(arrival{extSeq: f.cycles | uint32(seq), arrivalUS: arrivalUS})

	if first {
		f.lastReportUS = arrivalUS
	}
	delta := arrivalUS - f.lastReportUS

	ready := f.pending.Len() > minPending && f.mediaSSRC != 0 &&
		(delta >= reportIntervalUS || f.pending.Len() > maxPending ||
			(marker && delta >= reportIntervalMarkedUS))
	if !ready {
		return nil
	}

	data, err := f.build()
	if err != nil {
		return err
	}
	f.lastReportUS = arrivalUS
	if data != nil {
		f.metrics.IncTWCCReport("sent")
		if f.onFeedback != nil {
			f.onFeedback(data)
		}
	}
	return nil
}

type slot struct {
	extSeq    uint32
	arrivalUS int64
	received  bool
}

// build drains the pending window, sorts it into extended-sequence order,
// fills any gap between observations with unreceived placeholder slots (so
// the chunk encoder can report loss, not just reorder), and encodes one
// RTPFB sub-packet. It returns (nil, nil) if the batch turned out to
// contain nothing reportable, which can't normally happen once Push has
// gated on minPending.
func (f *Feeder) build() ([]byte, error) {
	n := f.pending.Len()
	if n == 0 {
		return nil, nil
	}
	items := make([]arrival, n)
	for i := 0; i < n; i++ {
		items[i] = f.pending.At(i)
	}
	f.pending.Clear()

	sort.Slice(items, func(i, j int) bool { return items[i].extSeq < items[j].extSeq })

	// Duplicates and anything already covered by a prior report are dropped
	// up front, so the gap-fill loop below only ever sees forward progress.
	items = lo.Filter(items, func(it arrival, _ int) bool {
		return !f.haveLastExtSeq || it.extSeq > f.lastExtSeq
	})

	slots := make([]slot, 0, len(items)*2)
	for _, it := range items {
		if f.haveLastExtSeq && it.extSeq <= f.lastExtSeq {
			continue
		}
		if f.haveLastExtSeq {
			for gap := f.lastExtSeq + 1; gap < it.extSeq; gap++ {
				slots = append(slots, slot{extSeq: gap})
			}
		}
		slots = append(slots, slot{extSeq: it.extSeq, arrivalUS: it.arrivalUS, received: true})
		f.lastExtSeq = it.extSeq
		f.haveLastExtSeq = true
	}
	if len(slots) == 0 {
		return nil, nil
	}

	symbols := make([]rtcp.Symbol, len(slots))
	deltas := make([]int32, len(slots))

	var refTimeUS int64
	haveRef := false
	for i, s := range slots {
		if !s.received {
			symbols[i] = rtcp.SymbolNotReceived
			continue
		}
		if !haveRef {
			refTimeUS = (s.arrivalUS / refTimeUnitUS) * refTimeUnitUS
			haveRef = true
		}
		d := (s.arrivalUS - refTimeUS) / deltaUnitUS
		if d >= 0 && d <= 255 {
			symbols[i] = rtcp.SymbolSmallDelta
		} else {
			symbols[i] = rtcp.SymbolLargeDelta
			if d > 32767 {
				d = 32767
			} else if d < -32768 {
				d = -32768
			}
		}
		deltas[i] = int32(d)
		refTimeUS = s.arrivalUS
	}
	if !haveRef {
		// Every slot in the batch was a gap-fill placeholder: nothing was
		// actually received, so there is no reference time to report from.
		return nil, nil
	}

	f.fbPktCount++
	report := &rtcp.TWCCReport{
		SenderSSRC: f.senderSSRC,
		MediaSSRC:  f.mediaSSRC,
		BaseSeq:    uint16(slots[0].extSeq),
		RefTime:    uint32(refTimeUS/refTimeUnitUS) & 0xffffff,
		FbPktCount: f.fbPktCount,
		Symbols:    symbols,
		Deltas:     deltas,
	}

	bodyLen := 4 + 16 + 4*len(symbols) + 8
	buf := wire.NewBuffer(make([]byte, bodyLen))
	w := wire.NewWriter(buf)
	if err := rtcp.WriteRTPFB(w, report); err != nil {
		return nil, err
	}
	return buf.Bytes()[:w.Pos()], nil
}

// Reset clears all pending state, discarding any observations not yet
// folded into a report. Call after a BYE or a stream restart so the next
// report doesn't report a spurious gap back to the old stream's sequence
// numbers.
func (f *Feeder) Reset() {
	f.pending.Clear()
	f.haveSeq = false
	f.cycles = 0
	f.haveLastExtSeq = false
	f.lastExtSeq = 0
	f.lastReportUS = 0
	f.fbPktCount = 0
}
