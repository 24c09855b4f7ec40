// Package jitter implements a single-threaded RTP jitter buffer: caller-
// driven reordering, clock-skew estimation, and RFC 3550 §A.8 interarrival
// jitter, synchronously releasing packets through a caller-supplied
// callback. There are no internal goroutines, no locks, and no wall-clock
// reads; every timestamp (arrival time, "now") is supplied by the caller,
// which makes the buffer trivially testable and safe to drive from a
// single event loop alongside RTCP and socket I/O.
package jitter

import (
	"container/list"
	"math"

	"github.com/pion/logging"

	"github.com/rtpjitter/pkg/metrics"
	"github.com/rtpjitter/pkg/ntp"
	"github.com/rtpjitter/pkg/rtp"
	"github.com/rtpjitter/pkg/rtperrors"
	"github.com/rtpjitter/pkg/wire"
)

const (
	skewWindowMaxSize = 512
	skewWindowTimeout = 2_000_000 // microseconds
	skewAvgAlpha      = 128
	skewLargeGap      = 1_000_000 // microseconds
	jitterAvgAlpha    = 16
)

// Config configures a Buffer.
type Config struct {
	// ClockRate is the RTP media clock rate in Hz (e.g. 90000 for video).
	ClockRate uint32
	// Delay is the target release delay in microseconds: a packet is
	// eligible for release once now >= packet.OutTimestamp + Delay.
	Delay uint64

	// Stream labels this buffer's instrumentation (e.g. the SSRC as a
	// string). Ignored if Metrics is nil.
	Stream string
	// Metrics, if non-nil, receives queue-depth, skew/jitter, and
	// release/drop counters.
	Metrics *metrics.Metrics
}

// ProcessFunc is invoked synchronously, in order, for each packet Process
// releases. gap is the number of sequence numbers skipped since the last
// released packet (packet loss, or the very first packet's position
// relative to the configured next sequence number).
type ProcessFunc func(pkt *rtp.Packet, gap uint32)

// Buffer holds packets pending release, ordered by sequence number, plus
// the running clock-skew and jitter estimators. Zero value is not usable;
// construct with New.
type Buffer struct {
	cfg Config
	log logging.LeveledLogger

	packets    list.List
	nextSeqnum uint16

	firstRxTimestamp  uint64
	firstRTPTimestamp uint64
	lastRxTimestamp   uint64
	lastRTPTimestamp  uint64

	window      [skewWindowMaxSize]int64
	windowPos   uint32
	windowSize  uint32
	windowStart uint64
	windowMin   int64
	skewAvg     int64

	jitterAvg uint32
}

// New builds a Buffer. log may be nil to disable debug logging of skew
// resets.
func New(cfg Config, log logging.LeveledLogger) (*Buffer, error) {
	if cfg.ClockRate == 0 {
		return nil, rtperrors.New(rtperrors.KindInvalidArgument, "jitter: clock rate must be non-zero")
	}
	return &Buffer{cfg: cfg, log: log}, nil
}

func (b *Buffer) resetSkew(rxTimestamp, rtpTimestamp uint64) {
	b.firstRxTimestamp = rxTimestamp
	b.firstRTPTimestamp = rtpTimestamp
	b.windowPos = 0
	b.windowSize = 0
	b.windowStart = 0
	b.windowMin = 0
	b.skewAvg = 0
}

// computeJitter implements RFC 3550 §A.8:
// J(i) = J(i-1) + (|D(i-1,i)| - J(i-1))/16.
func (b *Buffer) computeJitter(rxTimestamp, rtpTimestamp uint64) {
	deltaRx := int64(rxTimestamp) - int64(b.lastRxTimestamp)
	deltaRtpTicks := int64(rtpTimestamp) - int64(b.lastRTPTimestamp)

	var deltaRtp int64
	if deltaRtpTicks > 0 {
		deltaRtp = int64(ntp.TicksToUS(uint64(deltaRtpTicks), b.cfg.ClockRate))
	} else {
		deltaRtp = -int64(ntp.TicksToUS(uint64(-deltaRtpTicks), b.cfg.ClockRate))
	}

	jitter := deltaRx - deltaRtp
	if jitter < 0 {
		jitter = -jitter
	}
	b.jitterAvg = uint32(int64(b.jitterAvg) + (jitter-int64(b.jitterAvg))/jitterAvgAlpha)
}

// computeSkew implements the sliding-window clock-skew estimator and
// returns the packet's estimated release timestamp (pre-Delay), resetting
// the estimator whenever the sender appears to have restarted, skew jumps
// too far in one step, or the estimate would move backwards in time.
func (b *Buffer) computeSkew(rxTimestamp, rtpTimestamp uint64) uint64 {
	var deltaSend int64
	rawDeltaSend := int64(rtpTimestamp) - int64(b.firstRTPTimestamp)
	if rawDeltaSend < 0 {
		if b.log != nil {
			b.log.Debugf("jitter: reset skew: delta_send < 0")
		}
		b.resetSkew(rxTimestamp, rtpTimestamp)
		deltaSend = 0
	} else {
		deltaSend = int64(ntp.TicksToUS(uint64(rawDeltaSend), b.cfg.ClockRate))
	}
	deltaRecv := int64(rxTimestamp) - int64(b.firstRxTimestamp)

	skew := deltaRecv - deltaSend

	if skew-b.skewAvg < -skewLargeGap || skew-b.skewAvg > skewLargeGap {
		if b.log != nil {
			b.log.Debugf("jitter: reset skew: skew delta too large")
		}
		b.resetSkew(rxTimestamp, rtpTimestamp)
		deltaSend = 0
		skew = 0
	}

	if b.windowSize == 0 {
		b.window[b.windowPos] = skew
		if b.windowPos == 0 {
			b.windowStart = rxTimestamp
			b.windowMin = skew
		} else if skew < b.windowMin {
			b.windowMin = skew
		}

		b.windowPos++
		switch {
		case b.windowPos >= skewWindowMaxSize || rxTimestamp >= b.windowStart+skewWindowTimeout:
			b.windowSize = b.windowPos
			b.windowPos = 0
			b.skewAvg = b.windowMin
		case rxTimestamp >= b.windowStart:
			percTime := (rxTimestamp - b.windowStart) * 100 / skewWindowTimeout
			percWindow := uint64(b.windowPos) * 100 / skewWindowMaxSize
			perc := percTime
			if percWindow > perc {
				perc = percWindow
			}
			perc = perc * perc
			b.skewAvg += int64(perc) * (b.windowMin - b.skewAvg) / 10000
		default:
			// Arrival time moved backwards relative to the window start:
			// likely a different link. Reset and pass the packet through
			// at its own arrival time, skipping the usual estimate.
			if b.log != nil {
				b.log.Debugf("jitter: reset skew: window start after arrival")
			}
			b.resetSkew(rxTimestamp, rtpTimestamp)
			return rxTimestamp
		}
	} else {
		old := b.window[b.windowPos]
		b.window[b.windowPos] = skew

		if skew < b.windowMin {
			b.windowMin = skew
		} else if old == b.windowMin {
			b.windowMin = math.MaxInt64
			for i := uint32(0); i < b.windowSize; i++ {
				if b.window[i] == old {
					b.windowMin = b.window[i]
					break
				} else if b.window[i] < b.windowMin {
					b.windowMin = b.window[i]
				}
			}
		}

		b.windowPos++
		if b.windowPos >= b.windowSize {
			b.windowPos = 0
		}

		b.skewAvg += (b.windowMin - b.skewAvg) / skewAvgAlpha
	}

	outTimestamp := uint64(int64(b.firstRxTimestamp) + deltaSend + b.skewAvg)

	if outTimestamp+b.cfg.Delay < rxTimestamp {
		if b.log != nil {
			b.log.Debugf("jitter: reset skew: estimate moved backwards")
		}
		b.resetSkew(rxTimestamp, rtpTimestamp)
		outTimestamp = rxTimestamp
	}

	return outTimestamp
}

// Enqueue inserts pkt in sequence-number order. pkt.InTimestamp and
// pkt.RTPTimestampExt must already be set by the caller; Enqueue computes
// and stores pkt.OutTimestamp. A packet older than the next expected
// sequence number, or an exact duplicate of one already queued, is
// destroyed immediately and dropped silently (as RTP reordering and
// duplication are both expected network behavior, not errors).
func (b *Buffer) Enqueue(pkt *rtp.Packet) error {
	if pkt == nil {
		return rtperrors.New(rtperrors.KindInvalidArgument, "jitter: nil packet")
	}

	rx := pkt.InTimestamp
	rtpTS := pkt.RTPTimestampExt

	if b.firstRxTimestamp == 0 || b.firstRTPTimestamp == 0 {
		b.resetSkew(rx, rtpTS)
	}
	if b.lastRxTimestamp != 0 && b.lastRTPTimestamp != 0 {
		b.computeJitter(rx, rtpTS)
	}
	pkt.OutTimestamp = b.computeSkew(rx, rtpTS)
	b.cfg.Metrics.SetEstimates(b.cfg.Stream, b.skewAvg, b.jitterAvg)

	b.lastRxTimestamp = rx
	b.lastRTPTimestamp = rtpTS

	if wire.SeqDiff(b.nextSeqnum, pkt.SequenceNumber) > 0 {
		pkt.Destroy()
		b.cfg.Metrics.IncPacketsDropped(b.cfg.Stream, "old")
		return nil
	}

	for e := b.packets.Back(); e != nil; e = e.Prev() {
		item := e.Value.(*rtp.Packet)
		diff := wire.SeqDiff(item.SequenceNumber, pkt.SequenceNumber)
		if diff < 0 {
			b.packets.InsertAfter(pkt, e)
			b.cfg.Metrics.SetQueueDepth(b.cfg.Stream, b.packets.Len())
			return nil
		}
		if item.SequenceNumber == pkt.SequenceNumber {
			pkt.Destroy()
			b.cfg.Metrics.IncPacketsDropped(b.cfg.Stream, "duplicate")
			return nil
		}
	}
	b.packets.PushFront(pkt)
	b.cfg.Metrics.SetQueueDepth(b.cfg.Stream, b.packets.Len())
	return nil
}

// Process releases every packet eligible at time now: the packet matching
// the next expected sequence number, or any packet whose release deadline
// (OutTimestamp + Delay) has passed, in queue order, until neither
// condition holds for the new front of the queue.
func (b *Buffer) Process(now uint64, fn ProcessFunc) {
	for {
		e := b.packets.Front()
		if e == nil {
			return
		}
		pkt := e.Value.(*rtp.Packet)

		ready := pkt.SequenceNumber == b.nextSeqnum || now >= pkt.OutTimestamp+b.cfg.Delay
		if !ready {
			return
		}

		gap := wire.SeqGapForward(pkt.SequenceNumber, b.nextSeqnum)
		if fn != nil {
			fn(pkt, gap)
		}
		b.nextSeqnum = pkt.SequenceNumber + 1
		b.packets.Remove(e)
		pkt.Destroy()
		b.cfg.Metrics.IncPacketsReleased(b.cfg.Stream)
		b.cfg.Metrics.SetQueueDepth(b.cfg.Stream, b.packets.Len())
	}
}

// Clear destroys every queued packet and resets the skew/jitter
// estimators, setting the next expected sequence number to nextSeqnum.
func (b *Buffer) Clear(nextSeqnum uint16) {
	for e := b.packets.Front(); e != nil; {
		next := e.Next()
		e.Value.(*rtp.Packet).Destroy()
		b.packets.Remove(e)
		e = next
	}

	b.firstRxTimestamp = 0
	b.firstRTPTimestamp = 0
	b.lastRxTimestamp = 0
	b.lastRTPTimestamp = 0
	b.windowSize = 0
	b.windowStart = 0
	b.skewAvg = 0
	b.jitterAvg = 0
	b.nextSeqnum = nextSeqnum
	b.cfg.Metrics.SetQueueDepth(b.cfg.Stream, 0)
}

// Len returns the number of packets currently queued.
func (b *Buffer) Len() int { return b.packets.Len() }

// Info returns the buffer's configured clock rate and the current
// smoothed jitter and skew estimates.
func (b *Buffer) Info() (clockRate uint32, jitterAvg uint32, skewAvg int64) {
	return b.cfg.ClockRate, b.jitterAvg, b.skewAvg
}
