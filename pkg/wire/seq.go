package wire

// SeqDiff returns the signed 16-bit wraparound difference (int16)(a-b),
// generalizing the teacher's sequenceCompare/sequenceDiff pair (which split
// comparison and magnitude into two functions with independent wraparound
// logic) into the single centralised helper the jitter buffer uses for
// every sequence comparison: a is "after" b iff SeqDiff(a, b) > 0.
func SeqDiff(a, b uint16) int16 {
	return int16(a - b)
}

// SeqAfter reports whether a is strictly after b in wrap-aware order.
func SeqAfter(a, b uint16) bool {
	return SeqDiff(a, b) > 0
}

// SeqGapForward returns the non-negative forward distance from b to a,
// i.e. how many sequence numbers after b that a is (0 if a == b). Used to
// compute the jitter buffer's release "gap" and the teacher's loss-count
// style diff, but wraparound-correct in both directions.
func SeqGapForward(a, b uint16) uint32 {
	return uint32(a - b)
}
