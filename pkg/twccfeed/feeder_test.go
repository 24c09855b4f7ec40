package twccfeed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpjitter/pkg/rtcp"
	"github.com/rtpjitter/pkg/wire"
)

func TestFeeder_BatchesUntilThreshold(t *testing.T) {
	var reports [][]byte
	f := New(1, 2, func(b []byte) { reports = append(reports, b) }, nil)

	for i := 0; i < minPending; i++ {
		require.NoError(t, f.Push(uint16(i), int64(i)*1000, false))
	}
	assert.Empty(t, reports, "must not flush before crossing minPending")

	require.NoError(t, f.Push(uint16(minPending), int64(minPending)*1000+reportIntervalUS, false))
	assert.Len(t, reports, 1)
}

func TestFeeder_MarkerShortensDelay(t *testing.T) {
	var reports [][]byte
	f := New(1, 2, func(b []byte) { reports = append(reports, b) }, nil)

	for i := 0; i <= minPending; i++ {
		require.NoError(t, f.Push(uint16(i), 0, false))
	}
	assert.Empty(t, reports)

	require.NoError(t, f.Push(uint16(minPending+1), reportIntervalMarkedUS, true))
	assert.Len(t, reports, 1)
}

func TestFeeder_NoReportWithoutMediaSSRC(t *testing.T) {
	var reports [][]byte
	f := New(1, 0, func(b []byte) { reports = append(reports, b) }, nil)

	for i := 0; i < maxPending+5; i++ {
		require.NoError(t, f.Push(uint16(i), int64(i)*100_000, false))
	}
	assert.Empty(t, reports)
}

func TestFeeder_GapFillsLostPackets(t *testing.T) {
	var reports [][]byte
	f := New(1, 2, func(b []byte) { reports = append(reports, b) }, nil)

	// Seqnum 5 is missing: the next build should report it as not-received.
	seqs := []uint16{1, 2, 3, 4, 6, 7}
	arrivalUS := int64(0)
	for i, s := range seqs {
		arrivalUS = int64(i) * 1000
		require.NoError(t, f.Push(s, arrivalUS, false))
	}
	for i := 0; i < minPending; i++ {
		require.NoError(t, f.Push(uint16(8+i), arrivalUS+int64(i+1)*1000, false))
	}
	require.NoError(t, f.Push(uint16(8+minPending), arrivalUS+int64(minPending+1)*1000+reportIntervalUS, false))
	require.Len(t, reports, 1)

	var got *rtcp.TWCCReport
	cbs := &rtcp.Callbacks{RTPFB: func(rep *rtcp.TWCCReport) { got = rep }}
	require.NoError(t, rtcp.Read(wire.NewBuffer(reports[0]), cbs, nil))
	require.NotNil(t, got)

	notReceived := 0
	for _, s := range got.Symbols {
		if s == rtcp.SymbolNotReceived {
			notReceived++
		}
	}
	assert.GreaterOrEqual(t, notReceived, 1)
}

func TestFeeder_ResetClearsState(t *testing.T) {
	f := New(1, 2, nil, nil)
	require.NoError(t, f.Push(10, 1000, false))
	f.Reset()
	assert.Equal(t, 0, f.pending.Len())
	assert.False(t, f.haveSeq)
	assert.False(t, f.haveLastExtSeq)
}
