//go:build linux

package engine

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/flowgrindd/internal/clock"
	"github.com/joeycumines/flowgrindd/internal/congestion"
	"github.com/joeycumines/flowgrindd/internal/flow"
	"github.com/joeycumines/flowgrindd/internal/logging"
	"github.com/joeycumines/flowgrindd/internal/rng"
	"github.com/joeycumines/flowgrindd/internal/wire"
	"github.com/stretchr/testify/require"
)

// socketpair returns two ends of a connected, non-blocking unix stream
// socket, standing in for a data or reply TCP connection without needing
// a real network listener.
func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestEngine() *Engine {
	return &Engine{
		rng:        rng.New(),
		logger:     logging.Discard(),
		congestion: congestion.NewTracker(),
	}
}

func TestWriteReadReplyRoundTrip(t *testing.T) {
	e := newTestEngine()

	dataA, dataB := socketpair(t)
	replyA, replyB := socketpair(t)

	// non-pushy: each path handles exactly one block per call, so the
	// byte counts below are exact
	settings := flow.Settings{
		Duration:       [2]float64{-1, -1},
		WriteBlockSize: 64,
		ReadBlockSize:  64,
	}

	source := flow.New(1, flow.RoleSource, settings)
	source.FD = dataA
	source.FDReply = replyB

	dest := flow.New(2, flow.RoleDestination, settings)
	dest.FD = dataB
	dest.FDReply = replyA

	base := time.Now()
	writeNow := base
	readNow := base.Add(time.Millisecond)
	replyNow := base.Add(2 * time.Millisecond)

	require.NoError(t, e.writeData(writeNow, source))
	require.EqualValues(t, 64, source.Total.BytesWritten)
	require.EqualValues(t, 1, source.WriteBlockCount)

	require.NoError(t, e.readData(readNow, dest))
	require.EqualValues(t, 64, dest.Total.BytesRead)
	require.EqualValues(t, 1, dest.ReadBlockCount)

	require.NoError(t, e.readReply(replyNow, source))
	require.EqualValues(t, 1, source.Total.ReplyBlocksRead)
	require.Greater(t, source.Total.RTTSum, 0.0)
	require.Equal(t, source.Total.RTTSum, source.Interval.RTTSum)
}

func TestWriteDataRespectsUnboundedRate(t *testing.T) {
	e := newTestEngine()
	dataA, dataB := socketpair(t)

	settings := flow.Settings{
		Duration:       [2]float64{-1, -1},
		WriteBlockSize: 32,
		WriteRate:      0,
	}
	f := flow.New(1, flow.RoleSource, settings)
	f.FD = dataA

	require.NoError(t, e.writeData(time.Now(), f))
	require.EqualValues(t, 32, f.Total.BytesWritten)

	buf := make([]byte, 64)
	n, err := unix.Read(dataB, buf)
	require.NoError(t, err)
	require.Equal(t, 32, n)
}

func TestWriteDataDoesNothingBeforeStart(t *testing.T) {
	e := newTestEngine()
	dataA, _ := socketpair(t)

	settings := flow.Settings{WriteBlockSize: 32}
	f := flow.New(1, flow.RoleSource, settings)
	f.FD = dataA
	f.StartTimestamp[flow.Write] = time.Now().Add(time.Hour)

	require.NoError(t, e.writeData(time.Now(), f))
	require.EqualValues(t, 0, f.Total.BytesWritten)
}

func TestWriteDataStampsFreshHeaderPerBlock(t *testing.T) {
	e := newTestEngine()
	dataA, dataB := socketpair(t)

	settings := flow.Settings{
		Duration:       [2]float64{-1, -1},
		WriteBlockSize: 32,
	}
	f := flow.New(1, flow.RoleSource, settings)
	f.FD = dataA

	t1 := time.Now()
	t2 := t1.Add(250 * time.Millisecond)
	require.NoError(t, e.writeData(t1, f))
	require.NoError(t, e.writeData(t2, f))
	require.EqualValues(t, 2, f.WriteBlockCount)

	buf := make([]byte, 64)
	n, err := unix.Read(dataB, buf)
	require.NoError(t, err)
	require.Equal(t, 64, n)

	// the sent timestamp sits at the same offsets in a data block as in a
	// reply block, so ParseReply doubles as a header decoder here
	sent1, _, err := wire.ParseReply(buf[:32])
	require.NoError(t, err)
	sent2, _, err := wire.ParseReply(buf[32:])
	require.NoError(t, err)
	require.Equal(t, clock.ToTimeval(t1), sent1)
	require.Equal(t, clock.ToTimeval(t2), sent2)
}

func TestReadReplyRejectsNonPositiveRTT(t *testing.T) {
	e := newTestEngine()
	replyA, replyB := socketpair(t)

	f := flow.New(1, flow.RoleSource, flow.Settings{})
	f.FDReply = replyB

	// Encode a reply whose send timestamp is in the future relative to
	// "now", producing a non-positive RTT that applyReply must reject.
	future := time.Now().Add(time.Hour)
	block := make([]byte, wire.ReplyBlockSize)
	require.NoError(t, wire.PutBlockHeader(block, clock.ToTimeval(future)))
	require.NoError(t, wire.PutIAT(block, wire.ReplyLength(block), 0.01))
	reply := wire.BuildReply(block, wire.ReplyLength(block))

	_, err := unix.Write(replyA, reply)
	require.NoError(t, err)

	require.NoError(t, e.readReply(time.Now(), f))
	require.EqualValues(t, 0, f.Total.ReplyBlocksRead)
}
