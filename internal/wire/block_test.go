package wire

import (
	"math"
	"testing"
	"time"

	"github.com/joeycumines/flowgrindd/internal/clock"
	"github.com/stretchr/testify/require"
)

func TestBlockRoundTrip(t *testing.T) {
	const writeBlockSize = 128
	sent := clock.ToTimeval(time.Date(2026, 7, 31, 10, 0, 0, 500000, time.UTC))

	block := make([]byte, writeBlockSize)
	require.NoError(t, PutBlockHeader(block, sent))

	l := ReplyLength(block)
	require.EqualValues(t, HeaderSize, l)

	require.NoError(t, PutIAT(block, l, math.NaN()))
	reply := BuildReply(block, l)
	require.Len(t, reply, ReplySize(l))

	gotSent, gotIAT, err := ParseReply(reply)
	require.NoError(t, err)
	require.Equal(t, sent, gotSent)
	require.True(t, math.IsNaN(gotIAT))
}

func TestBlockRoundTripWithIAT(t *testing.T) {
	block := make([]byte, 64)
	sent := clock.Timeval{Sec: 100, Usec: 200}
	require.NoError(t, PutBlockHeader(block, sent))
	l := ReplyLength(block)
	require.NoError(t, PutIAT(block, l, 0.25))
	reply := BuildReply(block, l)
	gotSent, gotIAT, err := ParseReply(reply)
	require.NoError(t, err)
	require.Equal(t, sent, gotSent)
	require.InDelta(t, 0.25, gotIAT, 1e-12)
}

func TestBlockTooSmall(t *testing.T) {
	require.ErrorIs(t, PutBlockHeader(make([]byte, 4), clock.Timeval{}), ErrBlockTooSmall)
	_, _, err := ParseReply(make([]byte, 4))
	require.ErrorIs(t, err, ErrBlockTooSmall)
}
