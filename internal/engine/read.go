//go:build linux

package engine

import (
	"errors"
	"math"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/flowgrindd/internal/clock"
	"github.com/joeycumines/flowgrindd/internal/flow"
	"github.com/joeycumines/flowgrindd/internal/wire"
)

// readData drives a destination flow's echo path, matching read_data():
// accumulate one read_block_size block, compute the inter-arrival time
// from the last block read, stamp it into the block, and echo the
// header+IAT back over the reply channel. A reply write that would block
// is logged and dropped (the reply channel is lossy rather than allowed
// to stall the data path); any other reply-channel failure fails the
// flow, exactly like a data-channel failure.
func (e *Engine) readData(now time.Time, f *flow.Flow) error {
	for {
		if f.ReadBlock == nil {
			f.ReadBlock = make([]byte, f.Settings.ReadBlockSize)
			f.ReadBlockBytesRead = 0
		}

		n, oobn, _, _, err := unix.Recvmsg(f.FD, f.ReadBlock[f.ReadBlockBytesRead:], e.oobBuf(), 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return nil
			}
			return err
		}
		if oobn > 0 {
			// ancillary control messages are logged, never acted on
			e.logger.Debug().Uint64("flow", f.ID).Int("oob_bytes", oobn).Log("received ancillary data")
		}
		if n == 0 {
			if !f.Finished[flow.Read] || !f.Settings.Shutdown {
				e.logger.Warning().Uint64("flow", f.ID).Log("premature shutdown of data socket")
			}
			f.Finished[flow.Read] = true
			if f.Finished[flow.Write] {
				return errors.New("engine: flow finished")
			}
			return nil
		}

		f.ReadBlockBytesRead += n
		f.Interval.BytesRead += uint64(n)
		f.Total.BytesRead += uint64(n)

		if f.ReadBlockBytesRead < len(f.ReadBlock) {
			if !f.Settings.Pushy {
				return nil
			}
			continue
		}

		f.ReadBlockCount++
		if err := e.echoReply(now, f); err != nil {
			return err
		}
		f.ReadBlock = nil
		f.ReadBlockBytesRead = 0

		if !f.Settings.Pushy {
			return nil
		}
	}
}

// oobBuf returns the engine's scratch buffer for recvmsg ancillary data.
func (e *Engine) oobBuf() []byte { return e.oob[:] }

// echoReply computes the IAT for a just-completed read block and writes
// the header+IAT reply, matching the tail of read_data(). EAGAIN/EWOULDBLOCK
// is dropped with a warning; any other write failure is returned so the
// caller fails the flow.
func (e *Engine) echoReply(now time.Time, f *flow.Flow) error {
	l := wire.ReplyLength(f.ReadBlock)

	iat := math.NaN()
	if !f.LastBlockRead.IsZero() {
		iat = now.Sub(f.LastBlockRead.Time()).Seconds()
	}
	f.LastBlockRead = clock.ToTimeval(now)

	if err := wire.PutIAT(f.ReadBlock, l, iat); err != nil {
		e.logger.Warning().Uint64("flow", f.ID).Err(err).Log("failed to stamp reply IAT")
		return nil
	}
	if f.FDReply == -1 {
		return nil
	}

	reply := wire.BuildReply(f.ReadBlock, l)
	n, err := unix.Write(f.FDReply, reply)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			e.logger.Warning().Uint64("flow", f.ID).Err(err).Log("reply write would block, dropping reply")
			return nil
		}
		return err
	}
	if n < len(reply) {
		e.logger.Warning().Uint64("flow", f.ID).Int("written", n).Int("expected", len(reply)).Log("short reply write")
	}
	return nil
}
