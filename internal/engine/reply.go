//go:build linux

package engine

import (
	"errors"
	"math"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/flowgrindd/internal/flow"
	"github.com/joeycumines/flowgrindd/internal/wire"
)

// readReply drives a source flow's reply-channel consumption, matching
// process_reply(): accumulate one reply block, reject it (log and keep
// waiting for the next one) if its RTT or IAT isn't physically sensible,
// otherwise fold it into both the INTERVAL and TOTAL stats buckets.
func (e *Engine) readReply(now time.Time, f *flow.Flow) error {
	for {
		if f.ReplyBlock == nil {
			f.ReplyBlock = make([]byte, wire.ReplyBlockSize)
			f.ReplyBlockBytesRead = 0
		}

		n, err := unix.Read(f.FDReply, f.ReplyBlock[f.ReplyBlockBytesRead:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return nil
			}
			return err
		}
		if n == 0 {
			return errors.New("engine: reply channel closed")
		}

		f.ReplyBlockBytesRead += n
		if f.ReplyBlockBytesRead < len(f.ReplyBlock) {
			if !f.Settings.Pushy {
				return nil
			}
			continue
		}

		e.applyReply(now, f)
		f.ReplyBlock = nil
		f.ReplyBlockBytesRead = 0

		if !f.Settings.Pushy {
			return nil
		}
	}
}

// applyReply decodes one complete reply block and, if it passes the
// sanity checks process_reply() applies, accumulates RTT/IAT statistics
// into both buckets.
func (e *Engine) applyReply(now time.Time, f *flow.Flow) {
	sent, iat, err := wire.ParseReply(f.ReplyBlock)
	if err != nil {
		e.logger.Warning().Uint64("flow", f.ID).Err(err).Log("failed to parse reply block")
		return
	}

	rtt := now.Sub(sent.Time()).Seconds()
	if rtt <= 0 {
		e.logger.Warning().Uint64("flow", f.ID).Log("rejecting reply with non-positive RTT")
		return
	}
	if !math.IsNaN(iat) && iat <= 0 {
		e.logger.Warning().Uint64("flow", f.ID).Log("rejecting reply with non-positive IAT")
		return
	}

	for _, bucket := range [...]*flow.StatsBucket{&f.Interval, &f.Total} {
		bucket.ReplyBlocksRead++
		bucket.RTTSum += rtt
		bucket.RTTMin = math.Min(bucket.RTTMin, rtt)
		bucket.RTTMax = math.Max(bucket.RTTMax, rtt)
		if !math.IsNaN(iat) {
			bucket.IATSum += iat
			bucket.IATMin = math.Min(bucket.IATMin, iat)
			bucket.IATMax = math.Max(bucket.IATMax, iat)
		}
	}
}
