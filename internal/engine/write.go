//go:build linux

package engine

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/flowgrindd/internal/clock"
	"github.com/joeycumines/flowgrindd/internal/flow"
	"github.com/joeycumines/flowgrindd/internal/sockets"
	"github.com/joeycumines/flowgrindd/internal/wire"
)

// writeData drives the paced write path for one ready-for-write flow,
// matching write_data(): start a new block when one is due and none is
// in flight, push as many bytes as the socket accepts, and on block
// completion advance the schedule, flag incipient congestion if the
// completion already landed past the newly-advanced schedule, toggle
// cork, and loop again immediately when Settings.Pushy allows it instead
// of waiting for the next tick.
func (e *Engine) writeData(now time.Time, f *flow.Flow) error {
	for {
		// A zero cursor means no block is in flight: the header (length
		// byte + send timestamp) is stamped fresh here, never reused from
		// a previous block.
		if f.WriteBlockBytesWritten == 0 {
			if !f.Sending(now, flow.Write) || !f.BlockScheduled(now) {
				return nil
			}
			if err := e.startWriteBlock(now, f); err != nil {
				return err
			}
		}

		n, err := unix.Write(f.FD, f.WriteBlock[f.WriteBlockBytesWritten:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return nil
			}
			return err
		}

		f.WriteBlockBytesWritten += n
		f.Interval.BytesWritten += uint64(n)
		f.Total.BytesWritten += uint64(n)

		if f.WriteBlockBytesWritten < len(f.WriteBlock) {
			if !f.Settings.Pushy {
				return nil
			}
			continue
		}

		f.WriteBlockBytesWritten = 0
		f.LastBlockWritten = now
		f.WriteBlockCount++

		if f.Settings.WriteRate > 0 {
			delay := e.rng.InterpacketDelay(f.Settings.WriteRate, f.Settings.PoissonDistributed)
			f.NextWriteBlockTimestamp = f.NextWriteBlockTimestamp.Add(time.Duration(delay * float64(time.Second)))
			if f.LastBlockWritten.After(f.NextWriteBlockTimestamp) {
				if err := e.observeCongestion(f); err != nil {
					return err
				}
			}
		}

		if f.Settings.Cork {
			if err := sockets.ToggleCork(f.FD); err != nil {
				e.logger.Debug().Uint64("flow", f.ID).Err(err).Log("cork toggle failed")
			}
		}

		if !f.Settings.Pushy {
			return nil
		}
	}
}

// startWriteBlock arms a fresh write block: the header (length + send
// timestamp) per wire.PutBlockHeader. The buffer itself is allocated once
// and reused across blocks.
func (e *Engine) startWriteBlock(now time.Time, f *flow.Flow) error {
	if f.WriteBlock == nil {
		f.WriteBlock = make([]byte, f.Settings.WriteBlockSize)
	}
	if err := wire.PutBlockHeader(f.WriteBlock, clock.ToTimeval(now)); err != nil {
		return err
	}
	f.WriteBlockBytesWritten = 0
	return nil
}

// observeCongestion records an incipient-congestion event: the flow's
// counter always advances (matching write_data()'s unconditional
// congestion_counter++), but only flows with flow control enabled are
// cut once the budget is exceeded.
func (e *Engine) observeCongestion(f *flow.Flow) error {
	f.CongestionCounter++
	if e.congestion.Observe(f.ID) && f.Settings.FlowControl {
		return errors.New("engine: congestion limit exceeded")
	}
	return nil
}
