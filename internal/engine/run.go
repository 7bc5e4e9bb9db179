//go:build linux

package engine

import (
	"context"

	"github.com/joeycumines/flowgrindd/internal/clock"
)

// Run drives the engine's tick loop until ctx is cancelled or the poller
// returns a fatal error, matching daemon_main(): rebuild interest, wait up
// to tickTimeoutMillis, drain the wakeup pipe if signalled, dispatch
// pending requests, fire any due periodic reports, then dispatch readiness
// events. Exactly one goroutine should ever call Run.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.rebuildInterest(clock.Now())

		events, err := e.poller.Wait(tickTimeoutMillis)
		if err != nil {
			return err
		}

		now := clock.Now()

		for _, ev := range events {
			if ev.FD == e.wakeRead {
				e.drainWakeup()
				break
			}
		}

		e.processRequests(now)
		e.timerCheck(now)
		e.processReady(now, events)
	}
}
