// Package congestion watches for the "incipient congestion" condition
// write_data() flags when a flow's paced write schedule falls behind
// real time, and decides when that has happened often enough that the
// flow should be cut.
//
// Built on catrate's sliding-window Limiter: the condition is tracked
// with a single monotonically-incrementing
// congestion_counter that never resets and trips once it exceeds
// CONGESTION_LIMIT for the lifetime of the flow. That is exactly a
// one-category, one-window rate limiter whose window covers the whole
// test — so rather than hand-roll a counter, each flow gets its own
// category in a shared catrate.Limiter configured with a single window
// long enough to span any realistic flow duration and a limit of
// CONGESTION_LIMIT events.
package congestion

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// Limit matches daemon.c's CONGESTION_LIMIT: a flow is cut (when
// flow_control is enabled) once it has logged more than this many
// incipient congestion events.
const Limit = 10000

// window bounds how long a flow's congestion events remain "on the
// books". It only needs to outlast any single test; flowgrind tests are
// bounded in minutes, not hours, so a day comfortably covers every
// realistic run while still letting the limiter's cleanup worker reclaim
// long-dead flows' bookkeeping.
const window = 24 * time.Hour

// Tracker classifies per-flow incipient-congestion events against the
// fixed budget daemon.c enforces, keyed by flow ID.
type Tracker struct {
	limiter *catrate.Limiter
}

// NewTracker constructs a Tracker. A single Tracker is meant to be shared
// across all flows the engine is running; categories are keyed by flow ID
// so each flow gets its own independent budget.
func NewTracker() *Tracker {
	return &Tracker{
		limiter: catrate.NewLimiter(map[time.Duration]int{window: Limit}),
	}
}

// Observe records one incipient-congestion event for flowID (the paced
// write scheduler fell behind real time for that block) and reports
// whether the flow has now exceeded its budget and should be terminated,
// matching `congestion_counter > CONGESTION_LIMIT`.
func (t *Tracker) Observe(flowID uint64) (exceeded bool) {
	_, allowed := t.limiter.Allow(flowID)
	return !allowed
}

// Forget is called once a flow has finished or been removed. It is a
// no-op: flow IDs come from an ever-increasing counter and are never
// reused, and catrate reclaims inactive categories on its own cleanup
// cadence.
func (t *Tracker) Forget(flowID uint64) {
	// catrate has no explicit eviction API; its background worker
	// reclaims categories that have been idle for the window duration on
	// its own. Nothing to do here beyond documenting that.
	_ = flowID
}
