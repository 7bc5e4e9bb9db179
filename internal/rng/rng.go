// Package rng draws the per-block inter-packet delay the paced write path
// schedules against.
package rng

import (
	"math"
	"math/rand/v2"
)

// Source is a per-engine pseudo-random source for Poisson draws. It exists
// as a struct (rather than a bare package function) so tests can seed a
// reproducible sequence and the engine can own one instance per run,
// matching the clock package's time-override seam.
type Source struct {
	rng *rand.Rand
}

// New creates a Source seeded from a cryptographically-insignificant but
// unpredictable default. flowgrind's original relies on libc random()'s
// process-global state; an engine-owned instance gives the same
// unpredictability without a shared global.
func New() *Source {
	return &Source{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeeded creates a Source with a fixed, reproducible sequence, for
// tests that need deterministic pacing.
func NewSeeded(seed1, seed2 uint64) *Source {
	return &Source{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// InterpacketDelay returns the delay, in seconds, until the next write
// block should be sent for a flow with the given write rate (blocks per
// second). When poissonDistributed is true this draws from an exponential
// distribution with that rate as its parameter — the same `-ln(U)/rate`
// construction as flow_interpacket_delay(), with U drawn from (0, 1] —
// otherwise it returns the fixed period 1/rate.
func (s *Source) InterpacketDelay(rate uint32, poissonDistributed bool) float64 {
	if rate == 0 {
		return 0
	}
	if !poissonDistributed {
		return 1 / float64(rate)
	}
	// Float64() returns [0, 1); flip it into (0, 1] to keep the draw
	// away from exactly zero, which would make log(u) diverge.
	u := 1 - s.rng.Float64()
	return -math.Log(u) / float64(rate)
}
