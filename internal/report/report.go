// Package report builds the INTERVAL/TOTAL report records the engine
// emits, including the packed per-direction status codes.
package report

import (
	"time"

	"github.com/joeycumines/flowgrindd/internal/flow"
)

// Type mirrors queue.ReportKind but lives alongside the Report value itself
// so this package has no dependency on internal/queue.
type Type int

const (
	Interval Type = iota
	Total
)

// StatusCode is one of the six single-letter direction codes describing
// why no (or partial) data flowed in a direction during an interval.
type StatusCode byte

const (
	CodeDelay    StatusCode = 'd'
	CodeLive     StatusCode = 'l'
	CodeDisabled StatusCode = 'o'
	CodeFinished StatusCode = 'f'
	CodeClosed   StatusCode = 'c'
	CodeNormal   StatusCode = 'n'
)

// Status packs the per-direction status bytes into the 16-bit report
// status field: READ in the high byte, WRITE in the low byte.
type Status uint16

// NewStatus packs read and write codes into a Status.
func NewStatus(read, write StatusCode) Status {
	return Status(uint16(read)<<8 | uint16(write))
}

// Read and Write unpack the two direction codes.
func (s Status) Read() StatusCode  { return StatusCode(s >> 8) }
func (s Status) Write() StatusCode { return StatusCode(s & 0xff) }

// Report is a fully-rendered report record.
type Report struct {
	FlowID uint64
	Type   Type

	Begin, End time.Time

	Stats flow.StatsBucket

	MSS, MTU int

	Status Status

	// CongestionCounter mirrors flow.Flow.CongestionCounter at the time
	// this report was built: the number of incipient-congestion events
	// (write_data()'s schedule-slip check) observed against the flow so
	// far.
	CongestionCounter int

	// Error carries the flow's terminal error string, set only on a
	// TOTAL report emitted because the flow failed.
	Error string
}

// directionCode computes the status byte for one direction of one report,
// matching report_flow()'s status-bit logic exactly, generalized from its
// two near-identical copies (READ used `bytes_read == 0`, WRITE used
// `bytes_written < write_block_size`; both are expressed here as the
// "madeProgress" predicate passed in by the caller).
func directionCode(now time.Time, f *flow.Flow, d flowDirection, madeProgress bool) StatusCode {
	if !madeProgress {
		switch {
		case f.InDelay(now, d.dir):
			return CodeDelay
		case f.Sending(now, d.dir):
			return CodeLive
		case d.durationIsZero:
			return CodeDisabled
		default:
			return CodeFinished
		}
	}
	// Data moved this interval: the direction reads as closed once it has
	// stopped sending, normal otherwise. (report_flow()'s equivalent check
	// references a stray `flow->finished` scalar that doesn't match the
	// per-direction finished[] array used everywhere else in daemon.c; the
	// per-direction semantics are what's implemented here.)
	if !f.Sending(now, d.dir) {
		return CodeClosed
	}
	return CodeNormal
}

// flowDirection bundles the bits of per-direction context directionCode
// needs without importing flow.Direction constants twice.
type flowDirection struct {
	dir            flow.Direction
	durationIsZero bool
}

// BuildStatus computes the full 16-bit status for a report snapshot: for
// WRITE, "made progress" means at least one full block completed
// in the interval (bytes_written >= write_block_size); for READ, any
// non-zero byte count counts.
func BuildStatus(now time.Time, f *flow.Flow, bucket *flow.StatsBucket) Status {
	read := directionCode(now, f, flowDirection{dir: flow.Read, durationIsZero: f.Settings.Duration[flow.Read] == 0}, bucket.BytesRead != 0)
	write := directionCode(now, f, flowDirection{dir: flow.Write, durationIsZero: f.Settings.Duration[flow.Write] == 0}, bucket.BytesWritten >= uint64(f.Settings.WriteBlockSize))
	return NewStatus(read, write)
}
