// Package flow holds the per-flow data model: the Flow record, its state
// machine, settings and statistics buckets.
package flow

import (
	"math"
	"net"
	"time"

	"github.com/joeycumines/flowgrindd/internal/clock"
)

// State is the flow's lifecycle state. A sum type, instead of deriving
// state from which file descriptors happen to be open, eliminates illegal
// (state, fd) combinations.
type State int

const (
	WaitAcceptReply State = iota
	WaitConnectReply
	GrindWaitAccept
	Running
)

func (s State) String() string {
	switch s {
	case WaitAcceptReply:
		return "wait_accept_reply"
	case WaitConnectReply:
		return "wait_connect_reply"
	case GrindWaitAccept:
		return "grind_wait_accept"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// TCPInfoSnapshot is a best-effort, platform-optional snapshot of kernel
// TCP telemetry (struct tcp_info on Linux). Absent (nil) on platforms, or
// for sockets, where it could not be fetched.
type TCPInfoSnapshot struct {
	RTT          time.Duration
	RTTVar       time.Duration
	Retransmits  uint32
	TotalRetrans uint32
}

// StatsBucket is one of the two statistics buckets a flow carries:
// INTERVAL, reset at each periodic report, and TOTAL, accumulated for the
// flow's lifetime.
type StatsBucket struct {
	BytesRead       uint64
	BytesWritten    uint64
	ReplyBlocksRead uint64

	RTTMin, RTTMax, RTTSum float64 // seconds
	IATMin, IATMax, IATSum float64 // seconds

	TCPInfo *TCPInfoSnapshot
}

// Reset zeros the bucket's counters and re-arms the min/max sentinels, the
// same reset report_flow() performs on the INTERVAL bucket after emitting a
// report.
func (b *StatsBucket) Reset() {
	b.BytesRead = 0
	b.BytesWritten = 0
	b.ReplyBlocksRead = 0
	b.RTTMin = math.Inf(1)
	b.RTTMax = math.Inf(-1)
	b.RTTSum = 0
	b.IATMin = math.Inf(1)
	b.IATMax = math.Inf(-1)
	b.IATSum = 0
	b.TCPInfo = nil
}

// NewStatsBucket returns a zeroed bucket with min/max sentinels armed.
func NewStatsBucket() StatsBucket {
	var b StatsBucket
	b.Reset()
	return b
}

// Flow is the core per-flow record.
type Flow struct {
	ID   uint64
	Role Role

	State State

	// Sockets. -1 means absent. Listen sockets are only meaningful during
	// setup and are closed once their accept fires.
	FD            int
	FDReply       int
	ListenFDReply int
	ListenFDData  int

	Addr *net.TCPAddr // destination address, used for late connect

	WriteBlock             []byte
	ReadBlock              []byte
	ReplyBlock             []byte
	WriteBlockBytesWritten int
	ReadBlockBytesRead     int
	ReplyBlockBytesRead    int
	WriteBlockCount        uint64
	ReadBlockCount         uint64

	StartTimestamp [numDirections]time.Time
	StopTimestamp  [numDirections]time.Time
	HasStop        [numDirections]bool // duration[d] >= 0

	NextWriteBlockTimestamp time.Time
	LastBlockWritten        time.Time
	LastBlockRead           clock.Timeval // zero value means "no block read yet"

	FirstReportTime time.Time
	LastReportTime  time.Time
	NextReportTime  time.Time

	ConnectCalled bool
	Finished      [numDirections]bool

	CongestionCounter int

	MTU int
	MSS int

	Interval StatsBucket
	Total    StatsBucket

	Error string

	Settings Settings
}

// New constructs a flow in its initial state, matching init_flow(): role
// determines the starting state (a source first dials the control
// connection and awaits the reply accept; a destination waits to accept
// the reply connection first).
func New(id uint64, role Role, settings Settings) *Flow {
	f := &Flow{
		ID:            id,
		Role:          role,
		FD:            -1,
		FDReply:       -1,
		ListenFDReply: -1,
		ListenFDData:  -1,
		MTU:           -1,
		MSS:           -1,
		Settings:      settings,
		Interval:      NewStatsBucket(),
		Total:         NewStatsBucket(),
	}
	if role == RoleSource {
		f.State = WaitConnectReply
	} else {
		f.State = WaitAcceptReply
	}
	for d := Direction(0); d < numDirections; d++ {
		f.HasStop[d] = settings.Duration[d] >= 0
	}
	return f
}

// InDelay reports whether direction d of the flow is still within its
// configured start delay at time now (flow_in_delay()).
func (f *Flow) InDelay(now time.Time, d Direction) bool {
	return f.StartTimestamp[d].After(now)
}

// Sending reports whether direction d is within its configured sending
// window at time now (flow_sending()): not in delay, and either unbounded
// duration or not yet past the stop timestamp.
func (f *Flow) Sending(now time.Time, d Direction) bool {
	if f.InDelay(now, d) {
		return false
	}
	if !f.HasStop[d] {
		return true
	}
	return now.Before(f.StopTimestamp[d])
}

// BlockScheduled reports whether a new write block is due: either the flow
// is unrated, or now has reached the scheduled timestamp
// (flow_block_scheduled()).
func (f *Flow) BlockScheduled(now time.Time) bool {
	return f.Settings.WriteRate == 0 || !now.Before(f.NextWriteBlockTimestamp)
}

// SetError records a human-readable failure on the flow. Only the first
// error is kept; a flow fails exactly once.
func (f *Flow) SetError(msg string) {
	if f.Error == "" {
		f.Error = msg
	}
}

// Release closes both data and reply sockets and any still-open listen
// sockets and drops the buffers, matching uninit_flow(). closeFD is
// supplied by the caller (internal/sockets) to avoid an import cycle
// between flow and the raw-socket layer.
func (f *Flow) Release(closeFD func(fd int)) {
	for _, fd := range []*int{&f.FDReply, &f.FD, &f.ListenFDReply, &f.ListenFDData} {
		if *fd != -1 {
			closeFD(*fd)
			*fd = -1
		}
	}
	f.ReadBlock = nil
	f.WriteBlock = nil
	f.Addr = nil
	f.ReplyBlock = nil
}
