//go:build linux

// Package engine is the single-threaded flow-processing core: one
// goroutine owns the flow table, drives the readiness selector, and is
// the only thing that ever touches flow state, mirroring daemon_main()'s
// single dedicated worker pthread.
//
// The shape is a tick-based run loop: poll I/O with a bounded timeout,
// drain the inbox, then dispatch ready descriptors. There is no timer
// heap and no task queue beyond the request inbox — a handful of paced
// TCP flows is a small scheduling problem, and the 10ms tick bounds
// every latency that matters here.
package engine

import (
	"sync/atomic"

	"github.com/joeycumines/flowgrindd/internal/congestion"
	"github.com/joeycumines/flowgrindd/internal/flowtable"
	"github.com/joeycumines/flowgrindd/internal/logging"
	"github.com/joeycumines/flowgrindd/internal/poller"
	"github.com/joeycumines/flowgrindd/internal/queue"
	"github.com/joeycumines/flowgrindd/internal/rng"
)

// tickTimeoutMillis is the fixed select/epoll_wait budget daemon_main()
// uses: 10ms, balancing pacing precision against CPU spent spinning.
const tickTimeoutMillis = 10

// fdKind identifies which of a flow's descriptors a registered fd is, so
// a readiness event can be routed back to the right handler.
type fdKind int

const (
	kindWakeup fdKind = iota
	kindListenReply
	kindListenData
	kindReplyConnect
	kindReplyRead
	kindData
)

type fdEntry struct {
	flowID uint64
	kind   fdKind
}

// Engine is the flow-processing core. Exactly one goroutine should ever
// call Run.
type Engine struct {
	table      *flowtable.Table
	requests   *queue.RequestQueue
	reports    *queue.ReportQueue
	congestion *congestion.Tracker
	rng        *rng.Source
	logger     *logging.Logger

	poller *poller.Selector

	wakeRead, wakeWrite int

	nextFlowID atomic.Uint64
	started    bool

	// fds is the full set of descriptors synced to the poller as of the
	// last tick, so the next tick's rebuild can diff against it and
	// unregister anything no longer wanted.
	fds map[int]fdEntry

	// oob is scratch space for the ancillary data recvmsg collects on the
	// data socket (logged only, never acted on).
	oob [512]byte

	// pendingConnects holds the AddSource request for every flow still
	// waiting on its reply-channel connect to resolve: addSource defers
	// signalling (queue.Request.Defer) and stashes the request here, and
	// the tick loop's kindReplyConnect dispatch signals it once the
	// non-blocking connect succeeds or fails.
	pendingConnects map[uint64]*queue.Request
}

// Config bundles the collaborators an Engine needs; every field is
// required except Logger (defaults to a discard logger).
type Config struct {
	Requests *queue.RequestQueue
	Reports  *queue.ReportQueue
	Logger   *logging.Logger
}

// New constructs an Engine, creating its own epoll instance and wakeup
// pipe.
func New(cfg Config) (*Engine, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		table:           flowtable.New(),
		requests:        cfg.Requests,
		reports:         cfg.Reports,
		congestion:      congestion.NewTracker(),
		rng:             rng.New(),
		logger:          cfg.Logger,
		poller:          p,
		fds:             make(map[int]fdEntry),
		pendingConnects: make(map[uint64]*queue.Request),
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}

	if err := e.initWakeup(); err != nil {
		_ = p.Close()
		return nil, err
	}

	return e, nil
}

// Close releases the engine's poller and wakeup pipe. The engine must
// not be running.
func (e *Engine) Close() error {
	e.closeWakeup()
	return e.poller.Close()
}

// allocFlowID assigns the next flow ID, matching next_flow_id++'s
// monotonic, never-reused counter. An atomic counter is used so a future
// control plane could assign IDs from outside the engine goroutine without
// a data race, even though today only Run's own goroutine calls this.
func (e *Engine) allocFlowID() uint64 {
	return e.nextFlowID.Add(1) - 1
}
