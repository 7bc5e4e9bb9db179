//go:build linux

package engine

import (
	"errors"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/flowgrindd/internal/flow"
	"github.com/joeycumines/flowgrindd/internal/queue"
	"github.com/joeycumines/flowgrindd/internal/sockets"
)

// processRequests drains and dispatches every pending control-thread
// request, matching process_requests(): each request is fully handled
// before its Done channel is signalled, except when Defer is set — today
// only addSource defers, leaving its request's Done channel untouched
// until the reply-channel connect it kicked off resolves on a later tick
// (see resolveReplyConnect).
func (e *Engine) processRequests(now time.Time) {
	for _, req := range e.requests.DrainAll() {
		switch req.Kind {
		case queue.AddSource:
			e.addSource(req)
		case queue.AddDestination:
			e.addDestination(req)
		case queue.StartFlows:
			e.startFlows(now)
		case queue.StopFlow:
			if !e.stopFlow(now, req.StopFlowID) {
				req.Error = "engine: unknown flow id"
			}
		case queue.GetStatus:
			req.Started = e.started
			req.NumFlows = e.table.Len()
		default:
			req.Error = "engine: unknown request type"
		}
		if !req.Defer {
			req.Signal()
		}
	}
}

// addSource handles add_flow_source(): allocates both sockets and fires a
// non-blocking connect on the reply channel, then inserts the flow in
// WaitConnectReply (flow.New's default for a source flow) and defers
// signalling the request. The engine goroutine never blocks waiting for
// the connect: the regular tick loop polls FDReply for writability and an
// exception set, exactly the mechanism scheduler.go already uses for a
// "late connect" on the data socket, and resolveReplyConnect signals the
// request once that resolves one way or the other.
func (e *Engine) addSource(req *queue.Request) {
	settings, _ := req.Settings.(*flow.Settings)
	if settings == nil || req.Addr == nil {
		req.Error = "engine: add source request missing settings or address"
		return
	}

	id := e.allocFlowID()
	f := flow.New(id, flow.RoleSource, *settings)
	f.Addr = req.Addr

	family := unix.AF_INET
	if req.Addr.IP != nil && req.Addr.IP.To4() == nil {
		family = unix.AF_INET6
	}

	replyFD, err := sockets.NonBlockingSocket(family)
	if err != nil {
		req.Error = err.Error()
		return
	}
	if err := sockets.Connect(replyFD, req.Addr); err != nil {
		sockets.Close(replyFD)
		req.Error = err.Error()
		return
	}
	f.FDReply = replyFD

	dataFD, err := sockets.NonBlockingSocket(family)
	if err != nil {
		sockets.Close(replyFD)
		req.Error = err.Error()
		return
	}
	if err := sockets.ApplyFlowOptions(dataFD, *settings); err != nil {
		sockets.Close(replyFD)
		sockets.Close(dataFD)
		req.Error = err.Error()
		return
	}
	f.FD = dataFD

	if err := e.table.Add(f); err != nil {
		f.Release(sockets.Close)
		req.Error = err.Error()
		return
	}
	req.FlowID = id
	req.Defer = true
	e.pendingConnects[id] = req
}

// resolveReplyConnect finishes what addSource started: it fetches the
// reply socket's SO_ERROR to see whether the non-blocking connect
// succeeded, then either fires the data-channel connect (fire-and-forget,
// unless Settings.LateConnect leaves it for prepareRead) and moves the
// flow to Running, or fails it — signalling whichever AddSource request is
// waiting either way, matching the deferred-request handshake in
// processRequests.
func (e *Engine) resolveReplyConnect(now time.Time, f *flow.Flow) {
	req := e.pendingConnects[f.ID]
	delete(e.pendingConnects, f.ID)

	if err := e.finishReplyConnect(f); err != nil {
		f.SetError(err.Error())
		if req != nil {
			req.Error = err.Error()
		}
		e.finalizeFlow(now, f)
	} else if req != nil {
		req.FlowID = f.ID
	}

	if req != nil {
		req.Signal()
	}
}

// finishReplyConnect checks the reply socket's connect result and, on
// success, either connects the data channel immediately or leaves it for
// a deferred "late connect", matching add_flow_source()'s eager-vs-late
// branch without ever blocking the engine goroutine on either connect.
func (e *Engine) finishReplyConnect(f *flow.Flow) error {
	errno, err := sockets.SocketError(f.FDReply)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}

	if !f.Settings.LateConnect {
		if err := sockets.Connect(f.FD, f.Addr); err != nil {
			return err
		}
		f.ConnectCalled = true
		f.MTU = sockets.MTU(f.FD)
		f.MSS = sockets.MSS(f.FD)
	}

	f.State = flow.Running
	return nil
}

// addDestination handles add_flow_destination(): binds two listening
// sockets (reply, data) and leaves the flow in WaitAcceptReply, letting
// the scheduler/dispatch pair (acceptReply/acceptData) drive it forward.
//
// Both listeners bind req.Addr's IP with an OS-assigned port (req.Addr.Port
// is only a hint used verbatim by addSource's symmetric connect — wiring a
// real source to this destination's actual bound ports is the out-of-scope
// control-plane concern addSource/addDestination stand in for).
func (e *Engine) addDestination(req *queue.Request) {
	settings, _ := req.Settings.(*flow.Settings)
	if settings == nil || req.Addr == nil {
		req.Error = "engine: add destination request missing settings or address"
		return
	}

	id := e.allocFlowID()
	f := flow.New(id, flow.RoleDestination, *settings)

	bindAddr := &net.TCPAddr{IP: req.Addr.IP, Zone: req.Addr.Zone}
	listenReply, err := sockets.Listen(bindAddr)
	if err != nil {
		req.Error = err.Error()
		return
	}
	listenData, err := sockets.Listen(bindAddr)
	if err != nil {
		sockets.Close(listenReply)
		req.Error = err.Error()
		return
	}
	f.ListenFDReply = listenReply
	f.ListenFDData = listenData

	if err := e.table.Add(f); err != nil {
		f.Release(sockets.Close)
		req.Error = err.Error()
		return
	}
	req.FlowID = id
}

// acceptReply accepts the pending reply-channel connection for a
// WaitAcceptReply destination flow, matching accept_reply().
func (e *Engine) acceptReply(f *flow.Flow) error {
	fd, err := sockets.Accept(f.ListenFDReply)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		return err
	}
	f.FDReply = fd
	sockets.Close(f.ListenFDReply)
	f.ListenFDReply = -1
	f.State = flow.GrindWaitAccept
	return nil
}

// acceptData accepts the pending data-channel connection for a
// GrindWaitAccept destination flow, matching accept_data().
func (e *Engine) acceptData(f *flow.Flow) error {
	fd, err := sockets.Accept(f.ListenFDData)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		return err
	}
	if err := sockets.ApplyFlowOptions(fd, f.Settings); err != nil {
		sockets.Close(fd)
		return err
	}
	f.FD = fd
	sockets.Close(f.ListenFDData)
	f.ListenFDData = -1
	f.ConnectCalled = true
	f.MTU = sockets.MTU(fd)
	f.MSS = sockets.MSS(fd)
	f.State = flow.Running
	return nil
}

// startFlows arms every pending flow's timing fields from its Settings
// and flips the engine into the started state, matching start_flows().
func (e *Engine) startFlows(now time.Time) {
	for _, id := range e.table.IDs() {
		f, ok := e.table.Get(id)
		if !ok {
			continue
		}
		for _, d := range [...]flow.Direction{flow.Read, flow.Write} {
			delay := time.Duration(f.Settings.Delay[d] * float64(time.Second))
			f.StartTimestamp[d] = now.Add(delay)
			if f.HasStop[d] {
				dur := time.Duration(f.Settings.Duration[d] * float64(time.Second))
				f.StopTimestamp[d] = f.StartTimestamp[d].Add(dur)
			}
		}
		f.NextWriteBlockTimestamp = f.StartTimestamp[flow.Write]
		f.FirstReportTime = now
		f.LastReportTime = now
		if f.Settings.ReportingInterval > 0 {
			interval := time.Duration(f.Settings.ReportingInterval * float64(time.Second))
			f.NextReportTime = now.Add(interval)
		}
	}
	e.started = true
}

// stopFlow handles stop_flow(): id == -1 drains every flow, using
// Table.First+Remove repeatedly (see flowtable.Table.First's doc comment)
// rather than indexing by position, which is exactly the iteration
// pattern that made flowgrind's stop_flow(-1) skip entries. Reports
// whether the target flow existed (always true for a mass stop).
func (e *Engine) stopFlow(now time.Time, id int64) bool {
	if id < 0 {
		for {
			f, ok := e.table.First()
			if !ok {
				break
			}
			e.finalizeFlow(now, f)
		}
		e.started = false
		return true
	}
	f, ok := e.table.Get(uint64(id))
	if !ok {
		return false
	}
	e.finalizeFlow(now, f)
	return true
}

// Client is the control-thread handle a caller uses to submit requests to
// a running Engine: push, wake, wait.
type Client struct {
	requests *queue.RequestQueue
	wake     func()
}

// NewClient returns a Client bound to e's inbox and wakeup signal.
func NewClient(e *Engine) *Client {
	return &Client{requests: e.requests, wake: e.wake}
}

// Do submits req and blocks until the engine has processed it.
func (c *Client) Do(req *queue.Request) {
	c.requests.Push(req)
	c.wake()
	req.Wait()
}

// AddSource submits an AddSource request and returns the assigned flow ID.
func (c *Client) AddSource(settings *flow.Settings, addr *net.TCPAddr) (uint64, error) {
	req := queue.NewRequest(queue.AddSource)
	req.Settings = settings
	req.Addr = addr
	c.Do(req)
	if req.Error != "" {
		return 0, errors.New(req.Error)
	}
	return req.FlowID, nil
}

// AddDestination submits an AddDestination request and returns the
// assigned flow ID.
func (c *Client) AddDestination(settings *flow.Settings, addr *net.TCPAddr) (uint64, error) {
	req := queue.NewRequest(queue.AddDestination)
	req.Settings = settings
	req.Addr = addr
	c.Do(req)
	if req.Error != "" {
		return 0, errors.New(req.Error)
	}
	return req.FlowID, nil
}

// StartFlows submits a StartFlows request.
func (c *Client) StartFlows() {
	c.Do(queue.NewRequest(queue.StartFlows))
}

// StopFlow submits a StopFlow request; id == -1 stops every flow.
func (c *Client) StopFlow(id int64) {
	req := queue.NewRequest(queue.StopFlow)
	req.StopFlowID = id
	c.Do(req)
}

// GetStatus submits a GetStatus request and returns whether the engine
// has been started and how many flows are currently active.
func (c *Client) GetStatus() (started bool, numFlows int) {
	req := queue.NewRequest(queue.GetStatus)
	c.Do(req)
	return req.Started, req.NumFlows
}
