//go:build linux

package engine

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/flowgrindd/internal/flow"
	"github.com/joeycumines/flowgrindd/internal/poller"
	"github.com/joeycumines/flowgrindd/internal/report"
	"github.com/joeycumines/flowgrindd/internal/sockets"
)

// rebuildInterest is the Go rendering of prepare_fds(): for every active
// flow it either finalizes flows with nothing left to read or send, or
// computes this tick's desired readiness interest and syncs it with the
// poller. Interest is always recomputed from the current flow state, not
// incrementally patched.
func (e *Engine) rebuildInterest(now time.Time) {
	desired := make(map[int]fdEntry, len(e.fds))

	for _, id := range e.table.IDs() {
		f, ok := e.table.Get(id)
		if !ok {
			continue
		}

		if e.started && flowDone(now, f) {
			e.finalizeFlow(now, f)
			continue
		}

		if f.State == flow.WaitAcceptReply && f.ListenFDReply != -1 {
			desired[f.ListenFDReply] = fdEntry{id, kindListenReply}
		}
		if f.State == flow.GrindWaitAccept && f.ListenFDData != -1 {
			desired[f.ListenFDData] = fdEntry{id, kindListenData}
		}
		if f.State == flow.WaitConnectReply && f.FDReply != -1 {
			desired[f.FDReply] = fdEntry{id, kindReplyConnect}
		}

		if !e.started {
			continue
		}

		if f.FDReply != -1 {
			desired[f.FDReply] = fdEntry{id, kindReplyRead}
		}

		if f.FD != -1 {
			e.prepareWrite(now, f)
			if err := e.prepareRead(now, f); err != nil {
				f.SetError(err.Error())
				e.finalizeFlow(now, f)
				for fd, entry := range desired {
					if entry.flowID == id {
						delete(desired, fd)
					}
				}
				continue
			}
			desired[f.FD] = fdEntry{id, kindData}
		}
	}

	// unregister anything synced last tick that isn't wanted this tick
	for fd, entry := range e.fds {
		if entry.kind == kindWakeup {
			continue
		}
		if _, ok := desired[fd]; !ok {
			_ = e.poller.Sync(fd, 0)
		}
	}
	for fd, entry := range desired {
		var interest poller.Interest
		switch entry.kind {
		case kindListenReply, kindListenData, kindReplyRead:
			interest = poller.Read
		case kindReplyConnect:
			// a non-blocking connect completes by becoming writable;
			// epoll reports EPOLLERR/EPOLLHUP regardless of registration,
			// so a failed connect surfaces the same way a failed "late
			// connect" does on the data fd.
			interest = poller.Write | poller.Exception
		case kindData:
			f, ok := e.table.Get(entry.flowID)
			if !ok {
				continue
			}
			interest = poller.Exception
			if f.Sending(now, flow.Write) && f.BlockScheduled(now) {
				interest |= poller.Write
			}
			if f.ConnectCalled && !f.Finished[flow.Read] {
				interest |= poller.Read
			}
		}
		_ = e.poller.Sync(fd, interest)
		e.fds[fd] = entry
	}
	for fd, entry := range e.fds {
		if entry.kind == kindWakeup {
			continue
		}
		if _, ok := desired[fd]; !ok {
			delete(e.fds, fd)
		}
	}
}

// flowDone reports whether a flow has nothing left to read or send in
// either direction, matching prepare_fds()'s termination gate.
func flowDone(now time.Time, f *flow.Flow) bool {
	doneRead := f.Finished[flow.Read] || f.Settings.Duration[flow.Read] == 0 ||
		(!f.InDelay(now, flow.Read) && !f.Sending(now, flow.Read))
	doneWrite := f.Finished[flow.Write] || f.Settings.Duration[flow.Write] == 0 ||
		(!f.InDelay(now, flow.Write) && !f.Sending(now, flow.Write))
	return doneRead && doneWrite
}

// prepareWrite marks the WRITE direction finished and half-closes the
// socket once it has stopped sending, matching prepare_wfds().
func (e *Engine) prepareWrite(now time.Time, f *flow.Flow) {
	if f.InDelay(now, flow.Write) {
		return
	}
	if f.Sending(now, flow.Write) {
		return
	}
	if f.Finished[flow.Write] {
		return
	}
	f.Finished[flow.Write] = true
	if f.Settings.Shutdown && f.FD != -1 {
		if err := sockets.ShutdownWrite(f.FD); err != nil {
			e.logger.Warning().Uint64("flow", f.ID).Err(err).Log("shutdown(SHUT_WR) failed")
		}
	}
}

// prepareRead half-closes a server flow's read side if it missed its own
// shutdown, and fires a deferred ("late") connect exactly once, matching
// prepare_rfds(). A connect failure is returned so the caller fails the
// flow.
func (e *Engine) prepareRead(now time.Time, f *flow.Flow) error {
	if !f.InDelay(now, flow.Read) && !f.Sending(now, flow.Read) {
		if !f.Finished[flow.Read] && f.Settings.Shutdown {
			if err := sockets.ShutdownRead(f.FD); err != nil {
				e.logger.Warning().Uint64("flow", f.ID).Err(err).Log("shutdown(SHUT_RD) failed")
			}
			f.Finished[flow.Read] = true
		}
	}

	if f.Settings.LateConnect && !f.ConnectCalled && f.Addr != nil {
		// connect() is fired exactly once here and never polled for
		// completion: a non-blocking connect that's still in progress
		// surfaces later via the data fd's exception set (SO_ERROR),
		// which process_select's dispatch already checks every tick.
		f.ConnectCalled = true
		if err := sockets.Connect(f.FD, f.Addr); err != nil {
			return err
		}
		f.MTU = sockets.MTU(f.FD)
		f.MSS = sockets.MSS(f.FD)
	}
	return nil
}

// processReady dispatches one batch of readiness events, matching
// process_select(): any failure removes the flow after a final TOTAL
// report.
func (e *Engine) processReady(now time.Time, events []poller.Event) {
	for _, ev := range events {
		entry, ok := e.fds[ev.FD]
		if !ok {
			continue
		}
		if entry.kind == kindWakeup {
			continue
		}

		f, ok := e.table.Get(entry.flowID)
		if !ok {
			continue
		}

		var err error
		switch entry.kind {
		case kindListenReply:
			if f.State == flow.WaitAcceptReply && ev.Readable {
				err = e.acceptReply(f)
			}
		case kindListenData:
			if f.State == flow.GrindWaitAccept && ev.Readable {
				err = e.acceptData(f)
			}
		case kindReplyConnect:
			if f.State == flow.WaitConnectReply && (ev.Writable || ev.Exception) {
				e.resolveReplyConnect(now, f)
				continue
			}
		case kindReplyRead:
			if ev.Readable {
				err = e.readReply(now, f)
			}
		case kindData:
			if ev.Exception {
				if errno, serr := sockets.SocketError(f.FD); serr != nil {
					err = serr
				} else if errno != 0 {
					err = unix.Errno(errno)
				}
			}
			if err == nil && ev.Writable {
				err = e.writeData(now, f)
			}
			if err == nil && ev.Readable {
				err = e.readData(now, f)
			}
		}

		if err != nil {
			f.SetError(err.Error())
			e.finalizeFlow(now, f)
		}
	}
}

// finalizeFlow emits the flow's final TOTAL report, releases its
// descriptors and removes it from the table, matching the shared
// "uninit_flow + remove_flow" tail of prepare_fds/process_select.
func (e *Engine) finalizeFlow(now time.Time, f *flow.Flow) {
	if f.FD != -1 {
		e.buildReport(now, f, report.Total)
	}
	f.Release(sockets.Close)
	for fd, entry := range e.fds {
		if entry.flowID == f.ID {
			_ = e.poller.Sync(fd, 0)
			delete(e.fds, fd)
		}
	}
	e.table.Remove(f.ID)
	e.congestion.Forget(f.ID)

	// a deferred AddSource request still waiting on this flow's reply
	// connect must not be left blocked forever
	if req, ok := e.pendingConnects[f.ID]; ok {
		delete(e.pendingConnects, f.ID)
		if req.Error == "" {
			if f.Error != "" {
				req.Error = f.Error
			} else {
				req.Error = "engine: flow removed before connect completed"
			}
		}
		req.Signal()
	}

	if e.table.Len() == 0 {
		e.started = false
	}
}
