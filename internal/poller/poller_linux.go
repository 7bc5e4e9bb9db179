//go:build linux

// Package poller is the readiness selector: on every engine tick it is
// told the full desired interest set for every live descriptor,
// diffs that against what's currently registered with epoll, waits up to
// 10ms, and reports which descriptors became ready for which of
// read/write/error.
//
// epoll_create1 plus a direct fd-indexed array: with at most a few
// thousand flows there is no need for anything fancier, and a flat array
// beats a map for the per-tick diff of current-vs-desired interest.
// Sync() is the single reconciliation call, rather than separate
// register/modify/unregister entry points, because interest here is
// recomputed from scratch every tick rather than incrementally toggled
// by the caller.
package poller

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Interest is a bitmask of the readiness conditions the engine cares about
// for one descriptor this tick.
type Interest uint32

const (
	Read Interest = 1 << iota
	Write
	Exception
)

// ErrClosed is returned by Sync/Wait after Close.
var ErrClosed = errors.New("poller: closed")

// maxFDs bounds the direct-index registered-set table.
const maxFDs = 65536

// Selector is the epoll-backed readiness selector.
type Selector struct {
	epfd       int
	registered [maxFDs]Interest // 0 means "not registered"
	eventBuf   [256]unix.EpollEvent
	closed     bool
}

// New creates and initializes the epoll instance.
func New() (*Selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Selector{epfd: epfd}, nil
}

// Close closes the epoll instance.
func (s *Selector) Close() error {
	s.closed = true
	return unix.Close(s.epfd)
}

// Sync updates the registered interest for fd, issuing whatever
// epoll_ctl(ADD/MOD/DEL) call is needed to reconcile epoll's view with
// `want`. want == 0 deregisters the fd entirely. This is the operation the
// engine calls once per fd per tick as it rebuilds interest sets from
// scratch.
func (s *Selector) Sync(fd int, want Interest) error {
	if s.closed {
		return ErrClosed
	}
	if fd < 0 || fd >= maxFDs {
		return unix.EBADF
	}
	have := s.registered[fd]
	if have == want {
		return nil
	}

	switch {
	case want == 0:
		s.registered[fd] = 0
		return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	case have == 0:
		s.registered[fd] = want
		ev := &unix.EpollEvent{Events: toEpoll(want), Fd: int32(fd)}
		return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	default:
		s.registered[fd] = want
		ev := &unix.EpollEvent{Events: toEpoll(want), Fd: int32(fd)}
		return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, ev)
	}
}

// Event is one readiness notification from Wait.
type Event struct {
	FD        int
	Readable  bool
	Writable  bool
	Exception bool
}

// Wait blocks for up to timeoutMs milliseconds (the engine's fixed 10ms
// cooperative-pacing tick) and returns the descriptors that became ready.
// EINTR is retried internally, matching daemon_main()'s `if (errno ==
// EINTR) continue;`.
func (s *Selector) Wait(timeoutMs int) ([]Event, error) {
	if s.closed {
		return nil, ErrClosed
	}
	for {
		n, err := unix.EpollWait(s.epfd, s.eventBuf[:], timeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, err
		}
		events := make([]Event, 0, n)
		for i := 0; i < n; i++ {
			ev := s.eventBuf[i]
			events = append(events, Event{
				FD:        int(ev.Fd),
				Readable:  ev.Events&unix.EPOLLIN != 0,
				Writable:  ev.Events&unix.EPOLLOUT != 0,
				Exception: ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLPRI) != 0,
			})
		}
		return events, nil
	}
}

func toEpoll(i Interest) uint32 {
	var e uint32
	if i&Read != 0 {
		e |= unix.EPOLLIN
	}
	if i&Write != 0 {
		e |= unix.EPOLLOUT
	}
	if i&Exception != 0 {
		// epoll always reports EPOLLERR/EPOLLHUP regardless of registration,
		// but EPOLLPRI covers the out-of-band "exceptional condition" case
		// select()'s efds traditionally reports a pending non-blocking
		// connect's completion through.
		e |= unix.EPOLLPRI
	}
	return e
}
