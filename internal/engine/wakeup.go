//go:build linux

package engine

import (
	"golang.org/x/sys/unix"

	"github.com/joeycumines/flowgrindd/internal/poller"
)

// initWakeup creates the control-thread-to-engine wakeup pipe and
// registers its read end with the poller.
//
// daemon_pipe is a plain byte pipe: any write to it just means "go check
// the request queue", the content is never inspected. An eventfd could do
// the same job, but unix.Pipe2 preserves the literal "any byte means
// non-empty inbox" semantics rather than eventfd's counter semantics.
func (e *Engine) initWakeup() error {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return err
	}
	e.wakeRead, e.wakeWrite = fds[0], fds[1]
	if err := e.poller.Sync(e.wakeRead, poller.Read); err != nil {
		return err
	}
	e.fds[e.wakeRead] = fdEntry{kind: kindWakeup}
	return nil
}

func (e *Engine) closeWakeup() {
	_ = e.poller.Sync(e.wakeRead, 0)
	delete(e.fds, e.wakeRead)
	_ = unix.Close(e.wakeRead)
	_ = unix.Close(e.wakeWrite)
}

// wake signals the engine goroutine that the request queue is
// non-empty. Safe to call from any goroutine; write failures (e.g. a
// full pipe buffer) are not actionable since the point is only to ensure
// at least one wakeup occurs, and the pipe staying non-empty achieves
// that on its own.
func (e *Engine) wake() {
	var b [1]byte
	_, _ = unix.Write(e.wakeWrite, b[:])
}

// drainWakeup empties the wakeup pipe after a tick observes it readable,
// matching process_requests()'s `while (read(daemon_pipe[0], tmp, 100) ==
// 100) ;` drain loop.
func (e *Engine) drainWakeup() {
	var buf [256]byte
	for {
		n, err := unix.Read(e.wakeRead, buf[:])
		if err != nil || n == 0 {
			return
		}
		if n < len(buf) {
			return
		}
	}
}
