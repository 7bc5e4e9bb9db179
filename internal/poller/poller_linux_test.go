//go:build linux

package poller

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/require"
)

func pair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestSyncAndWaitReportsReadable(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	a, b := pair(t)
	require.NoError(t, s.Sync(a, Read))

	_, werr := unix.Write(b, []byte("x"))
	require.NoError(t, werr)

	events, err := s.Wait(1000)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, a, events[0].FD)
	require.True(t, events[0].Readable)
}

func TestSyncZeroDeregisters(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	a, b := pair(t)
	require.NoError(t, s.Sync(a, Read))
	require.NoError(t, s.Sync(a, 0))

	_, werr := unix.Write(b, []byte("x"))
	require.NoError(t, werr)

	events, err := s.Wait(50)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestWaitTimesOutWithNoEvents(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	events, err := s.Wait(10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestSyncRejectsNegativeFD(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	require.Error(t, s.Sync(-1, Read))
}

func TestCloseMakesSyncAndWaitFail(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Sync(0, Read), ErrClosed)
	_, err = s.Wait(10)
	require.ErrorIs(t, err, ErrClosed)
}
