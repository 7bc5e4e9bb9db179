//go:build linux

// Package sockets is the raw, non-blocking socket layer the engine builds
// on: setup helpers (listen/connect/accept), the per-flow TCP option
// toggles daemon.c's set_flow_tcp_options/apply_extra_socket_options apply,
// and the MTU/MSS/TCP_INFO telemetry accessors the reporter consults.
//
// The engine treats flow construction (add_flow_source,
// add_flow_destination, accept_reply, accept_data) as black-box setup;
// this package supplies the concrete, minimal primitives those paths call
// so the engine is runnable and testable end to end, using
// golang.org/x/sys/unix directly for non-blocking, epoll-friendly file
// descriptors.
package sockets

import (
	"errors"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/flowgrindd/internal/flow"
)

func microseconds(v uint32) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// Close closes a raw file descriptor, swallowing the error the way
// uninit_flow()'s close() calls do (a close failure here is not
// actionable).
func Close(fd int) {
	_ = unix.Close(fd)
	delete(corked, fd)
}

// NonBlockingSocket creates a non-blocking, close-on-exec TCP socket for
// the given address family (unix.AF_INET or unix.AF_INET6).
func NonBlockingSocket(family int) (int, error) {
	return unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
}

// Listen creates a non-blocking listening socket bound to addr.
func Listen(addr *net.TCPAddr) (int, error) {
	family := unix.AF_INET
	if addr.IP != nil && addr.IP.To4() == nil {
		family = unix.AF_INET6
	}
	fd, err := NonBlockingSocket(family)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		Close(fd)
		return -1, err
	}
	sa, err := sockaddr(addr)
	if err != nil {
		Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 16); err != nil {
		Close(fd)
		return -1, err
	}
	return fd, nil
}

// Accept accepts one pending connection from a non-blocking listening
// socket. Returns unix.EAGAIN if none is pending.
func Accept(listenFD int) (int, error) {
	fd, _, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	return fd, err
}

// Connect attempts a non-blocking connect, returning nil both when it
// completes immediately and when it is in progress (EINPROGRESS) — the
// caller distinguishes the two only by later observing the socket's
// exception set and checking SO_ERROR.
func Connect(fd int, addr *net.TCPAddr) error {
	sa, err := sockaddr(addr)
	if err != nil {
		return err
	}
	err = unix.Connect(fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		return err
	}
	return nil
}

func sockaddr(addr *net.TCPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		copy(sa.Addr[:], ip4)
		return &sa, nil
	}
	var sa unix.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], addr.IP.To16())
	return &sa, nil
}

// SocketError fetches SO_ERROR, the mechanism by which a failed
// non-blocking connect() surfaces in the exception set.
func SocketError(fd int) (int, error) {
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
}

// MTU and MSS return -1 if the value could not be fetched, matching
// get_mtu()/get_mss()'s "best effort" contract.
func MTU(fd int) int {
	v, err := unix.GetsockoptInt(fd, unix.SOL_IP, unix.IP_MTU)
	if err != nil {
		return -1
	}
	return v
}

func MSS(fd int) int {
	v, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_MAXSEG)
	if err != nil {
		return -1
	}
	return v
}

// TCPInfo snapshots kernel TCP telemetry (struct tcp_info via TCP_INFO),
// matching get_tcp_info(); it is best-effort and returns ok=false rather
// than an error on failure, since the snapshot is an optional field on
// reports and absent on platforms that lack it.
func TCPInfo(fd int) (snap *flow.TCPInfoSnapshot, ok bool) {
	info, err := unix.GetsockoptTCPInfo(fd, unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return nil, false
	}
	return &flow.TCPInfoSnapshot{
		RTT:          microseconds(info.Rtt),
		RTTVar:       microseconds(info.Rttvar),
		Retransmits:  uint32(info.Retransmits),
		TotalRetrans: info.Total_retrans,
	}, true
}

// ShutdownWrite and ShutdownRead half-close one direction of the data
// socket, matching shutdown(fd, SHUT_WR)/SHUT_RD in prepare_wfds /
// prepare_rfds.
func ShutdownWrite(fd int) error { return unix.Shutdown(fd, unix.SHUT_WR) }
func ShutdownRead(fd int) error  { return unix.Shutdown(fd, unix.SHUT_RD) }

// ToggleCork flips TCP_CORK, matching toggle_tcp_cork(): the engine calls
// this once per completed write block when Settings.Cork is set, which
// alternately sets and clears the option to force the kernel to flush the
// corked segment.
var corked = map[int]bool{}

func ToggleCork(fd int) error {
	next := !corked[fd]
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_CORK, boolToInt(next)); err != nil {
		return err
	}
	corked[fd] = next
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
