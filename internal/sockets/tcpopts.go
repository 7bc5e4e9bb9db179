//go:build linux

package sockets

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/flowgrindd/internal/flow"
)

// ApplyFlowOptions applies every TCP-level tunable named in settings to the
// data socket, once, at setup time — the Go rendering of
// set_flow_tcp_options() plus apply_extra_socket_options().
//
// cc_alg/ro_alg (congestion-control and reordering algorithm name setters)
// and packet-capture (advstats) are probing helpers handled by external
// collaborators, not here; the toggles this function does apply are ELCN,
// ICMP blackholing, cork, SO_DEBUG, route record, DSCP, IP_MTU_DISCOVER,
// and the raw extra option triples.
func ApplyFlowOptions(fd int, s flow.Settings) error {
	if s.ELCN {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, tcpELCN, 1); err != nil {
			return fmt.Errorf("unable to set TCP_ELCN: %w", err)
		}
	}
	if s.ICMP {
		if err := unix.SetsockoptInt(fd, unix.SOL_IP, ipRecvErr, 1); err != nil {
			return fmt.Errorf("unable to set ICMP option: %w", err)
		}
	}
	if s.Cork {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_CORK, 1); err != nil {
			return fmt.Errorf("unable to set TCP_CORK: %w", err)
		}
		corked[fd] = true
	}
	if s.SoDebug {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_DEBUG, 1); err != nil {
			return fmt.Errorf("unable to set SO_DEBUG: %w", err)
		}
	}
	if s.RouteRecord {
		if err := unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_OPTIONS, 0); err != nil {
			return fmt.Errorf("unable to set route record option: %w", err)
		}
	}
	if s.DSCP != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_TOS, s.DSCP<<2); err != nil {
			return fmt.Errorf("unable to set DSCP value: %w", err)
		}
	}
	if s.IPMTUDiscover {
		if err := unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO); err != nil {
			return fmt.Errorf("unable to set IP_MTU_DISCOVER value: %w", err)
		}
	}
	return applyExtraSockopts(fd, s.ExtraSockopts)
}

// tcpELCN and ipRecvErr are not exposed by golang.org/x/sys/unix under
// portable names; their numeric values match Linux's <netinet/tcp.h> /
// <linux/in.h>.
const (
	tcpELCN   = 0x20 // TCP_ELCN (non-upstream patch option retained for parity with flowgrind's original socket tuning)
	ipRecvErr = 11   // IP_RECVERR
)

func applyExtraSockopts(fd int, opts []flow.Sockopt) error {
	for _, opt := range opts {
		level, err := sockoptLevel(opt.Level)
		if err != nil {
			return err
		}
		if err := unix.SetsockoptString(fd, level, opt.Optname, string(opt.Value)); err != nil {
			return fmt.Errorf("unable to set socket option %d: %w", opt.Optname, err)
		}
	}
	return nil
}

func sockoptLevel(l flow.SockoptLevel) (int, error) {
	switch l {
	case flow.LevelSolSocket:
		return unix.SOL_SOCKET, nil
	case flow.LevelSolTCP, flow.LevelIPProtoTCP:
		return unix.IPPROTO_TCP, nil
	case flow.LevelIPProtoIP:
		return unix.IPPROTO_IP, nil
	case flow.LevelIPProtoSCTP:
		return unix.IPPROTO_SCTP, nil
	case flow.LevelIPProtoUDP:
		return unix.IPPROTO_UDP, nil
	default:
		return 0, fmt.Errorf("unknown socket option level: %d", l)
	}
}
