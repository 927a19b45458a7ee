//go:build linux

package vde

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/plexsphere/vdeplug/internal/frame"
)

func init() {
	Register("udp", dialUDP)
}

// parseUDP parses "[lport->]host:port".
func parseUDP(rest string) (int, *net.UDPAddr, error) {
	lport := 0
	remote := rest
	if l, r, ok := strings.Cut(rest, "->"); ok {
		p, err := strconv.Atoi(l)
		if err != nil || p < 0 || p > 65535 {
			return 0, nil, fmt.Errorf("vde: udp: invalid local port %q", l)
		}
		lport, remote = p, r
	}
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return 0, nil, fmt.Errorf("vde: udp: resolve %q: %w", remote, err)
	}
	if raddr.Port == 0 || raddr.IP == nil {
		return 0, nil, fmt.Errorf("vde: udp: %q needs a host and a port", remote)
	}
	return lport, raddr, nil
}

// udpSockaddrs returns the socket family, local and remote addresses.
func udpSockaddrs(lport int, raddr *net.UDPAddr) (int, unix.Sockaddr, unix.Sockaddr, error) {
	if ip4 := raddr.IP.To4(); ip4 != nil {
		return unix.AF_INET,
			&unix.SockaddrInet4{Port: lport},
			&unix.SockaddrInet4{Port: raddr.Port, Addr: [4]byte(ip4)},
			nil
	}
	to := &unix.SockaddrInet6{Port: raddr.Port, Addr: [16]byte(raddr.IP.To16())}
	if raddr.Zone != "" {
		ifi, err := net.InterfaceByName(raddr.Zone)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("vde: udp: zone %q: %w", raddr.Zone, err)
		}
		to.ZoneId = uint32(ifi.Index)
	}
	return unix.AF_INET6, &unix.SockaddrInet6{Port: lport}, to, nil
}

func dialUDP(rest string, cfg Config, logger *slog.Logger) (frame.Transport, error) {
	lport, raddr, err := parseUDP(rest)
	if err != nil {
		return nil, err
	}
	family, local, to, err := udpSockaddrs(lport, raddr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("vde: udp: socket: %w", err)
	}
	if err := unix.Bind(fd, local); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("vde: udp: bind port %d: %w", lport, err)
	}

	f, err := frame.NewFD(fd, "udp://"+rest, frame.Datagram())
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	logger.Debug("udp endpoint bound",
		"local_port", boundPort(fd),
		"remote", raddr.String(),
	)
	return &dgramConn{FD: f, to: to}, nil
}

// boundPort returns the local port of fd, or 0 if it cannot be read.
func boundPort(fd int) int {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port
	case *unix.SockaddrInet6:
		return a.Port
	}
	return 0
}
