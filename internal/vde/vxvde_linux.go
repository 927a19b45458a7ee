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

const (
	// DefaultVXVDEGroup is the multicast group used when the address names none.
	DefaultVXVDEGroup = "239.0.0.1"

	// DefaultVXVDEPort is the UDP port of the group unless /port= is given.
	DefaultVXVDEPort = 14879

	// DefaultVXVDEVNI is the VXLAN network identifier unless /vni= is given.
	DefaultVXVDEVNI = 1
)

func init() {
	Register("vxvde", dialVXVDE)
}

type vxvdeAddr struct {
	group [4]byte
	port  int
	vni   uint32
	ttl   int
}

// parseVXVDE parses "[group][/port=N][/vni=N][/ttl=N]".
func parseVXVDE(rest string, defaultTTL int) (vxvdeAddr, error) {
	a := vxvdeAddr{port: DefaultVXVDEPort, vni: DefaultVXVDEVNI, ttl: defaultTTL}

	group, options, _ := strings.Cut(rest, "/")
	if group == "" {
		group = DefaultVXVDEGroup
	}
	ip := net.ParseIP(group)
	if ip == nil {
		return a, fmt.Errorf("vde: vxvde: invalid group %q", group)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return a, fmt.Errorf("vde: vxvde: only IPv4 multicast groups are supported, got %q", group)
	}
	if !ip4.IsMulticast() {
		return a, fmt.Errorf("vde: vxvde: %q is not a multicast group", group)
	}
	a.group = [4]byte(ip4)

	opts, err := parseOptions(options)
	if err != nil {
		return a, err
	}
	for k, v := range opts {
		n, err := strconv.Atoi(v)
		if err != nil {
			return a, fmt.Errorf("vde: vxvde: option %s: %w", k, err)
		}
		switch k {
		case "port":
			if n <= 0 || n > 65535 {
				return a, fmt.Errorf("vde: vxvde: invalid port %d", n)
			}
			a.port = n
		case "vni":
			if n < 0 || n > maxVNI {
				return a, fmt.Errorf("vde: vxvde: invalid vni %d", n)
			}
			a.vni = uint32(n)
		case "ttl":
			if n < 0 || n > 255 {
				return a, fmt.Errorf("vde: vxvde: invalid ttl %d", n)
			}
			a.ttl = n
		default:
			return a, fmt.Errorf("vde: vxvde: unknown option %q", k)
		}
	}
	return a, nil
}

// vxvdeConn receives on a socket joined to the group and sends from a
// separate ephemeral socket, so frames it sent itself can be recognised
// when multicast loopback returns them.
type vxvdeConn struct {
	*frame.FD
	send     int
	sendPort int
	self     map[[4]byte]bool
	to       *unix.SockaddrInet4
	vni      uint32
	rbuf     []byte
}

// Read reads one frame from the group.
func (c *vxvdeConn) Read(p []byte) (int, error) {
	for {
		n, from, err := unix.Recvfrom(c.Fd(), c.rbuf, unix.MSG_TRUNC)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, frame.ErrWouldBlock
		case err != nil:
			return 0, fmt.Errorf("vde: %s: receive: %w", c.Name(), err)
		}
		// MSG_TRUNC reports the full datagram length; oversized ones are dropped.
		if n > len(c.rbuf) || c.fromSelf(from) {
			return 0, frame.ErrNoFrame
		}
		payload, err := decapsulate(c.vni, c.rbuf[:n])
		if err != nil {
			return 0, err
		}
		return copy(p, payload), nil
	}
}

// Write sends p to the group.
func (c *vxvdeConn) Write(p []byte) (int, error) {
	if len(p) > frame.MaxSize {
		return 0, frame.ErrTooLarge
	}
	b, err := encapsulate(c.vni, p)
	if err != nil {
		return 0, err
	}
	if err := sendto(c.send, b, c.to); err != nil {
		if err == frame.ErrWouldBlock {
			return 0, err
		}
		return 0, fmt.Errorf("vde: %s: send: %w", c.Name(), err)
	}
	return len(p), nil
}

// WriteFd returns the send socket, which is the one to wait on for POLLOUT.
func (c *vxvdeConn) WriteFd() int { return c.send }

func (c *vxvdeConn) fromSelf(sa unix.Sockaddr) bool {
	a, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return false
	}
	return a.Port == c.sendPort && c.self[a.Addr]
}

// localIPv4 returns the IPv4 addresses configured on this host.
func localIPv4() map[[4]byte]bool {
	self := map[[4]byte]bool{{127, 0, 0, 1}: true}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return self
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			self[[4]byte(ip4)] = true
		}
	}
	return self
}

func dialVXVDE(rest string, cfg Config, logger *slog.Logger) (frame.Transport, error) {
	addr, err := parseVXVDE(rest, cfg.multicastTTL())
	if err != nil {
		return nil, err
	}

	recv, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("vde: vxvde: socket: %w", err)
	}
	send, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		unix.Close(recv)
		return nil, fmt.Errorf("vde: vxvde: socket: %w", err)
	}
	fail := func(err error) (frame.Transport, error) {
		unix.Close(recv)
		unix.Close(send)
		return nil, err
	}

	if err := unix.SetsockoptInt(recv, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail(fmt.Errorf("vde: vxvde: SO_REUSEADDR: %w", err))
	}
	if err := unix.Bind(recv, &unix.SockaddrInet4{Port: addr.port, Addr: addr.group}); err != nil {
		return fail(fmt.Errorf("vde: vxvde: bind %s: %w", net.IP(addr.group[:]), err))
	}
	mreq := &unix.IPMreq{Multiaddr: addr.group}
	if err := unix.SetsockoptIPMreq(recv, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		return fail(fmt.Errorf("vde: vxvde: join %s: %w", net.IP(addr.group[:]), err))
	}

	loop := 0
	if cfg.multicastLoop() {
		loop = 1
	}
	if err := unix.SetsockoptInt(send, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, addr.ttl); err != nil {
		return fail(fmt.Errorf("vde: vxvde: IP_MULTICAST_TTL: %w", err))
	}
	if err := unix.SetsockoptInt(send, unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, loop); err != nil {
		return fail(fmt.Errorf("vde: vxvde: IP_MULTICAST_LOOP: %w", err))
	}
	if err := unix.Bind(send, &unix.SockaddrInet4{}); err != nil {
		return fail(fmt.Errorf("vde: vxvde: bind sender: %w", err))
	}

	f, err := frame.NewFD(recv, "vxvde://"+rest,
		frame.Datagram(),
		frame.OnClose(func() error { return unix.Close(send) }),
	)
	if err != nil {
		return fail(err)
	}

	c := &vxvdeConn{
		FD:       f,
		send:     send,
		sendPort: boundPort(send),
		self:     localIPv4(),
		to:       &unix.SockaddrInet4{Port: addr.port, Addr: addr.group},
		vni:      addr.vni,
		rbuf:     make([]byte, frame.MaxSize+vxlanHeaderLen),
	}

	logger.Debug("vxvde group joined",
		"group", net.IP(addr.group[:]).String(),
		"port", addr.port,
		"vni", addr.vni,
		"ttl", addr.ttl,
		"loop", loop == 1,
	)
	return c, nil
}
