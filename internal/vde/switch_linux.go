//go:build linux

package vde

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/plexsphere/vdeplug/internal/frame"
)

// vde_switch control protocol, request version 3.
const (
	switchMagic   = 0xfeedface
	switchVersion = 3
	reqNewControl = 0

	sizeofSockaddrUn = 110 // sa_family + sun_path[108]
	sizeofRequest    = 4 + 4 + 4 + sizeofSockaddrUn
)

var dataSocketSeq atomic.Uint32

func init() {
	Register("vde", dialSwitch)
}

// parseSwitchPath splits "path[port]" into its parts. Port 0 lets the
// switch choose.
func parseSwitchPath(rest string) (string, int, error) {
	path := rest
	port := 0
	if strings.HasSuffix(rest, "]") {
		i := strings.LastIndex(rest, "[")
		if i < 0 {
			return "", 0, fmt.Errorf("vde: malformed switch address %q", rest)
		}
		p, err := strconv.Atoi(rest[i+1 : len(rest)-1])
		if err != nil || p < 0 || p > 0xffffff {
			return "", 0, fmt.Errorf("vde: invalid switch port in %q", rest)
		}
		path, port = rest[:i], p
	}
	if path == "" {
		path = DefaultSwitch
	}
	return path, port, nil
}

// controlPath returns the control socket for path, which may name the
// switch directory.
func controlPath(path string) string {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return filepath.Join(path, "ctl")
	}
	return path
}

// encodeSockaddrUn encodes a struct sockaddr_un in host byte order.
func encodeSockaddrUn(b []byte, path string) {
	binary.NativeEndian.PutUint16(b[0:2], unix.AF_UNIX)
	copy(b[2:sizeofSockaddrUn-1], path)
}

// decodeSockaddrUn returns the path of a struct sockaddr_un.
func decodeSockaddrUn(b []byte) (string, error) {
	if len(b) < 3 {
		return "", fmt.Errorf("vde: short sockaddr (%d bytes)", len(b))
	}
	if family := binary.NativeEndian.Uint16(b[0:2]); family != unix.AF_UNIX {
		return "", fmt.Errorf("vde: unexpected address family %d", family)
	}
	path := b[2:]
	if i := strings.IndexByte(string(path), 0); i >= 0 {
		path = path[:i]
	}
	if len(path) == 0 {
		return "", fmt.Errorf("vde: empty socket path")
	}
	return string(path), nil
}

// encodeRequest builds a new-control request asking the switch to attach
// the datagram socket at dataPath to port.
func encodeRequest(dataPath string, port int, description string) []byte {
	if len(description) >= maxDescription {
		description = description[:maxDescription-1]
	}
	b := make([]byte, sizeofRequest+len(description)+1)
	binary.NativeEndian.PutUint32(b[0:4], switchMagic)
	binary.NativeEndian.PutUint32(b[4:8], switchVersion)
	binary.NativeEndian.PutUint32(b[8:12], uint32(reqNewControl|port<<8))
	encodeSockaddrUn(b[12:12+sizeofSockaddrUn], dataPath)
	copy(b[sizeofRequest:], description)
	return b
}

// dialSwitch performs the vde_switch handshake: a request on the control
// stream names our datagram socket, and the switch answers with its own.
func dialSwitch(rest string, cfg Config, logger *slog.Logger) (frame.Transport, error) {
	path, port, err := parseSwitchPath(rest)
	if err != nil {
		return nil, err
	}
	ctlPath := controlPath(path)

	ctl, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("vde: control socket: %w", err)
	}
	if err := unix.Connect(ctl, &unix.SockaddrUnix{Name: ctlPath}); err != nil {
		unix.Close(ctl)
		return nil, fmt.Errorf("vde: connect %s: %w", ctlPath, err)
	}
	if cfg.HandshakeTimeout > 0 {
		tv := unix.NsecToTimeval(cfg.HandshakeTimeout.Nanoseconds())
		_ = unix.SetsockoptTimeval(ctl, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
		_ = unix.SetsockoptTimeval(ctl, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
	}

	data, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		unix.Close(ctl)
		return nil, fmt.Errorf("vde: data socket: %w", err)
	}
	localPath := filepath.Join(cfg.DataDir, fmt.Sprintf("vdeplug.%d-%d", os.Getpid(), dataSocketSeq.Add(1)))
	_ = os.Remove(localPath)

	fail := func(err error) (frame.Transport, error) {
		unix.Close(data)
		unix.Close(ctl)
		_ = os.Remove(localPath)
		return nil, err
	}

	if err := unix.Bind(data, &unix.SockaddrUnix{Name: localPath}); err != nil {
		return fail(fmt.Errorf("vde: bind %s: %w", localPath, err))
	}

	description := fmt.Sprintf("%s PID=%d SOCK=%s", cfg.Description, os.Getpid(), localPath)
	if err := writeAll(ctl, encodeRequest(localPath, port, description)); err != nil {
		return fail(fmt.Errorf("vde: send request to %s: %w", ctlPath, err))
	}

	reply, err := readReply(ctl)
	if err != nil {
		return fail(fmt.Errorf("vde: read reply from %s: %w", ctlPath, err))
	}
	remotePath, err := decodeSockaddrUn(reply)
	if err != nil {
		return fail(fmt.Errorf("vde: switch %s: %w", ctlPath, err))
	}
	if err := unix.Connect(data, &unix.SockaddrUnix{Name: remotePath}); err != nil {
		return fail(fmt.Errorf("vde: connect data socket %s: %w", remotePath, err))
	}

	t, err := frame.NewFD(data, "vde://"+rest,
		frame.Datagram(),
		frame.OnClose(func() error {
			unix.Close(ctl)
			if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("vde: remove %s: %w", localPath, err)
			}
			return nil
		}),
	)
	if err != nil {
		return fail(err)
	}

	logger.Debug("switch handshake complete",
		"control", ctlPath,
		"port", port,
		"local", localPath,
		"remote", remotePath,
	)
	return t, nil
}

func writeAll(fd int, b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// readReply reads the switch's sockaddr_un answer. The switch closing the
// control stream early is an error.
func readReply(fd int) ([]byte, error) {
	b := make([]byte, sizeofSockaddrUn)
	got := 0
	for got < len(b) {
		n, err := unix.Read(fd, b[got:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return nil, errors.New("timed out waiting for switch")
		case err != nil:
			return nil, err
		case n == 0:
			if got >= 3 {
				return b[:got], nil
			}
			return nil, fmt.Errorf("switch closed the control connection")
		}
		got += n
	}
	return b, nil
}
