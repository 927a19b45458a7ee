//go:build linux

package vde

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/plexsphere/vdeplug/internal/frame"
)

// dgramConn is an unconnected datagram socket that sends every frame to a
// fixed address and accepts frames from anyone.
type dgramConn struct {
	*frame.FD
	to unix.Sockaddr
}

// Write sends p as one datagram.
func (c *dgramConn) Write(p []byte) (int, error) {
	if len(p) > frame.MaxSize {
		return 0, frame.ErrTooLarge
	}
	if err := sendto(c.Fd(), p, c.to); err != nil {
		if err == frame.ErrWouldBlock {
			return 0, err
		}
		return 0, fmt.Errorf("vde: %s: send: %w", c.Name(), err)
	}
	return len(p), nil
}

func sendto(fd int, p []byte, to unix.Sockaddr) error {
	for {
		err := unix.Sendto(fd, p, 0, to)
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return frame.ErrWouldBlock
		}
		return err
	}
}
