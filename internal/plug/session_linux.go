//go:build linux

package plug

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/plexsphere/vdeplug/internal/frame"
)

// canceller wakes the worker out of a readiness wait. It is an eventfd that
// stays readable once signalled.
type canceller struct {
	fd        int
	closeOnce sync.Once
	closeErr  error
}

func newCanceller() (*canceller, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &canceller{fd: fd}, nil
}

// Signal makes the eventfd readable.
func (c *canceller) Signal() error {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	for {
		_, err := unix.Write(c.fd, b[:])
		switch err {
		case unix.EINTR:
			continue
		case nil, unix.EAGAIN:
			// EAGAIN: counter saturated, already signalled.
			return nil
		default:
			return err
		}
	}
}

func (c *canceller) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = unix.Close(c.fd)
	})
	return c.closeErr
}

// waitWritable blocks until fd accepts a write or the canceller fires.
func (c *canceller) waitWritable(fd int) (cancelled bool, err error) {
	fds := []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLOUT},
		{Fd: int32(c.fd), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return fds[1].Revents != 0, nil
	}
}

const (
	pollRemote = iota
	pollLocal
	pollCancel
)

// forward relays frames until cancellation, end of stream on either side,
// or a transport error. Each ready source yields at most one frame per
// iteration.
func (s *Session) forward(local, remote side) error {
	buf := make([]byte, frame.MaxSize)
	fds := []unix.PollFd{
		pollRemote: {Fd: int32(remote.t.Fd()), Events: unix.POLLIN},
		pollLocal:  {Fd: int32(local.t.Fd()), Events: unix.POLLIN},
		pollCancel: {Fd: int32(s.cancel.fd), Events: unix.POLLIN},
	}

	for {
		for i := range fds {
			fds[i].Revents = 0
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return &TransportIOError{Side: "session", Op: "poll", Err: err}
		}

		if fds[pollCancel].Revents != 0 {
			return ErrStopped
		}
		// POLLHUP and POLLERR are handled by the read that follows.
		if fds[pollRemote].Revents != 0 {
			if err := s.relay(remote, local, buf); err != nil {
				return err
			}
		}
		if fds[pollLocal].Revents != 0 {
			if err := s.relay(local, remote, buf); err != nil {
				return err
			}
		}
	}
}

// relay moves one frame from src to dst.
func (s *Session) relay(src, dst side, buf []byte) error {
	n, err := src.t.Read(buf)
	switch {
	case errors.Is(err, io.EOF):
		return fmt.Errorf("plug: %s: %w", src.label, ErrPeerClosed)
	case errors.Is(err, frame.ErrWouldBlock), errors.Is(err, frame.ErrNoFrame):
		return nil
	case err != nil:
		return &TransportIOError{Side: src.label, Op: "read", Err: err}
	}
	return s.send(dst, buf[:n])
}

// send writes all of p to dst, waiting for dst to drain when it would block.
func (s *Session) send(dst side, p []byte) error {
	for len(p) > 0 {
		n, err := dst.t.Write(p)
		p = p[n:]
		switch {
		case err == nil:
			if n == 0 {
				return &TransportIOError{Side: dst.label, Op: "write", Err: io.ErrShortWrite}
			}
		case errors.Is(err, frame.ErrWouldBlock):
			cancelled, werr := s.cancel.waitWritable(frame.WriteFd(dst.t))
			if werr != nil {
				return &TransportIOError{Side: dst.label, Op: "poll", Err: werr}
			}
			if cancelled {
				return ErrStopped
			}
		default:
			return &TransportIOError{Side: dst.label, Op: "write", Err: err}
		}
	}
	return nil
}
