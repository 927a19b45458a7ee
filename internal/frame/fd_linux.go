//go:build linux

package frame

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// FD is a Transport over a raw descriptor. The descriptor is switched to
// non-blocking mode; readiness is the caller's business.
type FD struct {
	name     string
	fd       int
	datagram bool
	onClose  func() error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Option configures an FD.
type Option func(*FD)

// Datagram marks the descriptor as message oriented: a zero-length read is
// an empty datagram (ErrNoFrame), not end of stream.
func Datagram() Option {
	return func(f *FD) { f.datagram = true }
}

// OnClose registers cleanup that runs after the descriptor is closed.
func OnClose(fn func() error) Option {
	return func(f *FD) { f.onClose = fn }
}

// NewFD wraps fd. On error the descriptor is still owned by the caller.
func NewFD(fd int, name string, opts ...Option) (*FD, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("frame: %s: set nonblock: %w", name, err)
	}
	f := &FD{name: name, fd: fd}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Name returns the transport name.
func (f *FD) Name() string { return f.name }

// Fd returns the underlying descriptor.
func (f *FD) Fd() int { return f.fd }

// Read reads one frame. Buffers longer than MaxSize are truncated to it.
// A datagram that does not fit is dropped with ErrNoFrame.
func (f *FD) Read(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, ErrClosed
	}
	if len(p) > MaxSize {
		p = p[:MaxSize]
	}
	for {
		n, err := f.read(p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, fmt.Errorf("frame: %s: read: %w", f.name, err)
		case n == 0:
			if f.datagram {
				return 0, ErrNoFrame
			}
			return 0, io.EOF
		case n > len(p):
			// Datagram longer than p; the tail was discarded.
			return 0, ErrNoFrame
		}
		return n, nil
	}
}

// read returns the full length of a datagram even when it did not fit in p.
func (f *FD) read(p []byte) (int, error) {
	if !f.datagram {
		return unix.Read(f.fd, p)
	}
	n, _, err := unix.Recvfrom(f.fd, p, unix.MSG_TRUNC)
	return n, err
}

// Write writes p, continuing after short writes until the whole frame is
// out or the descriptor would block.
func (f *FD) Write(p []byte) (int, error) {
	if len(p) > MaxSize {
		return 0, ErrTooLarge
	}
	if f.closed.Load() {
		return 0, ErrClosed
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(f.fd, p[written:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return written, ErrWouldBlock
		case err != nil:
			return written, fmt.Errorf("frame: %s: write: %w", f.name, err)
		case n == 0:
			return written, fmt.Errorf("frame: %s: write: %w", f.name, io.ErrShortWrite)
		}
		written += n
	}
	return written, nil
}

// Close closes the descriptor and runs the OnClose hook. Idempotent.
func (f *FD) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		var errs []error
		if err := unix.Close(f.fd); err != nil {
			errs = append(errs, fmt.Errorf("frame: %s: close: %w", f.name, err))
		}
		if f.onClose != nil {
			if err := f.onClose(); err != nil {
				errs = append(errs, err)
			}
		}
		f.closeErr = errors.Join(errs...)
	})
	return f.closeErr
}
