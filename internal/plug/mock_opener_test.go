//go:build linux

package plug

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/plexsphere/vdeplug/internal/frame"
)

// mockCall records a single method invocation on mockOpener.
type mockCall struct {
	Method string
	Args   []interface{}
}

// mockOpener is a test double for Opener. Each side is one end of a
// SOCK_SEQPACKET socketpair; the test drives the other end.
type mockOpener struct {
	t  *testing.T
	mu sync.Mutex

	calls []mockCall

	openLocalErr  error
	openRemoteErr error

	// wrapLocal and wrapRemote replace the opened transport when set.
	wrapLocal  func(frame.Transport) frame.Transport
	wrapRemote func(frame.Transport) frame.Transport

	local, remote         *trackingTransport
	localPeer, remotePeer int
}

func newMockOpener(t *testing.T) *mockOpener {
	return &mockOpener{t: t, localPeer: -1, remotePeer: -1}
}

func (m *mockOpener) OpenLocal(name string) (frame.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{Method: "OpenLocal", Args: []interface{}{name}})
	if m.openLocalErr != nil {
		return nil, m.openLocalErr
	}
	tr, peer, err := m.pair("local")
	if err != nil {
		return nil, err
	}
	m.local, m.localPeer = tr, peer
	if m.wrapLocal != nil {
		return m.wrapLocal(tr), nil
	}
	return tr, nil
}

func (m *mockOpener) OpenRemote(address string) (frame.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{Method: "OpenRemote", Args: []interface{}{address}})
	if m.openRemoteErr != nil {
		return nil, m.openRemoteErr
	}
	tr, peer, err := m.pair("remote")
	if err != nil {
		return nil, err
	}
	m.remote, m.remotePeer = tr, peer
	if m.wrapRemote != nil {
		return m.wrapRemote(tr), nil
	}
	return tr, nil
}

func (m *mockOpener) pair(name string) (*trackingTransport, int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, -1, err
	}
	f, err := frame.NewFD(fds[0], name)
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, -1, err
	}
	peer := fds[1]
	m.t.Cleanup(func() {
		f.Close()
		unix.Close(peer)
	})
	return &trackingTransport{Transport: f}, peer, nil
}

func (m *mockOpener) methods() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		out = append(out, c.Method)
	}
	return out
}

// trackingTransport counts Close calls.
type trackingTransport struct {
	frame.Transport
	closes atomic.Int32
}

func (tt *trackingTransport) Close() error {
	tt.closes.Add(1)
	return tt.Transport.Close()
}

func (tt *trackingTransport) closed() bool { return tt.closes.Load() > 0 }

// failingTransport fails every read with readErr and every write with writeErr.
type failingTransport struct {
	frame.Transport
	readErr  error
	writeErr error
}

func (f *failingTransport) Read(p []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.Transport.Read(p)
}

func (f *failingTransport) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.Transport.Write(p)
}

// stalledTransport never accepts a write. Its Fd is polled for POLLOUT on a
// pipe read end, which never becomes writable.
type stalledTransport struct {
	frame.Transport
	pipe [2]int
}

func newStalledTransport(t *testing.T, inner frame.Transport) *stalledTransport {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return &stalledTransport{Transport: inner, pipe: p}
}

func (s *stalledTransport) Fd() int { return s.pipe[0] }

func (s *stalledTransport) Write(p []byte) (int, error) { return 0, frame.ErrWouldBlock }

// splitTransport receives on the embedded socket, which is always
// writable, and sends on a pipe read end, which never is. Every Write
// would block.
type splitTransport struct {
	frame.Transport
	pipe   [2]int
	writes atomic.Int64
}

func newSplitTransport(t *testing.T, inner frame.Transport) *splitTransport {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return &splitTransport{Transport: inner, pipe: p}
}

func (s *splitTransport) WriteFd() int { return s.pipe[0] }

func (s *splitTransport) Write(p []byte) (int, error) {
	s.writes.Add(1)
	return 0, frame.ErrWouldBlock
}

// chunkedTransport accepts at most chunk bytes per Write and records them.
type chunkedTransport struct {
	frame.Transport
	chunk int

	mu    sync.Mutex
	got   []byte
	calls int
}

func (c *chunkedTransport) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	n := min(len(p), c.chunk)
	c.got = append(c.got, p[:n]...)
	return n, nil
}

func (c *chunkedTransport) written() ([]byte, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.got...), c.calls
}

// writePeer sends one frame from the test side of a socketpair.
func writePeer(t *testing.T, fd int, b []byte) {
	t.Helper()
	if _, err := unix.Write(fd, b); err != nil {
		t.Fatalf("write peer: %v", err)
	}
}

// readPeer waits up to timeout for one frame on the test side of a socketpair.
func readPeer(t *testing.T, fd int, timeout time.Duration) []byte {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(timeout.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			t.Fatalf("poll peer: %v", err)
		}
		if n == 0 {
			t.Fatalf("no frame within %s", timeout)
		}
		break
	}
	buf := make([]byte, frame.MaxSize+1)
	n, err := unix.Read(fd, buf)
	if err != nil {
		t.Fatalf("read peer: %v", err)
	}
	return buf[:n]
}

// waitDone waits for the session worker to exit.
func waitDone(t *testing.T, s *Session, timeout time.Duration) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(timeout):
		t.Fatalf("session did not stop within %s (state %s)", timeout, s.State())
	}
}

var errDeviceRemoved = errors.New("device removed")

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}
