//go:build linux

package vde

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/plexsphere/vdeplug/internal/frame"
)

// readFrame waits for tr to become readable and reads one frame, skipping
// datagrams that carry no frame.
func readFrame(t *testing.T, tr frame.Transport) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	buf := make([]byte, frame.MaxSize)
	for time.Now().Before(deadline) {
		fds := []unix.PollFd{{Fd: int32(tr.Fd()), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, 100); err != nil && err != unix.EINTR {
			t.Fatalf("poll: %v", err)
		}
		n, err := tr.Read(buf)
		if errors.Is(err, frame.ErrWouldBlock) || errors.Is(err, frame.ErrNoFrame) {
			continue
		}
		require.NoError(t, err)
		return buf[:n]
	}
	t.Fatal("timed out waiting for a frame")
	return nil
}
