// Package frame defines the frame channel shared by both sides of a plug:
// a pollable descriptor that carries whole Ethernet frames up to MaxSize.
package frame

import "errors"

// MaxSize is the largest frame either side will read or write: a 9216-byte
// jumbo payload plus the Ethernet header and one VLAN tag.
const MaxSize = 9216 + 14 + 4

var (
	// ErrTooLarge is returned by Write when the frame exceeds MaxSize.
	// Nothing is written.
	ErrTooLarge = errors.New("frame: frame exceeds maximum size")

	// ErrWouldBlock is returned when the descriptor is not ready.
	// The caller waits for readiness and retries.
	ErrWouldBlock = errors.New("frame: operation would block")

	// ErrNoFrame is returned by Read when a datagram was consumed but did
	// not carry a frame for this side. The caller ignores it.
	ErrNoFrame = errors.New("frame: no frame")

	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("frame: transport closed")
)

// Transport is one side of a plug.
//
// A Transport is owned by a single goroutine; Read, Write and Close are
// never called concurrently on the same Transport.
type Transport interface {
	// Name identifies the transport in logs (device name or endpoint address).
	Name() string

	// Fd returns the descriptor used for readiness waits.
	Fd() int

	// Read reads one frame into p. End of stream is reported as (0, io.EOF).
	Read(p []byte) (int, error)

	// Write writes the frame p. Frames larger than MaxSize fail with
	// ErrTooLarge. A short count with ErrWouldBlock means the remainder
	// must be written once the descriptor is writable.
	Write(p []byte) (int, error)

	// Close releases the descriptor. Closing twice returns nil.
	Close() error
}

// WriteFder is implemented by transports that send on a different
// descriptor than the one they receive on.
type WriteFder interface {
	WriteFd() int
}

// WriteFd returns the descriptor t sends on, for POLLOUT waits.
func WriteFd(t Transport) int {
	if w, ok := t.(WriteFder); ok {
		return w.WriteFd()
	}
	return t.Fd()
}
