package plug

import (
	"errors"
	"fmt"
)

var (
	// ErrPeerClosed reports that one side reached end of stream.
	// It ends a session normally.
	ErrPeerClosed = errors.New("peer closed")

	// ErrStopped reports that the session ended because Stop was called.
	ErrStopped = errors.New("stopped by request")

	// ErrUnsupported is returned by Start on platforms without a readiness wait.
	ErrUnsupported = errors.New("plug: not supported on this platform")
)

// DeviceOpenError is returned by Start when the local device could not be
// created or attached. No session is left running.
type DeviceOpenError struct {
	Device string
	Err    error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("plug: open device %s: %v", e.Device, e.Err)
}

func (e *DeviceOpenError) Unwrap() error { return e.Err }

// EndpointOpenError is returned by Start when the remote endpoint could not
// be reached after the device was opened. The device is closed before Start
// returns.
type EndpointOpenError struct {
	Endpoint string
	Err      error
}

func (e *EndpointOpenError) Error() string {
	return fmt.Sprintf("plug: open endpoint %s: %v", e.Endpoint, e.Err)
}

func (e *EndpointOpenError) Unwrap() error { return e.Err }

// TransportIOError records an unexpected read or write failure on a running
// session. The session stops and keeps the error for Err and Stop.
type TransportIOError struct {
	Side string // "local", "remote" or "session"
	Op   string
	Err  error
}

func (e *TransportIOError) Error() string {
	return fmt.Sprintf("plug: %s: %s: %v", e.Side, e.Op, e.Err)
}

func (e *TransportIOError) Unwrap() error { return e.Err }
