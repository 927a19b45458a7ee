// Package plug bridges a local TAP device and a remote virtual switch.
//
// A Session owns both transports and one worker goroutine that relays
// frames between them until it is stopped, a peer closes, or a transport
// fails. Start returns only after both sides are open.
package plug

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/plexsphere/vdeplug/internal/frame"
)

// Session is a running plug.
type Session struct {
	device   string
	endpoint string
	logger   *slog.Logger

	cancel *canceller
	done   chan struct{}
	state  atomic.Int32

	mu     sync.Mutex
	reason error
	err    error

	stopOnce sync.Once
}

// Start opens the local device, then the remote endpoint, and begins
// relaying frames between them. It blocks until both are open or one of
// them failed. On failure no goroutine or descriptor is left behind.
func Start(cfg Config, opener Opener, logger *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With("component", "plug", "device", cfg.Device, "endpoint", cfg.Endpoint)

	cancel, err := newCanceller()
	if err != nil {
		return nil, fmt.Errorf("plug: start: %w", err)
	}

	s := &Session{
		device:   cfg.Device,
		endpoint: cfg.Endpoint,
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateStarting))

	ready := make(chan error, 1)
	go s.run(cfg, opener, ready)

	if err := <-ready; err != nil {
		<-s.done
		if cerr := cancel.Close(); cerr != nil {
			logger.Warn("failed to release cancellation", "error", cerr)
		}
		logger.Error("plug failed to start", "error", err)
		return nil, err
	}

	logger.Info("plug started")
	return s, nil
}

// run is the worker. It reports the outcome of opening both sides on ready
// exactly once, relays frames, and releases both transports before done
// is closed.
func (s *Session) run(cfg Config, opener Opener, ready chan<- error) {
	defer close(s.done)

	local, err := opener.OpenLocal(cfg.Device)
	if err != nil {
		s.state.Store(int32(StateFailed))
		ready <- &DeviceOpenError{Device: cfg.Device, Err: err}
		return
	}

	remote, err := opener.OpenRemote(cfg.Endpoint)
	if err != nil {
		s.closeTransport("local", local)
		s.state.Store(int32(StateFailed))
		ready <- &EndpointOpenError{Endpoint: cfg.Endpoint, Err: err}
		return
	}

	s.state.Store(int32(StateRunning))
	ready <- nil

	reason := s.forward(side{"local", local}, side{"remote", remote})

	s.closeTransport("remote", remote)
	s.closeTransport("local", local)
	s.finish(reason)
}

func (s *Session) closeTransport(label string, t frame.Transport) {
	if err := t.Close(); err != nil {
		s.logger.Warn("failed to close transport", "side", label, "error", err)
	}
}

// finish records why the loop ended and marks the session stopped.
func (s *Session) finish(reason error) {
	var ioErr *TransportIOError
	isIOErr := errors.As(reason, &ioErr)

	s.mu.Lock()
	s.reason = reason
	if isIOErr {
		s.err = reason
	}
	s.mu.Unlock()
	s.state.Store(int32(StateStopped))

	switch {
	case errors.Is(reason, ErrStopped):
		s.logger.Info("plug stopped")
	case errors.Is(reason, ErrPeerClosed):
		s.logger.Info("plug stopped", "reason", reason.Error())
	default:
		s.logger.Error("plug stopped on transport error", "error", reason)
	}
}

// Stop cancels the session and waits until the worker has closed both
// transports. It is safe to call more than once and from any goroutine.
// Stop returns the transport error that ended the session, if any.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		if err := s.cancel.Signal(); err != nil {
			s.logger.Error("failed to signal cancellation", "error", err)
		}
		<-s.done
		if err := s.cancel.Close(); err != nil {
			s.logger.Warn("failed to release cancellation", "error", err)
		}
	})
	return s.Err()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Err returns the transport error that ended the session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Reason returns why the session stopped: ErrStopped, an error wrapping
// ErrPeerClosed, or a *TransportIOError. It is nil while running.
func (s *Session) Reason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed once the worker has exited and both transports are closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Device returns the TAP device name the session was started with.
func (s *Session) Device() string { return s.device }

// Endpoint returns the remote address the session was started with.
func (s *Session) Endpoint() string { return s.endpoint }

// side labels a transport for errors and logs.
type side struct {
	label string
	t     frame.Transport
}
