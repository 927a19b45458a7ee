//go:build !linux

package plug

type canceller struct{}

func newCanceller() (*canceller, error) { return nil, ErrUnsupported }

func (c *canceller) Signal() error { return nil }
func (c *canceller) Close() error  { return nil }

func (s *Session) forward(local, remote side) error { return ErrUnsupported }
