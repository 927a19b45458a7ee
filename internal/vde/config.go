package vde

import (
	"fmt"
	"os"
	"time"
)

const (
	// DefaultDescription is the application identifier sent to the switch.
	DefaultDescription = "vdeplug"

	DefaultHandshakeTimeout = 5 * time.Second
	DefaultMulticastTTL     = 1

	// maxDescription is the description field size in the switch request,
	// including the terminating NUL.
	maxDescription = 128
)

// Config holds the remote endpoint configuration.
// Config is passed as a constructor argument; no file I/O in this package.
type Config struct {
	// Description tags the connection on the switch side.
	// Default: "vdeplug"
	Description string

	// DataDir is where the local datagram socket of a vde:// connection is bound.
	// Default: os.TempDir()
	DataDir string

	// HandshakeTimeout bounds the vde:// control exchange.
	// Default: 5s
	HandshakeTimeout time.Duration

	// MulticastTTL is the TTL of vxvde:// datagrams unless the address overrides it.
	// 0 keeps datagrams on this host.
	// nil means use default (1).
	MulticastTTL *int

	// MulticastLoop delivers vxvde:// datagrams to other plugs on the same host.
	// nil means use default (true).
	MulticastLoop *bool
}

// BoolPtr returns a pointer to the given bool value.
func BoolPtr(v bool) *bool { return &v }

// IntPtr returns a pointer to the given int value.
func IntPtr(v int) *int { return &v }

func (c *Config) multicastTTL() int {
	if c.MulticastTTL == nil {
		return DefaultMulticastTTL
	}
	return *c.MulticastTTL
}

func (c *Config) multicastLoop() bool {
	if c.MulticastLoop == nil {
		return true
	}
	return *c.MulticastLoop
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Description == "" {
		c.Description = DefaultDescription
	}
	if c.DataDir == "" {
		c.DataDir = os.TempDir()
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if len(c.Description) >= maxDescription {
		return fmt.Errorf("vde: config: Description must be shorter than %d bytes", maxDescription)
	}
	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("vde: config: HandshakeTimeout must not be negative, got %s", c.HandshakeTimeout)
	}
	if ttl := c.multicastTTL(); ttl < 0 || ttl > 255 {
		return fmt.Errorf("vde: config: MulticastTTL must be between 0 and 255, got %d", ttl)
	}
	return nil
}
