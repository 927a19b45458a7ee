package tap

import (
	"fmt"
	"net"
	"path/filepath"
)

// RandomMACAddress is the MACAddress value that requests a generated address.
const RandomMACAddress = "random"

const (
	minMTU = 68
	maxMTU = 65535
)

// Config holds the TAP device configuration.
// Config is passed as a constructor argument; no file I/O in this package.
type Config struct {
	// Namespace is the path of a network namespace file (for example a
	// container sandbox key) in which the device is created.
	// Default: "" (the caller's namespace)
	Namespace string

	// MACAddress is assigned to the device after it is attached.
	// "random" generates a locally administered unicast address.
	// Default: "" (kernel assigned)
	MACAddress string

	// MTU is set on the device when non-zero.
	MTU int

	// Addresses are assigned to the device in CIDR notation, for example
	// "10.0.0.2/24" or "fd00::2/64".
	Addresses []string

	// Up controls whether the link is brought up after attach.
	// nil means use default (true); explicit false leaves it down.
	Up *bool
}

// BoolPtr returns a pointer to the given bool value.
func BoolPtr(v bool) *bool { return &v }

func (c *Config) upEnabled() bool {
	if c.Up == nil {
		return true
	}
	return *c.Up
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	// Up is handled via upEnabled(); nil means default true.
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if c.Namespace != "" && !filepath.IsAbs(c.Namespace) {
		return fmt.Errorf("tap: config: Namespace must be an absolute path, got %q", c.Namespace)
	}
	if c.MACAddress != "" && c.MACAddress != RandomMACAddress {
		mac, err := net.ParseMAC(c.MACAddress)
		if err != nil {
			return fmt.Errorf("tap: config: invalid MACAddress %q: %w", c.MACAddress, err)
		}
		if len(mac) != 6 {
			return fmt.Errorf("tap: config: MACAddress %q is not an Ethernet address", c.MACAddress)
		}
		if mac[0]&0x01 != 0 {
			return fmt.Errorf("tap: config: MACAddress %q is a multicast address", c.MACAddress)
		}
	}
	if c.MTU != 0 && (c.MTU < minMTU || c.MTU > maxMTU) {
		return fmt.Errorf("tap: config: MTU must be between %d and %d, got %d", minMTU, maxMTU, c.MTU)
	}
	for _, a := range c.Addresses {
		if _, _, err := net.ParseCIDR(a); err != nil {
			return fmt.Errorf("tap: config: invalid address %q: %w", a, err)
		}
	}
	return nil
}

// addresses parses Addresses, keeping the host part of each.
func (c *Config) addresses() ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(c.Addresses))
	for _, a := range c.Addresses {
		ip, ipnet, err := net.ParseCIDR(a)
		if err != nil {
			return nil, fmt.Errorf("tap: parse address %q: %w", a, err)
		}
		ipnet.IP = ip
		out = append(out, ipnet)
	}
	return out, nil
}

// hardwareAddr resolves MACAddress. It returns nil when no address is configured.
func (c *Config) hardwareAddr() (net.HardwareAddr, error) {
	switch c.MACAddress {
	case "":
		return nil, nil
	case RandomMACAddress:
		return RandomMAC()
	default:
		mac, err := net.ParseMAC(c.MACAddress)
		if err != nil {
			return nil, fmt.Errorf("tap: parse MAC %q: %w", c.MACAddress, err)
		}
		return mac, nil
	}
}
