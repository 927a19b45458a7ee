// Package tap attaches to Linux TAP devices and exposes them as frame
// transports.
package tap

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// ifNameSize mirrors IFNAMSIZ, including the trailing NUL.
const ifNameSize = 16

// ErrUnsupported is returned by Open on platforms without TAP devices.
var ErrUnsupported = errors.New("tap: TAP devices are not supported on this platform")

// LinkController abstracts the link configuration applied after attach,
// for testability.
type LinkController interface {
	SetHardwareAddr(name string, mac net.HardwareAddr) error
	SetMTU(name string, mtu int) error
	AddAddress(name string, addr *net.IPNet) error
	SetUp(name string) error
	HardwareAddr(name string) (net.HardwareAddr, error)
}

// ValidateName checks that name is usable as an interface name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("tap: invalid interface name: empty")
	}
	if len(name) >= ifNameSize {
		return fmt.Errorf("tap: invalid interface name %q: longer than %d bytes", name, ifNameSize-1)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/: \t\n\x00") {
		return fmt.Errorf("tap: invalid interface name %q: contains prohibited character", name)
	}
	return nil
}

// RandomMAC returns a random locally administered unicast Ethernet address.
func RandomMAC() (net.HardwareAddr, error) {
	mac := make(net.HardwareAddr, 6)
	if _, err := rand.Read(mac); err != nil {
		return nil, fmt.Errorf("tap: random MAC: %w", err)
	}
	mac[0] &^= 0x01 // unicast
	mac[0] |= 0x02  // locally administered
	return mac, nil
}

// configure applies cfg to the attached link and returns its hardware address.
func configure(ctrl LinkController, name string, cfg Config, logger *slog.Logger) (net.HardwareAddr, error) {
	mac, err := cfg.hardwareAddr()
	if err != nil {
		return nil, err
	}
	if mac != nil {
		if err := ctrl.SetHardwareAddr(name, mac); err != nil {
			return nil, err
		}
	}
	if cfg.MTU > 0 {
		if err := ctrl.SetMTU(name, cfg.MTU); err != nil {
			return nil, err
		}
	}
	addrs, err := cfg.addresses()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if err := ctrl.AddAddress(name, a); err != nil {
			return nil, err
		}
	}
	if cfg.upEnabled() {
		if err := ctrl.SetUp(name); err != nil {
			return nil, err
		}
	}

	hw, err := ctrl.HardwareAddr(name)
	if err != nil {
		return nil, err
	}

	logger.Debug("tap link configured",
		"interface", name,
		"hwaddr", hw.String(),
		"mtu", cfg.MTU,
		"addresses", len(addrs),
		"up", cfg.upEnabled(),
	)
	return hw, nil
}
