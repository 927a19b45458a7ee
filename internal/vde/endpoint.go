// Package vde connects to virtual Ethernet switches and exposes the
// connection as a frame transport.
//
// An endpoint address has the form scheme://rest. A bare path is a
// vde_switch control socket. The supported schemes are
//
//	vde://<path>[[port]]                 vde_switch control socket or directory
//	udp://[lport->]host:port             point-to-point UDP
//	vxvde://[group][/port=N][/vni=N][/ttl=N]  VXLAN-framed IPv4 multicast
package vde

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/plexsphere/vdeplug/internal/frame"
)

// DefaultSwitch is the control socket used by "vde://" with an empty path.
const DefaultSwitch = "/var/run/vde.ctl"

// ErrUnknownScheme is returned by Open for addresses with an unregistered scheme.
var ErrUnknownScheme = errors.New("vde: unknown endpoint scheme")

// Dialer opens the endpoint described by rest, the address without its scheme.
type Dialer func(rest string, cfg Config, logger *slog.Logger) (frame.Transport, error)

var (
	dialersMu sync.RWMutex
	dialers   = make(map[string]Dialer)
)

// Register makes a dialer available for scheme. Registering a scheme twice
// replaces the previous dialer.
func Register(scheme string, d Dialer) {
	dialersMu.Lock()
	defer dialersMu.Unlock()
	dialers[scheme] = d
}

// Schemes returns the registered schemes in sorted order.
func Schemes() []string {
	dialersMu.RLock()
	defer dialersMu.RUnlock()
	schemes := make([]string, 0, len(dialers))
	for s := range dialers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// SplitAddress returns the scheme and remainder of address.
// Addresses without "://" use the vde scheme.
func SplitAddress(address string) (scheme, rest string) {
	i := strings.Index(address, "://")
	if i < 0 {
		return "vde", address
	}
	return strings.ToLower(address[:i]), address[i+len("://"):]
}

// Open connects to the endpoint at address. The connection is tagged with
// cfg.Description.
func Open(address string, cfg Config, logger *slog.Logger) (frame.Transport, error) {
	logger = logger.With("component", "vde")

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	scheme, rest := SplitAddress(address)
	dialersMu.RLock()
	dial, ok := dialers[scheme]
	dialersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}

	t, err := dial(rest, cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("endpoint connected",
		"endpoint", address,
		"scheme", scheme,
		"description", cfg.Description,
	)
	return t, nil
}

// parseOptions splits "a=1/b=2" style option lists.
func parseOptions(s string) (map[string]string, error) {
	opts := make(map[string]string)
	for _, kv := range strings.Split(s, "/") {
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("vde: malformed option %q", kv)
		}
		opts[strings.ToLower(k)] = v
	}
	return opts, nil
}
