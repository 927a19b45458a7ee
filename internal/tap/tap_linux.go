//go:build linux

package tap

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	"github.com/plexsphere/vdeplug/internal/frame"
)

const tunPath = "/dev/net/tun"

// Device is an attached TAP device. Closing it detaches the descriptor;
// a non-persistent device disappears with it.
type Device struct {
	*frame.FD
	hwaddr net.HardwareAddr
}

// HardwareAddr returns the device's Ethernet address as read after attach.
func (d *Device) HardwareAddr() net.HardwareAddr { return d.hwaddr }

// Open creates or attaches to the TAP device name and configures its link.
// On error nothing is left attached.
func Open(name string, cfg Config, logger *slog.Logger) (*Device, error) {
	return open(name, cfg, nil, logger)
}

func open(name string, cfg Config, ctrl LinkController, logger *slog.Logger) (*Device, error) {
	logger = logger.With("component", "tap")

	if err := ValidateName(name); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ns := netns.None()
	if cfg.Namespace != "" {
		var err error
		ns, err = netns.GetFromPath(cfg.Namespace)
		if err != nil {
			return nil, fmt.Errorf("tap: namespace %s: %w", cfg.Namespace, err)
		}
		defer ns.Close()
	}

	fd, err := attach(name, ns)
	if err != nil {
		return nil, err
	}

	if ctrl == nil {
		nc, err := NewNetlinkController(ns, logger)
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
		defer nc.Close()
		ctrl = nc
	}

	hw, err := configure(ctrl, name, cfg, logger)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	f, err := frame.NewFD(fd, name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tap: %s: %w", name, err)
	}

	logger.Info("tap device attached",
		"interface", name,
		"hwaddr", hw.String(),
		"namespace", cfg.Namespace,
	)
	return &Device{FD: f, hwaddr: hw}, nil
}

// attach opens the TAP device inside ns, or in the current namespace when
// ns is not open. The descriptor stays bound to the namespace it was
// created in.
func attach(name string, ns netns.NsHandle) (int, error) {
	if !ns.IsOpen() {
		return openTun(name)
	}

	runtime.LockOSThread()
	orig, err := netns.Get()
	if err != nil {
		runtime.UnlockOSThread()
		return -1, fmt.Errorf("tap: get current namespace: %w", err)
	}
	defer orig.Close()

	if err := netns.Set(ns); err != nil {
		runtime.UnlockOSThread()
		return -1, fmt.Errorf("tap: enter namespace: %w", err)
	}

	fd, openErr := openTun(name)

	if err := netns.Set(orig); err != nil {
		// The thread stays locked so the runtime retires it with the goroutine.
		if openErr == nil {
			unix.Close(fd)
		}
		return -1, fmt.Errorf("tap: restore namespace: %w", err)
	}
	runtime.UnlockOSThread()
	return fd, openErr
}

func openTun(name string) (int, error) {
	fd, err := unix.Open(tunPath, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("tap: open %s: %w", tunPath, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("tap: attach %s: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("tap: attach %s: %w", name, err)
	}
	return fd, nil
}

// NetlinkController implements LinkController using Linux netlink.
type NetlinkController struct {
	handle *netlink.Handle
	logger *slog.Logger
}

// NewNetlinkController returns a NetlinkController operating in ns, or in
// the current namespace when ns is not open.
func NewNetlinkController(ns netns.NsHandle, logger *slog.Logger) (*NetlinkController, error) {
	var (
		h   *netlink.Handle
		err error
	)
	if ns.IsOpen() {
		h, err = netlink.NewHandleAt(ns)
	} else {
		h, err = netlink.NewHandle()
	}
	if err != nil {
		return nil, fmt.Errorf("tap: netlink handle: %w", err)
	}
	return &NetlinkController{handle: h, logger: logger}, nil
}

// Close releases the netlink handle.
func (c *NetlinkController) Close() {
	c.handle.Close()
}

// SetHardwareAddr sets the Ethernet address of the named link.
func (c *NetlinkController) SetHardwareAddr(name string, mac net.HardwareAddr) error {
	link, err := c.handle.LinkByName(name)
	if err != nil {
		return fmt.Errorf("tap: set hardware address: %w", err)
	}
	if err := c.handle.LinkSetHardwareAddr(link, mac); err != nil {
		return fmt.Errorf("tap: set hardware address: %w", err)
	}
	c.logger.Debug("hardware address set",
		"interface", name,
		"hwaddr", mac.String(),
	)
	return nil
}

// SetMTU sets the MTU of the named link.
func (c *NetlinkController) SetMTU(name string, mtu int) error {
	link, err := c.handle.LinkByName(name)
	if err != nil {
		return fmt.Errorf("tap: set mtu: %w", err)
	}
	if err := c.handle.LinkSetMTU(link, mtu); err != nil {
		return fmt.Errorf("tap: set mtu: %w", err)
	}
	c.logger.Debug("mtu configured",
		"interface", name,
		"mtu", mtu,
	)
	return nil
}

// AddAddress assigns addr to the named link. An address that is already
// present is not an error.
func (c *NetlinkController) AddAddress(name string, addr *net.IPNet) error {
	link, err := c.handle.LinkByName(name)
	if err != nil {
		return fmt.Errorf("tap: add address: %w", err)
	}
	if err := c.handle.AddrAdd(link, &netlink.Addr{IPNet: addr}); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil
		}
		return fmt.Errorf("tap: add address %s: %w", addr, err)
	}
	c.logger.Debug("address assigned",
		"interface", name,
		"address", addr.String(),
	)
	return nil
}

// SetUp brings the named link up.
func (c *NetlinkController) SetUp(name string) error {
	link, err := c.handle.LinkByName(name)
	if err != nil {
		return fmt.Errorf("tap: set link up: %w", err)
	}
	if err := c.handle.LinkSetUp(link); err != nil {
		return fmt.Errorf("tap: set link up: %w", err)
	}
	c.logger.Debug("link brought up", "interface", name)
	return nil
}

// HardwareAddr returns the Ethernet address of the named link.
func (c *NetlinkController) HardwareAddr(name string) (net.HardwareAddr, error) {
	link, err := c.handle.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil, fmt.Errorf("tap: link %s not found: %w", name, err)
		}
		return nil, fmt.Errorf("tap: hardware address: %w", err)
	}
	return link.Attrs().HardwareAddr, nil
}
