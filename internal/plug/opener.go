package plug

import (
	"log/slog"

	"github.com/plexsphere/vdeplug/internal/frame"
	"github.com/plexsphere/vdeplug/internal/tap"
	"github.com/plexsphere/vdeplug/internal/vde"
)

// Opener opens the two sides of a plug.
type Opener interface {
	OpenLocal(name string) (frame.Transport, error)
	OpenRemote(address string) (frame.Transport, error)
}

// SystemOpener opens TAP devices and VDE endpoints.
type SystemOpener struct {
	tap    tap.Config
	vde    vde.Config
	logger *slog.Logger
}

// NewSystemOpener returns an Opener backed by the tap and vde packages.
func NewSystemOpener(tapCfg tap.Config, vdeCfg vde.Config, logger *slog.Logger) *SystemOpener {
	return &SystemOpener{tap: tapCfg, vde: vdeCfg, logger: logger}
}

// OpenLocal attaches to the TAP device name.
func (o *SystemOpener) OpenLocal(name string) (frame.Transport, error) {
	dev, err := tap.Open(name, o.tap, o.logger)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// OpenRemote connects to the switch at address.
func (o *SystemOpener) OpenRemote(address string) (frame.Transport, error) {
	return vde.Open(address, o.vde, o.logger)
}
