//go:build !linux

package tap

import (
	"log/slog"

	"github.com/plexsphere/vdeplug/internal/frame"
)

// Open is not supported on this platform.
func Open(name string, cfg Config, logger *slog.Logger) (frame.Transport, error) {
	return nil, ErrUnsupported
}
