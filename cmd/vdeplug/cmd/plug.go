package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plexsphere/vdeplug/internal/agent"
	"github.com/plexsphere/vdeplug/internal/plug"
)

var (
	macAddress string
	mtu        int
	namespace  string
	addresses  []string
)

var plugCmd = &cobra.Command{
	Use:   "plug <device> <endpoint>",
	Short: "Connect a TAP device to a switch",
	Long: "Open the TAP device and connect it to the switch at endpoint. Frames are\n" +
		"relayed until SIGINT or SIGTERM, or until either side closes.\n\n" +
		"Endpoints:\n" +
		"  vde:///var/run/vde.ctl[3]      vde_switch control socket, optional port\n" +
		"  udp://[lport->]host:port       point-to-point UDP\n" +
		"  vxvde://239.0.0.1/vni=5        VXLAN over IPv4 multicast",
	Args: cobra.ExactArgs(2),
	RunE: runPlug,
}

func init() {
	plugCmd.Flags().StringVar(&macAddress, "mac", "", "device MAC address, or \"random\" (overrides config)")
	plugCmd.Flags().IntVar(&mtu, "mtu", 0, "device MTU (overrides config)")
	plugCmd.Flags().StringVar(&namespace, "netns", "", "network namespace path for the device (overrides config)")
	plugCmd.Flags().StringSliceVar(&addresses, "address", nil, "device address in CIDR notation, repeatable (overrides config)")
	rootCmd.AddCommand(plugCmd)
}

// loadConfig reads the config file if one was given and applies
// command-line overrides.
func loadConfig(args []string) (*agent.AgentConfig, error) {
	cfg := agent.DefaultConfig()
	if cfgFile != "" {
		var err error
		cfg, err = agent.ParseConfig(cfgFile)
		if err != nil {
			return nil, err
		}
	}

	cfg.Device = args[0]
	cfg.Endpoint = args[1]
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if macAddress != "" {
		cfg.Tap.MACAddress = macAddress
	}
	if mtu != 0 {
		cfg.Tap.MTU = mtu
	}
	if namespace != "" {
		cfg.Tap.Namespace = namespace
	}
	if len(addresses) > 0 {
		cfg.Tap.Addresses = addresses
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runPlug(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("vdeplug plug: %w", err)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting vdeplug",
		"version", buildVersion,
		"device", cfg.Device,
		"endpoint", cfg.Endpoint,
	)

	opener := plug.NewSystemOpener(cfg.Tap, cfg.VDE, logger)
	sess, err := plug.Start(cfg.Plug(), opener, logger)
	if err != nil {
		return fmt.Errorf("vdeplug plug: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return waitSession(ctx, sess, logger)
}

// stopper is the part of a session waitSession drives.
type stopper interface {
	Done() <-chan struct{}
	Stop() error
	Reason() error
}

// waitSession blocks until ctx is cancelled or the session ends on its own,
// then stops it. A transport error is returned.
func waitSession(ctx context.Context, sess stopper, logger *slog.Logger) error {
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-sess.Done():
		logger.Info("session ended", "reason", sess.Reason())
	}
	if err := sess.Stop(); err != nil {
		return fmt.Errorf("vdeplug plug: %w", err)
	}
	return nil
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
