// Package cmd implements the vdeplug CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

// Build info set from main.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersionInfo sets the version info from build-time ldflags.
func SetVersionInfo(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(versionTemplate())
}

func versionTemplate() string {
	return fmt.Sprintf("vdeplug version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate)
}

var rootCmd = &cobra.Command{
	Use:   "vdeplug",
	Short: "vdeplug connects a TAP device to a virtual Ethernet switch",
	Long: "vdeplug creates or attaches to a TAP network device and relays Ethernet\n" +
		"frames between it and a VDE switch, a UDP peer or a VXLAN multicast group\n" +
		"until it is interrupted or either side goes away.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(versionTemplate())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
