package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexsphere/vdeplug/internal/vde"
)

var schemesCmd = &cobra.Command{
	Use:   "schemes",
	Short: "List the supported endpoint schemes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, s := range vde.Schemes() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s://\n", s)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemesCmd)
}
