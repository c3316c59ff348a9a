package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the provisioning operator CLI. Subcommands are attached in wire.go.
var rootCmd = &cobra.Command{
	Use:           "palmyra-provisioning",
	Short:         "Palmyra provisioning CLI",
	Long:          "Operator utilities for the provisioning pipeline (platform migrations, queue inspection, feature catalog, dev tokens).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
