// Package cli implements the beacond command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config string
}

// NewRootCommand creates the root command for beacond.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "beacond",
		Short:         "beacond - selection and cache version service",
		Long:          "Serves the shared selection and per-domain cache versions over HTTP and websockets.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to beacon.yaml")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewBumpCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
