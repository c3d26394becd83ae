package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zoobzio/beacon/internal/config"
	"github.com/zoobzio/beacon/internal/observe"
	"github.com/zoobzio/beacon/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the beacon service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.Config)
			if err != nil {
				return err
			}
			observe.Install(observe.Glog)

			srv, err := server.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer srv.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", cfg.Addr)
			return srv.Run(cmd.Context())
		},
	}
}
