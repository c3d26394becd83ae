package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zoobzio/beacon/internal/config"
	"github.com/zoobzio/beacon/pkg/guard"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	User  string
	Email string
	TTL   time.Duration
}

// NewTokenCommand creates the token command, which signs a bearer token with
// the configured secret.
func NewTokenCommand(root *RootOptions) *cobra.Command {
	opts := &TokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.Config)
			if err != nil {
				return err
			}
			var jwtOpts []guard.JWTOption
			if cfg.Auth.Issuer != "" {
				jwtOpts = append(jwtOpts, guard.WithIssuer(cfg.Auth.Issuer))
			}
			p := guard.NewJWTProvider([]byte(cfg.Auth.Secret), jwtOpts...)

			token, err := p.Issue(guard.User{ID: opts.User, Email: opts.Email}, opts.TTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (sub claim)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "user email")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
