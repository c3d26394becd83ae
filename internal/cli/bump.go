package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zoobzio/beacon"
)

// BumpOptions holds flags for the bump command.
type BumpOptions struct {
	Server string
	Token  string
}

// NewBumpCommand creates the bump command, which asks a running server to
// bump a domain.
func NewBumpCommand(_ *RootOptions) *cobra.Command {
	opts := &BumpOptions{}

	cmd := &cobra.Command{
		Use:   "bump <domain>",
		Short: "Invalidate cached queries for a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := strings.TrimRight(opts.Server, "/") + "/api/versions/" + url.PathEscape(args[0]) + "/bump"
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, nil)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			if opts.Token != "" {
				req.Header.Set("Authorization", "Bearer "+opts.Token)
			}

			client := &http.Client{
				Timeout: 10 * time.Second,
				CheckRedirect: func(*http.Request, []*http.Request) error {
					return http.ErrUseLastResponse
				},
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("bump %s: %w", args[0], err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("bump %s: server returned %s", args[0], resp.Status)
			}
			var change beacon.VersionChange
			if err := json.NewDecoder(resp.Body).Decode(&change); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), beacon.FormatKey(change.Domain, change.Version))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Server, "server", "http://localhost:8080", "beacond base URL")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token (see beacond token)")

	return cmd
}
