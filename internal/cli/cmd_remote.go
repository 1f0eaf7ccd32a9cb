package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/koltyakov/arca-edge/internal/clientsettings"
	"github.com/koltyakov/arca-edge/internal/directory"
	"github.com/koltyakov/arca-edge/internal/domain"
)

const remoteCheckTimeout = 10 * time.Second

func newRemoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Save or forget the edge that `customers --remote` manages",
	}
	cmd.AddCommand(newRemoteLoginCmd(), newRemoteLogoutCmd(), newRemoteShowCmd())
	return cmd
}

func newRemoteLoginCmd() *cobra.Command {
	var edgeURL, adminKey string
	var skipCheck bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an edge URL and admin key",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			edgeURL = strings.TrimSpace(edgeURL)
			adminKey = strings.TrimSpace(adminKey)
			if edgeURL == "" || adminKey == "" {
				return usagef("missing --url or --admin-key")
			}
			if !strings.Contains(edgeURL, "://") {
				edgeURL = "https://" + edgeURL
			}
			if !skipCheck {
				if err := checkRemote(cmd.Context(), edgeURL, adminKey); err != nil {
					return err
				}
			}
			if err := clientsettings.Save(clientsettings.Settings{EdgeURL: edgeURL, AdminKey: adminKey}); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "saved:", clientsettings.Path())
			return err
		},
	}
	cmd.Flags().StringVar(&edgeURL, "url", envOr("ARCA_EDGE_REMOTE_DIRECTORY_URL", ""), "Edge base URL, e.g. https://example.com")
	cmd.Flags().StringVar(&adminKey, "admin-key", envOr("ARCA_EDGE_REMOTE_DIRECTORY_KEY", ""), "Admin key of that edge")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Save without calling the admin API")
	return cmd
}

func newRemoteLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved edge",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := clientsettings.Clear(); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "removed:", clientsettings.Path())
			return err
		},
	}
}

func newRemoteShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the saved edge URL",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := clientsettings.Load()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "edge_url:", s.EdgeURL)
			return err
		},
	}
}

// checkRemote lists customers once so a wrong URL or key fails at login
// instead of on first use.
func checkRemote(ctx context.Context, edgeURL, adminKey string) error {
	rs, err := directory.NewRemoteStore(edgeURL, adminKey, &http.Client{Timeout: remoteCheckTimeout})
	if err != nil {
		return err
	}
	if _, err := rs.ListCustomers(ctx); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return fmt.Errorf("admin key rejected by %s: %w", edgeURL, err)
		}
		return fmt.Errorf("reach %s: %w", edgeURL, err)
	}
	return nil
}
