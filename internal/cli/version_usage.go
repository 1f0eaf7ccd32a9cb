package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koltyakov/arca-edge/internal/versionutil"
)

const usageText = `arca-edge - customer edge router

Routes <username>.<domain> to the customer's assistant backend, gates it
behind a signed session, and passes everything else to the storefront.

Quick Start:
  1. arca-edge keygen >> .env                              # session secret + admin key
  2. arca-edge serve --domain example.com                  # start the edge
  3. arca-edge customers add alice --backend http://10.0.0.7:3000
  4. arca-edge customers set-password alice                # password for alice.example.com

Environment Variables:
  ARCA_EDGE_DOMAIN            Public base domain (e.g. example.com)
  ARCA_EDGE_SESSION_SECRET    HMAC secret for session tokens (>= 32 bytes)
  ARCA_EDGE_ADMIN_KEY         Bearer key for the /v1/customers admin API
  ARCA_EDGE_AUTH_MODE         gated|open (default: gated)
  ARCA_EDGE_DIRECTORY_BACKEND sqlite|bbolt|file|remote (default: sqlite)
  ARCA_EDGE_DB_PATH           SQLite database path (default: ./arca-edge.db)
  ARCA_EDGE_TLS_MODE          off|auto|static (default: off)
  ARCA_EDGE_WAF               off|audit|block request filter (default: block)
  ARCA_EDGE_LOG_LEVEL         debug|info|warn|error (default: info)
  ARCA_EDGE_ENV_FILE          .env file to load (default: ./.env)`

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "arca-edge", versionutil.Current())
			return err
		},
	}
}
