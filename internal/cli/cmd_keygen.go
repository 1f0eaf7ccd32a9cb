package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koltyakov/arca-edge/internal/auth"
)

// newKeygenCmd prints fresh secrets as .env assignments, ready for
// `arca-edge keygen >> .env`.
func newKeygenCmd() *cobra.Command {
	var bytes int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a random session secret and admin key",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bytes < 32 {
				return usagef("--bytes must be at least 32")
			}
			secret, err := auth.GenerateSecret(bytes)
			if err != nil {
				return err
			}
			adminKey, err := auth.GenerateSecret(bytes)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, envPrefix+"SESSION_SECRET="+secret)
			_, err = fmt.Fprintln(out, envPrefix+"ADMIN_KEY="+adminKey)
			return err
		},
	}
	cmd.Flags().IntVar(&bytes, "bytes", 32, "Random bytes per secret")
	return cmd
}
