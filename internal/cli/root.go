// Package cli implements the arca-edge command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/koltyakov/arca-edge/internal/domain"
)

// usageError marks failures caused by bad input rather than by the
// operation itself. They exit with code 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// Run is the main CLI entry point. It parses args, runs the selected
// command and returns a process exit code.
func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer memguard.Purge()

	loadEdgeEnvFromDotEnv(envOr("ARCA_EDGE_ENV_FILE", ".env"))

	return execute(ctx, newRootCmd(), args, os.Stdin, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, root *cobra.Command, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) || errors.Is(err, domain.ErrConfig) {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "arca-edge",
		Short:         "Customer edge router for per-user AI workspaces",
		Long:          usageText,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{msg: err.Error()}
	})
	root.AddCommand(
		newServeCmd(),
		newCustomersCmd(),
		newRemoteCmd(),
		newKeygenCmd(),
		newVersionCmd(),
	)
	return root
}
