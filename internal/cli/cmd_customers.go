package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/koltyakov/arca-edge/internal/auth"
	"github.com/koltyakov/arca-edge/internal/clientsettings"
	"github.com/koltyakov/arca-edge/internal/config"
	"github.com/koltyakov/arca-edge/internal/directory"
	"github.com/koltyakov/arca-edge/internal/domain"
)

const customerPasswordEnv = "ARCA_EDGE_CUSTOMER_PASSWORD"

// customerOptions selects which directory the customers commands manage.
type customerOptions struct {
	cfg       config.ServerConfig
	useRemote bool
	jsonOut   bool
}

// customerSession is an opened directory plus the credential that unlocks
// it. Local stores get a throwaway admin key; a remote edge checks its own.
type customerSession struct {
	dir    *directory.Directory
	key    string
	remote *directory.RemoteStore
	close  func() error
}

func newCustomersCmd() *cobra.Command {
	opts := &customerOptions{cfg: config.FromEnv()}
	cmd := &cobra.Command{
		Use:     "customers",
		Aliases: []string{"customer"},
		Short:   "Manage customer mappings and passwords",
	}
	fs := cmd.PersistentFlags()
	fs.StringVar(&opts.cfg.DirectoryBackend, "directory-backend", opts.cfg.DirectoryBackend, "Directory backend: sqlite|bbolt|file|remote")
	fs.StringVar(&opts.cfg.DBPath, "db", opts.cfg.DBPath, "SQLite database path")
	fs.StringVar(&opts.cfg.BoltPath, "bolt", opts.cfg.BoltPath, "bbolt database path")
	fs.StringVar(&opts.cfg.DirectoryFile, "directory-file", opts.cfg.DirectoryFile, "JSON directory file path")
	fs.StringVar(&opts.cfg.RemoteDirectoryURL, "remote-directory-url", opts.cfg.RemoteDirectoryURL, "Base URL of a running edge")
	fs.StringVar(&opts.cfg.RemoteDirectoryKey, "remote-directory-key", opts.cfg.RemoteDirectoryKey, "Admin key of the running edge")
	fs.BoolVar(&opts.useRemote, "remote", false, "Manage the edge saved by `arca-edge remote login`")
	fs.BoolVar(&opts.jsonOut, "json", false, "Print JSON")

	cmd.AddCommand(
		newCustomersAddCmd(opts),
		newCustomersGetCmd(opts),
		newCustomersListCmd(opts),
		newCustomersRemoveCmd(opts),
		newCustomersSetPasswordCmd(opts),
	)
	return cmd
}

func newCustomersAddCmd(opts *customerOptions) *cobra.Command {
	var backendURL, displayName string
	var ifVersion int64
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create or update a customer mapping",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(backendURL) == "" {
				return usagef("missing --backend")
			}
			return opts.with(cmd.Context(), func(s *customerSession) error {
				m, err := s.dir.Upsert(cmd.Context(), s.key, domain.CustomerMapping{
					Username:    args[0],
					BackendURL:  backendURL,
					DisplayName: displayName,
				}, ifVersion)
				if err != nil {
					return err
				}
				return opts.printMapping(cmd.OutOrStdout(), m)
			})
		},
	}
	cmd.Flags().StringVar(&backendURL, "backend", "", "Backend base URL, e.g. http://10.0.0.7:3000")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Optional display name")
	cmd.Flags().Int64Var(&ifVersion, "if-version", 0, "Only update when the stored version matches")
	return cmd
}

func newCustomersGetCmd(opts *customerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <username>",
		Short: "Show one customer mapping",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.with(cmd.Context(), func(s *customerSession) error {
				m, err := s.dir.Get(cmd.Context(), s.key, args[0])
				if err != nil {
					return err
				}
				return opts.printMapping(cmd.OutOrStdout(), m)
			})
		},
	}
}

func newCustomersListCmd(opts *customerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List customer mappings",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.with(cmd.Context(), func(s *customerSession) error {
				list, err := s.dir.List(cmd.Context(), s.key)
				if err != nil {
					return err
				}
				sort.Slice(list, func(i, j int) bool { return list[i].Username < list[j].Username })
				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return writeJSON(out, domain.CustomerListResponse{Customers: list})
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "USERNAME\tBACKEND\tDISPLAY NAME\tVERSION\tUPDATED")
				for _, m := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", m.Username, m.BackendURL, m.DisplayName, m.Version, m.UpdatedAt.UTC().Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func newCustomersRemoveCmd(opts *customerOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <username>",
		Aliases: []string{"rm"},
		Short:   "Remove a customer mapping and its password",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.with(cmd.Context(), func(s *customerSession) error {
				if err := s.dir.Remove(cmd.Context(), s.key, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "removed:", domain.NormalizeUsername(args[0]))
				return err
			})
		},
	}
}

func newCustomersSetPasswordCmd(opts *customerOptions) *cobra.Command {
	var password string
	var replace bool
	cmd := &cobra.Command{
		Use:   "set-password <username>",
		Short: "Set the password a customer signs in with",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := resolvePassword(cmd.ErrOrStderr(), cmd.InOrStdin(), password, customerPasswordEnv, cmd.InOrStdin() == os.Stdin && isInteractiveInput())
			if err != nil {
				return err
			}
			return opts.with(cmd.Context(), func(s *customerSession) error {
				var setErr error
				if s.remote != nil {
					setErr = s.remote.SetPassword(cmd.Context(), args[0], pw, replace)
				} else {
					setErr = s.dir.SetPassword(cmd.Context(), s.key, args[0], pw, replace)
				}
				if setErr != nil {
					return setErr
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "password set:", domain.NormalizeUsername(args[0]))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted; also "+customerPasswordEnv+")")
	cmd.Flags().BoolVar(&replace, "replace", false, "Overwrite an existing password")
	return cmd
}

// with opens the selected directory, runs fn and closes it again.
func (o *customerOptions) with(ctx context.Context, fn func(*customerSession) error) error {
	s, err := o.open()
	if err != nil {
		return err
	}
	defer func() { _ = s.close() }()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s)
}

func (o *customerOptions) open() (*customerSession, error) {
	cfg := o.cfg
	cfg.DirectoryBackend = strings.ToLower(strings.TrimSpace(cfg.DirectoryBackend))
	if o.useRemote {
		saved, err := clientsettings.Load()
		if err != nil {
			return nil, err
		}
		cfg.DirectoryBackend = config.BackendRemote
		cfg.RemoteDirectoryURL = saved.EdgeURL
		cfg.RemoteDirectoryKey = saved.AdminKey
	}
	// Customers commands never share the limiter store.
	cfg.RateLimitBackend = config.RateLimitMemory

	b, err := openBackends(cfg)
	if err != nil {
		return nil, err
	}
	key, err := auth.GenerateSecret(0)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	dir, err := directory.New(b.directory, directory.WithAdminKey(key), directory.WithCacheTTL(0))
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	s := &customerSession{dir: dir, key: key, close: b.Close}
	if rs, ok := b.directory.(*directory.RemoteStore); ok {
		s.remote = rs
	}
	return s, nil
}

func (o *customerOptions) printMapping(out io.Writer, m domain.CustomerMapping) error {
	if o.jsonOut {
		return writeJSON(out, m)
	}
	fmt.Fprintln(out, "username:", m.Username)
	fmt.Fprintln(out, "backend_url:", m.BackendURL)
	if m.DisplayName != "" {
		fmt.Fprintln(out, "display_name:", m.DisplayName)
	}
	fmt.Fprintln(out, "version:", m.Version)
	_, err := fmt.Fprintln(out, "updated_at:", m.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exactArgs is cobra.ExactArgs with failures reported as usage errors.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{msg: err.Error()}
		}
		return nil
	}
}
