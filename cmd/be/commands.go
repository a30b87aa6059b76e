// Repository commands: init, upgrade, changed, vcs and adduser.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aaiyer/bugseverywhere-sub000/internal/server"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage/upgrade"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage/vcs"
)

func (a *app) registry() *vcs.Registry {
	return vcs.DefaultRegistry().WithClients(a.cfg.Clients)
}

// repo returns the --repo flag.
func repo(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("repo")
	return p
}

// openVCS returns the storage for the working copy containing path,
// without connecting it.
func (a *app) openVCS(ctx context.Context, path string) (*vcs.Storage, *storage.Store, error) {
	reg := a.registry()
	var ad vcs.Adapter
	if a.cfg.VCS != "" {
		var err error
		if ad, err = reg.ByName(a.cfg.VCS); err != nil {
			return nil, nil, err
		}
	} else {
		ad = reg.Detect(ctx, path)
	}
	d := vcs.New(ad, path)
	d.Identity.Override = a.cfg.UserID
	s := storage.New(d)
	s.Readable = a.cfg.Readable
	s.Writeable = a.cfg.Writeable
	return d, s, nil
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the storage in the current working copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, s, err := a.openVCS(ctx, repo(cmd))
			if err != nil {
				return err
			}
			if err := s.Init(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s storage in %s\n", s.Name(), d.RootDir())
			return nil
		},
	}
}

func (a *app) upgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade the on-disk format to the current version",
		Long: `Connecting to an older tree upgrades it in place. Some steps need manual
changes; they are listed and the command can be rerun afterward.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, s, err := a.openVCS(ctx, repo(cmd))
			if err != nil {
				return err
			}
			if err := s.Connect(ctx); err != nil {
				var me *upgrade.ManualError
				if errors.As(err, &me) {
					return me
				}
				if errors.Is(err, storage.ErrInvalidStorageVersion) {
					return fmt.Errorf("%w\nknown formats: %s", err, strings.Join(upgrade.Default().Versions(), ", "))
				}
				return err
			}
			defer func() { _ = s.Disconnect(ctx) }()
			v, err := s.StorageVersion(ctx, "")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Storage format: %s\n", v)
			return nil
		},
	}
}

func (a *app) changedCmd() *cobra.Command {
	var rev string
	var patch bool
	cmd := &cobra.Command{
		Use:   "changed",
		Short: "List ids changed since a revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, s, err := a.openVCS(ctx, repo(cmd))
			if err != nil {
				return err
			}
			if err := s.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = s.Disconnect(ctx) }()
			if rev == "" {
				if rev, err = s.RevisionID(ctx, -1); err != nil {
					return err
				}
			}
			c, err := s.Changed(ctx, rev)
			if err != nil {
				return err
			}
			return printChanges(ctx, cmd.OutOrStdout(), s, rev, c, patch)
		},
	}
	cmd.Flags().StringVarP(&rev, "revision", "r", "", "base revision; the newest commit when empty")
	cmd.Flags().BoolVarP(&patch, "patch", "p", false, "show value diffs of modified ids")
	cmd.Flags().BoolVar(&color.NoColor, "no-color", color.NoColor, "disable colors")
	return cmd
}

func (a *app) vcsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vcs",
		Short: "Inspect version control backends",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "detect",
			Short: "Print the backend managing the repository",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), a.registry().Detect(cmd.Context(), repo(cmd)).Name())
				return nil
			},
		},
		&cobra.Command{
			Use:   "installed",
			Short: "Print the preferred available backend",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), a.registry().Installed(cmd.Context()).Name())
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List every backend and its tool version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				reg := a.registry()
				for _, name := range reg.Names() {
					ad, err := reg.ByName(name)
					if err != nil {
						return err
					}
					v, ok := ad.Version(cmd.Context())
					if !ok {
						v = "not installed"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-9s %s\n", name, v)
				}
				return nil
			},
		},
	)
	return cmd
}

func (a *app) addUserCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "adduser <name>",
		Short: "Add or update a server user",
		Long:  "The password is read from the terminal, or from the first line of stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = a.cfg.Server.AuthFile
			}
			if file == "" {
				return errors.New("no credentials file; use --file or server.auth_file")
			}
			password, err := a.readPassword(cmd)
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("empty password")
			}
			return server.AddUser(file, args[0], password)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "credentials file; defaults to server.auth_file")
	return cmd
}

func (a *app) readPassword(cmd *cobra.Command) (string, error) {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		return string(b), err
	}
	l, err := bufio.NewReader(a.stdin).ReadString('\n')
	if l == "" && err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(l, "\r\n"), nil
}
