// Command be manages Bugs Everywhere storage: repository setup, format
// upgrades, change listings and the storage HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aaiyer/bugseverywhere-sub000/internal/config"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "be: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(slog.New(newLogHandler(os.Stderr, ll)))
	return newApp(ll).root().ExecuteContext(ctx)
}

// newLogHandler returns a tint handler that drops empty attributes.
func newLogHandler(w *os.File, level slog.Leveler) slog.Handler {
	return tint.NewHandler(colorable.NewColorable(w), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(w.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case int64:
				skip = t == 0
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	})
}

// app carries state shared by the commands.
type app struct {
	v          *viper.Viper
	level      *slog.LevelVar
	configFile string
	cfg        *config.Config
	stdin      io.Reader
	stdout     io.Writer
}

func newApp(level *slog.LevelVar) *app {
	return &app{v: config.New(), level: level, stdin: os.Stdin, stdout: os.Stdout}
}

func (a *app) root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "be",
		Short:         "Bugs Everywhere storage tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       buildVersion(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	f := cmd.PersistentFlags()
	f.StringVar(&a.configFile, "config", config.DefaultFile(), "configuration file")
	f.StringP("repo", "C", ".", "path inside the repository")
	f.String("vcs", "", "backend name; detected when empty")
	f.String("user-id", "", `commit author, "Name <email>"`)
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	for key, flag := range map[string]string{"vcs": "vcs", "user_id": "user-id", "log_level": "log-level"} {
		_ = a.v.BindPFlag(key, f.Lookup(flag))
	}
	cmd.SetOut(a.stdout)
	cmd.AddCommand(a.initCmd(), a.upgradeCmd(), a.changedCmd(), a.vcsCmd(), a.addUserCmd(), a.serveCmd())
	return cmd
}

func (a *app) load() error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	l, err := cfg.Level()
	if err != nil {
		return err
	}
	if a.level != nil {
		a.level.Set(l)
	}
	a.cfg = cfg
	return nil
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	v := info.Main.Version
	if v == "" || v == "(devel)" {
		v = "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			v += " (" + s.Value[:12] + ")"
		}
	}
	return v
}
