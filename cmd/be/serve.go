// Serves a store over HTTP until the context is canceled.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/aaiyer/bugseverywhere-sub000/internal/config"
	"github.com/aaiyer/bugseverywhere-sub000/internal/server"
	"github.com/aaiyer/bugseverywhere-sub000/internal/server/ratelimit"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage/reference"
)

func (a *app) serveCmd() *cobra.Command {
	var db string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the repository storage over HTTP",
		Long: `Serve the storage of the working copy, or of a reference database with
--reference, so that remote tools can use it through the http backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), repo(cmd), db)
		},
	}
	f := cmd.Flags()
	f.String("http", "", "address to listen on")
	f.String("auth-file", "", "credentials file enabling authentication")
	f.Bool("read-only", false, "refuse mutations")
	f.StringVar(&db, "reference", "", "serve this reference database instead of a working copy")
	for key, flag := range map[string]string{"server.addr": "http", "server.auth_file": "auth-file", "server.read_only": "read-only"} {
		_ = a.v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

// openReference opens, creating it if needed, a versioned reference
// database.
func openReference(ctx context.Context, path string, readOnly bool) (*storage.Store, error) {
	s := storage.New(reference.New(reference.Options{Path: path, Versioned: true, ReadOnly: readOnly}))
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
	}
	return s, s.Connect(ctx)
}

func (a *app) serve(ctx context.Context, path, db string) error {
	sc := a.cfg.Server
	opts := server.Options{MaxBodyBytes: 16 << 20}
	var watchDir string
	if db != "" {
		s, err := openReference(ctx, db, sc.ReadOnly)
		if err != nil {
			return err
		}
		opts.Store = s
	} else {
		d, s, err := a.openVCS(ctx, path)
		if err != nil {
			return err
		}
		if err := s.Connect(ctx); err != nil {
			return err
		}
		opts.Store = s
		opts.Reload = d.Cache().Reload
		if sc.Watch {
			watchDir = filepath.Join(d.RootDir(), ".be")
		}
	}
	defer func() {
		if err := opts.Store.Disconnect(context.Background()); err != nil {
			slog.Error("Failed to disconnect", "err", err)
		}
	}()
	if sc.ReadOnly {
		opts.Store.Writeable = false
	}
	if err := configureAuth(&opts, sc); err != nil {
		return err
	}
	if sc.Rate > 0 {
		opts.Limiter = ratelimit.NewLimiter(sc.Rate, time.Minute)
		defer opts.Limiter.Close()
	}

	srv := server.New(opts)
	if watchDir != "" {
		go func() {
			if err := srv.Watch(ctx, watchDir); err != nil {
				slog.ErrorContext(ctx, "Watcher stopped", "err", err)
			}
		}()
	}
	httpServer := &http.Server{
		Addr:              sc.Addr,
		Handler:           srv,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", sc.Addr, "backend", opts.Store.Name(), "auth", opts.Credentials != nil)
		serverErr <- httpServer.ListenAndServe()
	}()
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.Info("Server stopped")
	}
	return nil
}

func configureAuth(opts *server.Options, sc config.Server) error {
	if sc.AuthFile == "" {
		return nil
	}
	if sc.JWTSecret == "" {
		return errors.New("server.jwt_secret is required with server.auth_file")
	}
	creds, err := server.LoadCredentials(sc.AuthFile)
	if err != nil {
		return err
	}
	if creds.Len() == 0 {
		slog.Warn("No users in credentials file; run be adduser", "file", sc.AuthFile)
	}
	opts.Credentials = creds
	opts.JWTSecret = []byte(sc.JWTSecret)
	return nil
}
