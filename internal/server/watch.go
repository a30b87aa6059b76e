// Reloads the path id cache when the tree changes on disk.

package server

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDelay coalesces bursts of events, e.g. a checkout.
const watchDelay = 200 * time.Millisecond

// Watch calls Options.Reload, under the storage lock, after files under dir
// changed. It returns when ctx is done.
func (s *Server) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := watchTree(w, dir); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Watching", "dir", dir)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			if e.Has(fsnotify.Create) {
				// New directories need their own watch.
				_ = watchTree(w, e.Name)
			}
			timer.Reset(watchDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Watcher error", "err", err)
		case <-timer.C:
			if err := s.reload(ctx); err != nil {
				slog.ErrorContext(ctx, "Failed to reload", "err", err)
			}
		}
	}
}

func (s *Server) reload(ctx context.Context) error {
	if s.opts.Reload == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	slog.DebugContext(ctx, "Reloading id cache")
	return s.opts.Reload(ctx)
}

// watchTree adds root and every directory below it. A root that is not a
// directory is ignored.
func watchTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.Add(p)
	})
}
