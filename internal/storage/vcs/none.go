// Implements the unversioned fallback backend.

package vcs

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

// None keeps the tree as plain files without history.
type None struct {
	client
}

// NewNone returns the unversioned backend.
func NewNone(Options) Adapter {
	return &None{}
}

// Name implements Adapter.
func (n *None) Name() string { return "none" }

// Versioned implements Adapter.
func (n *None) Versioned() bool { return false }

// Version implements Adapter. The backend is always available.
func (n *None) Version(context.Context) (string, bool) { return "", true }

// Detect implements Adapter.
func (n *None) Detect(_ context.Context, path string) bool {
	_, ok := searchParentDirectories(path, ".be")
	return ok
}

// Root implements Adapter. Without a tree, path itself is the root.
func (n *None) Root(_ context.Context, path string) (string, error) {
	if root, ok := searchParentDirectories(path, ".be"); ok {
		return root, nil
	}
	return filepath.Abs(path)
}

// Init implements Adapter.
func (n *None) Init(context.Context, string) error { return nil }

// Destroy implements Adapter.
func (n *None) Destroy(context.Context) error { return nil }

// Add implements Adapter.
func (n *None) Add(context.Context, string) error { return nil }

// Remove implements Adapter.
func (n *None) Remove(context.Context, string) error { return nil }

// Update implements Adapter.
func (n *None) Update(context.Context, string) error { return nil }

// FileContents implements Adapter.
func (n *None) FileContents(context.Context, string, string) ([]byte, error) {
	return nil, fmt.Errorf("none: %w", storage.ErrNotVersioned)
}

// IsDir implements Adapter.
func (n *None) IsDir(context.Context, string, string) (bool, error) {
	return false, fmt.Errorf("none: %w", storage.ErrNotVersioned)
}

// ListDir implements Adapter.
func (n *None) ListDir(context.Context, string, string) ([]string, error) {
	return nil, fmt.Errorf("none: %w", storage.ErrNotVersioned)
}

// Commit implements Adapter.
func (n *None) Commit(context.Context, string, string, bool) (string, error) {
	return "", fmt.Errorf("none: %w", storage.ErrNotVersioned)
}

// RevisionID implements Adapter.
func (n *None) RevisionID(context.Context, int) (string, error) {
	return "", fmt.Errorf("none: %w", storage.ErrNotVersioned)
}

// UserID implements Adapter.
func (n *None) UserID(context.Context) (string, bool) { return "", false }
