// Implements Adapter using os/exec git commands.

package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aaiyer/bugseverywhere-sub000/internal/identity"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

// Git drives the git command line tool.
type Git struct {
	client
}

// NewGit returns the exec git backend.
func NewGit(opts Options) Adapter {
	name := opts.Client
	if name == "" {
		name = "git"
	}
	return &Git{client{name: name}}
}

// Name implements Adapter.
func (g *Git) Name() string { return "git" }

// Versioned implements Adapter.
func (g *Git) Versioned() bool { return true }

// Version implements Adapter.
func (g *Git) Version(ctx context.Context) (string, bool) {
	v, ok := g.probe(ctx, "--version")
	return strings.TrimPrefix(v, "git version "), ok
}

// Detect implements Adapter.
func (g *Git) Detect(_ context.Context, path string) bool {
	_, ok := searchParentDirectories(path, ".git")
	return ok
}

// Root implements Adapter.
func (g *Git) Root(ctx context.Context, path string) (string, error) {
	res, err := g.invokeIn(ctx, path, nil, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return filepath.FromSlash(res.out()), nil
}

// Init implements Adapter.
func (g *Git) Init(ctx context.Context, path string) error {
	_, err := g.invokeIn(ctx, path, nil, "init")
	return err
}

// Destroy implements Adapter.
func (g *Git) Destroy(context.Context) error {
	return os.RemoveAll(g.abs(".git"))
}

// Add implements Adapter. git tracks files only.
func (g *Git) Add(ctx context.Context, relpath string) error {
	if g.isLocalDir(relpath) {
		return nil
	}
	_, err := g.invoke(ctx, nil, "add", "--", relpath)
	return err
}

// Remove implements Adapter. Only the index is touched; git rm would also
// prune parent directories left empty, which are still entries here.
func (g *Git) Remove(ctx context.Context, relpath string) error {
	if g.isLocalDir(relpath) {
		return nil
	}
	_, err := g.invoke(ctx, nil, "rm", "--cached", "--ignore-unmatch", "-q", "--", relpath)
	return err
}

// Update implements Adapter.
func (g *Git) Update(ctx context.Context, relpath string) error {
	return g.Add(ctx, relpath)
}

// FileContents implements Adapter.
func (g *Git) FileContents(ctx context.Context, relpath, rev string) ([]byte, error) {
	res, err := g.invoke(ctx, []int{0, 128}, "show", rev+":"+relpath)
	if err != nil {
		return nil, err
	}
	if res.status != 0 {
		return nil, fmt.Errorf("%s at %s: %w", relpath, rev, storage.ErrInvalidID)
	}
	return res.stdout, nil
}

// IsDir implements Adapter.
func (g *Git) IsDir(ctx context.Context, relpath, rev string) (bool, error) {
	res, err := g.invoke(ctx, []int{0, 128}, "cat-file", "-t", rev+":"+relpath)
	if err != nil {
		return false, err
	}
	return res.status == 0 && res.out() == "tree", nil
}

// ListDir implements Adapter.
func (g *Git) ListDir(ctx context.Context, relpath, rev string) ([]string, error) {
	res, err := g.invoke(ctx, []int{0, 128}, "ls-tree", "--name-only", rev+":"+relpath)
	if err != nil {
		return nil, err
	}
	if res.status != 0 {
		return nil, fmt.Errorf("%s at %s: %w", relpath, rev, storage.ErrInvalidID)
	}
	return lines(string(res.stdout)), nil
}

// Commit implements Adapter.
func (g *Git) Commit(ctx context.Context, file, author string, allowEmpty bool) (string, error) {
	name, email := identity.Parse(author)
	args := []string{"-c", "user.name=" + name, "-c", "user.email=" + email, "commit", "--file", file}
	if allowEmpty {
		args = append(args, "--allow-empty")
	}
	res, err := g.invoke(ctx, []int{0, 1}, args...)
	if err != nil {
		return "", err
	}
	if res.status == 1 {
		out := string(res.stdout) + string(res.stderr)
		for _, s := range []string{"nothing to commit", "nothing added to commit", "no changes added to commit"} {
			if strings.Contains(out, s) {
				return "", storage.ErrEmptyCommit
			}
		}
		return "", &CommandError{Args: append([]string{g.name}, args...), Dir: g.repo, Status: 1, Stdout: string(res.stdout), Stderr: string(res.stderr)}
	}
	return g.output(ctx, "rev-parse", "HEAD")
}

func (g *Git) revisions(ctx context.Context) ([]string, error) {
	res, err := g.invoke(ctx, []int{0, 128}, "rev-list", "--first-parent", "--reverse", "HEAD")
	if err != nil {
		return nil, err
	}
	if res.status != 0 {
		// No commit yet.
		return nil, nil
	}
	return lines(string(res.stdout)), nil
}

// RevisionID implements Adapter.
func (g *Git) RevisionID(ctx context.Context, index int) (string, error) {
	revs, err := g.revisions(ctx)
	if err != nil {
		return "", err
	}
	return resolveRevision(revs, index)
}

// UserID implements Adapter.
func (g *Git) UserID(ctx context.Context) (string, bool) {
	get := func(key string) string {
		res, err := g.invoke(ctx, []int{0, 1}, "config", key)
		if err != nil {
			return ""
		}
		return res.out()
	}
	name, email := get("user.name"), get("user.email")
	if name == "" && email == "" {
		return "", false
	}
	return identity.Format(name, email), true
}

func (g *Git) changes(ctx context.Context, rev string) ([]change, error) {
	res, err := g.invoke(ctx, []int{0, 128}, "diff", "--no-renames", "--name-status", rev, "--", ".be")
	if err != nil {
		return nil, err
	}
	if res.status != 0 {
		return nil, fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	return parseNameStatus(string(res.stdout)), nil
}

// parseNameStatus reads "X\tpath" lines.
func parseNameStatus(out string) []change {
	var chs []change
	for _, l := range lines(out) {
		st, p, ok := strings.Cut(l, "\t")
		if !ok || st == "" {
			continue
		}
		switch st[0] {
		case 'A', 'M', 'D':
			chs = append(chs, change{st[0], p})
		case 'T':
			chs = append(chs, change{'M', p})
		}
	}
	return chs
}
