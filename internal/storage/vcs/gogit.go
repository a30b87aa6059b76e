// Implements Adapter using go-git (pure Go, no git binary dependency).

package vcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/aaiyer/bugseverywhere-sub000/internal/identity"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

// GoGit manages a git working copy through go-git.
type GoGit struct {
	client
	repo *gogit.Repository
}

// NewGoGit returns the native git backend.
func NewGoGit(Options) Adapter {
	return &GoGit{}
}

// Name implements Adapter.
func (g *GoGit) Name() string { return "gogit" }

// Versioned implements Adapter.
func (g *GoGit) Versioned() bool { return true }

// Version implements Adapter. The library is linked in so it is always
// available.
func (g *GoGit) Version(context.Context) (string, bool) { return "go-git/v5", true }

func (g *GoGit) setRepo(repo string) {
	g.client.setRepo(repo)
	g.repo = nil
}

func (g *GoGit) open() (*gogit.Repository, error) {
	if g.repo != nil {
		return g.repo, nil
	}
	r, err := gogit.PlainOpen(g.client.repo)
	if err != nil {
		return nil, fmt.Errorf("failed to open git repo: %w", err)
	}
	g.repo = r
	return r, nil
}

func (g *GoGit) worktree() (*gogit.Worktree, error) {
	r, err := g.open()
	if err != nil {
		return nil, err
	}
	w, err := r.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	return w, nil
}

// Detect implements Adapter.
func (g *GoGit) Detect(_ context.Context, path string) bool {
	_, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	return err == nil
}

// Root implements Adapter.
func (g *GoGit) Root(_ context.Context, path string) (string, error) {
	r, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("failed to open git repo: %w", err)
	}
	w, err := r.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	return w.Filesystem.Root(), nil
}

// Init implements Adapter.
func (g *GoGit) Init(_ context.Context, path string) error {
	if _, err := gogit.PlainInit(path, false); err != nil {
		return fmt.Errorf("failed to initialize git repo: %w", err)
	}
	return nil
}

// Destroy implements Adapter.
func (g *GoGit) Destroy(context.Context) error {
	g.repo = nil
	return os.RemoveAll(g.abs(".git"))
}

// Add implements Adapter.
func (g *GoGit) Add(_ context.Context, relpath string) error {
	if g.isLocalDir(relpath) {
		return nil
	}
	w, err := g.worktree()
	if err != nil {
		return err
	}
	if _, err := w.Add(relpath); err != nil {
		return fmt.Errorf("failed to stage %s: %w", relpath, err)
	}
	return nil
}

// Remove implements Adapter.
func (g *GoGit) Remove(_ context.Context, relpath string) error {
	if g.isLocalDir(relpath) {
		return nil
	}
	w, err := g.worktree()
	if err != nil {
		return err
	}
	if _, err := w.Remove(relpath); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
		return fmt.Errorf("failed to remove %s: %w", relpath, err)
	}
	return nil
}

// Update implements Adapter.
func (g *GoGit) Update(ctx context.Context, relpath string) error {
	return g.Add(ctx, relpath)
}

// tree returns the root tree of commit rev, or nil when rev is unknown.
func (g *GoGit) tree(rev string) (*object.Tree, error) {
	r, err := g.open()
	if err != nil {
		return nil, err
	}
	if !plumbing.IsHash(rev) {
		return nil, nil
	}
	c, err := r.CommitObject(plumbing.NewHash(rev))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	return c.Tree()
}

// FileContents implements Adapter.
func (g *GoGit) FileContents(_ context.Context, relpath, rev string) ([]byte, error) {
	t, err := g.tree(rev)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	f, err := t.File(relpath)
	if err != nil {
		return nil, fmt.Errorf("%s at %s: %w", relpath, rev, storage.ErrInvalidID)
	}
	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}

// IsDir implements Adapter.
func (g *GoGit) IsDir(_ context.Context, relpath, rev string) (bool, error) {
	t, err := g.tree(rev)
	if err != nil || t == nil {
		return false, err
	}
	if relpath == "" {
		return true, nil
	}
	_, err = t.Tree(relpath)
	return err == nil, nil
}

// ListDir implements Adapter.
func (g *GoGit) ListDir(_ context.Context, relpath, rev string) ([]string, error) {
	t, err := g.tree(rev)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	if relpath != "" {
		if t, err = t.Tree(relpath); err != nil {
			return nil, fmt.Errorf("%s at %s: %w", relpath, rev, storage.ErrInvalidID)
		}
	}
	names := make([]string, 0, len(t.Entries))
	for _, e := range t.Entries {
		names = append(names, e.Name)
	}
	return names, nil
}

// Commit implements Adapter.
func (g *GoGit) Commit(_ context.Context, file, author string, allowEmpty bool) (string, error) {
	msg, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	w, err := g.worktree()
	if err != nil {
		return "", err
	}
	if !allowEmpty {
		status, err := w.Status()
		if err != nil {
			return "", fmt.Errorf("failed to get worktree status: %w", err)
		}
		staged := false
		for _, st := range status {
			if st.Staging != gogit.Unmodified && st.Staging != gogit.Untracked {
				staged = true
				break
			}
		}
		if !staged {
			return "", storage.ErrEmptyCommit
		}
	}
	name, email := identity.Parse(author)
	h, err := w.Commit(string(msg), &gogit.CommitOptions{
		Author:            &object.Signature{Name: name, Email: email, When: time.Now()},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return h.String(), nil
}

// revisions walks the first-parent chain from HEAD, oldest first.
func (g *GoGit) revisions() ([]string, error) {
	r, err := g.open()
	if err != nil {
		return nil, err
	}
	head, err := r.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	c, err := r.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	var revs []string
	for {
		revs = append(revs, c.Hash.String())
		if c.NumParents() == 0 {
			break
		}
		if c, err = c.Parent(0); err != nil {
			return nil, err
		}
	}
	slices.Reverse(revs)
	return revs, nil
}

// RevisionID implements Adapter.
func (g *GoGit) RevisionID(_ context.Context, index int) (string, error) {
	revs, err := g.revisions()
	if err != nil {
		return "", err
	}
	return resolveRevision(revs, index)
}

// UserID implements Adapter.
func (g *GoGit) UserID(context.Context) (string, bool) {
	r, err := g.open()
	if err != nil {
		return "", false
	}
	cfg, err := r.ConfigScoped(config.GlobalScope)
	if err != nil || (cfg.User.Name == "" && cfg.User.Email == "") {
		return "", false
	}
	return identity.Format(cfg.User.Name, cfg.User.Email), true
}

func (g *GoGit) changes(_ context.Context, rev string) ([]change, error) {
	t, err := g.tree(rev)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	old := map[string]plumbing.Hash{}
	err = t.Files().ForEach(func(f *object.File) error {
		if strings.HasPrefix(f.Name, ".be/") && f.Mode != filemode.Dir {
			old[f.Name] = f.Hash
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var chs []change
	top := g.abs(".be")
	err = filepath.WalkDir(top, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != top && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(g.client.repo, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		h, ok := old[rel]
		delete(old, rel)
		switch {
		case !ok:
			chs = append(chs, change{'A', rel})
		case h != plumbing.ComputeHash(plumbing.BlobObject, data):
			chs = append(chs, change{'M', rel})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for p := range old {
		chs = append(chs, change{'D', p})
	}
	return chs, nil
}
