// Implements Adapter using the Mercurial command line tool.

package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

// Hg drives Mercurial.
type Hg struct {
	client
	manifests manifestCache
}

// NewHg returns the Mercurial backend.
func NewHg(opts Options) Adapter {
	name := opts.Client
	if name == "" {
		name = "hg"
	}
	return &Hg{client: client{name: name}}
}

// Name implements Adapter.
func (h *Hg) Name() string { return "hg" }

// Versioned implements Adapter.
func (h *Hg) Versioned() bool { return true }

// Version implements Adapter.
func (h *Hg) Version(ctx context.Context) (string, bool) {
	v, ok := h.probe(ctx, "--version")
	if !ok {
		return "", false
	}
	// "Mercurial Distributed SCM (version 6.5.2)"
	if _, after, found := strings.Cut(v, "(version "); found {
		v = strings.TrimSuffix(after, ")")
	}
	return v, true
}

func (h *Hg) setRepo(repo string) {
	h.client.setRepo(repo)
	h.manifests = nil
}

// Detect implements Adapter.
func (h *Hg) Detect(_ context.Context, path string) bool {
	_, ok := searchParentDirectories(path, ".hg")
	return ok
}

// Root implements Adapter.
func (h *Hg) Root(ctx context.Context, path string) (string, error) {
	res, err := h.invokeIn(ctx, path, nil, "root")
	if err != nil {
		return "", err
	}
	return res.out(), nil
}

// Init implements Adapter.
func (h *Hg) Init(ctx context.Context, path string) error {
	_, err := h.invokeIn(ctx, path, nil, "init")
	return err
}

// Destroy implements Adapter.
func (h *Hg) Destroy(context.Context) error {
	return os.RemoveAll(h.abs(".hg"))
}

// Add implements Adapter. Mercurial tracks files only.
func (h *Hg) Add(ctx context.Context, relpath string) error {
	if h.isLocalDir(relpath) {
		return nil
	}
	_, err := h.invoke(ctx, nil, "add", "--", relpath)
	return err
}

// Remove implements Adapter. The file is forgotten and left on disk, hg rm
// would prune the directories it empties.
func (h *Hg) Remove(ctx context.Context, relpath string) error {
	if h.isLocalDir(relpath) {
		return nil
	}
	_, err := h.invoke(ctx, []int{0, 1}, "forget", "--", relpath)
	return err
}

// Update implements Adapter. Modified files are picked up by commit.
func (h *Hg) Update(context.Context, string) error { return nil }

// FileContents implements Adapter.
func (h *Hg) FileContents(ctx context.Context, relpath, rev string) ([]byte, error) {
	res, err := h.invoke(ctx, []int{0, 1}, "cat", "-r", rev, "--", relpath)
	if err != nil {
		return nil, err
	}
	if res.status != 0 {
		return nil, fmt.Errorf("%s at %s: %w", relpath, rev, storage.ErrInvalidID)
	}
	return res.stdout, nil
}

// manifest returns the files tracked at rev, nil if rev is unknown.
func (h *Hg) manifest(ctx context.Context, rev string) (*manifest, error) {
	return h.manifests.get(rev, func() (*manifest, error) {
		res, err := h.invoke(ctx, []int{0, 255}, "manifest", "-r", rev)
		if err != nil || res.status != 0 {
			return nil, err
		}
		return newManifest(lines(string(res.stdout)), nil), nil
	})
}

// IsDir implements Adapter.
func (h *Hg) IsDir(ctx context.Context, relpath, rev string) (bool, error) {
	m, err := h.manifest(ctx, rev)
	if err != nil || m == nil {
		return false, err
	}
	return m.isDir(relpath), nil
}

// ListDir implements Adapter.
func (h *Hg) ListDir(ctx context.Context, relpath, rev string) ([]string, error) {
	m, err := h.manifest(ctx, rev)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	return m.list(relpath, rev)
}

// Commit implements Adapter. Mercurial cannot record an empty changeset so
// allowEmpty has no effect.
func (h *Hg) Commit(ctx context.Context, file, author string, _ bool) (string, error) {
	res, err := h.invoke(ctx, []int{0, 1}, "commit", "--logfile", file, "--user", author)
	if err != nil {
		return "", err
	}
	if res.status == 1 {
		if strings.Contains(string(res.stdout)+string(res.stderr), "nothing changed") {
			return "", storage.ErrEmptyCommit
		}
		return "", &CommandError{Args: []string{h.name, "commit"}, Dir: h.repo, Status: 1, Stdout: string(res.stdout), Stderr: string(res.stderr)}
	}
	return h.output(ctx, "log", "-r", ".", "--template", "{node}")
}

func (h *Hg) revisions(ctx context.Context) ([]string, error) {
	out, err := h.output(ctx, "log", "-r", "::.", "--template", "{node}\n")
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// RevisionID implements Adapter.
func (h *Hg) RevisionID(ctx context.Context, index int) (string, error) {
	revs, err := h.revisions(ctx)
	if err != nil {
		return "", err
	}
	return resolveRevision(revs, index)
}

// UserID implements Adapter.
func (h *Hg) UserID(ctx context.Context) (string, bool) {
	res, err := h.invoke(ctx, []int{0, 1}, "config", "ui.username")
	if err != nil || res.status != 0 || res.out() == "" {
		return "", false
	}
	return res.out(), true
}

func (h *Hg) changes(ctx context.Context, rev string) ([]change, error) {
	res, err := h.invoke(ctx, []int{0, 255}, "status", "--rev", rev, "-amrd", "--", ".be")
	if err != nil {
		return nil, err
	}
	if res.status != 0 {
		return nil, fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	return parseHgStatus(string(res.stdout)), nil
}

// parseHgStatus reads "X path" lines.
func parseHgStatus(out string) []change {
	var chs []change
	for _, l := range lines(out) {
		st, p, ok := strings.Cut(l, " ")
		if !ok || len(st) != 1 {
			continue
		}
		p = filepath.ToSlash(p)
		switch st[0] {
		case 'A':
			chs = append(chs, change{'A', p})
		case 'M':
			chs = append(chs, change{'M', p})
		case 'R', '!':
			chs = append(chs, change{'D', p})
		}
	}
	return chs
}
