// Implements Adapter using the Bazaar command line tool.

package vcs

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

// Bzr drives Bazaar. Revisions are branch revision numbers.
type Bzr struct {
	client
	manifests manifestCache
}

// NewBzr returns the Bazaar backend.
func NewBzr(opts Options) Adapter {
	name := opts.Client
	if name == "" {
		name = "bzr"
	}
	return &Bzr{client: client{name: name}}
}

// Name implements Adapter.
func (b *Bzr) Name() string { return "bzr" }

// Versioned implements Adapter.
func (b *Bzr) Versioned() bool { return true }

// Version implements Adapter.
func (b *Bzr) Version(ctx context.Context) (string, bool) {
	v, ok := b.probe(ctx, "--version")
	if !ok {
		return "", false
	}
	// "Bazaar (bzr) 2.7.0"
	if f := strings.Fields(v); len(f) > 0 {
		v = f[len(f)-1]
	}
	return v, true
}

func (b *Bzr) setRepo(repo string) {
	b.client.setRepo(repo)
	b.manifests = nil
}

// Detect implements Adapter.
func (b *Bzr) Detect(_ context.Context, path string) bool {
	_, ok := searchParentDirectories(path, ".bzr")
	return ok
}

// Root implements Adapter.
func (b *Bzr) Root(ctx context.Context, path string) (string, error) {
	res, err := b.invokeIn(ctx, path, nil, "root")
	if err != nil {
		return "", err
	}
	return res.out(), nil
}

// Init implements Adapter.
func (b *Bzr) Init(ctx context.Context, path string) error {
	_, err := b.invokeIn(ctx, path, nil, "init")
	return err
}

// Destroy implements Adapter.
func (b *Bzr) Destroy(context.Context) error {
	return os.RemoveAll(b.abs(".bzr"))
}

// Add implements Adapter. Bazaar versions directories too.
func (b *Bzr) Add(ctx context.Context, relpath string) error {
	_, err := b.invoke(ctx, nil, "add", "--no-recurse", "--", relpath)
	return err
}

// Remove implements Adapter.
func (b *Bzr) Remove(ctx context.Context, relpath string) error {
	_, err := b.invoke(ctx, nil, "remove", "--keep", "--", relpath)
	return err
}

// Update implements Adapter.
func (b *Bzr) Update(context.Context, string) error { return nil }

// FileContents implements Adapter.
func (b *Bzr) FileContents(ctx context.Context, relpath, rev string) ([]byte, error) {
	res, err := b.invoke(ctx, []int{0, 3}, "cat", "-r", rev, "--", relpath)
	if err != nil {
		return nil, err
	}
	if res.status != 0 {
		return nil, fmt.Errorf("%s at %s: %w", relpath, rev, storage.ErrInvalidID)
	}
	return res.stdout, nil
}

func (b *Bzr) manifest(ctx context.Context, rev string) (*manifest, error) {
	if n, err := strconv.Atoi(rev); err != nil || n < 1 {
		return nil, nil
	}
	return b.manifests.get(rev, func() (*manifest, error) {
		res, err := b.invoke(ctx, []int{0, 3}, "ls", "--recursive", "--versioned", "-r", rev)
		if err != nil || res.status != 0 {
			return nil, err
		}
		var files, dirs []string
		for _, l := range lines(string(res.stdout)) {
			if strings.HasSuffix(l, "/") {
				dirs = append(dirs, l)
			} else {
				files = append(files, l)
			}
		}
		return newManifest(files, dirs), nil
	})
}

// IsDir implements Adapter.
func (b *Bzr) IsDir(ctx context.Context, relpath, rev string) (bool, error) {
	m, err := b.manifest(ctx, rev)
	if err != nil || m == nil {
		return false, err
	}
	return m.isDir(relpath), nil
}

// ListDir implements Adapter.
func (b *Bzr) ListDir(ctx context.Context, relpath, rev string) ([]string, error) {
	m, err := b.manifest(ctx, rev)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	return m.list(relpath, rev)
}

// Commit implements Adapter.
func (b *Bzr) Commit(ctx context.Context, file, author string, allowEmpty bool) (string, error) {
	args := []string{"commit", "--file", file, "--author", author}
	if allowEmpty {
		args = append(args, "--unchanged")
	}
	res, err := b.invoke(ctx, []int{0, 3}, args...)
	if err != nil {
		return "", err
	}
	if res.status == 3 {
		if strings.Contains(string(res.stderr), "No changes to commit") {
			return "", storage.ErrEmptyCommit
		}
		return "", &CommandError{Args: append([]string{b.name}, args...), Dir: b.repo, Status: 3, Stdout: string(res.stdout), Stderr: string(res.stderr)}
	}
	return b.output(ctx, "revno")
}

// RevisionID implements Adapter.
func (b *Bzr) RevisionID(ctx context.Context, index int) (string, error) {
	out, err := b.output(ctx, "revno")
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return "", fmt.Errorf("unexpected revno %q: %w", out, err)
	}
	revs := make([]string, n)
	for i := range revs {
		revs[i] = strconv.Itoa(i + 1)
	}
	return resolveRevision(revs, index)
}

// UserID implements Adapter.
func (b *Bzr) UserID(ctx context.Context) (string, bool) {
	out, err := b.output(ctx, "whoami")
	if err != nil || out == "" {
		return "", false
	}
	return out, true
}

func (b *Bzr) changes(ctx context.Context, rev string) ([]change, error) {
	res, err := b.invoke(ctx, []int{0, 3}, "status", "--short", "-r", rev, "--", ".be")
	if err != nil {
		return nil, err
	}
	if res.status != 0 {
		return nil, fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	return parseBzrStatus(string(res.stdout)), nil
}

// parseBzrStatus reads the three column short status. The second column
// describes the content change.
func parseBzrStatus(out string) []change {
	var chs []change
	for _, l := range lines(out) {
		if len(l) < 5 {
			continue
		}
		p := strings.TrimSpace(l[4:])
		if strings.HasSuffix(p, "/") {
			continue
		}
		switch l[1] {
		case 'N':
			chs = append(chs, change{'A', p})
		case 'M', 'K':
			chs = append(chs, change{'M', p})
		case 'D':
			chs = append(chs, change{'D', p})
		}
	}
	return chs
}
