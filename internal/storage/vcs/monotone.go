// Implements Adapter using the monotone command line tool.

package vcs

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

// Monotone drives monotone. The database created by Init lives next to
// _MTN in the working copy.
type Monotone struct {
	client
	manifests manifestCache
}

const (
	mtnDB     = ".mtn.db"
	mtnBranch = "bugs-everywhere"
)

// NewMonotone returns the monotone backend.
func NewMonotone(opts Options) Adapter {
	name := opts.Client
	if name == "" {
		name = "mtn"
	}
	return &Monotone{client: client{name: name}}
}

// Name implements Adapter.
func (m *Monotone) Name() string { return "monotone" }

// Versioned implements Adapter.
func (m *Monotone) Versioned() bool { return true }

// Version implements Adapter.
func (m *Monotone) Version(ctx context.Context) (string, bool) {
	v, ok := m.probe(ctx, "--version")
	if !ok {
		return "", false
	}
	// "monotone 1.1 (base revision: ...)"
	if f := strings.Fields(v); len(f) > 1 {
		v = f[1]
	}
	return v, true
}

func (m *Monotone) setRepo(repo string) {
	m.client.setRepo(repo)
	m.manifests = nil
}

// Detect implements Adapter.
func (m *Monotone) Detect(_ context.Context, path string) bool {
	_, ok := searchParentDirectories(path, "_MTN")
	return ok
}

// Root implements Adapter.
func (m *Monotone) Root(ctx context.Context, path string) (string, error) {
	res, err := m.invokeIn(ctx, path, nil, "automate", "get_workspace_root")
	if err != nil {
		return "", err
	}
	return res.out(), nil
}

// Init implements Adapter. A signing key is generated when the user has
// none yet.
func (m *Monotone) Init(ctx context.Context, path string) error {
	db := mtnDB
	if _, err := m.invokeIn(ctx, path, nil, "db", "init", "--db", db); err != nil {
		return err
	}
	res, err := m.invokeIn(ctx, path, nil, "automate", "keys")
	if err != nil {
		return err
	}
	if !strings.Contains(string(res.stdout), "private_location") {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "localhost"
		}
		if _, err := m.invokeIn(ctx, path, nil, "automate", "generate_key", "be@"+host, ""); err != nil {
			return err
		}
	}
	_, err = m.invokeIn(ctx, path, nil, "setup", "--db", db, "--branch", mtnBranch, ".")
	return err
}

// Destroy implements Adapter.
func (m *Monotone) Destroy(context.Context) error {
	if err := os.RemoveAll(m.abs("_MTN")); err != nil {
		return err
	}
	return os.RemoveAll(m.abs(mtnDB))
}

// Add implements Adapter.
func (m *Monotone) Add(ctx context.Context, relpath string) error {
	_, err := m.invoke(ctx, nil, "add", "--", relpath)
	return err
}

// Remove implements Adapter.
func (m *Monotone) Remove(ctx context.Context, relpath string) error {
	_, err := m.invoke(ctx, nil, "drop", "--bookkeep-only", "--", relpath)
	return err
}

// Update implements Adapter.
func (m *Monotone) Update(context.Context, string) error { return nil }

// FileContents implements Adapter.
func (m *Monotone) FileContents(ctx context.Context, relpath, rev string) ([]byte, error) {
	res, err := m.invoke(ctx, []int{0, 1}, "cat", "-r", rev, "--", relpath)
	if err != nil {
		return nil, err
	}
	if res.status != 0 {
		return nil, fmt.Errorf("%s at %s: %w", relpath, rev, storage.ErrInvalidID)
	}
	return res.stdout, nil
}

// parseManifest reads the basic_io stanzas of "automate get_manifest_of".
func parseManifest(out string) *manifest {
	var files, dirs []string
	for _, l := range lines(out) {
		key, val, ok := strings.Cut(strings.TrimSpace(l), " ")
		if !ok || (key != "file" && key != "dir") {
			continue
		}
		p, err := strconv.Unquote(strings.TrimSpace(val))
		if err != nil || p == "" {
			continue
		}
		if key == "dir" {
			dirs = append(dirs, p)
		} else {
			files = append(files, p)
		}
	}
	return newManifest(files, dirs)
}

func (m *Monotone) manifest(ctx context.Context, rev string) (*manifest, error) {
	return m.manifests.get(rev, func() (*manifest, error) {
		res, err := m.invoke(ctx, []int{0, 1}, "automate", "get_manifest_of", rev)
		if err != nil || res.status != 0 {
			return nil, err
		}
		return parseManifest(string(res.stdout)), nil
	})
}

// IsDir implements Adapter.
func (m *Monotone) IsDir(ctx context.Context, relpath, rev string) (bool, error) {
	man, err := m.manifest(ctx, rev)
	if err != nil || man == nil {
		return false, err
	}
	return man.isDir(relpath), nil
}

// ListDir implements Adapter.
func (m *Monotone) ListDir(ctx context.Context, relpath, rev string) ([]string, error) {
	man, err := m.manifest(ctx, rev)
	if err != nil {
		return nil, err
	}
	if man == nil {
		return nil, fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	return man.list(relpath, rev)
}

// Commit implements Adapter. Monotone refuses empty revisions so
// allowEmpty has no effect.
func (m *Monotone) Commit(ctx context.Context, file, author string, _ bool) (string, error) {
	res, err := m.invoke(ctx, []int{0, 1}, "commit", "--message-file", file, "--author", author)
	if err != nil {
		return "", err
	}
	if res.status == 1 {
		if strings.Contains(string(res.stderr), "no changes to commit") {
			return "", storage.ErrEmptyCommit
		}
		return "", &CommandError{Args: []string{m.name, "commit"}, Dir: m.repo, Status: 1, Stdout: string(res.stdout), Stderr: string(res.stderr)}
	}
	return m.output(ctx, "automate", "get_base_revision_id")
}

func (m *Monotone) revisions(ctx context.Context) ([]string, error) {
	head, err := m.output(ctx, "automate", "get_base_revision_id")
	if err != nil || head == "" {
		return nil, err
	}
	out, err := m.output(ctx, "automate", "ancestors", head)
	if err != nil {
		return nil, err
	}
	args := append([]string{"automate", "toposort", head}, lines(out)...)
	out, err = m.output(ctx, args...)
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// RevisionID implements Adapter.
func (m *Monotone) RevisionID(ctx context.Context, index int) (string, error) {
	revs, err := m.revisions(ctx)
	if err != nil {
		return "", err
	}
	return resolveRevision(revs, index)
}

// UserID implements Adapter. Monotone only knows key names, which are
// email-like.
func (m *Monotone) UserID(ctx context.Context) (string, bool) {
	res, err := m.invoke(ctx, nil, "automate", "keys")
	if err != nil {
		return "", false
	}
	for _, l := range lines(string(res.stdout)) {
		key, val, ok := strings.Cut(strings.TrimSpace(l), " ")
		if ok && key == "given_name" {
			if name, err := strconv.Unquote(strings.TrimSpace(val)); err == nil && name != "" {
				return name, true
			}
		}
	}
	return "", false
}
