// Implements Adapter using GNU arch (tla).

package vcs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/aaiyer/bugseverywhere-sub000/internal/identity"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

// Arch drives tla. Historical reads check the revision out with "tla get"
// into a temporary directory, kept until Destroy.
type Arch struct {
	client
	// archive is the directory created by Init.
	archive   string
	checkouts map[string]string
	manifests manifestCache
}

// NewArch returns the GNU arch backend.
func NewArch(opts Options) Adapter {
	name := opts.Client
	if name == "" {
		name = "tla"
	}
	return &Arch{client: client{name: name}}
}

// Name implements Adapter.
func (a *Arch) Name() string { return "arch" }

// Versioned implements Adapter.
func (a *Arch) Versioned() bool { return true }

// Version implements Adapter.
func (a *Arch) Version(ctx context.Context) (string, bool) {
	v, ok := a.probe(ctx, "--version")
	if !ok {
		return "", false
	}
	// "The GNU Arch Revision Control System (tla) 1.3.5"
	if f := strings.Fields(v); len(f) > 0 {
		v = f[len(f)-1]
	}
	return v, true
}

func (a *Arch) setRepo(repo string) {
	a.client.setRepo(repo)
	a.manifests = nil
}

// Detect implements Adapter.
func (a *Arch) Detect(_ context.Context, path string) bool {
	_, ok := searchParentDirectories(path, "{arch}")
	return ok
}

// Root implements Adapter.
func (a *Arch) Root(ctx context.Context, path string) (string, error) {
	res, err := a.invokeIn(ctx, path, nil, "tree-root")
	if err != nil {
		return "", err
	}
	return res.out(), nil
}

var sourceRule = regexp.MustCompile(`(?m)^source .*$`)

// Init implements Adapter. It creates a private archive, a version in it
// and a tree using explicit tagging which also accepts dot files.
func (a *Arch) Init(ctx context.Context, path string) error {
	if _, ok := a.UserID(ctx); !ok {
		id := (&identity.Resolver{}).Resolve(ctx, nil)
		if _, err := a.invokeIn(ctx, path, nil, "my-id", id); err != nil {
			return err
		}
	}
	dir, err := os.MkdirTemp("", "be-arch-")
	if err != nil {
		return err
	}
	dir = filepath.Join(dir, "archive")
	name := "be-" + uuid.NewString()[:8] + "@localhost--bugs"
	version := name + "/bugs--be--0"
	steps := [][]string{
		{"make-archive", name, dir},
		{"archive-setup", version},
		{"init-tree", version},
		{"id-tagging-method", "explicit"},
	}
	for _, args := range steps {
		if _, err := a.invokeIn(ctx, path, nil, args...); err != nil {
			_ = os.RemoveAll(filepath.Dir(dir))
			return err
		}
	}
	a.archive = filepath.Dir(dir)
	tagging := filepath.Join(path, "{arch}", "=tagging-method")
	raw, err := os.ReadFile(tagging)
	if err != nil {
		return err
	}
	raw = sourceRule.ReplaceAll(raw, []byte(`source ^[._=a-zA-Z0-9].*$`))
	return os.WriteFile(tagging, raw, 0o644)
}

// Destroy implements Adapter.
func (a *Arch) Destroy(context.Context) error {
	var errs []error
	for _, d := range a.checkouts {
		errs = append(errs, os.RemoveAll(d))
	}
	a.checkouts = nil
	a.manifests = nil
	if a.archive != "" {
		errs = append(errs, os.RemoveAll(a.archive))
		a.archive = ""
	}
	errs = append(errs, os.RemoveAll(a.abs("{arch}")))
	return errors.Join(errs...)
}

// Add implements Adapter.
func (a *Arch) Add(ctx context.Context, relpath string) error {
	_, err := a.invoke(ctx, nil, "add-id", "--", relpath)
	return err
}

// Remove implements Adapter.
func (a *Arch) Remove(ctx context.Context, relpath string) error {
	_, err := a.invoke(ctx, nil, "delete-id", "--", relpath)
	return err
}

// Update implements Adapter.
func (a *Arch) Update(context.Context, string) error { return nil }

func (a *Arch) revisions(ctx context.Context) ([]string, error) {
	res, err := a.invoke(ctx, []int{0, 1, 2}, "revisions", "--full")
	if err != nil || res.status != 0 {
		// No revision in the archive yet.
		return nil, err
	}
	return lines(string(res.stdout)), nil
}

// checkout returns the directory holding rev, "" when rev is unknown.
func (a *Arch) checkout(ctx context.Context, rev string) (string, error) {
	if d, ok := a.checkouts[rev]; ok {
		return d, nil
	}
	revs, err := a.revisions(ctx)
	if err != nil || !slices.Contains(revs, rev) {
		return "", err
	}
	tmp, err := os.MkdirTemp("", "be-arch-get-")
	if err != nil {
		return "", err
	}
	dir := filepath.Join(tmp, "tree")
	if _, err := a.invoke(ctx, nil, "get", rev, dir); err != nil {
		_ = os.RemoveAll(tmp)
		return "", err
	}
	if a.checkouts == nil {
		a.checkouts = map[string]string{}
	}
	a.checkouts[rev] = tmp
	return dir, nil
}

func (a *Arch) manifest(ctx context.Context, rev string) (*manifest, error) {
	return a.manifests.get(rev, func() (*manifest, error) {
		dir, err := a.checkout(ctx, rev)
		if err != nil || dir == "" {
			return nil, err
		}
		var files, dirs []string
		err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p == dir {
				return nil
			}
			if n := d.Name(); n == "{arch}" || n == ".arch-ids" || n == ".arch-inventory" {
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			if d.IsDir() {
				dirs = append(dirs, filepath.ToSlash(rel))
			} else {
				files = append(files, filepath.ToSlash(rel))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return newManifest(files, dirs), nil
	})
}

// FileContents implements Adapter.
func (a *Arch) FileContents(ctx context.Context, relpath, rev string) ([]byte, error) {
	m, err := a.manifest(ctx, rev)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	if !m.files[relpath] {
		return nil, fmt.Errorf("%s at %s: %w", relpath, rev, storage.ErrInvalidID)
	}
	return os.ReadFile(filepath.Join(a.checkouts[rev], "tree", filepath.FromSlash(relpath)))
}

// IsDir implements Adapter.
func (a *Arch) IsDir(ctx context.Context, relpath, rev string) (bool, error) {
	m, err := a.manifest(ctx, rev)
	if err != nil || m == nil {
		return false, err
	}
	return m.isDir(relpath), nil
}

// ListDir implements Adapter.
func (a *Arch) ListDir(ctx context.Context, relpath, rev string) ([]string, error) {
	m, err := a.manifest(ctx, rev)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	return m.list(relpath, rev)
}

// archLog converts a commit message into the arch log header format.
func archLog(msg string) string {
	summary, body, _ := strings.Cut(strings.TrimSpace(msg), "\n")
	return "Summary: " + summary + "\nKeywords: \n\n" + strings.TrimSpace(body) + "\n"
}

// Commit implements Adapter. The author is the tla identity; the first
// commit imports the tree.
func (a *Arch) Commit(ctx context.Context, file, _ string, allowEmpty bool) (string, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	log, err := os.CreateTemp("", "be-arch-log-*.txt")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(log.Name()) }()
	if _, err := log.WriteString(archLog(string(raw))); err != nil {
		_ = log.Close()
		return "", err
	}
	if err := log.Close(); err != nil {
		return "", err
	}
	revs, err := a.revisions(ctx)
	if err != nil {
		return "", err
	}
	if len(revs) == 0 {
		if _, err := a.invoke(ctx, nil, "import", "--log", log.Name()); err != nil {
			return "", err
		}
	} else {
		if !allowEmpty {
			// "tla changes" exits with 1 when the tree differs.
			res, err := a.invoke(ctx, []int{0, 1}, "changes")
			if err != nil {
				return "", err
			}
			if res.status == 0 {
				return "", storage.ErrEmptyCommit
			}
		}
		if _, err := a.invoke(ctx, nil, "commit", "--log", log.Name()); err != nil {
			return "", err
		}
	}
	if revs, err = a.revisions(ctx); err != nil {
		return "", err
	}
	if len(revs) == 0 {
		return "", errors.New("tla recorded no revision")
	}
	return revs[len(revs)-1], nil
}

// RevisionID implements Adapter.
func (a *Arch) RevisionID(ctx context.Context, index int) (string, error) {
	revs, err := a.revisions(ctx)
	if err != nil {
		return "", err
	}
	return resolveRevision(revs, index)
}

// UserID implements Adapter.
func (a *Arch) UserID(ctx context.Context) (string, bool) {
	res, err := a.invokeIn(ctx, "", []int{0, 1, 2}, "my-id")
	if err != nil || res.status != 0 || res.out() == "" {
		return "", false
	}
	return res.out(), true
}
