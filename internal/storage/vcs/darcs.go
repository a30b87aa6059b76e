// Implements Adapter using the darcs command line tool.

package vcs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

// Darcs drives darcs. Revisions are patch hashes.
type Darcs struct {
	client
	manifests manifestCache
}

// NewDarcs returns the darcs backend.
func NewDarcs(opts Options) Adapter {
	name := opts.Client
	if name == "" {
		name = "darcs"
	}
	return &Darcs{client: client{name: name}}
}

// Name implements Adapter.
func (d *Darcs) Name() string { return "darcs" }

// Versioned implements Adapter.
func (d *Darcs) Versioned() bool { return true }

// Version implements Adapter.
func (d *Darcs) Version(ctx context.Context) (string, bool) {
	v, ok := d.probe(ctx, "--version")
	if !ok {
		return "", false
	}
	// "2.16.5 (release)"
	if f := strings.Fields(v); len(f) > 0 {
		v = f[0]
	}
	return v, true
}

func (d *Darcs) setRepo(repo string) {
	d.client.setRepo(repo)
	d.manifests = nil
}

// Detect implements Adapter.
func (d *Darcs) Detect(_ context.Context, path string) bool {
	_, ok := searchParentDirectories(path, "_darcs")
	return ok
}

// Root implements Adapter.
func (d *Darcs) Root(_ context.Context, path string) (string, error) {
	root, ok := searchParentDirectories(path, "_darcs")
	if !ok {
		return "", fmt.Errorf("no _darcs above %s", path)
	}
	return root, nil
}

// Init implements Adapter.
func (d *Darcs) Init(ctx context.Context, path string) error {
	_, err := d.invokeIn(ctx, path, nil, "init")
	return err
}

// Destroy implements Adapter.
func (d *Darcs) Destroy(context.Context) error {
	return os.RemoveAll(d.abs("_darcs"))
}

// Add implements Adapter.
func (d *Darcs) Add(ctx context.Context, relpath string) error {
	_, err := d.invoke(ctx, nil, "add", "--", relpath)
	return err
}

// Remove implements Adapter.
func (d *Darcs) Remove(ctx context.Context, relpath string) error {
	_, err := d.invoke(ctx, nil, "remove", "--", relpath)
	return err
}

// Update implements Adapter.
func (d *Darcs) Update(context.Context, string) error { return nil }

func matchHash(rev string) string {
	return "hash " + rev
}

// FileContents implements Adapter.
func (d *Darcs) FileContents(ctx context.Context, relpath, rev string) ([]byte, error) {
	res, err := d.invoke(ctx, []int{0, 1, 2}, "show", "contents", "--match", matchHash(rev), "--", relpath)
	if err != nil {
		return nil, err
	}
	if res.status != 0 {
		return nil, fmt.Errorf("%s at %s: %w", relpath, rev, storage.ErrInvalidID)
	}
	return res.stdout, nil
}

func (d *Darcs) manifest(ctx context.Context, rev string) (*manifest, error) {
	return d.manifests.get(rev, func() (*manifest, error) {
		revs, err := d.revisions(ctx)
		if err != nil || !slices.Contains(revs, rev) {
			return nil, err
		}
		show := func(flag string) ([]string, error) {
			out, err := d.output(ctx, "show", "files", "--no-pending", flag, "--match", matchHash(rev))
			if err != nil {
				return nil, err
			}
			var paths []string
			for _, l := range lines(out) {
				if l = strings.TrimPrefix(l, "./"); l != "." {
					paths = append(paths, l)
				}
			}
			return paths, nil
		}
		files, err := show("--no-directories")
		if err != nil {
			return nil, err
		}
		dirs, err := show("--no-files")
		if err != nil {
			return nil, err
		}
		return newManifest(files, dirs), nil
	})
}

// IsDir implements Adapter.
func (d *Darcs) IsDir(ctx context.Context, relpath, rev string) (bool, error) {
	m, err := d.manifest(ctx, rev)
	if err != nil || m == nil {
		return false, err
	}
	return m.isDir(relpath), nil
}

// ListDir implements Adapter.
func (d *Darcs) ListDir(ctx context.Context, relpath, rev string) ([]string, error) {
	m, err := d.manifest(ctx, rev)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	return m.list(relpath, rev)
}

// Commit implements Adapter. darcs has no empty patches so allowEmpty has
// no effect.
func (d *Darcs) Commit(ctx context.Context, file, author string, _ bool) (string, error) {
	res, err := d.invoke(ctx, []int{0, 1}, "record", "--all", "--author", author, "--logfile", file)
	if err != nil {
		return "", err
	}
	if strings.Contains(string(res.stdout)+string(res.stderr), "No changes!") {
		return "", storage.ErrEmptyCommit
	}
	if res.status != 0 {
		return "", &CommandError{Args: []string{d.name, "record"}, Dir: d.repo, Status: res.status, Stdout: string(res.stdout), Stderr: string(res.stderr)}
	}
	revs, err := d.revisions(ctx)
	if err != nil {
		return "", err
	}
	if len(revs) == 0 {
		return "", errors.New("darcs recorded no patch")
	}
	return revs[len(revs)-1], nil
}

// changelog is the output of "darcs changes --xml-output".
type changelog struct {
	Patches []struct {
		Hash string `xml:"hash,attr"`
	} `xml:"patch"`
}

// parseChangelog returns the patch hashes, oldest first.
func parseChangelog(data []byte) ([]string, error) {
	var c changelog
	if err := xml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse darcs changes: %w", err)
	}
	revs := make([]string, 0, len(c.Patches))
	for _, p := range slices.Backward(c.Patches) {
		revs = append(revs, p.Hash)
	}
	return revs, nil
}

func (d *Darcs) revisions(ctx context.Context) ([]string, error) {
	res, err := d.invoke(ctx, nil, "changes", "--xml-output")
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(res.stdout)) == 0 {
		return nil, nil
	}
	return parseChangelog(res.stdout)
}

// RevisionID implements Adapter.
func (d *Darcs) RevisionID(ctx context.Context, index int) (string, error) {
	revs, err := d.revisions(ctx)
	if err != nil {
		return "", err
	}
	return resolveRevision(revs, index)
}

// UserID implements Adapter. darcs reads the author from the repository
// preferences, then from the environment.
func (d *Darcs) UserID(context.Context) (string, bool) {
	if f, err := os.Open(d.abs("_darcs/prefs/author")); err == nil {
		defer func() { _ = f.Close() }()
		s := bufio.NewScanner(f)
		for s.Scan() {
			if l := strings.TrimSpace(s.Text()); l != "" && !strings.HasPrefix(l, "#") {
				return l, true
			}
		}
	}
	if v := os.Getenv("DARCS_EMAIL"); v != "" {
		return v, true
	}
	return "", false
}
