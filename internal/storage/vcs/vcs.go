// Package vcs stores entries as files in a working copy managed by a
// version control tool.
//
// # Layout
//
// Entries live under the .be directory of the repository root, laid out by
// package pathid. Storage implements storage.VersionedDriver once on top of
// the Adapter primitives; each backend (git, hg, bzr, ...) only knows how
// to add, remove and read files and how to commit.
//
// The working state is read straight from disk through the id cache.
// Historical reads never touch the cache: they walk the tree at the
// requested revision through Adapter.ListDir and Adapter.IsDir.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aaiyer/bugseverywhere-sub000/internal/identity"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage/pathid"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage/upgrade"
	"github.com/natefinch/atomic"
)

// Adapter is the set of primitives a version control backend provides.
//
// Paths are slash-separated and relative to the repository root. A
// non-empty rev names a revision returned by RevisionID or Commit.
type Adapter interface {
	// Name is the backend name, e.g. "git".
	Name() string
	// Client is the executable run, "" for native backends.
	Client() string
	// Versioned reports whether the backend keeps history.
	Versioned() bool
	// Version probes the tool and reports whether it is usable.
	Version(ctx context.Context) (string, bool)
	// Detect reports whether path is inside a working copy.
	Detect(ctx context.Context, path string) bool
	// Root returns the working copy root containing path.
	Root(ctx context.Context, path string) (string, error)
	// Init creates a working copy at path.
	Init(ctx context.Context, path string) error
	// Destroy removes the tool metadata created by Init.
	Destroy(ctx context.Context) error

	Add(ctx context.Context, relpath string) error
	// Remove untracks relpath. It may delete relpath itself but never the
	// directories above it, which the caller still owns.
	Remove(ctx context.Context, relpath string) error
	Update(ctx context.Context, relpath string) error

	// FileContents returns a file at rev; a missing file wraps
	// storage.ErrInvalidID.
	FileContents(ctx context.Context, relpath, rev string) ([]byte, error)
	// IsDir reports whether relpath is a directory at rev. relpath ""
	// is the root, which exists at every valid revision.
	IsDir(ctx context.Context, relpath, rev string) (bool, error)
	// ListDir returns the base names in relpath at rev; a missing
	// directory wraps storage.ErrInvalidID.
	ListDir(ctx context.Context, relpath, rev string) ([]string, error)

	// Commit records the working copy with the message in file.
	Commit(ctx context.Context, file, author string, allowEmpty bool) (string, error)
	RevisionID(ctx context.Context, index int) (string, error)
	// UserID returns the user configured in the tool.
	UserID(ctx context.Context) (string, bool)

	setRepo(repo string)
}

// change is one file differing between a revision and the working copy.
type change struct {
	// kind is 'A' (added), 'M' (modified) or 'D' (deleted).
	kind byte
	path string
}

// changeLister is implemented by adapters with a native status command.
type changeLister interface {
	changes(ctx context.Context, rev string) ([]change, error)
}

// Storage implements storage.VersionedDriver over an Adapter.
//
// It is not safe for concurrent use.
type Storage struct {
	// Identity resolves commit authors. Its Override is typically the
	// configured user id.
	Identity identity.Resolver

	adapter Adapter
	path    string
	root    string
	cache   *pathid.Cache
	spacers []string
	chain   *upgrade.Chain
	// created is set when Init created the working copy.
	created bool
}

// New returns a storage for the working copy containing path.
func New(a Adapter, path string) *Storage {
	c := pathid.New()
	return &Storage{
		adapter: a,
		path:    path,
		cache:   c,
		spacers: c.Spacers(),
		chain:   upgrade.Default(),
	}
}

// Adapter returns the backend.
func (s *Storage) Adapter() Adapter {
	return s.adapter
}

// RootDir returns the working copy root, "" before Init or Connect.
func (s *Storage) RootDir() string {
	return s.root
}

// Cache returns the id cache.
func (s *Storage) Cache() *pathid.Cache {
	return s.cache
}

// Name implements storage.Driver.
func (s *Storage) Name() string {
	return s.adapter.Name()
}

// Version implements storage.Driver.
func (s *Storage) Version(ctx context.Context) string {
	v, _ := s.adapter.Version(ctx)
	return v
}

// Versioned implements storage.VersionedDriver.
func (s *Storage) Versioned() bool {
	return s.adapter.Versioned()
}

func (s *Storage) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func (s *Storage) top() string {
	return s.spacers[0]
}

func (s *Storage) versionFile() string {
	return s.top() + "/" + pathid.VersionFile
}

func (s *Storage) rootAt(ctx context.Context) error {
	if fi, err := os.Stat(s.path); err != nil || !fi.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", s.path, storage.ErrConnection)
	}
	root, err := s.adapter.Root(ctx, s.path)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", s.path, storage.ErrConnection, err)
	}
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	s.root = root
	s.adapter.setRepo(root)
	s.cache.Root(root)
	return nil
}

// Init implements storage.Driver.
func (s *Storage) Init(ctx context.Context) error {
	if fi, err := os.Stat(s.path); err != nil || !fi.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", s.path, storage.ErrConnection)
	}
	if !s.adapter.Detect(ctx, s.path) {
		if err := s.adapter.Init(ctx, s.path); err != nil {
			return fmt.Errorf("failed to create %s working copy: %w", s.adapter.Name(), err)
		}
		s.created = true
	}
	if err := s.rootAt(ctx); err != nil {
		return err
	}
	top := s.abs(s.top())
	if _, err := os.Stat(top); err == nil {
		return fmt.Errorf("%s already exists: %w", top, storage.ErrConnection)
	}
	if err := os.Mkdir(top, 0o755); err != nil {
		return err
	}
	if err := s.adapter.Add(ctx, s.top()); err != nil {
		return err
	}
	if err := os.WriteFile(s.abs(s.versionFile()), []byte(storage.FormatVersion+"\n"), 0o644); err != nil {
		return err
	}
	if err := s.adapter.Add(ctx, s.versionFile()); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Initialized storage", "vcs", s.adapter.Name(), "root", s.root)
	return s.cache.Init(ctx)
}

// Destroy implements storage.Driver. The working copy itself is only
// removed when Init created it.
func (s *Storage) Destroy(ctx context.Context) error {
	if s.root == "" {
		if err := s.rootAt(ctx); err != nil {
			return err
		}
	}
	if s.created {
		if err := s.adapter.Destroy(ctx); err != nil {
			return err
		}
		s.created = false
	}
	if err := s.cache.Destroy(); err != nil {
		return err
	}
	return os.RemoveAll(s.abs(s.top()))
}

// Connect implements storage.Driver. An older tree is upgraded in place.
func (s *Storage) Connect(ctx context.Context) error {
	if err := s.rootAt(ctx); err != nil {
		return err
	}
	if fi, err := os.Stat(s.abs(s.top())); err != nil || !fi.IsDir() {
		return fmt.Errorf("no %s in %s: %w", s.top(), s.root, storage.ErrConnection)
	}
	v, err := s.StorageVersion(ctx, "")
	if err != nil {
		return err
	}
	if v == storage.FormatVersion {
		return s.cache.Connect(ctx)
	}
	if !s.chain.Known(v) {
		return fmt.Errorf("%s records %q: %w", s.root, v, storage.ErrInvalidStorageVersion)
	}
	r := &upgrade.Repo{Root: s.root, Tracker: tracker{s}}
	if err := s.chain.Upgrade(ctx, r, v, storage.FormatVersion); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidStorageVersion, err)
	}
	// The layout may have changed under the cache.
	return s.cache.Init(ctx)
}

// Disconnect implements storage.Driver.
func (s *Storage) Disconnect(ctx context.Context) error {
	return s.cache.Disconnect(ctx)
}

// checkParent verifies that parent exists in the working copy as a
// directory.
func (s *Storage) checkParent(ctx context.Context, parent string) error {
	rel, err := s.cache.Path(ctx, parent, false)
	if err != nil {
		if errors.Is(err, storage.ErrConnection) {
			return err
		}
		return fmt.Errorf("parent %q: %w", parent, storage.ErrInvalidDirectory)
	}
	if fi, err := os.Stat(s.abs(rel)); err != nil || !fi.IsDir() {
		return fmt.Errorf("parent %q: %w", parent, storage.ErrInvalidDirectory)
	}
	return nil
}

// mkdirs creates the missing directories of dir, top down, and tracks
// them.
func (s *Storage) mkdirs(ctx context.Context, dir string) error {
	var missing []string
	for d := dir; d != "." && d != s.top(); d = path.Dir(d) {
		if _, err := os.Stat(s.abs(d)); err == nil {
			break
		}
		missing = append(missing, d)
	}
	for _, d := range slices.Backward(missing) {
		if err := os.Mkdir(s.abs(d), 0o755); err != nil {
			return err
		}
		if err := s.adapter.Add(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// Add implements storage.Driver. An id containing a slash without an
// explicit parent is owned by the id before its last slash.
func (s *Storage) Add(ctx context.Context, id string, opts storage.AddOptions) error {
	parent := opts.Parent
	object, rest := pathid.SplitID(id)
	if parent == "" && rest != "" {
		parent = path.Dir(id)
	}
	if parent != "" {
		if err := s.checkParent(ctx, parent); err != nil {
			return err
		}
	}
	var rel string
	var err error
	if rest == "" {
		rel, err = s.cache.AddID(ctx, object, parent)
	} else {
		rel, err = s.cache.Path(ctx, id, false)
	}
	if err != nil {
		return err
	}
	if err := s.create(ctx, rel, opts.Directory); err != nil {
		if rest == "" {
			s.cache.RemoveID(object)
		}
		return err
	}
	return nil
}

func (s *Storage) create(ctx context.Context, rel string, dir bool) error {
	if err := s.mkdirs(ctx, path.Dir(rel)); err != nil {
		return err
	}
	if dir {
		if err := os.Mkdir(s.abs(rel), 0o755); err != nil {
			return err
		}
	} else if err := os.WriteFile(s.abs(rel), nil, 0o644); err != nil {
		return err
	}
	return s.adapter.Add(ctx, rel)
}

// locate returns the path of an existing id at rev.
func (s *Storage) locate(ctx context.Context, id, rev string) (string, error) {
	if rev != "" {
		rel, ok, err := s.findAt(ctx, id, rev)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%q at %s: %w", id, rev, storage.ErrInvalidID)
		}
		return rel, nil
	}
	rel, err := s.cache.Path(ctx, id, false)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(s.abs(rel)); err != nil {
		return "", fmt.Errorf("%q: %w", id, storage.ErrInvalidID)
	}
	return rel, nil
}

// Exists implements storage.Driver.
func (s *Storage) Exists(ctx context.Context, id, rev string) (bool, error) {
	if rev != "" {
		_, ok, err := s.findAt(ctx, id, rev)
		return ok, err
	}
	_, err := s.locate(ctx, id, "")
	if errors.Is(err, storage.ErrInvalidID) {
		return false, nil
	}
	return err == nil, err
}

func visible(entries []os.DirEntry) []os.DirEntry {
	return slices.DeleteFunc(entries, func(e os.DirEntry) bool {
		return strings.HasPrefix(e.Name(), ".")
	})
}

// Remove implements storage.Driver. Empty spacer directories do not count
// as children.
func (s *Storage) Remove(ctx context.Context, id string) error {
	rel, err := s.locate(ctx, id, "")
	if err != nil {
		return err
	}
	abs := s.abs(rel)
	fi, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return err
		}
		var spacers []string
		for _, e := range visible(entries) {
			if e.IsDir() && slices.Contains(s.spacers, e.Name()) {
				sub, err := os.ReadDir(filepath.Join(abs, e.Name()))
				if err != nil {
					return err
				}
				if len(visible(sub)) == 0 {
					spacers = append(spacers, e.Name())
					continue
				}
			}
			return fmt.Errorf("%q: %w", id, storage.ErrDirectoryNotEmpty)
		}
		for _, sp := range spacers {
			if err := s.adapter.Remove(ctx, rel+"/"+sp); err != nil {
				return err
			}
			if err := os.RemoveAll(filepath.Join(abs, sp)); err != nil {
				return err
			}
		}
	}
	if err := s.adapter.Remove(ctx, rel); err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil {
		return err
	}
	if object, rest := pathid.SplitID(id); rest == "" {
		s.cache.RemoveID(object)
	}
	return nil
}

// RecursiveRemove implements storage.Driver.
func (s *Storage) RecursiveRemove(ctx context.Context, id string) error {
	rel, err := s.locate(ctx, id, "")
	if err != nil {
		return err
	}
	abs := s.abs(rel)
	var paths []string
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != abs && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		r, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(r))
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range slices.Backward(paths) {
		if err := s.adapter.Remove(ctx, p); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(abs); err != nil {
		return err
	}
	s.cache.RemoveTree(rel)
	return nil
}

// Ancestors implements storage.Driver.
func (s *Storage) Ancestors(ctx context.Context, id, rev string) ([]string, error) {
	rel, err := s.locate(ctx, id, rev)
	if err != nil {
		return nil, err
	}
	return pathid.Ancestors(s.spacers, rel), nil
}

// isDir and list read the working copy for rev "" and the adapter
// otherwise.
func (s *Storage) isDir(ctx context.Context, rel, rev string) (bool, error) {
	if rev != "" {
		return s.adapter.IsDir(ctx, rel, rev)
	}
	fi, err := os.Stat(s.abs(rel))
	return err == nil && fi.IsDir(), nil
}

func (s *Storage) list(ctx context.Context, rel, rev string) ([]string, error) {
	if rev != "" {
		return s.adapter.ListDir(ctx, rel, rev)
	}
	entries, err := os.ReadDir(s.abs(rel))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rel, storage.ErrInvalidID)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Children implements storage.Driver. Spacer directories are transparent.
func (s *Storage) Children(ctx context.Context, id, rev string) ([]string, error) {
	if rev != "" {
		if err := s.checkRevision(ctx, rev); err != nil {
			return nil, err
		}
	}
	dir := s.top()
	if id != "" {
		var err error
		if dir, err = s.locate(ctx, id, rev); err != nil {
			return nil, err
		}
	}
	ok, err := s.isDir(ctx, dir, rev)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%q is not a directory: %w", id, storage.ErrInvalidID)
	}
	names, err := s.list(ctx, dir, rev)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, ".") || (dir == s.top() && pathid.Reserved(n)) {
			continue
		}
		p := dir + "/" + n
		if slices.Contains(s.spacers, n) {
			if ok, err := s.isDir(ctx, p, rev); err == nil && ok {
				sub, err := s.list(ctx, p, rev)
				if err != nil {
					return nil, err
				}
				for _, m := range sub {
					if strings.HasPrefix(m, ".") {
						continue
					}
					if cid, err := pathid.ParseID(s.spacers, p+"/"+m); err == nil {
						out = append(out, cid)
					}
				}
				continue
			}
		}
		if cid, err := pathid.ParseID(s.spacers, p); err == nil {
			out = append(out, cid)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Get implements storage.Driver.
func (s *Storage) Get(ctx context.Context, id, rev string) ([]byte, error) {
	rel, err := s.locate(ctx, id, rev)
	if err != nil {
		return nil, err
	}
	dir, err := s.isDir(ctx, rel, rev)
	if err != nil {
		return nil, err
	}
	if dir {
		return nil, fmt.Errorf("%q is a directory: %w", id, storage.ErrInvalidID)
	}
	var data []byte
	if rev == "" {
		data, err = os.ReadFile(s.abs(rel))
	} else {
		data, err = s.adapter.FileContents(ctx, rel, rev)
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%q has no value: %w", id, storage.ErrInvalidID)
	}
	return data, nil
}

// Set implements storage.Driver.
func (s *Storage) Set(ctx context.Context, id string, value []byte) error {
	rel, err := s.locate(ctx, id, "")
	if err != nil {
		return err
	}
	abs := s.abs(rel)
	if fi, err := os.Stat(abs); err != nil {
		return fmt.Errorf("%q: %w", id, storage.ErrInvalidID)
	} else if fi.IsDir() {
		return fmt.Errorf("%q: %w", id, storage.ErrInvalidDirectory)
	}
	if err := atomic.WriteFile(abs, bytes.NewReader(value)); err != nil {
		return fmt.Errorf("failed to write %q: %w", id, err)
	}
	return s.adapter.Update(ctx, rel)
}

// StorageVersion implements storage.Driver.
func (s *Storage) StorageVersion(ctx context.Context, rev string) (string, error) {
	if s.root == "" {
		return "", fmt.Errorf("storage not rooted: %w", storage.ErrConnection)
	}
	var raw []byte
	var err error
	if rev == "" {
		raw, err = os.ReadFile(s.abs(s.versionFile()))
	} else {
		raw, err = s.adapter.FileContents(ctx, s.versionFile(), rev)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read format version: %w: %w", storage.ErrConnection, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// Commit implements storage.VersionedDriver.
func (s *Storage) Commit(ctx context.Context, summary, body string, allowEmpty bool) (string, error) {
	if !s.adapter.Versioned() {
		return "", fmt.Errorf("%s: %w", s.adapter.Name(), storage.ErrNotVersioned)
	}
	msg := strings.TrimSpace(summary) + "\n"
	if b := strings.TrimSpace(body); b != "" {
		msg += "\n" + b + "\n"
	}
	f, err := os.CreateTemp("", "be-commit-*.txt")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(f.Name()) }()
	if _, err := f.WriteString(msg); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	author := s.Identity.Resolve(ctx, s.adapter)
	rev, err := s.adapter.Commit(ctx, f.Name(), author, allowEmpty)
	if err != nil {
		return "", err
	}
	slog.DebugContext(ctx, "Committed", "vcs", s.adapter.Name(), "revision", rev)
	return rev, nil
}

// RevisionID implements storage.VersionedDriver.
func (s *Storage) RevisionID(ctx context.Context, index int) (string, error) {
	if !s.adapter.Versioned() {
		return "", fmt.Errorf("%s: %w", s.adapter.Name(), storage.ErrNotVersioned)
	}
	return s.adapter.RevisionID(ctx, index)
}

// Changed implements storage.VersionedDriver.
func (s *Storage) Changed(ctx context.Context, rev string) (*storage.Changes, error) {
	if !s.adapter.Versioned() {
		return nil, fmt.Errorf("%s: %w", s.adapter.Name(), storage.ErrNotVersioned)
	}
	if rev == "" {
		return nil, fmt.Errorf("empty revision: %w", storage.ErrInvalidRevision)
	}
	if err := s.checkRevision(ctx, rev); err != nil {
		return nil, err
	}
	var chs []change
	var err error
	if cl, ok := s.adapter.(changeLister); ok {
		chs, err = cl.changes(ctx, rev)
	} else {
		chs, err = s.manifestDiff(ctx, rev)
	}
	if err != nil {
		return nil, err
	}
	out := &storage.Changes{}
	for _, c := range chs {
		id, err := s.cache.ID(c.path)
		if err != nil {
			continue
		}
		switch c.kind {
		case 'A':
			out.New = append(out.New, id)
		case 'M':
			out.Modified = append(out.Modified, id)
		case 'D':
			out.Removed = append(out.Removed, id)
		}
	}
	return out, nil
}

func (s *Storage) checkRevision(ctx context.Context, rev string) error {
	ok, err := s.adapter.IsDir(ctx, "", rev)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	return nil
}

// findAt locates id at rev without the cache.
func (s *Storage) findAt(ctx context.Context, id, rev string) (string, bool, error) {
	if err := s.checkRevision(ctx, rev); err != nil {
		return "", false, err
	}
	object, rest := pathid.SplitID(id)
	p, err := s.searchAt(ctx, s.top(), 0, object, rev)
	if err != nil || p == "" {
		return "", false, err
	}
	if rest == "" {
		return p, true, nil
	}
	p = path.Join(p, rest)
	names, err := s.adapter.ListDir(ctx, path.Dir(p), rev)
	if errors.Is(err, storage.ErrInvalidID) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return p, slices.Contains(names, path.Base(p)), nil
}

// searchAt looks for object in dir, which sits at spacer level, then in
// the next spacer directory of every entry.
func (s *Storage) searchAt(ctx context.Context, dir string, level int, object, rev string) (string, error) {
	names, err := s.adapter.ListDir(ctx, dir, rev)
	if errors.Is(err, storage.ErrInvalidID) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if slices.Contains(names, object) {
		return dir + "/" + object, nil
	}
	if level+1 >= len(s.spacers) {
		return "", nil
	}
	for _, n := range names {
		if strings.HasPrefix(n, ".") || (level == 0 && pathid.Reserved(n)) {
			continue
		}
		sub := dir + "/" + n + "/" + s.spacers[level+1]
		ok, err := s.adapter.IsDir(ctx, sub, rev)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		if p, err := s.searchAt(ctx, sub, level+1, object, rev); err != nil || p != "" {
			return p, err
		}
	}
	return "", nil
}

// filesAt lists every file under dir at rev.
func (s *Storage) filesAt(ctx context.Context, dir, rev string) ([]string, error) {
	names, err := s.adapter.ListDir(ctx, dir, rev)
	if errors.Is(err, storage.ErrInvalidID) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, ".") {
			continue
		}
		p := dir + "/" + n
		ok, err := s.adapter.IsDir(ctx, p, rev)
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, p)
			continue
		}
		sub, err := s.filesAt(ctx, p, rev)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// manifestDiff compares every file under the top spacer at rev with the
// working copy.
func (s *Storage) manifestDiff(ctx context.Context, rev string) ([]change, error) {
	old, err := s.filesAt(ctx, s.top(), rev)
	if err != nil {
		return nil, err
	}
	current := map[string]bool{}
	err = filepath.WalkDir(s.abs(s.top()), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && p != s.abs(s.top()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		r, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		current[filepath.ToSlash(r)] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	var out []change
	for _, p := range old {
		if !current[p] {
			out = append(out, change{'D', p})
			continue
		}
		delete(current, p)
		before, err := s.adapter.FileContents(ctx, p, rev)
		if err != nil {
			return nil, err
		}
		after, err := os.ReadFile(s.abs(p))
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(before, after) {
			out = append(out, change{'M', p})
		}
	}
	for p := range current {
		out = append(out, change{'A', p})
	}
	return out, nil
}

// tracker reports upgrade file changes to the adapter.
type tracker struct {
	s *Storage
}

func (t tracker) Add(ctx context.Context, relpath string) error {
	return t.s.adapter.Add(ctx, relpath)
}

func (t tracker) Remove(ctx context.Context, relpath string) error {
	if err := t.s.adapter.Remove(ctx, relpath); err != nil {
		return err
	}
	return os.RemoveAll(t.s.abs(relpath))
}

func (t tracker) Update(ctx context.Context, relpath string) error {
	return t.s.adapter.Update(ctx, relpath)
}
