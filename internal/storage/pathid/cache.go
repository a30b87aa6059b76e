// Implements the persistent id to path cache.

package pathid

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
	"github.com/natefinch/atomic"
)

// Conflict records an id found at more than one path during a scan.
type Conflict struct {
	ID      string
	Kept    string
	Dropped string
}

// ScanResult is the outcome of a full tree walk.
type ScanResult struct {
	// IDs maps object ids to slash-separated paths relative to the root.
	IDs       map[string]string
	Conflicts []Conflict
}

// Scan walks the spacer tree in fsys, rooted at the storage root, and maps
// every object id to its path. Walk order is lexical so the first path
// found for a duplicated id wins deterministically. A missing top spacer
// yields an empty result.
func Scan(fsys fs.FS, spacers []string) (*ScanResult, error) {
	res := &ScanResult{IDs: map[string]string{}}
	err := fs.WalkDir(fsys, spacers[0], func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == spacers[0] && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if p == spacers[0] {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		id, err := ParseID(spacers, p)
		if err != nil || strings.Contains(id, "/") {
			// Spacer directories and data under objects.
			return nil
		}
		if prev, ok := res.IDs[id]; ok {
			res.Conflicts = append(res.Conflicts, Conflict{ID: id, Kept: prev, Dropped: p})
			return nil
		}
		res.IDs[id] = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", spacers[0], err)
	}
	return res, nil
}

// Cache maps object ids to their paths, backed by a tab-separated file.
//
// It is not safe for concurrent use.
type Cache struct {
	spacers []string
	root    string
	ids     map[string]string
	dirty   bool
}

// New returns a cache using spacers, or DefaultSpacers when none are given.
func New(spacers ...string) *Cache {
	if len(spacers) == 0 {
		spacers = DefaultSpacers()
	}
	return &Cache{spacers: spacers}
}

// Spacers returns the spacer names.
func (c *Cache) Spacers() []string {
	return slices.Clone(c.spacers)
}

// Root sets the storage root directory.
func (c *Cache) Root(root string) {
	c.root = root
}

// File returns the cache file path.
func (c *Cache) File() string {
	return filepath.Join(c.root, c.spacers[0], CacheFile)
}

// Dirty reports whether the map differs from the file.
func (c *Cache) Dirty() bool {
	return c.dirty
}

func (c *Cache) scan(ctx context.Context) (*ScanResult, error) {
	res, err := Scan(os.DirFS(c.root), c.spacers)
	if err != nil {
		return nil, err
	}
	for _, cf := range res.Conflicts {
		slog.WarnContext(ctx, "Duplicate id in storage tree", "id", cf.ID, "kept", cf.Kept, "dropped", cf.Dropped)
	}
	return res, nil
}

// Init rebuilds the cache from the tree and writes it.
func (c *Cache) Init(ctx context.Context) error {
	res, err := c.scan(ctx)
	if err != nil {
		return err
	}
	c.ids = res.IDs
	c.dirty = true
	return c.flush()
}

// Connect loads the cache file, building it first when it is absent.
func (c *Cache) Connect(ctx context.Context) error {
	raw, err := os.ReadFile(c.File())
	if errors.Is(err, fs.ErrNotExist) {
		return c.Init(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to read id cache: %w: %w", storage.ErrConnection, err)
	}
	c.ids = map[string]string{}
	c.dirty = false
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		id, p, ok := strings.Cut(line, "\t")
		if !ok || id == "" || p == "" {
			slog.WarnContext(ctx, "Ignoring malformed id cache line", "line", line)
			c.dirty = true
			continue
		}
		c.ids[id] = p
	}
	return sc.Err()
}

// Disconnect writes the cache when it changed and drops the map.
func (c *Cache) Disconnect(context.Context) error {
	if c.ids == nil {
		return nil
	}
	err := c.flush()
	c.ids = nil
	return err
}

func (c *Cache) flush() error {
	if !c.dirty {
		return nil
	}
	var b bytes.Buffer
	for _, id := range slices.Sorted(maps.Keys(c.ids)) {
		fmt.Fprintf(&b, "%s\t%s\n", id, c.ids[id])
	}
	if err := atomic.WriteFile(c.File(), &b); err != nil {
		return fmt.Errorf("failed to write id cache: %w", err)
	}
	c.dirty = false
	return nil
}

// Destroy removes the cache file.
func (c *Cache) Destroy() error {
	c.ids = nil
	c.dirty = false
	if err := os.Remove(c.File()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Reload merges a fresh scan into the map. Entries whose path vanished are
// dropped.
func (c *Cache) Reload(ctx context.Context) error {
	res, err := c.scan(ctx)
	if err != nil {
		return err
	}
	if c.ids == nil {
		c.ids = map[string]string{}
	}
	for id, p := range c.ids {
		if _, err := os.Stat(filepath.Join(c.root, filepath.FromSlash(p))); errors.Is(err, fs.ErrNotExist) {
			delete(c.ids, id)
			c.dirty = true
		}
	}
	c.merge(res)
	return nil
}

func (c *Cache) merge(res *ScanResult) {
	for id, p := range res.IDs {
		if _, ok := c.ids[id]; !ok {
			c.ids[id] = p
			c.dirty = true
		}
	}
}

// lookup resolves an object id, rescanning the tree on a miss.
func (c *Cache) lookup(ctx context.Context, object string) (string, error) {
	if c.ids == nil {
		return "", fmt.Errorf("id cache not connected: %w", storage.ErrConnection)
	}
	if p, ok := c.ids[object]; ok {
		return p, nil
	}
	res, err := c.scan(ctx)
	if err != nil {
		return "", err
	}
	c.merge(res)
	if p, ok := c.ids[object]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%q: %w", object, storage.ErrInvalidID)
}

// Path returns the slash-separated path of id relative to the root. When
// abs is set the result is an absolute OS path instead.
func (c *Cache) Path(ctx context.Context, id string, abs bool) (string, error) {
	object, rest := SplitID(id)
	if object == "" {
		return "", fmt.Errorf("%q: %w", id, storage.ErrInvalidID)
	}
	p, err := c.lookup(ctx, object)
	if err != nil {
		return "", err
	}
	if rest != "" {
		p = path.Join(p, rest)
	}
	if abs {
		return filepath.Join(c.root, filepath.FromSlash(p)), nil
	}
	return p, nil
}

// AddID records a new object id under the object parent, or at the top
// level when parent is empty, and returns its relative path. The path
// interleaves the next spacer after the parent's.
func (c *Cache) AddID(ctx context.Context, id, parent string) (string, error) {
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%q is not an object id: %w", id, storage.ErrInvalidID)
	}
	var chain []string
	if parent != "" {
		if strings.Contains(parent, "/") {
			return "", fmt.Errorf("parent %q is not an object id: %w", parent, storage.ErrInvalidID)
		}
		pp, err := c.lookup(ctx, parent)
		if err != nil {
			return "", err
		}
		if chain = objects(c.spacers, pp); len(chain) >= len(c.spacers) {
			return "", fmt.Errorf("%q nested too deep under %q: %w", id, parent, storage.ErrInvalidID)
		}
	}
	p, err := Interleave(c.spacers, append(chain, id)...)
	if err != nil {
		return "", err
	}
	if c.ids == nil {
		return "", fmt.Errorf("id cache not connected: %w", storage.ErrConnection)
	}
	c.ids[id] = p
	c.dirty = true
	return p, nil
}

// objects returns the object ids of the interleaved path p, outermost
// first.
func objects(spacers []string, p string) []string {
	segs := strings.Split(p, "/")
	var out []string
	for i := 0; i+1 < len(segs) && len(out) < len(spacers) && segs[i] == spacers[len(out)]; i += 2 {
		out = append(out, segs[i+1])
	}
	return out
}

// RemoveID forgets an object id.
func (c *Cache) RemoveID(id string) {
	if _, ok := c.ids[id]; ok {
		delete(c.ids, id)
		c.dirty = true
	}
}

// RemoveTree forgets every object stored at or below the relative path p.
func (c *Cache) RemoveTree(p string) {
	for id, q := range c.ids {
		if q == p || strings.HasPrefix(q, p+"/") {
			delete(c.ids, id)
			c.dirty = true
		}
	}
}

// ID returns the id stored at p, an absolute path or one relative to the
// root.
func (c *Cache) ID(p string) (string, error) {
	rel, err := toSlash(c.root, p)
	if err != nil {
		return "", err
	}
	return ParseID(c.spacers, rel)
}
