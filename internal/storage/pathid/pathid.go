// Package pathid maps storage identifiers to paths in a spacer-directory
// tree and keeps a persistent cache of that mapping.
//
// # Layout
//
// Objects live in directories separated by fixed spacer names. With the
// default spacers, a bug b owned by bugdir d is stored at
//
//	.be/d/bugs/b
//
// and a comment c owned by b at .be/d/bugs/b/comments/c. Every object id is
// a single path segment; data owned by an object is addressed by compound
// ids such as "b/values", which map to files inside the object directory.
//
// # Cache
//
// Resolving an object id by walking the tree is O(objects), so Cache keeps
// an id to relative path map in the tab-separated file .be/id-cache. The
// cache is a projection of the filesystem: Scan rebuilds it from scratch,
// and a miss triggers a merging rescan before failing.
package pathid

import (
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

const (
	// CacheFile is the name of the cache file inside the top spacer.
	CacheFile = storage.IDCacheFile
	// VersionFile is the name of the storage format marker inside the top
	// spacer.
	VersionFile = storage.VersionFile
)

// ErrInvalidPath is returned for paths outside the spacer tree.
var ErrInvalidPath = fmt.Errorf("path outside the storage tree: %w", storage.ErrInvalidID)

// DefaultSpacers returns the spacer names, outermost first.
func DefaultSpacers() []string {
	return storage.Spacers()
}

// Reserved reports whether name is a bookkeeping file of the top spacer.
func Reserved(name string) bool {
	return name == CacheFile || name == VersionFile
}

// Interleave returns the slash-separated relative path of a chain of
// object ids, outermost first: Interleave(s, "A", "B") is
// "<s0>/A/<s1>/B".
func Interleave(spacers []string, ids ...string) (string, error) {
	if len(ids) == 0 || len(ids) > len(spacers) {
		return "", fmt.Errorf("%d segments for %d spacers: %w", len(ids), len(spacers), storage.ErrInvalidID)
	}
	parts := make([]string, 0, 2*len(ids))
	for i, id := range ids {
		if id == "" || strings.Contains(id, "/") {
			return "", fmt.Errorf("segment %q: %w", id, storage.ErrInvalidID)
		}
		if slices.Contains(spacers, id) || i == 0 && Reserved(id) {
			return "", fmt.Errorf("segment %q: %w", id, storage.ErrSpacerCollision)
		}
		parts = append(parts, spacers[i], id)
	}
	return strings.Join(parts, "/"), nil
}

// ParseID returns the id stored at rel, a slash-separated path relative to
// the storage root. It is the inverse of Interleave plus any trailing data
// segments.
func ParseID(spacers []string, rel string) (string, error) {
	rel = path.Clean(rel)
	segs := strings.Split(rel, "/")
	if len(segs) < 2 || segs[0] != spacers[0] {
		return "", fmt.Errorf("%q: %w", rel, ErrInvalidPath)
	}
	if len(segs) == 2 && Reserved(segs[1]) {
		return "", fmt.Errorf("%q: %w", rel, ErrInvalidPath)
	}
	i, level := 1, 0
	for i+2 < len(segs) && level+1 < len(spacers) && segs[i+1] == spacers[level+1] {
		i += 2
		level++
	}
	id := segs[i:]
	for _, s := range id {
		if slices.Contains(spacers, s) {
			return "", fmt.Errorf("%q: %w", rel, storage.ErrSpacerCollision)
		}
	}
	return strings.Join(id, "/"), nil
}

// SplitID separates an id into its object segment and the data path under
// it.
func SplitID(id string) (object, rest string) {
	object, rest, _ = strings.Cut(id, "/")
	return object, rest
}

// Ancestors returns the ids of the objects and data directories above
// rel, nearest first. Spacer directories are skipped.
func Ancestors(spacers []string, rel string) []string {
	var out []string
	for p := path.Dir(path.Clean(rel)); p != "." && p != spacers[0]; p = path.Dir(p) {
		if slices.Contains(spacers, path.Base(p)) {
			continue
		}
		id, err := ParseID(spacers, p)
		if err != nil {
			break
		}
		out = append(out, id)
	}
	return out
}

// toSlash converts an OS path relative to root into a slash path.
func toSlash(root, p string) (string, error) {
	if filepath.IsAbs(p) {
		r, err := filepath.Rel(root, p)
		if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%q not under %q: %w", p, root, ErrInvalidPath)
		}
		p = r
	}
	return filepath.ToSlash(p), nil
}
