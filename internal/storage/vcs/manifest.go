// Answers directory queries from a flat list of files at a revision.

package vcs

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

// manifest is the set of files and directories tracked at one revision,
// for tools which only print flat file lists.
type manifest struct {
	files map[string]bool
	dirs  map[string][]string
}

func newManifest(files, dirs []string) *manifest {
	m := &manifest{files: map[string]bool{}, dirs: map[string][]string{"": nil}}
	for _, d := range dirs {
		m.addDir(strings.Trim(d, "/"))
	}
	for _, f := range files {
		f = strings.Trim(f, "/")
		if f == "" {
			continue
		}
		m.files[f] = true
		m.addDir(path.Dir(f))
		m.link(f)
	}
	for d := range m.dirs {
		slices.Sort(m.dirs[d])
		m.dirs[d] = slices.Compact(m.dirs[d])
	}
	return m
}

func (m *manifest) addDir(d string) {
	if d == "." || d == "" {
		return
	}
	if _, ok := m.dirs[d]; ok {
		return
	}
	m.dirs[d] = nil
	m.addDir(path.Dir(d))
	m.link(d)
}

func (m *manifest) link(p string) {
	parent := path.Dir(p)
	if parent == "." {
		parent = ""
	}
	m.dirs[parent] = append(m.dirs[parent], path.Base(p))
}

func (m *manifest) isDir(relpath string) bool {
	_, ok := m.dirs[relpath]
	return ok
}

func (m *manifest) list(relpath, rev string) ([]string, error) {
	names, ok := m.dirs[relpath]
	if !ok {
		return nil, fmt.Errorf("%s at %s: %w", relpath, rev, storage.ErrInvalidID)
	}
	return slices.Clone(names), nil
}

// manifestCache keeps the manifests of immutable revisions.
type manifestCache map[string]*manifest

func (c *manifestCache) get(rev string, load func() (*manifest, error)) (*manifest, error) {
	if m, ok := (*c)[rev]; ok {
		return m, nil
	}
	m, err := load()
	if err != nil || m == nil {
		return m, err
	}
	if *c == nil {
		*c = manifestCache{}
	}
	(*c)[rev] = m
	return m, nil
}
