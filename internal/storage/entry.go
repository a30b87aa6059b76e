// Implements the in-memory entry tree.

package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// RootID names the synthetic root entry of every Tree. It is never reported
// by Ancestors or Children.
const RootID = "__ROOT__"

// Entry is a single id-addressed node of a Tree.
//
// A non-directory entry never has children. A directory entry carries no
// value.
type Entry struct {
	ID        string
	Directory bool

	value    []byte
	hasValue bool
	parent   *Entry
	children []*Entry
}

// Value returns the entry's value and whether it was ever set.
func (e *Entry) Value() ([]byte, bool) {
	return e.value, e.hasValue
}

// SetValue replaces the entry's value.
func (e *Entry) SetValue(v []byte) {
	e.value = slices.Clone(v)
	e.hasValue = true
}

// Parent returns the owning entry, nil for the root.
func (e *Entry) Parent() *Entry {
	return e.parent
}

// Children returns the entry's children in insertion order.
func (e *Entry) Children() []*Entry {
	return e.children
}

// AddChild attaches c as the last child of e.
func (e *Entry) AddChild(c *Entry) error {
	if !e.Directory {
		return fmt.Errorf("%q cannot have children: %w", e.ID, ErrInvalidDirectory)
	}
	c.parent = e
	e.children = append(e.children, c)
	return nil
}

// Remove detaches e from its parent. A directory must be empty.
func (e *Entry) Remove() error {
	if e.Directory && len(e.children) > 0 {
		return fmt.Errorf("%q: %w", e.ID, ErrDirectoryNotEmpty)
	}
	if p := e.parent; p != nil {
		p.children = slices.DeleteFunc(p.children, func(c *Entry) bool { return c == e })
		e.parent = nil
	}
	return nil
}

// Walk calls fn for e and every descendant, depth first, parents before
// children. Returning an error stops the walk.
func (e *Entry) Walk(fn func(*Entry) error) error {
	if err := fn(e); err != nil {
		return err
	}
	for _, c := range e.children {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// Tree is an id-indexed entry hierarchy. The zero value is not usable; use
// NewTree.
type Tree struct {
	root  *Entry
	index map[string]*Entry
}

// NewTree returns a tree holding only the synthetic root.
func NewTree() *Tree {
	root := &Entry{ID: RootID, Directory: true}
	return &Tree{root: root, index: map[string]*Entry{RootID: root}}
}

// Root returns the synthetic root entry.
func (t *Tree) Root() *Entry {
	return t.root
}

// Len returns the number of entries, root excluded.
func (t *Tree) Len() int {
	return len(t.index) - 1
}

// Lookup returns the entry for id.
func (t *Tree) Lookup(id string) (*Entry, bool) {
	if id == RootID {
		return nil, false
	}
	e, ok := t.index[id]
	return e, ok
}

// Add creates an entry under parent, or under the root when parent is empty.
// Adding an existing id is a no-op.
func (t *Tree) Add(id, parent string, directory bool) error {
	if id == "" || id == RootID {
		return fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	if _, ok := t.index[id]; ok {
		return nil
	}
	p := t.root
	if parent != "" {
		var ok bool
		if p, ok = t.Lookup(parent); !ok {
			return fmt.Errorf("parent %q does not exist: %w", parent, ErrInvalidDirectory)
		}
	}
	e := &Entry{ID: id, Directory: directory}
	if err := p.AddChild(e); err != nil {
		return err
	}
	t.index[id] = e
	return nil
}

// Remove deletes a single entry.
func (t *Tree) Remove(id string) error {
	e, ok := t.Lookup(id)
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	if err := e.Remove(); err != nil {
		return err
	}
	delete(t.index, id)
	return nil
}

// RecursiveRemove deletes an entry and all its descendants, leaves first.
func (t *Tree) RecursiveRemove(id string) error {
	e, ok := t.Lookup(id)
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	var order []*Entry
	_ = e.Walk(func(d *Entry) error {
		order = append(order, d)
		return nil
	})
	for _, d := range slices.Backward(order) {
		if err := d.Remove(); err != nil {
			return err
		}
		delete(t.index, d.ID)
	}
	return nil
}

// Get returns the value of id. Unset or empty values and directories read
// as absent.
func (t *Tree) Get(id string) ([]byte, error) {
	e, ok := t.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	v, set := e.Value()
	if e.Directory || !set || len(v) == 0 {
		return nil, fmt.Errorf("%q has no value: %w", id, ErrInvalidID)
	}
	return v, nil
}

// Set replaces the value of id.
func (t *Tree) Set(id string, value []byte) error {
	e, ok := t.Lookup(id)
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	if e.Directory {
		return fmt.Errorf("directory %q cannot have data: %w", id, ErrInvalidDirectory)
	}
	e.SetValue(value)
	return nil
}

// Ancestors returns the ids above id, nearest first.
func (t *Tree) Ancestors(id string) ([]string, error) {
	e, ok := t.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	var out []string
	for p := e.parent; p != nil && p != t.root; p = p.parent {
		out = append(out, p.ID)
	}
	return out, nil
}

// Children returns the ids of the children of id, or of the root when id is
// empty.
func (t *Tree) Children(id string) ([]string, error) {
	e := t.root
	if id != "" {
		var ok bool
		if e, ok = t.Lookup(id); !ok {
			return nil, fmt.Errorf("%q: %w", id, ErrInvalidID)
		}
	}
	out := make([]string, 0, len(e.children))
	for _, c := range e.children {
		out = append(out, c.ID)
	}
	return out, nil
}

// Clone returns a deep copy of t.
func (t *Tree) Clone() *Tree {
	n := NewTree()
	var cp func(dst, src *Entry)
	cp = func(dst, src *Entry) {
		for _, c := range src.children {
			d := &Entry{ID: c.ID, Directory: c.Directory, value: slices.Clone(c.value), hasValue: c.hasValue, parent: dst}
			dst.children = append(dst.children, d)
			n.index[d.ID] = d
			cp(d, c)
		}
	}
	cp(n.root, t.root)
	return n
}

// Equal reports whether both trees hold the same entries with the same
// parents, kinds and values. Child order is ignored.
func (t *Tree) Equal(o *Tree) bool {
	if len(t.index) != len(o.index) {
		return false
	}
	for id, e := range t.index {
		if id == RootID {
			continue
		}
		f, ok := o.index[id]
		if !ok || !sameEntry(e, f) || e.parent.ID != f.parent.ID {
			return false
		}
	}
	return true
}

func sameEntry(a, b *Entry) bool {
	return a.Directory == b.Directory && a.hasValue == b.hasValue && bytes.Equal(a.value, b.value)
}

// DiffTrees classifies the ids of newer relative to older.
func DiffTrees(older, newer *Tree) *Changes {
	c := &Changes{}
	for id, e := range older.index {
		if id == RootID {
			continue
		}
		n, ok := newer.index[id]
		switch {
		case !ok:
			c.Removed = append(c.Removed, id)
		case !sameEntry(e, n):
			c.Modified = append(c.Modified, id)
		}
	}
	for id := range newer.index {
		if _, ok := older.index[id]; !ok {
			c.New = append(c.New, id)
		}
	}
	c.sort()
	return c
}

// record is the serialized form of one entry.
type record struct {
	ID        string `json:"id"`
	Parent    string `json:"parent,omitempty"`
	Directory bool   `json:"dir,omitempty"`
	Value     []byte `json:"value,omitempty"`
	HasValue  bool   `json:"set,omitempty"`
}

// MarshalJSON encodes the tree as a flat list of entries, parents first.
func (t *Tree) MarshalJSON() ([]byte, error) {
	var recs []record
	_ = t.root.Walk(func(e *Entry) error {
		if e == t.root {
			return nil
		}
		r := record{ID: e.ID, Directory: e.Directory, Value: e.value, HasValue: e.hasValue}
		if e.parent != t.root {
			r.Parent = e.parent.ID
		}
		recs = append(recs, r)
		return nil
	})
	if recs == nil {
		recs = []record{}
	}
	return json.Marshal(recs)
}

// UnmarshalJSON decodes the output of MarshalJSON.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var recs []record
	if err := json.Unmarshal(data, &recs); err != nil {
		return err
	}
	n := NewTree()
	for _, r := range recs {
		if err := n.Add(r.ID, r.Parent, r.Directory); err != nil {
			return fmt.Errorf("entry %q: %w", r.ID, err)
		}
		if r.HasValue {
			n.index[r.ID].SetValue(r.Value)
		}
	}
	*t = *n
	return nil
}
