package storage

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	tr := NewTree()
	steps := []struct {
		id, parent string
		dir        bool
	}{
		{"bd", "", true},
		{"bd/settings", "bd", false},
		{"bug", "bd", true},
		{"bug/values", "bug", false},
		{"c1", "bug", true},
	}
	for _, s := range steps {
		if err := tr.Add(s.id, s.parent, s.dir); err != nil {
			t.Fatalf("Add(%q) failed: %v", s.id, err)
		}
	}
	return tr
}

func TestTree(t *testing.T) {
	t.Parallel()

	t.Run("AddIdempotent", func(t *testing.T) {
		t.Parallel()
		tr := newTestTree(t)
		n := tr.Len()
		if err := tr.Add("bug", "bd", true); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
		if tr.Len() != n {
			t.Errorf("Len() = %d, want %d", tr.Len(), n)
		}
	})

	t.Run("AddBadParent", func(t *testing.T) {
		t.Parallel()
		tr := newTestTree(t)
		if err := tr.Add("x", "missing", false); !errors.Is(err, ErrInvalidDirectory) {
			t.Errorf("Add(missing parent) = %v, want ErrInvalidDirectory", err)
		}
		if err := tr.Add("x", "bug/values", false); !errors.Is(err, ErrInvalidDirectory) {
			t.Errorf("Add(file parent) = %v, want ErrInvalidDirectory", err)
		}
		if err := tr.Add(RootID, "", true); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Add(root) = %v, want ErrInvalidID", err)
		}
	})

	t.Run("RemoveNonEmpty", func(t *testing.T) {
		t.Parallel()
		tr := newTestTree(t)
		err := tr.Remove("bug")
		if !errors.Is(err, ErrDirectoryNotEmpty) {
			t.Fatalf("Remove() = %v, want ErrDirectoryNotEmpty", err)
		}
		if !errors.Is(err, ErrInvalidDirectory) {
			t.Error("ErrDirectoryNotEmpty should wrap ErrInvalidDirectory")
		}
		if err := tr.RecursiveRemove("bd"); err != nil {
			t.Fatalf("RecursiveRemove() failed: %v", err)
		}
		if tr.Len() != 0 {
			t.Errorf("Len() = %d after recursive remove", tr.Len())
		}
		ids, _ := tr.Children("")
		if len(ids) != 0 {
			t.Errorf("Children() = %v", ids)
		}
	})

	t.Run("GetSet", func(t *testing.T) {
		t.Parallel()
		tr := newTestTree(t)
		if _, err := tr.Get("bug/values"); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Get(unset) = %v, want ErrInvalidID", err)
		}
		if err := tr.Set("bug/values", []byte("v")); err != nil {
			t.Fatal(err)
		}
		got, err := tr.Get("bug/values")
		if err != nil || string(got) != "v" {
			t.Errorf("Get() = %q, %v", got, err)
		}
		if err := tr.Set("bug/values", nil); err != nil {
			t.Fatalf("Set(empty) failed: %v", err)
		}
		if _, err := tr.Get("bug/values"); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Get(empty) = %v, want ErrInvalidID", err)
		}
		if err := tr.Set("bug", []byte("v")); !errors.Is(err, ErrInvalidDirectory) {
			t.Errorf("Set(dir) = %v, want ErrInvalidDirectory", err)
		}
		if err := tr.Set("nope", []byte("v")); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Set(missing) = %v, want ErrInvalidID", err)
		}
	})

	t.Run("Ancestors", func(t *testing.T) {
		t.Parallel()
		tr := newTestTree(t)
		got, err := tr.Ancestors("c1")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"bug", "bd"}, got); diff != "" {
			t.Errorf("Ancestors() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("CloneIsDeep", func(t *testing.T) {
		t.Parallel()
		tr := newTestTree(t)
		if err := tr.Set("bd/settings", []byte("a")); err != nil {
			t.Fatal(err)
		}
		cl := tr.Clone()
		if !tr.Equal(cl) {
			t.Fatal("clone differs")
		}
		if err := cl.Set("bd/settings", []byte("b")); err != nil {
			t.Fatal(err)
		}
		if tr.Equal(cl) {
			t.Error("mutating the clone changed the original")
		}
		v, _ := tr.Get("bd/settings")
		if string(v) != "a" {
			t.Errorf("original value = %q", v)
		}
	})

	t.Run("Diff", func(t *testing.T) {
		t.Parallel()
		old := newTestTree(t)
		_ = old.Set("bd/settings", []byte("a"))
		cur := old.Clone()
		_ = cur.Set("bd/settings", []byte("b"))
		_ = cur.Add("c2", "bug", false)
		_ = cur.Remove("c1")
		got := DiffTrees(old, cur)
		want := &Changes{New: []string{"c2"}, Modified: []string{"bd/settings"}, Removed: []string{"c1"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("DiffTrees() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("JSON", func(t *testing.T) {
		t.Parallel()
		tr := newTestTree(t)
		_ = tr.Set("bug/values", []byte{0, 1, 2})
		data, err := json.Marshal(tr)
		if err != nil {
			t.Fatal(err)
		}
		var back Tree
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatal(err)
		}
		if !tr.Equal(&back) {
			t.Error("decoded tree differs")
		}
		ids, _ := back.Children("bug")
		if diff := cmp.Diff([]string{"bug/values", "c1"}, ids); diff != "" {
			t.Errorf("child order mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestResolveIndex(t *testing.T) {
	t.Parallel()
	tests := []struct {
		index, n, want int
		wantErr        bool
	}{
		{0, 0, 0, false},
		{1, 0, 0, true},
		{-1, 0, 0, true},
		{1, 3, 1, false},
		{3, 3, 3, false},
		{-1, 3, 3, false},
		{-3, 3, 1, false},
		{-4, 3, 0, true},
		{4, 3, 0, true},
	}
	for _, tt := range tests {
		got, err := ResolveIndex(tt.index, tt.n)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidRevision) {
				t.Errorf("ResolveIndex(%d, %d) = %d, %v; want ErrInvalidRevision", tt.index, tt.n, got, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ResolveIndex(%d, %d) = %d, %v; want %d", tt.index, tt.n, got, err, tt.want)
		}
	}
}
