// Package storagetest is a conformance suite for storage drivers.
//
// Every driver package runs Run, and RunVersioned when it keeps history,
// against freshly initialized stores from its own factory.
package storagetest

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
	"github.com/google/go-cmp/cmp"
)

// Factory returns an initialized and connected store backed by a fresh
// repository. It must register its own cleanup.
type Factory func(t *testing.T) *storage.Store

// Options tunes the suite for backend limitations.
type Options struct {
	// NoAllowEmpty skips the forced empty commit for tools without one.
	NoAllowEmpty bool
}

func sorted(ids []string) []string {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	return ids
}

// mustAdd adds a sample hierarchy: directory p, directory c under p, file
// c/values under c.
func mustAdd(t *testing.T, s *storage.Store) {
	t.Helper()
	ctx := t.Context()
	steps := []struct {
		id   string
		opts storage.AddOptions
	}{
		{"p", storage.AddOptions{Directory: true}},
		{"c", storage.AddOptions{Parent: "p", Directory: true}},
		{"c/values", storage.AddOptions{Parent: "c"}},
	}
	for _, st := range steps {
		if err := s.Add(ctx, st.id, st.opts); err != nil {
			t.Fatalf("Add(%q) failed: %v", st.id, err)
		}
	}
}

func mustSet(t *testing.T, s *storage.Store, id, value string) {
	t.Helper()
	ctx := t.Context()
	if err := s.Add(ctx, id, storage.AddOptions{}); err != nil {
		t.Fatalf("Add(%q) failed: %v", id, err)
	}
	if err := s.Set(ctx, id, []byte(value)); err != nil {
		t.Fatalf("Set(%q) failed: %v", id, err)
	}
}

func mustExist(t *testing.T, s *storage.Store, id, rev string, want bool) {
	t.Helper()
	got, err := s.Exists(t.Context(), id, rev)
	if err != nil {
		t.Fatalf("Exists(%q, %q) failed: %v", id, rev, err)
	}
	if got != want {
		t.Fatalf("Exists(%q, %q) = %v, want %v", id, rev, got, want)
	}
}

// Run exercises the unversioned contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("AddExists", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		mustExist(t, s, "a", "", false)
		for range 2 {
			if err := s.Add(ctx, "a", storage.AddOptions{}); err != nil {
				t.Fatalf("Add() failed: %v", err)
			}
		}
		mustExist(t, s, "a", "", true)
		ids, err := s.Children(ctx, "", "")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"a"}, ids); diff != "" {
			t.Errorf("Children() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		mustAdd(t, s)
		if err := s.Remove(ctx, "c/values"); err != nil {
			t.Fatalf("Remove() failed: %v", err)
		}
		mustExist(t, s, "c/values", "", false)
		mustExist(t, s, "c", "", true)
		ids, err := s.Children(ctx, "c", "")
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 0 {
			t.Errorf("Children(c) = %v after remove", ids)
		}
		if err := s.Remove(ctx, "c"); err != nil {
			t.Fatalf("Remove(empty dir) failed: %v", err)
		}
		mustExist(t, s, "c", "", false)
		mustExist(t, s, "p", "", true)
	})

	t.Run("DirectoryNotEmpty", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		mustAdd(t, s)
		if err := s.Remove(ctx, "p"); !errors.Is(err, storage.ErrDirectoryNotEmpty) {
			t.Fatalf("Remove(p) = %v, want ErrDirectoryNotEmpty", err)
		}
		mustExist(t, s, "c/values", "", true)
		if err := s.RecursiveRemove(ctx, "p"); err != nil {
			t.Fatalf("RecursiveRemove() failed: %v", err)
		}
		for _, id := range []string{"p", "c", "c/values"} {
			mustExist(t, s, id, "", false)
		}
		ids, err := s.Children(ctx, "", "")
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 0 {
			t.Errorf("Children() = %v after recursive remove", ids)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		want := []byte("line 1\nline 2\x00\xff\n")
		if err := s.Add(ctx, "a", storage.AddOptions{}); err != nil {
			t.Fatal(err)
		}
		if err := s.Set(ctx, "a", want); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
		got, err := s.Get(ctx, "a")
		if err != nil || !bytes.Equal(got, want) {
			t.Fatalf("Get() = %q, %v; want %q", got, err, want)
		}
		if err := s.Disconnect(ctx); err != nil {
			t.Fatalf("Disconnect() failed: %v", err)
		}
		if err := s.Connect(ctx); err != nil {
			t.Fatalf("Connect() failed: %v", err)
		}
		got, err = s.Get(ctx, "a")
		if err != nil || !bytes.Equal(got, want) {
			t.Fatalf("Get() after reconnect = %q, %v; want %q", got, err, want)
		}
	})

	t.Run("EmptyValue", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		mustSet(t, s, "a", "x")
		if err := s.Set(ctx, "a", nil); err != nil {
			t.Fatalf("Set(empty) failed: %v", err)
		}
		if got, err := s.Get(ctx, "a"); !errors.Is(err, storage.ErrInvalidID) {
			t.Errorf("Get(empty) = %q, %v; want ErrInvalidID", got, err)
		}
		if got, err := s.Get(ctx, "a", storage.WithDefault([]byte("def"))); err != nil || string(got) != "def" {
			t.Errorf("Get(empty, default) = %q, %v", got, err)
		}
		mustExist(t, s, "a", "", true)
	})

	t.Run("ReservedIDs", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		mustAdd(t, s)
		for _, st := range []struct {
			id     string
			parent string
		}{
			{"version", ""},
			{"id-cache", ""},
			{".be", ""},
			{"bugs", ""},
			{"comments", "p"},
			{"c/bugs", "c"},
		} {
			if err := s.Add(ctx, st.id, storage.AddOptions{Parent: st.parent}); !errors.Is(err, storage.ErrSpacerCollision) {
				t.Errorf("Add(%q) = %v, want ErrSpacerCollision", st.id, err)
			}
		}
		if v, err := s.StorageVersion(ctx, ""); err != nil || v != storage.FormatVersion {
			t.Fatalf("StorageVersion() = %q, %v", v, err)
		}
		if err := s.Disconnect(ctx); err != nil {
			t.Fatalf("Disconnect() failed: %v", err)
		}
		if err := s.Connect(ctx); err != nil {
			t.Fatalf("Connect() failed: %v", err)
		}
		mustExist(t, s, "c/values", "", true)
	})

	t.Run("Depth", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		mustAdd(t, s)
		if err := s.Add(ctx, "d", storage.AddOptions{Parent: "c", Directory: true}); err != nil {
			t.Fatalf("Add(third level) failed: %v", err)
		}
		if err := s.Add(ctx, "d/values", storage.AddOptions{Parent: "d"}); err != nil {
			t.Fatalf("Add(data of third level) failed: %v", err)
		}
		if err := s.Add(ctx, "e", storage.AddOptions{Parent: "d", Directory: true}); !errors.Is(err, storage.ErrInvalidID) {
			t.Fatalf("Add(fourth level) = %v, want ErrInvalidID", err)
		}
		mustExist(t, s, "e", "", false)
		got, err := s.Ancestors(ctx, "d/values", "")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"d", "c", "p"}, got); diff != "" {
			t.Errorf("Ancestors() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Tree", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		mustAdd(t, s)
		got, err := s.Ancestors(ctx, "c/values", "")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"c", "p"}, got); diff != "" {
			t.Errorf("Ancestors() mismatch (-want +got):\n%s", diff)
		}
		for id, want := range map[string][]string{"": {"p"}, "p": {"c"}, "c": {"c/values"}} {
			got, err := s.Children(ctx, id, "")
			if err != nil {
				t.Fatalf("Children(%q) failed: %v", id, err)
			}
			if diff := cmp.Diff(want, sorted(got)); diff != "" {
				t.Errorf("Children(%q) mismatch (-want +got):\n%s", id, diff)
			}
		}
	})

	t.Run("Errors", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		mustAdd(t, s)
		mustSet(t, s, "f", "x")
		if err := s.Set(ctx, "missing", []byte("x")); !errors.Is(err, storage.ErrInvalidID) {
			t.Errorf("Set(missing) = %v, want ErrInvalidID", err)
		}
		if err := s.Set(ctx, "p", []byte("x")); !errors.Is(err, storage.ErrInvalidDirectory) {
			t.Errorf("Set(dir) = %v, want ErrInvalidDirectory", err)
		}
		if _, err := s.Get(ctx, "missing"); !errors.Is(err, storage.ErrInvalidID) {
			t.Errorf("Get(missing) = %v, want ErrInvalidID", err)
		}
		if got, err := s.Get(ctx, "missing", storage.WithDefault([]byte("def"))); err != nil || string(got) != "def" {
			t.Errorf("Get(missing, default) = %q, %v", got, err)
		}
		if err := s.Add(ctx, "x", storage.AddOptions{Parent: "nope"}); !errors.Is(err, storage.ErrInvalidDirectory) {
			t.Errorf("Add(missing parent) = %v, want ErrInvalidDirectory", err)
		}
		if err := s.Add(ctx, "y", storage.AddOptions{Parent: "f"}); !errors.Is(err, storage.ErrInvalidDirectory) {
			t.Errorf("Add(file parent) = %v, want ErrInvalidDirectory", err)
		}
	})
}

// RunVersioned exercises commit, RevisionID and Changed.
func RunVersioned(t *testing.T, newStore Factory, opts Options) {
	t.Run("Revisions", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		var revs []string
		for i, v := range []string{"one", "two", "three"} {
			mustSet(t, s, "a", v)
			rev, err := s.Commit(ctx, "commit "+v, "body", false)
			if err != nil {
				t.Fatalf("Commit(%d) failed: %v", i, err)
			}
			revs = append(revs, rev)
		}
		for k := 1; k <= len(revs); k++ {
			got, err := s.RevisionID(ctx, k)
			if err != nil {
				t.Fatalf("RevisionID(%d) failed: %v", k, err)
			}
			if got != revs[k-1] {
				t.Errorf("RevisionID(%d) = %q, want %q", k, got, revs[k-1])
			}
		}
		if len(slices.Compact(sorted(revs))) != len(revs) {
			t.Errorf("revisions not distinct: %v", revs)
		}
		last, err := s.RevisionID(ctx, -1)
		if err != nil || last != revs[len(revs)-1] {
			t.Errorf("RevisionID(-1) = %q, %v; want %q", last, err, revs[len(revs)-1])
		}
		if _, err := s.RevisionID(ctx, len(revs)+1); !errors.Is(err, storage.ErrInvalidRevision) {
			t.Errorf("RevisionID(N+1) = %v, want ErrInvalidRevision", err)
		}
		if _, err := s.RevisionID(ctx, -len(revs)-5); !errors.Is(err, storage.ErrInvalidRevision) {
			t.Errorf("RevisionID(-N-5) = %v, want ErrInvalidRevision", err)
		}
		got, err := s.GetString(ctx, "a", storage.AtRevision(revs[0]))
		if err != nil || got != "one" {
			t.Errorf("Get(a, rev 1) = %q, %v", got, err)
		}
	})

	t.Run("RevisionZero", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		if rev, err := s.RevisionID(ctx, 0); err != nil || rev != "" {
			t.Errorf("RevisionID(0) = %q, %v; want no revision", rev, err)
		}
		if _, err := s.RevisionID(ctx, -1); !errors.Is(err, storage.ErrInvalidRevision) {
			t.Errorf("RevisionID(-1) before any commit = %v, want ErrInvalidRevision", err)
		}
		mustSet(t, s, "a", "x")
		if _, err := s.Commit(ctx, "first", "", false); err != nil {
			t.Fatal(err)
		}
		if rev, err := s.RevisionID(ctx, 0); err != nil || rev != "" {
			t.Errorf("RevisionID(0) after a commit = %q, %v; want no revision", rev, err)
		}
	})

	t.Run("EmptyCommit", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		mustSet(t, s, "a", "x")
		if _, err := s.Commit(ctx, "first", "", false); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Commit(ctx, "again", "", false); !errors.Is(err, storage.ErrEmptyCommit) {
			t.Fatalf("Commit() = %v, want ErrEmptyCommit", err)
		}
		if opts.NoAllowEmpty {
			return
		}
		rev, err := s.Commit(ctx, "forced", "", true)
		if err != nil {
			t.Fatalf("Commit(allowEmpty) failed: %v", err)
		}
		if last, _ := s.RevisionID(ctx, -1); last != rev {
			t.Errorf("RevisionID(-1) = %q, want %q", last, rev)
		}
	})

	t.Run("Changed", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		mustSet(t, s, "a", "1")
		mustSet(t, s, "b", "1")
		rev, err := s.Commit(ctx, "base", "", false)
		if err != nil {
			t.Fatal(err)
		}
		mustSet(t, s, "c", "1")
		mustSet(t, s, "a", "2")
		if err := s.Remove(ctx, "b"); err != nil {
			t.Fatal(err)
		}
		got, err := s.Changed(ctx, rev)
		if err != nil {
			t.Fatalf("Changed() failed: %v", err)
		}
		want := &storage.Changes{New: []string{"c"}, Modified: []string{"a"}, Removed: []string{"b"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Changed() mismatch (-want +got):\n%s", diff)
		}

		mustExist(t, s, "b", rev, true)
		mustExist(t, s, "c", rev, false)
		old, err := s.GetString(ctx, "a", storage.AtRevision(rev))
		if err != nil || old != "1" {
			t.Errorf("Get(a, rev) = %q, %v", old, err)
		}
		ids, err := s.Children(ctx, "", rev)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"a", "b"}, sorted(ids)); diff != "" {
			t.Errorf("Children(rev) mismatch (-want +got):\n%s", diff)
		}
		if _, err := s.Get(ctx, "c", storage.AtRevision(rev)); !errors.Is(err, storage.ErrInvalidID) {
			t.Errorf("Get(c, rev) = %v, want ErrInvalidID", err)
		}
	})

	t.Run("History", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		mustAdd(t, s)
		if err := s.Set(ctx, "c/values", []byte("v1")); err != nil {
			t.Fatal(err)
		}
		rev, err := s.Commit(ctx, "tree", "", false)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.RecursiveRemove(ctx, "p"); err != nil {
			t.Fatal(err)
		}
		got, err := s.Ancestors(ctx, "c/values", rev)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"c", "p"}, got); diff != "" {
			t.Errorf("Ancestors(rev) mismatch (-want +got):\n%s", diff)
		}
		kids, err := s.Children(ctx, "c", rev)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"c/values"}, kids); diff != "" {
			t.Errorf("Children(c, rev) mismatch (-want +got):\n%s", diff)
		}
		v, err := s.GetString(ctx, "c/values", storage.AtRevision(rev))
		if err != nil || v != "v1" {
			t.Errorf("Get(rev) = %q, %v", v, err)
		}
	})

	t.Run("EndToEnd", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		for _, id := range []string{"a", "b"} {
			if err := s.Add(ctx, id, storage.AddOptions{}); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.Set(ctx, "a", []byte("hello")); err != nil {
			t.Fatal(err)
		}
		rev, err := s.Commit(ctx, "first", "", false)
		if err != nil {
			t.Fatal(err)
		}
		if got, err := s.GetString(ctx, "a"); err != nil || got != "hello" {
			t.Errorf("Get(a) = %q, %v", got, err)
		}
		ids, err := s.Children(ctx, "", "")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"a", "b"}, sorted(ids)); diff != "" {
			t.Errorf("Children() mismatch (-want +got):\n%s", diff)
		}
		if got, err := s.RevisionID(ctx, 1); err != nil || got != rev {
			t.Errorf("RevisionID(1) = %q, %v; want %q", got, err, rev)
		}
	})
}
