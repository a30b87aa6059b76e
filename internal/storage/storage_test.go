package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// treeDriver is a minimal unversioned Driver that counts backend calls.
type treeDriver struct {
	tree      *Tree
	calls     int
	writeable bool
}

func newTreeDriver() *treeDriver {
	return &treeDriver{tree: NewTree(), writeable: true}
}

func (d *treeDriver) Name() string { return "tree" }
func (d *treeDriver) Version(context.Context) string { return "" }
func (d *treeDriver) Init(context.Context) error { d.calls++; return nil }
func (d *treeDriver) Destroy(context.Context) error { d.calls++; return nil }
func (d *treeDriver) Connect(context.Context) error { return nil }
func (d *treeDriver) Disconnect(context.Context) error { return nil }
func (d *treeDriver) Capabilities() (readable, writeable bool) { return true, d.writeable }

func (d *treeDriver) Add(_ context.Context, id string, opts AddOptions) error {
	d.calls++
	return d.tree.Add(id, opts.Parent, opts.Directory)
}

func (d *treeDriver) Exists(_ context.Context, id, _ string) (bool, error) {
	d.calls++
	_, ok := d.tree.Lookup(id)
	return ok, nil
}

func (d *treeDriver) Remove(_ context.Context, id string) error {
	d.calls++
	return d.tree.Remove(id)
}

func (d *treeDriver) RecursiveRemove(_ context.Context, id string) error {
	d.calls++
	return d.tree.RecursiveRemove(id)
}

func (d *treeDriver) Ancestors(_ context.Context, id, _ string) ([]string, error) {
	d.calls++
	return d.tree.Ancestors(id)
}

func (d *treeDriver) Children(_ context.Context, id, _ string) ([]string, error) {
	d.calls++
	return d.tree.Children(id)
}

func (d *treeDriver) Get(_ context.Context, id, _ string) ([]byte, error) {
	d.calls++
	return d.tree.Get(id)
}

func (d *treeDriver) Set(_ context.Context, id string, v []byte) error {
	d.calls++
	return d.tree.Set(id, v)
}

func (d *treeDriver) StorageVersion(context.Context, string) (string, error) {
	return FormatVersion, nil
}

// collidingDriver reports every id as malformed.
type collidingDriver struct {
	*treeDriver
}

func (d collidingDriver) Get(_ context.Context, id, _ string) ([]byte, error) {
	return nil, fmt.Errorf("%q: %w", id, ErrSpacerCollision)
}

func TestStore(t *testing.T) {
	t.Parallel()

	t.Run("SoftWriteGate", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		d := newTreeDriver()
		s := New(d)
		s.Writeable = false
		if err := s.Add(ctx, "a", AddOptions{}); !errors.Is(err, ErrNotWriteable) {
			t.Fatalf("Add() = %v, want ErrNotWriteable", err)
		}
		if err := s.Set(ctx, "a", nil); !errors.Is(err, ErrNotWriteable) {
			t.Fatalf("Set() = %v, want ErrNotWriteable", err)
		}
		if _, err := s.Commit(ctx, "x", "", true); !errors.Is(err, ErrNotWriteable) {
			t.Fatalf("Commit() = %v, want ErrNotWriteable", err)
		}
		if d.calls != 0 {
			t.Errorf("driver called %d times behind a closed gate", d.calls)
		}
		if _, err := s.Children(ctx, "", ""); err != nil {
			t.Errorf("Children() failed on a read-only store: %v", err)
		}
	})

	t.Run("HardWriteGate", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		d := newTreeDriver()
		d.writeable = false
		s := New(d)
		if !s.Writeable || s.HardWriteable {
			t.Fatalf("flags = soft %v hard %v", s.Writeable, s.HardWriteable)
		}
		if err := s.Remove(ctx, "a"); !errors.Is(err, ErrNotWriteable) {
			t.Fatalf("Remove() = %v, want ErrNotWriteable", err)
		}
	})

	t.Run("ReadGate", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		d := newTreeDriver()
		s := New(d)
		s.Readable = false
		if _, err := s.Get(ctx, "a", WithDefault(nil)); !errors.Is(err, ErrNotReadable) {
			t.Fatalf("Get() = %v, want ErrNotReadable", err)
		}
		if _, err := s.Exists(ctx, "a", ""); !errors.Is(err, ErrNotReadable) {
			t.Fatalf("Exists() = %v, want ErrNotReadable", err)
		}
		if d.calls != 0 {
			t.Errorf("driver called %d times behind a closed gate", d.calls)
		}
	})

	t.Run("Default", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		s := New(newTreeDriver())
		if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("Get() = %v, want ErrInvalidID", err)
		}
		got, err := s.Get(ctx, "missing", WithDefault([]byte("d")))
		if err != nil || string(got) != "d" {
			t.Fatalf("Get(default) = %q, %v", got, err)
		}
	})

	t.Run("GetString", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		s := New(newTreeDriver())
		if err := s.Add(ctx, "a", AddOptions{}); err != nil {
			t.Fatal(err)
		}
		if err := s.Set(ctx, "a", []byte{0xff, 0xfe}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.GetString(ctx, "a"); !errors.Is(err, ErrDecode) {
			t.Errorf("GetString() = %v, want ErrDecode", err)
		}
		if err := s.Set(ctx, "a", []byte("héllo")); err != nil {
			t.Fatal(err)
		}
		if got, err := s.GetString(ctx, "a"); err != nil || got != "héllo" {
			t.Errorf("GetString() = %q, %v", got, err)
		}
	})

	t.Run("NotVersioned", func(t *testing.T) {
		t.Parallel()
		s := New(newTreeDriver())
		if s.Versioned() {
			t.Fatal("Versioned() = true")
		}
		if _, err := s.RevisionID(t.Context(), 1); !errors.Is(err, ErrNotVersioned) {
			t.Errorf("RevisionID() = %v, want ErrNotVersioned", err)
		}
	})

	t.Run("Layout", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		d := newTreeDriver()
		s := New(d)
		for _, id := range []string{"version", "id-cache", "version/x", "bugs", ".be", "a/comments", "a/bugs/b"} {
			if err := s.Add(ctx, id, AddOptions{}); !errors.Is(err, ErrSpacerCollision) {
				t.Errorf("Add(%q) = %v, want ErrSpacerCollision", id, err)
			}
		}
		if d.calls != 0 {
			t.Errorf("driver called %d times for reserved ids", d.calls)
		}
		if err := s.Add(ctx, "versions", AddOptions{}); err != nil {
			t.Errorf("Add(versions) failed: %v", err)
		}
	})

	t.Run("DefaultKeepsMalformed", func(t *testing.T) {
		t.Parallel()
		s := New(collidingDriver{newTreeDriver()})
		if _, err := s.Get(t.Context(), "a", WithDefault([]byte("d"))); !errors.Is(err, ErrSpacerCollision) {
			t.Errorf("Get(default) = %v, want ErrSpacerCollision", err)
		}
	})

	t.Run("EmptyID", func(t *testing.T) {
		t.Parallel()
		s := New(newTreeDriver())
		if err := s.Add(t.Context(), "", AddOptions{}); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Add(\"\") = %v, want ErrInvalidID", err)
		}
	})
}
