package reference

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage/storagetest"
)

func newStore(t *testing.T, opts Options) *storage.Store {
	t.Helper()
	ctx := t.Context()
	s := storage.New(New(opts))
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Disconnect(t.Context())
	})
	return s
}

func memory(versioned bool) storagetest.Factory {
	return func(t *testing.T) *storage.Store {
		return newStore(t, Options{Versioned: versioned})
	}
}

func onDisk(versioned bool) storagetest.Factory {
	return func(t *testing.T) *storage.Store {
		return newStore(t, Options{Path: filepath.Join(t.TempDir(), "repo.db"), Versioned: versioned})
	}
}

func TestMemory(t *testing.T) {
	storagetest.Run(t, memory(false))
	storagetest.Run(t, memory(true))
	storagetest.RunVersioned(t, memory(true), storagetest.Options{})
}

func TestSQLite(t *testing.T) {
	storagetest.Run(t, onDisk(false))
	storagetest.RunVersioned(t, onDisk(true), storagetest.Options{})
}

func TestPersistence(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "repo.db")

	s := storage.New(New(Options{Path: path, Versioned: true}))
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, "a", storage.AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "a", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	rev, err := s.Commit(ctx, "first", "body", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "a", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	if err := s.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}

	t.Run("Reopen", func(t *testing.T) {
		s := storage.New(New(Options{Path: path, Versioned: true}))
		if err := s.Connect(ctx); err != nil {
			t.Fatal(err)
		}
		defer func() { _ = s.Disconnect(ctx) }()
		if got, _ := s.RevisionID(ctx, 1); got != rev {
			t.Errorf("RevisionID(1) = %q, want %q", got, rev)
		}
		if got, err := s.GetString(ctx, "a"); err != nil || got != "v2" {
			t.Errorf("Get(a) = %q, %v", got, err)
		}
		if got, err := s.GetString(ctx, "a", storage.AtRevision(rev)); err != nil || got != "v1" {
			t.Errorf("Get(a, rev) = %q, %v", got, err)
		}
	})

	t.Run("ReadOnly", func(t *testing.T) {
		s := storage.New(New(Options{Path: path, Versioned: true, ReadOnly: true}))
		if err := s.Connect(ctx); err != nil {
			t.Fatal(err)
		}
		defer func() { _ = s.Disconnect(ctx) }()
		if s.HardWriteable {
			t.Error("HardWriteable = true on a read-only database")
		}
		if err := s.Set(ctx, "a", []byte("v3")); !errors.Is(err, storage.ErrNotWriteable) {
			t.Errorf("Set() = %v, want ErrNotWriteable", err)
		}
	})

	t.Run("InitTwice", func(t *testing.T) {
		s := storage.New(New(Options{Path: path}))
		if err := s.Init(ctx); !errors.Is(err, storage.ErrConnection) {
			t.Errorf("Init() = %v, want ErrConnection", err)
		}
	})
}

func TestConnectErrors(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := storage.New(New(Options{Path: filepath.Join(t.TempDir(), "missing.db")}))
	if err := s.Connect(ctx); !errors.Is(err, storage.ErrConnection) {
		t.Errorf("Connect(missing) = %v, want ErrConnection", err)
	}
	m := storage.New(New(Options{}))
	if err := m.Connect(ctx); !errors.Is(err, storage.ErrConnection) {
		t.Errorf("Connect(uninitialized) = %v, want ErrConnection", err)
	}
	if _, err := m.Children(ctx, "", ""); !errors.Is(err, storage.ErrConnection) {
		t.Errorf("Children() before Connect = %v, want ErrConnection", err)
	}
}

func TestRevisionZero(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := memory(true)(t)
	if rev0, err := s.RevisionID(ctx, 0); err != nil || rev0 != "" {
		t.Errorf("RevisionID(0) = %q, %v; want no revision", rev0, err)
	}
	if _, err := s.Changed(ctx, ""); !errors.Is(err, storage.ErrInvalidRevision) {
		t.Errorf("Changed(\"\") = %v, want ErrInvalidRevision", err)
	}
	if _, err := s.Changed(ctx, "nope"); !errors.Is(err, storage.ErrInvalidRevision) {
		t.Errorf("Changed(unknown) = %v, want ErrInvalidRevision", err)
	}
}
