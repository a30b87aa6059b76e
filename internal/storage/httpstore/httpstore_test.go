package httpstore

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/aaiyer/bugseverywhere-sub000/internal/server"
	"github.com/aaiyer/bugseverywhere-sub000/internal/server/dto"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage/reference"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage/storagetest"
)

// newBackend serves a fresh versioned in-memory repository.
func newBackend(t *testing.T, opts server.Options) *httptest.Server {
	t.Helper()
	ctx := t.Context()
	ref := storage.New(reference.New(reference.Options{Versioned: true}))
	if err := ref.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := ref.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	opts.Store = ref
	srv := httptest.NewServer(server.New(opts))
	t.Cleanup(srv.Close)
	return srv
}

func connect(t *testing.T, opts Options) *storage.Store {
	t.Helper()
	s := storage.New(New(opts))
	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Disconnect(t.Context())
	})
	return s
}

func factory(t *testing.T) *storage.Store {
	srv := newBackend(t, server.Options{})
	return connect(t, Options{URL: srv.URL, Client: srv.Client()})
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, factory)
	storagetest.RunVersioned(t, factory, storagetest.Options{})
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := factory(t)
	if !s.Versioned() {
		t.Error("Versioned() = false")
	}
	if err := s.Init(ctx); !errors.Is(err, storage.ErrNotSupported) {
		t.Errorf("Init() = %v, want ErrNotSupported", err)
	}
	if err := s.Destroy(ctx); !errors.Is(err, storage.ErrNotSupported) {
		t.Errorf("Destroy() = %v, want ErrNotSupported", err)
	}
	if err := s.Add(ctx, "a b", storage.AddOptions{Directory: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, "a b/v%1", storage.AddOptions{Parent: "a b"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "a b/v%1", []byte("x")); err != nil {
		t.Fatalf("Set(escaped) failed: %v", err)
	}
	if got, err := s.GetString(ctx, "a b/v%1"); err != nil || got != "x" {
		t.Errorf("Get(escaped) = %q, %v", got, err)
	}
}

func TestConnectErrors(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	t.Run("BadURL", func(t *testing.T) {
		t.Parallel()
		s := storage.New(New(Options{URL: "not a url"}))
		if err := s.Connect(ctx); !errors.Is(err, storage.ErrConnection) {
			t.Errorf("Connect() = %v, want ErrConnection", err)
		}
		if _, err := s.Exists(ctx, "a", ""); !errors.Is(err, storage.ErrConnection) {
			t.Errorf("Exists() before Connect = %v, want ErrConnection", err)
		}
	})
	t.Run("Unreachable", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		s := storage.New(New(Options{URL: url}))
		if err := s.Connect(ctx); !errors.Is(err, storage.ErrConnection) {
			t.Errorf("Connect() = %v, want ErrConnection", err)
		}
	})
	t.Run("VersionMismatch", func(t *testing.T) {
		t.Parallel()
		srv := newBackend(t, server.Options{})
		s := storage.New(New(Options{URL: srv.URL, Client: srv.Client(), Version: "Bugs Everywhere Directory v1.4"}))
		if err := s.Connect(ctx); !errors.Is(err, storage.ErrInvalidStorageVersion) {
			t.Errorf("Connect() = %v, want ErrInvalidStorageVersion", err)
		}
	})
}

func TestGetVersionHeader(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"version":"` + storage.FormatVersion + `"}`))
	})
	mux.HandleFunc("GET /get/{id...}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(dto.VersionHeader, "Bugs Everywhere Tree 1 0")
		_, _ = w.Write([]byte("old"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	s := connect(t, Options{URL: srv.URL, Client: srv.Client()})
	if s.Versioned() {
		t.Error("Versioned() = true")
	}
	if _, err := s.Get(t.Context(), "a"); !errors.Is(err, storage.ErrInvalidStorageVersion) {
		t.Errorf("Get() = %v, want ErrInvalidStorageVersion", err)
	}
	if _, err := s.Commit(t.Context(), "x", "", false); !errors.Is(err, storage.ErrNotVersioned) {
		t.Errorf("Commit() = %v, want ErrNotVersioned", err)
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "users")
	if err := server.AddUser(path, "alice", "secret"); err != nil {
		t.Fatal(err)
	}
	creds, err := server.LoadCredentials(path)
	if err != nil {
		t.Fatal(err)
	}
	srv := newBackend(t, server.Options{Credentials: creds, JWTSecret: []byte("0123456789abcdef")})

	t.Run("Anonymous", func(t *testing.T) {
		t.Parallel()
		s := storage.New(New(Options{URL: srv.URL, Client: srv.Client()}))
		err := s.Connect(ctx)
		var re *RemoteError
		if !errors.As(err, &re) || re.Code != dto.ErrorCodeUnauthorized {
			t.Errorf("Connect() = %v, want UNAUTHORIZED", err)
		}
	})
	t.Run("WrongPassword", func(t *testing.T) {
		t.Parallel()
		s := storage.New(New(Options{URL: srv.URL, Client: srv.Client(), User: "alice", Password: "nope"}))
		if err := s.Connect(ctx); !errors.Is(err, storage.ErrConnection) {
			t.Errorf("Connect() = %v, want ErrConnection", err)
		}
	})
	t.Run("Token", func(t *testing.T) {
		t.Parallel()
		s := connect(t, Options{URL: srv.URL, Client: srv.Client(), User: "alice", Password: "secret"})
		if err := s.Add(ctx, "a", storage.AddOptions{}); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
		if err := s.Set(ctx, "a", []byte("v")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
		if got, err := s.GetString(ctx, "a"); err != nil || got != "v" {
			t.Errorf("Get() = %q, %v", got, err)
		}
	})
}
