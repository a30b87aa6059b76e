package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage/vcs"
)

const testAuthor = "Test User <test@example.com>"

// run executes the command line against a config file that does not exist.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := newApp(nil)
	a.stdin = strings.NewReader(stdin)
	a.stdout = &out
	cmd := a.root()
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "", "init", "-C", dir, "--vcs", "gogit", "--user-id", testAuthor)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !strings.HasPrefix(out, "Initialized gogit storage in ") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := run(t, "", "init", "-C", dir, "--vcs", "gogit"); err == nil {
		t.Fatal("second init should fail")
	}
	out, err = run(t, "", "upgrade", "-C", dir, "--vcs", "gogit")
	if err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}
	if want := "Storage format: " + storage.FormatVersion + "\n"; out != want {
		t.Fatalf("upgrade = %q, want %q", out, want)
	}
	out, err = run(t, "", "vcs", "detect", "-C", dir)
	if err != nil {
		t.Fatalf("vcs detect failed: %v", err)
	}
	// The git executable takes precedence when it is installed.
	if out != "git\n" && out != "gogit\n" {
		t.Fatalf("vcs detect = %q", out)
	}
}

func TestUpgradeUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "", "init", "-C", dir, "--vcs", "none"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".be", "version"), []byte("Bugs Everywhere Directory v9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, "", "upgrade", "-C", dir, "--vcs", "none")
	if !errors.Is(err, storage.ErrInvalidStorageVersion) {
		t.Fatalf("upgrade = %v, want ErrInvalidStorageVersion", err)
	}
	if !strings.Contains(err.Error(), "known formats: ") || !strings.Contains(err.Error(), storage.FormatVersion) {
		t.Errorf("upgrade error does not list the known formats: %v", err)
	}
}

func TestUnknownVCS(t *testing.T) {
	if _, err := run(t, "", "init", "-C", t.TempDir(), "--vcs", "cvs"); err == nil {
		t.Fatal("expected error")
	}
}

func TestVCSList(t *testing.T) {
	out, err := run(t, "", "vcs", "list")
	if err != nil {
		t.Fatalf("vcs list failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != len(vcs.DefaultRegistry().Names()) {
		t.Fatalf("got %d lines: %q", len(lines), out)
	}
	if !strings.HasPrefix(lines[len(lines)-1], "none") {
		t.Fatalf("last line = %q", lines[len(lines)-1])
	}
}

func TestChanged(t *testing.T) {
	color.NoColor = true
	ctx := t.Context()
	dir := t.TempDir()
	d := vcs.New(vcs.NewGoGit(vcs.Options{}), dir)
	d.Identity.Override = testAuthor
	s := storage.New(d)
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if err := s.Add(ctx, id, storage.AddOptions{}); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}
	if err := s.Set(ctx, "a", []byte("one\ntwo\n")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if _, err := s.Commit(ctx, "first", "", false); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if err := s.Set(ctx, "a", []byte("one\nthree\n")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Remove(ctx, "b"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if err := s.Add(ctx, "c", storage.AddOptions{}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := s.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() failed: %v", err)
	}

	out, err := run(t, "", "changed", "-C", dir, "--vcs", "gogit", "--no-color")
	if err != nil {
		t.Fatalf("changed failed: %v", err)
	}
	if diff := cmp.Diff("A c\nM a\nD b\n", out); diff != "" {
		t.Errorf("changed mismatch (-want +got):\n%s", diff)
	}
	out, err = run(t, "", "changed", "-C", dir, "--vcs", "gogit", "--no-color", "-p")
	if err != nil {
		t.Fatalf("changed -p failed: %v", err)
	}
	if diff := cmp.Diff("A c\nM a\n one\n-two\n+three\nD b\n", out); diff != "" {
		t.Errorf("changed -p mismatch (-want +got):\n%s", diff)
	}
}

func TestChangedUnversioned(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "", "init", "-C", dir, "--vcs", "none"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := run(t, "", "changed", "-C", dir, "--vcs", "none"); err == nil {
		t.Fatal("expected error")
	}
}

func TestLineDiff(t *testing.T) {
	color.NoColor = true
	data := []struct {
		name          string
		before, after string
		want          string
	}{
		{"Same", "a\n", "a\n", " a\n"},
		{"Append", "a\n", "a\nb\n", " a\n+b\n"},
		{"Replace", "a\nb\nc\n", "a\nx\nc\n", " a\n-b\n+x\n c\n"},
		{"NoNewline", "a", "b", "-a\n+b\n"},
		{"Empty", "", "a\n", "+a\n"},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			if diff := cmp.Diff(line.want, lineDiff(line.before, line.after)); diff != "" {
				t.Errorf("lineDiff() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAddUser(t *testing.T) {
	file := filepath.Join(t.TempDir(), "users")
	if _, err := run(t, "hunter2\n", "adduser", "alice", "--file", file); err != nil {
		t.Fatalf("adduser failed: %v", err)
	}
	if _, err := run(t, "\n", "adduser", "bob", "--file", file); err == nil {
		t.Fatal("empty password should fail")
	}
	if _, err := run(t, "x\n", "adduser", "bob"); err == nil {
		t.Fatal("missing file should fail")
	}
}

func TestBuildVersion(t *testing.T) {
	t.Parallel()
	if buildVersion() == "" {
		t.Fatal("empty version")
	}
}
