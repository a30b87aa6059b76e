package vcs

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

var allowChange = cmp.AllowUnexported(change{})

func TestParsers(t *testing.T) {
	t.Parallel()
	data := []struct {
		name  string
		parse func(string) []change
		in    string
		want  []change
	}{
		{
			"git",
			parseNameStatus,
			"A\t.be/c\nM\t.be/a\nD\t.be/b\nT\t.be/l\n\nX\tjunk\n",
			[]change{{'A', ".be/c"}, {'M', ".be/a"}, {'D', ".be/b"}, {'M', ".be/l"}},
		},
		{
			"hg",
			parseHgStatus,
			"A .be/c\nM .be/a\nR .be/b\n! .be/gone\n? .be/id-cache\n",
			[]change{{'A', ".be/c"}, {'M', ".be/a"}, {'D', ".be/b"}, {'D', ".be/gone"}},
		},
		{
			"bzr",
			parseBzrStatus,
			"+N  .be/c\n M  .be/a\n-D  .be/b\n+N  .be/dir/\n?   .be/id-cache\n",
			[]change{{'A', ".be/c"}, {'M', ".be/a"}, {'D', ".be/b"}},
		},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(line.want, line.parse(line.in), allowChange); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseChangelog(t *testing.T) {
	t.Parallel()
	in := `<changelog>
<patch author='a@example.com' date='20240102000000' local_date='Tue Jan  2 00:00:00 UTC 2024' inverted='False' hash='0002-second'>
	<name>second</name>
</patch>
<patch author='a@example.com' date='20240101000000' local_date='Mon Jan  1 00:00:00 UTC 2024' inverted='False' hash='0001-first'>
	<name>first</name>
</patch>
</changelog>
`
	got, err := parseChangelog([]byte(in))
	if err != nil {
		t.Fatalf("parseChangelog() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"0001-first", "0002-second"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if _, err := parseChangelog([]byte("<changelog><patch")); err == nil {
		t.Error("parseChangelog(truncated) succeeded")
	}
}

func TestParseManifest(t *testing.T) {
	t.Parallel()
	in := `format_version "1"

dir ""

dir ".be"

   file ".be/version"
content [0123456789abcdef0123456789abcdef01234567]

dir ".be/a"

   file ".be/a/values"
content [0123456789abcdef0123456789abcdef01234567]
`
	m := parseManifest(in)
	for p, want := range map[string]bool{"": true, ".be": true, ".be/a": true, ".be/version": false, ".be/missing": false} {
		if got := m.isDir(p); got != want {
			t.Errorf("isDir(%q) = %v, want %v", p, got, want)
		}
	}
	got, err := m.list(".be", "r")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "version"}, got); diff != "" {
		t.Errorf("list(.be) mismatch (-want +got):\n%s", diff)
	}
	if _, err := m.list(".be/version", "r"); !errors.Is(err, storage.ErrInvalidID) {
		t.Errorf("list(file) = %v, want ErrInvalidID", err)
	}
}

func TestManifest(t *testing.T) {
	t.Parallel()
	m := newManifest([]string{".be/a/bugs/b/values", ".be/version"}, []string{".be/empty/"})
	got, err := m.list("", "r")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{".be"}, got); diff != "" {
		t.Errorf("list(root) mismatch (-want +got):\n%s", diff)
	}
	got, err = m.list(".be", "r")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "empty", "version"}, got); diff != "" {
		t.Errorf("list(.be) mismatch (-want +got):\n%s", diff)
	}
	if !m.isDir(".be/a/bugs") || m.isDir(".be/a/bugs/b/values") {
		t.Error("isDir() mismatch")
	}
}

func TestResolveRevision(t *testing.T) {
	t.Parallel()
	revs := []string{"r1", "r2", "r3"}
	for index, want := range map[int]string{0: "", 1: "r1", 3: "r3", -1: "r3", -3: "r1"} {
		got, err := resolveRevision(revs, index)
		if err != nil || got != want {
			t.Errorf("resolveRevision(%d) = %q, %v; want %q", index, got, err, want)
		}
	}
	for _, index := range []int{4, -4} {
		if _, err := resolveRevision(revs, index); !errors.Is(err, storage.ErrInvalidRevision) {
			t.Errorf("resolveRevision(%d) = %v, want ErrInvalidRevision", index, err)
		}
	}
	if _, err := resolveRevision(nil, -1); !errors.Is(err, storage.ErrInvalidRevision) {
		t.Errorf("resolveRevision(empty) = %v, want ErrInvalidRevision", err)
	}
}

func TestCommandError(t *testing.T) {
	t.Parallel()
	c := &client{name: "false"}
	_, err := c.invokeIn(t.Context(), t.TempDir(), nil)
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Skipf("false is not available: %v", err)
	}
	if ce.Status != 1 {
		t.Errorf("Status = %d, want 1", ce.Status)
	}
	if !strings.Contains(ce.Error(), "exited with 1") {
		t.Errorf("Error() = %q", ce.Error())
	}
	res, err := c.invokeIn(t.Context(), t.TempDir(), []int{1})
	if err != nil || res.status != 1 {
		t.Errorf("invokeIn(expect 1) = %v, %v", res, err)
	}
	missing := &client{name: "be-no-such-tool"}
	if _, ok := missing.probe(t.Context(), "--version"); ok {
		t.Error("probe() succeeded for a missing tool")
	}
}

func TestLines(t *testing.T) {
	t.Parallel()
	if diff := cmp.Diff([]string{"a", "b c"}, lines("a\r\n\n  \nb c\n")); diff != "" {
		t.Errorf("lines() mismatch (-want +got):\n%s", diff)
	}
}
