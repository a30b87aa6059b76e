// Runs version control tools.

package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

// CommandError is returned when a tool exits with an unexpected status.
type CommandError struct {
	Args   []string
	Dir    string
	Status int
	Stdout string
	Stderr string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s (in %s) exited with %d", strings.Join(e.Args, " "), e.Dir, e.Status)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// client runs one executable inside the repository.
type client struct {
	name string
	repo string
}

func (c *client) setRepo(repo string) {
	c.repo = repo
}

// Client implements Adapter.
func (c *client) Client() string {
	return c.name
}

// result is the output of a finished command.
type result struct {
	status int
	stdout []byte
	stderr []byte
}

func (r *result) out() string {
	return strings.TrimSpace(string(r.stdout))
}

// invokeIn runs the client with args in dir and fails unless the exit status
// is in expect. A nil expect means {0}.
func (c *client) invokeIn(ctx context.Context, dir string, expect []int, args ...string) (*result, error) {
	if expect == nil {
		expect = []int{0}
	}
	cmd := exec.CommandContext(ctx, c.name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "LC_ALL=C", "LANG=C")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := &result{stdout: stdout.Bytes(), stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run %s: %w", c.name, err)
		}
		res.status = exitErr.ExitCode()
	}
	if !slices.Contains(expect, res.status) {
		return res, &CommandError{
			Args:   append([]string{c.name}, args...),
			Dir:    dir,
			Status: res.status,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
	}
	return res, nil
}

func (c *client) invoke(ctx context.Context, expect []int, args ...string) (*result, error) {
	return c.invokeIn(ctx, c.repo, expect, args...)
}

// output runs a command expecting success and returns its trimmed stdout.
func (c *client) output(ctx context.Context, args ...string) (string, error) {
	res, err := c.invoke(ctx, nil, args...)
	if err != nil {
		return "", err
	}
	return res.out(), nil
}

// probe runs the client with args from the current directory and returns
// the first stdout line, or false when the tool is unusable.
func (c *client) probe(ctx context.Context, args ...string) (string, bool) {
	if _, err := exec.LookPath(c.name); err != nil {
		return "", false
	}
	res, err := c.invokeIn(ctx, "", nil, args...)
	if err != nil {
		return "", false
	}
	line, _, _ := strings.Cut(res.out(), "\n")
	return strings.TrimSpace(line), true
}

// abs converts a slash path relative to the repository into an OS path.
func (c *client) abs(relpath string) string {
	return filepath.Join(c.repo, filepath.FromSlash(relpath))
}

func (c *client) isLocalDir(relpath string) bool {
	fi, err := os.Stat(c.abs(relpath))
	return err == nil && fi.IsDir()
}

// searchParentDirectories looks for marker in path and its parents and
// returns the directory holding it.
func searchParentDirectories(path, marker string) (string, bool) {
	path, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(path, marker)); err == nil {
			return path, true
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", false
		}
		path = parent
	}
}

// lines splits output into non-empty trimmed lines.
func lines(s string) []string {
	var out []string
	for l := range strings.SplitSeq(s, "\n") {
		if l = strings.TrimRight(l, "\r"); strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// resolveRevision maps a commit index onto a list of revisions, oldest
// first. Index 0 names the state before any commit and has no revision id.
func resolveRevision(revs []string, index int) (string, error) {
	i, err := storage.ResolveIndex(index, len(revs))
	if err != nil || i == 0 {
		return "", err
	}
	return revs[i-1], nil
}
