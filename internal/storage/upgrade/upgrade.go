// Package upgrade migrates on-disk storage trees between format versions.
//
// Each Step moves a tree from one recorded version to the next. Chain
// applies a direct step when one is registered and otherwise walks the
// ordered version list one step at a time.
package upgrade

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
	"github.com/natefinch/atomic"
)

// Known format versions, oldest first.
const (
	V10 = "Bugs Everywhere Tree 1 0"
	V11 = "Bugs Everywhere Directory v1.1"
	V12 = "Bugs Everywhere Directory v1.2"
	V13 = "Bugs Everywhere Directory v1.3"
	V14 = "Bugs Everywhere Directory v1.4"
	V15 = storage.FormatVersion
)

// ErrNotImplemented is returned when no step connects two versions.
var ErrNotImplemented = errors.New("upgrade not implemented")

// ManualError is returned by a step that needs the operator to change the
// tree by hand. The marker is left untouched; run the upgrade again once
// the instructions are done.
type ManualError struct {
	From, To     string
	Instructions []string
}

func (e *ManualError) Error() string {
	return fmt.Sprintf("upgrade from %q to %q needs manual steps:\n  %s", e.From, e.To, strings.Join(e.Instructions, "\n  "))
}

// Tracker records file changes in the version control tool.
type Tracker interface {
	Add(ctx context.Context, relpath string) error
	Remove(ctx context.Context, relpath string) error
	Update(ctx context.Context, relpath string) error
}

type nopTracker struct{}

func (nopTracker) Add(context.Context, string) error    { return nil }
func (nopTracker) Remove(context.Context, string) error { return nil }
func (nopTracker) Update(context.Context, string) error { return nil }

// Repo is a storage tree being upgraded.
type Repo struct {
	// Root is the directory holding the top spacer.
	Root string
	// Tracker is told about every file touched. Nil means no tracking.
	Tracker Tracker
}

func (r *Repo) tracker() Tracker {
	if r.Tracker == nil {
		return nopTracker{}
	}
	return r.Tracker
}

func (r *Repo) abs(rel string) string {
	return filepath.Join(r.Root, filepath.FromSlash(rel))
}

func (r *Repo) read(rel string) ([]byte, error) {
	return os.ReadFile(r.abs(rel))
}

func (r *Repo) exists(rel string) bool {
	_, err := os.Stat(r.abs(rel))
	return err == nil
}

// write replaces an existing tracked file.
func (r *Repo) write(ctx context.Context, rel string, data []byte) error {
	if err := atomic.WriteFile(r.abs(rel), bytes.NewReader(data)); err != nil {
		return err
	}
	return r.tracker().Update(ctx, rel)
}

// create adds a new file, creating and tracking missing parents.
func (r *Repo) create(ctx context.Context, rel string, data []byte) error {
	var missing []string
	for d := path.Dir(rel); d != "." && !r.exists(d); d = path.Dir(d) {
		missing = append(missing, d)
	}
	for _, d := range slices.Backward(missing) {
		if err := os.Mkdir(r.abs(d), 0o755); err != nil {
			return err
		}
		if err := r.tracker().Add(ctx, d); err != nil {
			return err
		}
	}
	if err := os.WriteFile(r.abs(rel), data, 0o644); err != nil {
		return err
	}
	return r.tracker().Add(ctx, rel)
}

const versionFile = ".be/version"

// Version returns the recorded format version.
func (r *Repo) Version() (string, error) {
	raw, err := r.read(versionFile)
	if err != nil {
		return "", fmt.Errorf("failed to read format version: %w: %w", storage.ErrConnection, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (r *Repo) setVersion(ctx context.Context, v string) error {
	return r.write(ctx, versionFile, []byte(v+"\n"))
}

// Step upgrades a tree from one version to another.
type Step struct {
	From, To string
	// check runs before the marker is rewritten and may refuse the step.
	check func(ctx context.Context, r *Repo) error
	apply func(ctx context.Context, r *Repo) error
}

// NewStep returns a step running apply after the marker is rewritten.
func NewStep(from, to string, apply func(ctx context.Context, r *Repo) error) *Step {
	return &Step{From: from, To: to, apply: apply}
}

func (s *Step) run(ctx context.Context, r *Repo) error {
	v, err := r.Version()
	if err != nil {
		return err
	}
	if v != s.From {
		return fmt.Errorf("step %q -> %q found %q: %w", s.From, s.To, v, storage.ErrInvalidStorageVersion)
	}
	if s.check != nil {
		if err := s.check(ctx, r); err != nil {
			return err
		}
	}
	if err := r.setVersion(ctx, s.To); err != nil {
		return err
	}
	if s.apply != nil {
		if err := s.apply(ctx, r); err != nil {
			return fmt.Errorf("upgrade %q -> %q: %w", s.From, s.To, err)
		}
	}
	slog.InfoContext(ctx, "Upgraded storage", "from", s.From, "to", s.To)
	return nil
}

// Chain is an ordered list of versions and the steps between them.
type Chain struct {
	versions []string
	steps    map[[2]string]*Step
}

// NewChain returns a chain over versions, oldest first.
func NewChain(versions []string, steps ...*Step) *Chain {
	c := &Chain{versions: slices.Clone(versions), steps: map[[2]string]*Step{}}
	for _, s := range steps {
		c.steps[[2]string{s.From, s.To}] = s
	}
	return c
}

// Default returns the chain of every known version.
func Default() *Chain {
	return NewChain([]string{V10, V11, V12, V13, V14, V15}, defaultSteps()...)
}

// Versions returns the known versions, oldest first.
func (c *Chain) Versions() []string {
	return slices.Clone(c.versions)
}

// Known reports whether v is a version of the chain.
func (c *Chain) Known(v string) bool {
	return slices.Contains(c.versions, v)
}

// Upgrade moves r from version from to version to.
func (c *Chain) Upgrade(ctx context.Context, r *Repo, from, to string) error {
	if from == to {
		return nil
	}
	if s, ok := c.steps[[2]string{from, to}]; ok {
		return s.run(ctx, r)
	}
	i, j := slices.Index(c.versions, from), slices.Index(c.versions, to)
	if i < 0 || j < 0 {
		return fmt.Errorf("no path from %q to %q: %w", from, to, storage.ErrInvalidStorageVersion)
	}
	if i > j {
		return fmt.Errorf("cannot downgrade %q to %q: %w", from, to, storage.ErrInvalidStorageVersion)
	}
	for k := i; k < j; k++ {
		s, ok := c.steps[[2]string{c.versions[k], c.versions[k+1]}]
		if !ok {
			return fmt.Errorf("%q -> %q: %w", c.versions[k], c.versions[k+1], ErrNotImplemented)
		}
		if err := s.run(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
