// Defines the Storage contracts and the access-gated Store.

package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// FormatVersion is the on-disk storage format this engine reads and writes.
const FormatVersion = "Bugs Everywhere Directory v1.5"

// AddOptions controls Add.
type AddOptions struct {
	// Parent is the id of the owning directory entry. Empty means the root.
	Parent string
	// Directory marks the new entry as able to hold children.
	Directory bool
}

// Changes lists the ids that differ between a revision and the working state.
type Changes struct {
	New      []string `json:"new"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

func (c *Changes) sort() {
	slices.Sort(c.New)
	slices.Sort(c.Modified)
	slices.Sort(c.Removed)
}

// Driver is implemented by storage backends. Store gates access and
// validates arguments before calling into it.
//
// A revision argument of "" always means the current working state.
type Driver interface {
	// Name identifies the backend, e.g. "git" or "reference".
	Name() string
	// Version returns the backend tool version, "" if unknown.
	Version(ctx context.Context) string

	Init(ctx context.Context) error
	Destroy(ctx context.Context) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	Add(ctx context.Context, id string, opts AddOptions) error
	Exists(ctx context.Context, id, rev string) (bool, error)
	Remove(ctx context.Context, id string) error
	RecursiveRemove(ctx context.Context, id string) error
	Ancestors(ctx context.Context, id, rev string) ([]string, error)
	Children(ctx context.Context, id, rev string) ([]string, error)
	// Get returns ErrInvalidID when id is absent, a directory, or empty.
	Get(ctx context.Context, id, rev string) ([]byte, error)
	Set(ctx context.Context, id string, value []byte) error
	StorageVersion(ctx context.Context, rev string) (string, error)
}

// VersionedDriver is a Driver with history.
type VersionedDriver interface {
	Driver
	// Versioned reports whether history is available. A driver may
	// implement the methods yet be backed by an unversioned tool.
	Versioned() bool
	Commit(ctx context.Context, summary, body string, allowEmpty bool) (string, error)
	RevisionID(ctx context.Context, index int) (string, error)
	Changed(ctx context.Context, rev string) (*Changes, error)
}

// Capabilities is optionally implemented by drivers whose backend limits
// access regardless of caller preference.
type Capabilities interface {
	Capabilities() (readable, writeable bool)
}

// Store is the backend-independent storage API.
//
// Every query requires Readable && HardReadable and every mutation requires
// Writeable && HardWriteable; the gate is checked before the driver is
// called.
type Store struct {
	// Readable and Writeable are caller controlled.
	Readable  bool
	Writeable bool
	// HardReadable and HardWriteable reflect backend capability.
	HardReadable  bool
	HardWriteable bool

	driver Driver
}

// New wraps d in a fully accessible Store.
func New(d Driver) *Store {
	s := &Store{Readable: true, Writeable: true, driver: d}
	s.refreshCapabilities()
	return s
}

// Driver returns the wrapped driver.
func (s *Store) Driver() Driver {
	return s.driver
}

// Name returns the driver name.
func (s *Store) Name() string {
	return s.driver.Name()
}

// Version returns the backend tool version.
func (s *Store) Version(ctx context.Context) string {
	return s.driver.Version(ctx)
}

// Versioned reports whether Commit, RevisionID and Changed are available.
func (s *Store) Versioned() bool {
	v, ok := s.driver.(VersionedDriver)
	return ok && v.Versioned()
}

func (s *Store) refreshCapabilities() {
	s.HardReadable, s.HardWriteable = true, true
	if c, ok := s.driver.(Capabilities); ok {
		s.HardReadable, s.HardWriteable = c.Capabilities()
	}
}

func (s *Store) checkReadable() error {
	if !s.Readable || !s.HardReadable {
		return ErrNotReadable
	}
	return nil
}

func (s *Store) checkWriteable() error {
	if !s.Writeable || !s.HardWriteable {
		return ErrNotWriteable
	}
	return nil
}

func checkID(id string) error {
	if id == "" || id == RootID {
		return fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	return nil
}

// Init creates a new empty storage.
func (s *Store) Init(ctx context.Context) error {
	if err := s.checkWriteable(); err != nil {
		return err
	}
	return s.driver.Init(ctx)
}

// Destroy removes the storage and everything in it.
func (s *Store) Destroy(ctx context.Context) error {
	if err := s.checkWriteable(); err != nil {
		return err
	}
	return s.driver.Destroy(ctx)
}

// Connect opens a session.
func (s *Store) Connect(ctx context.Context) error {
	if err := s.driver.Connect(ctx); err != nil {
		return err
	}
	s.refreshCapabilities()
	return nil
}

// Disconnect closes the session, flushing pending state.
func (s *Store) Disconnect(ctx context.Context) error {
	return s.driver.Disconnect(ctx)
}

// Add creates id. Adding an existing id is a no-op. Ids naming a layout
// spacer or bookkeeping file fail with ErrSpacerCollision.
func (s *Store) Add(ctx context.Context, id string, opts AddOptions) error {
	if err := s.checkWriteable(); err != nil {
		return err
	}
	if err := checkID(id); err != nil {
		return err
	}
	if err := checkLayout(id); err != nil {
		return err
	}
	ok, err := s.driver.Exists(ctx, id, "")
	if err != nil || ok {
		return err
	}
	if err := s.checkDepth(ctx, id, opts.Parent); err != nil {
		return err
	}
	return s.driver.Add(ctx, id, opts)
}

// checkDepth limits object nesting to one level per spacer. Compound ids
// hold data inside their object and do not nest.
func (s *Store) checkDepth(ctx context.Context, id, parent string) error {
	if parent == "" || strings.Contains(id, "/") || strings.Contains(parent, "/") {
		return nil
	}
	above, err := s.driver.Ancestors(ctx, parent, "")
	if err != nil {
		if isAbsent(err) {
			// The driver reports the missing parent itself.
			return nil
		}
		return err
	}
	n := 2
	for _, a := range above {
		if !strings.Contains(a, "/") {
			n++
		}
	}
	if n > len(Spacers()) {
		return fmt.Errorf("%q nested too deep under %q: %w", id, parent, ErrInvalidID)
	}
	return nil
}

// Exists reports whether id exists at rev.
func (s *Store) Exists(ctx context.Context, id, rev string) (bool, error) {
	if err := s.checkReadable(); err != nil {
		return false, err
	}
	if err := checkID(id); err != nil {
		return false, err
	}
	return s.driver.Exists(ctx, id, rev)
}

// Remove deletes id, which must not be a directory with children.
func (s *Store) Remove(ctx context.Context, id string) error {
	if err := s.checkWriteable(); err != nil {
		return err
	}
	if err := checkID(id); err != nil {
		return err
	}
	return s.driver.Remove(ctx, id)
}

// RecursiveRemove deletes id and everything under it.
func (s *Store) RecursiveRemove(ctx context.Context, id string) error {
	if err := s.checkWriteable(); err != nil {
		return err
	}
	if err := checkID(id); err != nil {
		return err
	}
	return s.driver.RecursiveRemove(ctx, id)
}

// Ancestors returns the ids above id at rev, nearest first.
func (s *Store) Ancestors(ctx context.Context, id, rev string) ([]string, error) {
	if err := s.checkReadable(); err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	return s.driver.Ancestors(ctx, id, rev)
}

// Children returns the ids directly under id at rev; id "" is the root.
func (s *Store) Children(ctx context.Context, id, rev string) ([]string, error) {
	if err := s.checkReadable(); err != nil {
		return nil, err
	}
	return s.driver.Children(ctx, id, rev)
}

// GetOption configures Get.
type GetOption func(*getOptions)

type getOptions struct {
	rev        string
	def        []byte
	hasDefault bool
}

// AtRevision reads from a committed revision instead of the working state.
func AtRevision(rev string) GetOption {
	return func(o *getOptions) { o.rev = rev }
}

// WithDefault returns v instead of ErrInvalidID when the id has no value.
// Malformed ids still fail.
func WithDefault(v []byte) GetOption {
	return func(o *getOptions) {
		o.def = v
		o.hasDefault = true
	}
}

// Get returns the value of id.
func (s *Store) Get(ctx context.Context, id string, opts ...GetOption) ([]byte, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := s.checkReadable(); err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	v, err := s.driver.Get(ctx, id, o.rev)
	if err != nil {
		if o.hasDefault && isAbsent(err) {
			return o.def, nil
		}
		return nil, err
	}
	return v, nil
}

// GetString is Get decoded as UTF-8 text.
func (s *Store) GetString(ctx context.Context, id string, opts ...GetOption) (string, error) {
	v, err := s.Get(ctx, id, opts...)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(v) {
		return "", fmt.Errorf("%q: %w", id, ErrDecode)
	}
	return string(v), nil
}

// Set replaces the value of id, which must exist and not be a directory.
func (s *Store) Set(ctx context.Context, id string, value []byte) error {
	if err := s.checkWriteable(); err != nil {
		return err
	}
	if err := checkID(id); err != nil {
		return err
	}
	return s.driver.Set(ctx, id, value)
}

// StorageVersion returns the format version recorded at rev.
func (s *Store) StorageVersion(ctx context.Context, rev string) (string, error) {
	if err := s.checkReadable(); err != nil {
		return "", err
	}
	return s.driver.StorageVersion(ctx, rev)
}

func (s *Store) versioned() (VersionedDriver, error) {
	v, ok := s.driver.(VersionedDriver)
	if !ok || !v.Versioned() {
		return nil, fmt.Errorf("%s: %w", s.driver.Name(), ErrNotVersioned)
	}
	return v, nil
}

// Commit records the working state as a new revision and returns its id.
func (s *Store) Commit(ctx context.Context, summary, body string, allowEmpty bool) (string, error) {
	if err := s.checkWriteable(); err != nil {
		return "", err
	}
	v, err := s.versioned()
	if err != nil {
		return "", err
	}
	return v.Commit(ctx, summary, body, allowEmpty)
}

// RevisionID maps a commit index to a revision id. Index 0 is the state
// before the first commit, 1 the first commit, -1 the newest commit.
func (s *Store) RevisionID(ctx context.Context, index int) (string, error) {
	if err := s.checkReadable(); err != nil {
		return "", err
	}
	v, err := s.versioned()
	if err != nil {
		return "", err
	}
	return v.RevisionID(ctx, index)
}

// Changed lists the ids that differ between rev and the working state.
func (s *Store) Changed(ctx context.Context, rev string) (*Changes, error) {
	if err := s.checkReadable(); err != nil {
		return nil, err
	}
	v, err := s.versioned()
	if err != nil {
		return nil, err
	}
	c, err := v.Changed(ctx, rev)
	if err != nil {
		return nil, err
	}
	c.sort()
	return c, nil
}
