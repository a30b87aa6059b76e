// Package reference implements the storage contract without any version
// control tool.
//
// # Overview
//
// A Storage keeps a single working tree of entries and, when versioned, a
// linear list of full snapshots, one per commit. Revision 0 is the empty
// tree recorded at Init. Snapshots are never delta-encoded; every commit
// holds a complete copy of the tree.
//
// # Persistence
//
// With an empty Options.Path the storage lives in memory and survives
// Disconnect/Connect cycles for the lifetime of the value. With a path, it
// is a SQLite database: commits are written as they happen and the working
// tree is written on Disconnect. Snapshots are stored as zstd-compressed
// JSON.
package reference

import (
	"context"
	"fmt"
	"time"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
	"github.com/maruel/ksid"
)

// Options configures a Storage.
type Options struct {
	// Path is the SQLite database file. Empty keeps everything in memory.
	Path string
	// Versioned enables commits and history.
	Versioned bool
	// ReadOnly opens the database without write access. The storage then
	// reports itself as not writeable.
	ReadOnly bool
}

// Storage is the reference storage driver.
type Storage struct {
	opts Options

	db        *database
	work      *storage.Tree
	revs      []*revision
	byID      map[string]int
	connected bool
	// initialized tracks in-memory storages, which have no file to probe.
	initialized bool
}

// revision is one committed snapshot.
type revision struct {
	id      string
	summary string
	body    string
	created time.Time
	tree    *storage.Tree
}

// New returns an unconnected reference storage.
func New(opts Options) *Storage {
	return &Storage{opts: opts}
}

// Name implements storage.Driver.
func (s *Storage) Name() string {
	return "reference"
}

// Version implements storage.Driver.
func (s *Storage) Version(context.Context) string {
	return storage.FormatVersion
}

// Versioned implements storage.VersionedDriver.
func (s *Storage) Versioned() bool {
	return s.opts.Versioned
}

// Capabilities implements storage.Capabilities.
func (s *Storage) Capabilities() (readable, writeable bool) {
	return true, !s.opts.ReadOnly
}

func (s *Storage) reset() {
	s.work = storage.NewTree()
	s.revs = nil
	s.byID = map[string]int{}
	if s.opts.Versioned {
		s.appendRevision(&revision{id: ksid.NewID().String(), summary: "Initial commit", created: time.Now().UTC(), tree: storage.NewTree()})
	}
}

func (s *Storage) appendRevision(r *revision) {
	s.byID[r.id] = len(s.revs)
	s.revs = append(s.revs, r)
}

// Init implements storage.Driver.
func (s *Storage) Init(ctx context.Context) error {
	if s.opts.ReadOnly {
		return fmt.Errorf("init %s: %w", s.opts.Path, storage.ErrNotWriteable)
	}
	s.reset()
	if s.opts.Path == "" {
		s.initialized = true
		return nil
	}
	db, err := createDatabase(ctx, s.opts.Path)
	if err != nil {
		return err
	}
	defer func() { _ = db.close() }()
	for i, r := range s.revs {
		if err := db.insertRevision(ctx, i, r); err != nil {
			return err
		}
	}
	return db.saveWorking(ctx, s.work)
}

// Destroy implements storage.Driver.
func (s *Storage) Destroy(context.Context) error {
	s.connected = false
	s.initialized = false
	s.work, s.revs, s.byID = nil, nil, nil
	if s.opts.Path == "" {
		return nil
	}
	if s.db != nil {
		_ = s.db.close()
		s.db = nil
	}
	return removeDatabase(s.opts.Path)
}

// Connect implements storage.Driver.
func (s *Storage) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}
	if s.opts.Path == "" {
		if !s.initialized {
			return fmt.Errorf("in-memory storage not initialized: %w", storage.ErrConnection)
		}
		s.connected = true
		return nil
	}
	db, err := openDatabase(ctx, s.opts.Path, s.opts.ReadOnly)
	if err != nil {
		return err
	}
	v, err := db.formatVersion(ctx)
	if err != nil {
		_ = db.close()
		return err
	}
	if v != storage.FormatVersion {
		_ = db.close()
		return fmt.Errorf("%s records %q, want %q: %w", s.opts.Path, v, storage.FormatVersion, storage.ErrInvalidStorageVersion)
	}
	s.byID = map[string]int{}
	s.revs = nil
	revs, err := db.loadRevisions(ctx)
	if err != nil {
		_ = db.close()
		return err
	}
	for _, r := range revs {
		s.appendRevision(r)
	}
	if s.work, err = db.loadWorking(ctx); err != nil {
		_ = db.close()
		return err
	}
	s.db = db
	s.connected = true
	return nil
}

// Disconnect implements storage.Driver.
func (s *Storage) Disconnect(ctx context.Context) error {
	if !s.connected {
		return nil
	}
	s.connected = false
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	if !s.opts.ReadOnly {
		if err := db.saveWorking(ctx, s.work); err != nil {
			_ = db.close()
			return err
		}
	}
	return db.close()
}

// tree returns the working tree for rev "" and the snapshot otherwise.
func (s *Storage) tree(rev string) (*storage.Tree, error) {
	if !s.connected {
		return nil, fmt.Errorf("reference storage not connected: %w", storage.ErrConnection)
	}
	if rev == "" {
		return s.work, nil
	}
	i, ok := s.byID[rev]
	if !ok {
		return nil, fmt.Errorf("%q: %w", rev, storage.ErrInvalidRevision)
	}
	return s.revs[i].tree, nil
}

// Add implements storage.Driver.
func (s *Storage) Add(_ context.Context, id string, opts storage.AddOptions) error {
	t, err := s.tree("")
	if err != nil {
		return err
	}
	return t.Add(id, opts.Parent, opts.Directory)
}

// Exists implements storage.Driver.
func (s *Storage) Exists(_ context.Context, id, rev string) (bool, error) {
	t, err := s.tree(rev)
	if err != nil {
		return false, err
	}
	_, ok := t.Lookup(id)
	return ok, nil
}

// Remove implements storage.Driver.
func (s *Storage) Remove(_ context.Context, id string) error {
	t, err := s.tree("")
	if err != nil {
		return err
	}
	return t.Remove(id)
}

// RecursiveRemove implements storage.Driver.
func (s *Storage) RecursiveRemove(_ context.Context, id string) error {
	t, err := s.tree("")
	if err != nil {
		return err
	}
	return t.RecursiveRemove(id)
}

// Ancestors implements storage.Driver.
func (s *Storage) Ancestors(_ context.Context, id, rev string) ([]string, error) {
	t, err := s.tree(rev)
	if err != nil {
		return nil, err
	}
	return t.Ancestors(id)
}

// Children implements storage.Driver.
func (s *Storage) Children(_ context.Context, id, rev string) ([]string, error) {
	t, err := s.tree(rev)
	if err != nil {
		return nil, err
	}
	return t.Children(id)
}

// Get implements storage.Driver.
func (s *Storage) Get(_ context.Context, id, rev string) ([]byte, error) {
	t, err := s.tree(rev)
	if err != nil {
		return nil, err
	}
	return t.Get(id)
}

// Set implements storage.Driver.
func (s *Storage) Set(_ context.Context, id string, value []byte) error {
	t, err := s.tree("")
	if err != nil {
		return err
	}
	return t.Set(id, value)
}

// StorageVersion implements storage.Driver.
func (s *Storage) StorageVersion(_ context.Context, rev string) (string, error) {
	if _, err := s.tree(rev); err != nil {
		return "", err
	}
	return storage.FormatVersion, nil
}

// Commit implements storage.VersionedDriver.
func (s *Storage) Commit(ctx context.Context, summary, body string, allowEmpty bool) (string, error) {
	if !s.opts.Versioned {
		return "", storage.ErrNotVersioned
	}
	t, err := s.tree("")
	if err != nil {
		return "", err
	}
	if !allowEmpty && t.Equal(s.revs[len(s.revs)-1].tree) {
		return "", storage.ErrEmptyCommit
	}
	r := &revision{
		id:      ksid.NewID().String(),
		summary: summary,
		body:    body,
		created: time.Now().UTC(),
		tree:    t.Clone(),
	}
	if s.db != nil {
		if err := s.db.insertRevision(ctx, len(s.revs), r); err != nil {
			return "", err
		}
	}
	s.appendRevision(r)
	return r.id, nil
}

// RevisionID implements storage.VersionedDriver.
func (s *Storage) RevisionID(_ context.Context, index int) (string, error) {
	if !s.opts.Versioned {
		return "", storage.ErrNotVersioned
	}
	if !s.connected {
		return "", fmt.Errorf("reference storage not connected: %w", storage.ErrConnection)
	}
	i, err := storage.ResolveIndex(index, len(s.revs)-1)
	if err != nil || i == 0 {
		// The initial empty tree is internal; like the VCS backends, index
		// 0 has no revision id.
		return "", err
	}
	return s.revs[i].id, nil
}

// Changed implements storage.VersionedDriver.
func (s *Storage) Changed(_ context.Context, rev string) (*storage.Changes, error) {
	if !s.opts.Versioned {
		return nil, storage.ErrNotVersioned
	}
	if rev == "" {
		return nil, fmt.Errorf("empty revision: %w", storage.ErrInvalidRevision)
	}
	old, err := s.tree(rev)
	if err != nil {
		return nil, err
	}
	return storage.DiffTrees(old, s.work), nil
}
