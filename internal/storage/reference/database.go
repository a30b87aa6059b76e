// Persists snapshots in SQLite.

package reference

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS revisions (
	idx     INTEGER PRIMARY KEY,
	id      TEXT NOT NULL UNIQUE,
	summary TEXT NOT NULL,
	body    TEXT NOT NULL,
	created INTEGER NOT NULL,
	tree    BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS working (
	id   INTEGER PRIMARY KEY CHECK (id = 0),
	tree BLOB NOT NULL
);
`

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

type database struct {
	conn *sql.DB
}

func createDatabase(ctx context.Context, path string) (*database, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s already exists: %w", path, storage.ErrConnection)
	}
	db, err := openSQLite(ctx, path, false)
	if err != nil {
		return nil, err
	}
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		_ = db.close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('version', ?)`, storage.FormatVersion); err != nil {
		_ = db.close()
		return nil, fmt.Errorf("failed to record version: %w", err)
	}
	return db, nil
}

func openDatabase(ctx context.Context, path string, readOnly bool) (*database, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, storage.ErrConnection, err)
	}
	return openSQLite(ctx, path, readOnly)
}

func openSQLite(ctx context.Context, path string, readOnly bool) (*database, error) {
	dsn := "file:" + path
	if readOnly {
		dsn += "?mode=ro"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	return &database{conn: conn}, nil
}

func removeDatabase(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (db *database) close() error {
	return db.conn.Close()
}

func (db *database) formatVersion(ctx context.Context) (string, error) {
	var v string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'version'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no recorded version: %w", storage.ErrInvalidStorageVersion)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read version: %w", err)
	}
	return v, nil
}

func encodeTree(t *storage.Tree) ([]byte, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(raw, nil), nil
}

func decodeTree(blob []byte) (*storage.Tree, error) {
	raw, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	t := storage.NewTree()
	if err := json.Unmarshal(raw, t); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return t, nil
}

func (db *database) insertRevision(ctx context.Context, idx int, r *revision) error {
	blob, err := encodeTree(r.tree)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO revisions (idx, id, summary, body, created, tree) VALUES (?, ?, ?, ?, ?, ?)`,
		idx, r.id, r.summary, r.body, r.created.UnixNano(), blob)
	if err != nil {
		return fmt.Errorf("failed to insert revision %d: %w", idx, err)
	}
	return nil
}

func (db *database) loadRevisions(ctx context.Context) ([]*revision, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, summary, body, created, tree FROM revisions ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*revision
	for rows.Next() {
		var (
			r       revision
			created int64
			blob    []byte
		)
		if err := rows.Scan(&r.id, &r.summary, &r.body, &created, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		r.created = time.Unix(0, created).UTC()
		if r.tree, err = decodeTree(blob); err != nil {
			return nil, fmt.Errorf("revision %s: %w", r.id, err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (db *database) saveWorking(ctx context.Context, t *storage.Tree) error {
	blob, err := encodeTree(t)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, `INSERT INTO working (id, tree) VALUES (0, ?) ON CONFLICT (id) DO UPDATE SET tree = excluded.tree`, blob)
	if err != nil {
		return fmt.Errorf("failed to save working tree: %w", err)
	}
	return nil
}

func (db *database) loadWorking(ctx context.Context) (*storage.Tree, error) {
	var blob []byte
	err := db.conn.QueryRowContext(ctx, `SELECT tree FROM working WHERE id = 0`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.NewTree(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load working tree: %w", err)
	}
	return decodeTree(blob)
}
