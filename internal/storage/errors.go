// Defines the storage error taxonomy.

package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection is returned when a storage cannot be rooted or connected.
	ErrConnection = errors.New("storage connection error")
	// ErrInvalidStorageVersion is returned when the recorded storage format
	// does not match the expected one and cannot be upgraded.
	ErrInvalidStorageVersion = fmt.Errorf("invalid storage version: %w", ErrConnection)
	// ErrInvalidID is returned for absent or malformed identifiers.
	ErrInvalidID = errors.New("invalid id")
	// ErrSpacerCollision is returned when an identifier segment equals a
	// spacer directory or a bookkeeping file of the layout.
	ErrSpacerCollision = fmt.Errorf("spacer collision: %w", ErrInvalidID)
	// ErrInvalidDirectory is returned when data is written to a directory or
	// a parent cannot hold children.
	ErrInvalidDirectory = errors.New("invalid directory")
	// ErrDirectoryNotEmpty is returned when a directory with children is
	// removed non-recursively.
	ErrDirectoryNotEmpty = fmt.Errorf("directory not empty: %w", ErrInvalidDirectory)
	// ErrInvalidRevision is returned for out-of-range or unknown revisions.
	ErrInvalidRevision = errors.New("invalid revision")
	// ErrNotReadable is returned when a query is attempted on a storage that
	// is not readable.
	ErrNotReadable = errors.New("storage not readable")
	// ErrNotWriteable is returned when a mutation is attempted on a storage
	// that is not writeable.
	ErrNotWriteable = errors.New("storage not writeable")
	// ErrEmptyCommit is returned when nothing changed since the last commit
	// and empty commits were not allowed.
	ErrEmptyCommit = errors.New("empty commit")
	// ErrNotVersioned is returned by versioned operations on a storage
	// without history.
	ErrNotVersioned = errors.New("storage is not versioned")
	// ErrNotSupported is returned for operations a driver cannot perform.
	ErrNotSupported = errors.New("operation not supported")
	// ErrDecode is returned when a value is not valid text.
	ErrDecode = errors.New("value is not valid UTF-8")
)

// isAbsent reports whether err means the id has no value, as opposed to a
// malformed id.
func isAbsent(err error) bool {
	return errors.Is(err, ErrInvalidID) && !errors.Is(err, ErrSpacerCollision)
}
