// Maps commit indices onto positions in a linear history.

package storage

import "fmt"

// ResolveIndex maps a RevisionID index onto a position in a history of n
// commits: 0 is the state before the first commit, 1..n count forward and
// -1..-n count back from the newest commit. Anything else is
// ErrInvalidRevision.
func ResolveIndex(index, n int) (int, error) {
	switch {
	case index >= 0 && index <= n:
		return index, nil
	case index < 0 && index >= -n:
		return n + 1 + index, nil
	default:
		return 0, fmt.Errorf("index %d of %d commits: %w", index, n, ErrInvalidRevision)
	}
}
