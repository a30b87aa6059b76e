// Names reserved by the on-disk directory layout.

package storage

import (
	"fmt"
	"slices"
	"strings"
)

const (
	// VersionFile is the format marker inside the top spacer directory.
	VersionFile = "version"
	// IDCacheFile is the id to path cache inside the top spacer directory.
	IDCacheFile = "id-cache"
)

// Spacers returns the directory names separating nested objects,
// outermost first.
func Spacers() []string {
	return []string{".be", "bugs", "comments"}
}

// checkLayout rejects ids that would land on a layout name: a spacer
// anywhere in the id, or a bookkeeping file as the top-level object.
// Every driver is held to it so that ids stay portable between backends.
func checkLayout(id string) error {
	object, _, _ := strings.Cut(id, "/")
	if object == VersionFile || object == IDCacheFile {
		return fmt.Errorf("%q is a reserved file name: %w", id, ErrSpacerCollision)
	}
	spacers := Spacers()
	for seg := range strings.SplitSeq(id, "/") {
		if slices.Contains(spacers, seg) {
			return fmt.Errorf("%q uses spacer %q: %w", id, seg, ErrSpacerCollision)
		}
	}
	return nil
}
