// Renders change listings and value diffs.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	diffpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

var (
	added   = color.New(color.FgGreen).SprintFunc()
	removed = color.New(color.FgRed).SprintFunc()
	header  = color.New(color.Bold).SprintFunc()
)

// printChanges writes one "A id", "M id" or "D id" line per change. With
// patch, modified values follow as line diffs.
func printChanges(ctx context.Context, w io.Writer, s *storage.Store, rev string, c *storage.Changes, patch bool) error {
	for _, id := range c.New {
		fmt.Fprintln(w, added("A "+id))
	}
	for _, id := range c.Modified {
		fmt.Fprintln(w, header("M "+id))
		if !patch {
			continue
		}
		before, err := s.Get(ctx, id, storage.AtRevision(rev), storage.WithDefault(nil))
		if err != nil {
			return err
		}
		after, err := s.Get(ctx, id, storage.WithDefault(nil))
		if err != nil {
			return err
		}
		io.WriteString(w, lineDiff(string(before), string(after)))
	}
	for _, id := range c.Removed {
		fmt.Fprintln(w, removed("D "+id))
	}
	return nil
}

// lineDiff renders a unified style line diff without hunk headers.
func lineDiff(before, after string) string {
	dmp := diffpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	var out strings.Builder
	for _, d := range diffs {
		for _, l := range strings.SplitAfter(d.Text, "\n") {
			if l == "" {
				continue
			}
			if !strings.HasSuffix(l, "\n") {
				l += "\n"
			}
			switch d.Type {
			case diffpatch.DiffInsert:
				out.WriteString(added("+" + l))
			case diffpatch.DiffDelete:
				out.WriteString(removed("-" + l))
			case diffpatch.DiffEqual:
				out.WriteString(" " + l)
			}
		}
	}
	return out.String()
}
