// Mapfile encodings used by the successive formats.

package upgrade

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseLegacy decodes the key=value mapfiles of the first format. Blank
// lines and lines starting with # are ignored.
func parseLegacy(raw []byte) (map[string]any, error) {
	m := map[string]any{}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: missing '='", n)
		}
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return m, sc.Err()
}

func parseYAML(raw []byte) (map[string]any, error) {
	m := map[string]any{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func formatYAML(m map[string]any) ([]byte, error) {
	return yaml.Marshal(m)
}

// formatJSON writes sorted keys with a 4 space indent.
func formatJSON(m map[string]any) ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// mapfiles lists the settings and values files of a tree.
type mapfiles struct {
	settings []string
	bugs     []string
	comments []string
}

// mapfiles globs the tree. nested selects the layout with a bugdir
// directory under the top spacer.
func (r *Repo) mapfiles(nested bool) (*mapfiles, error) {
	base := ".be"
	if nested {
		base = ".be/*"
	}
	out := &mapfiles{}
	for _, g := range []struct {
		dst     *[]string
		pattern string
	}{
		{&out.settings, base + "/settings"},
		{&out.bugs, base + "/bugs/*/values"},
		{&out.comments, base + "/bugs/*/comments/*/values"},
	} {
		matches, err := filepath.Glob(r.abs(g.pattern))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			rel, err := filepath.Rel(r.Root, m)
			if err != nil {
				return nil, err
			}
			rel = filepath.ToSlash(rel)
			if hidden(rel) {
				continue
			}
			*g.dst = append(*g.dst, rel)
		}
		slices.Sort(*g.dst)
	}
	return out, nil
}

func (m *mapfiles) all() []string {
	return slices.Concat(m.settings, m.bugs, m.comments)
}

func hidden(rel string) bool {
	for _, s := range strings.Split(rel, "/")[1:] {
		if strings.HasPrefix(s, ".") {
			return true
		}
	}
	return false
}

// convert rewrites each file through decode, edit and encode.
func (r *Repo) convert(ctx context.Context, files []string, decode func([]byte) (map[string]any, error), edit func(rel string, m map[string]any), encode func(map[string]any) ([]byte, error)) error {
	for _, rel := range files {
		raw, err := r.read(rel)
		if err != nil {
			return err
		}
		m, err := decode(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		if edit != nil {
			edit(rel, m)
		}
		out, err := encode(m)
		if err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		if err := r.write(ctx, rel, out); err != nil {
			return err
		}
	}
	return nil
}
