// The concrete format migrations.

package upgrade

import (
	"context"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

func defaultSteps() []*Step {
	return []*Step{
		{From: V10, To: V11, apply: upgrade10to11},
		{From: V11, To: V12, apply: upgrade11to12},
		{From: V12, To: V13, apply: upgrade12to13},
		{From: V13, To: V14, check: check13to14},
		{From: V14, To: V15, apply: upgrade14to15},
	}
}

// upgrade10to11 turns key=value mapfiles into YAML. Comments name their
// author Author instead of From.
func upgrade10to11(ctx context.Context, r *Repo) error {
	files, err := r.mapfiles(false)
	if err != nil {
		return err
	}
	if err := r.convert(ctx, slices.Concat(files.settings, files.bugs), parseLegacy, nil, formatYAML); err != nil {
		return err
	}
	rename := func(_ string, m map[string]any) {
		if v, ok := m["From"]; ok {
			m["Author"] = v
			delete(m, "From")
		}
	}
	return r.convert(ctx, files.comments, parseLegacy, rename, formatYAML)
}

// upgrade11to12 renames the bugdir rcs_name setting to vcs_name.
func upgrade11to12(ctx context.Context, r *Repo) error {
	files, err := r.mapfiles(false)
	if err != nil {
		return err
	}
	rename := func(_ string, m map[string]any) {
		if v, ok := m["rcs_name"]; ok {
			m["vcs_name"] = v
			delete(m, "rcs_name")
		}
	}
	return r.convert(ctx, files.settings, parseYAML, rename, formatYAML)
}

// upgrade12to13 replaces scalar target fields with target bugs. Each
// distinct target text becomes one bug of severity "target" that is blocked
// by every bug aiming at it; the bugdir target setting then holds the
// target bug id.
func upgrade12to13(ctx context.Context, r *Repo) error {
	files, err := r.mapfiles(false)
	if err != nil {
		return err
	}
	type target struct {
		id      string
		blocked []string
	}
	targets := map[string]*target{}
	var order []string
	lookup := func(text string) *target {
		t, ok := targets[text]
		if !ok {
			t = &target{id: uuid.NewString()}
			targets[text] = t
			order = append(order, text)
		}
		return t
	}
	aim := func(rel string, m map[string]any) {
		text, ok := m["target"].(string)
		delete(m, "target")
		if !ok || text == "" {
			return
		}
		t := lookup(text)
		bug := path.Base(path.Dir(rel))
		t.blocked = append(t.blocked, bug)
		m["extra_strings"] = appendExtra(m["extra_strings"], "BLOCKS:"+t.id)
	}
	if err := r.convert(ctx, files.bugs, parseYAML, aim, formatYAML); err != nil {
		return err
	}
	settle := func(_ string, m map[string]any) {
		if text, ok := m["target"].(string); ok && text != "" {
			m["target"] = lookup(text).id
		}
	}
	if err := r.convert(ctx, files.settings, parseYAML, settle, formatYAML); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC1123Z)
	for _, text := range order {
		t := targets[text]
		m := map[string]any{
			"severity": "target",
			"status":   "open",
			"summary":  text,
			"time":     now,
		}
		if len(t.blocked) != 0 {
			var extra any
			for _, b := range t.blocked {
				extra = appendExtra(extra, "BLOCKED-BY:"+b)
			}
			m["extra_strings"] = extra
		}
		raw, err := formatYAML(m)
		if err != nil {
			return err
		}
		if err := r.create(ctx, ".be/bugs/"+t.id+"/values", raw); err != nil {
			return err
		}
	}
	return nil
}

// appendExtra appends s to a YAML list value, keeping it sorted.
func appendExtra(v any, s string) []any {
	var out []any
	if l, ok := v.([]any); ok {
		out = slices.Clone(l)
	}
	out = append(out, s)
	slices.SortFunc(out, func(a, b any) int {
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	})
	return out
}

// check13to14 accepts a tree already moved under a bugdir directory. The
// move itself cannot be expressed through a Tracker so the operator does
// it by hand.
func check13to14(_ context.Context, r *Repo) error {
	entries, err := os.ReadDir(r.abs(".be"))
	if err != nil {
		return err
	}
	var dirs []string
	legacy := false
	for _, e := range entries {
		switch name := e.Name(); {
		case strings.HasPrefix(name, "."), name == "version", name == "id-cache":
		case name == "bugs" || name == "settings":
			legacy = true
		case e.IsDir():
			dirs = append(dirs, name)
		}
	}
	if !legacy && (len(dirs) == 0 || len(dirs) == 1 && uuid.Validate(dirs[0]) == nil) {
		return nil
	}
	bd := uuid.NewString()
	if len(dirs) == 1 && uuid.Validate(dirs[0]) == nil {
		bd = dirs[0]
	}
	steps := []string{"mkdir .be/" + bd}
	for _, name := range []string{"bugs", "settings"} {
		if r.exists(".be/" + name) {
			steps = append(steps, fmt.Sprintf("move .be/%s to .be/%s/%s with your version control tool", name, bd, name))
		}
	}
	steps = append(steps, "run the upgrade again")
	return &ManualError{From: V13, To: V14, Instructions: steps}
}

// upgrade14to15 turns YAML mapfiles into JSON.
func upgrade14to15(ctx context.Context, r *Repo) error {
	files, err := r.mapfiles(true)
	if err != nil {
		return err
	}
	return r.convert(ctx, files.all(), parseYAML, nil, formatJSON)
}
