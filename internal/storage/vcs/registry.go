// Selects a backend by name, by detection or by availability.

package vcs

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// Options configures an adapter.
type Options struct {
	// Client overrides the executable name, e.g. a full path.
	Client string
}

// Factory creates one kind of adapter.
type Factory struct {
	Name string
	New  func(Options) Adapter
}

// Registry is an ordered, immutable list of backends. The unversioned
// backend is always the fallback and is not part of the list.
type Registry struct {
	factories []Factory
	clients   map[string]string
}

// NewRegistry returns a registry trying factories in order.
func NewRegistry(factories ...Factory) *Registry {
	return &Registry{factories: slices.Clone(factories), clients: map[string]string{}}
}

// DefaultRegistry returns every backend in preference order.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Factory{"arch", NewArch},
		Factory{"bzr", NewBzr},
		Factory{"darcs", NewDarcs},
		Factory{"git", NewGit},
		Factory{"gogit", NewGoGit},
		Factory{"hg", NewHg},
		Factory{"monotone", NewMonotone},
	)
}

// WithClients returns a copy of r whose adapters run the given
// executables, keyed by backend name.
func (r *Registry) WithClients(clients map[string]string) *Registry {
	c := &Registry{factories: r.factories, clients: maps.Clone(r.clients)}
	maps.Copy(c.clients, clients)
	return c
}

// Names returns the backend names in order, "none" last.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories)+1)
	for _, f := range r.factories {
		out = append(out, f.Name)
	}
	return append(out, "none")
}

func (r *Registry) build(f Factory) Adapter {
	return f.New(Options{Client: r.clients[f.Name]})
}

// ByName returns the named backend.
func (r *Registry) ByName(name string) (Adapter, error) {
	if name == "none" {
		return NewNone(Options{}), nil
	}
	for _, f := range r.factories {
		if f.Name == name {
			return r.build(f), nil
		}
	}
	return nil, fmt.Errorf("unknown vcs %q, want one of %v", name, r.Names())
}

// Detect returns the first installed backend managing path, else the
// unversioned one.
func (r *Registry) Detect(ctx context.Context, path string) Adapter {
	for _, f := range r.factories {
		a := r.build(f)
		if _, ok := a.Version(ctx); ok && a.Detect(ctx, path) {
			return a
		}
	}
	return NewNone(Options{})
}

// Installed returns the first backend whose tool is available, else the
// unversioned one.
func (r *Registry) Installed(ctx context.Context) Adapter {
	for _, f := range r.factories {
		a := r.build(f)
		if _, ok := a.Version(ctx); ok {
			return a
		}
	}
	return NewNone(Options{})
}
