package identity

import (
	"context"
	"errors"
	"testing"
)

type fixed struct {
	id string
	ok bool
}

func (f fixed) UserID(context.Context) (string, bool) { return f.id, f.ok }

func envOf(m map[string]string) Lookup {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	host := func() (string, error) { return "box", nil }
	for _, tc := range []struct {
		name string
		r    Resolver
		p    Provider
		want string
	}{
		{"Override", Resolver{Override: "Me <me@x>", Env: envOf(nil), Hostname: host}, fixed{"Vcs <v@x>", true}, "Me <me@x>"},
		{"Provider", Resolver{Env: envOf(nil), Hostname: host}, fixed{"Vcs <v@x>", true}, "Vcs <v@x>"},
		{"ProviderMissing", Resolver{Env: envOf(map[string]string{"EMAIL": "Ann <ann@x.org>"}), Hostname: host}, fixed{}, "Ann <ann@x.org>"},
		{"BareEmail", Resolver{Env: envOf(map[string]string{"EMAIL": "ann@x.org"}), Hostname: host}, nil, "<ann@x.org>"},
		{"User", Resolver{Env: envOf(map[string]string{"LOGNAME": "bob"}), Hostname: host}, nil, "bob <bob@box>"},
		{"Host", Resolver{Env: envOf(nil), Hostname: host}, nil, "box"},
		{"NoHost", Resolver{Env: envOf(nil), Hostname: func() (string, error) { return "", errors.New("x") }}, nil, "localhost"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.r.Resolve(t.Context(), tc.p); got != tc.want {
				t.Errorf("Resolve() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ in, name, email string }{
		{"Ann Lee <ann@x.org>", "Ann Lee", "ann@x.org"},
		{"<ann@x.org>", "", "ann@x.org"},
		{"weird name <not an address>", "weird name", "not an address"},
		{"plain", "plain", ""},
	} {
		name, email := Parse(tc.in)
		if name != tc.name || email != tc.email {
			t.Errorf("Parse(%q) = %q, %q; want %q, %q", tc.in, name, email, tc.name, tc.email)
		}
	}
}
