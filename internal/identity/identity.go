// Package identity resolves the "Name <email>" string recorded as the
// author of commits.
package identity

import (
	"context"
	"fmt"
	"net/mail"
	"os"
	"strings"
)

// Provider is implemented by backends that know the configured user.
type Provider interface {
	UserID(ctx context.Context) (string, bool)
}

// Lookup reads an environment variable. It is os.LookupEnv outside tests.
type Lookup func(key string) (string, bool)

// Resolver builds a user id from, in order: an explicit override, a
// backend Provider, then the environment.
type Resolver struct {
	// Override wins when set, typically from configuration.
	Override string
	// Env defaults to os.LookupEnv.
	Env Lookup
	// Hostname defaults to os.Hostname.
	Hostname func() (string, error)
}

// Resolve returns the user id. It never fails; the last resort is the
// bare host name.
func (r *Resolver) Resolve(ctx context.Context, p Provider) string {
	if r.Override != "" {
		return r.Override
	}
	if p != nil {
		if id, ok := p.UserID(ctx); ok && id != "" {
			return id
		}
	}
	return r.fromEnv()
}

func (r *Resolver) fromEnv() string {
	env := r.Env
	if env == nil {
		env = os.LookupEnv
	}
	host := r.Hostname
	if host == nil {
		host = os.Hostname
	}
	if v, ok := env("EMAIL"); ok && v != "" {
		if a, err := mail.ParseAddress(v); err == nil {
			return Format(a.Name, a.Address)
		}
		return v
	}
	name := ""
	for _, k := range []string{"USER", "LOGNAME", "USERNAME"} {
		if v, ok := env(k); ok && v != "" {
			name = v
			break
		}
	}
	h, err := host()
	if err != nil || h == "" {
		h = "localhost"
	}
	if name == "" {
		return h
	}
	return Format(name, name+"@"+h)
}

// Format joins a name and an email address. Either may be empty.
func Format(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		return name
	case name == "":
		return "<" + email + ">"
	default:
		return fmt.Sprintf("%s <%s>", name, email)
	}
}

// Parse splits a user id into its name and email. A string without an
// address is all name.
func Parse(id string) (name, email string) {
	if a, err := mail.ParseAddress(id); err == nil {
		return a.Name, a.Address
	}
	if i := strings.LastIndexByte(id, '<'); i >= 0 && strings.HasSuffix(id, ">") {
		return strings.TrimSpace(id[:i]), id[i+1 : len(id)-1]
	}
	return strings.TrimSpace(id), ""
}
