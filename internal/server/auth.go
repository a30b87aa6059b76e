// Implements password credentials and bearer tokens.

package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maruel/ksid"
	"github.com/natefinch/atomic"
	"golang.org/x/crypto/bcrypt"

	"github.com/aaiyer/bugseverywhere-sub000/internal/server/dto"
)

const tokenExpiration = 24 * time.Hour

var (
	errMissingAuth   = dto.Unauthorized("authorization required")
	errInvalidHeader = dto.Unauthorized("invalid authorization header format")
	errInvalidToken  = dto.Unauthorized("invalid or expired token")
	errBadPassword   = dto.Unauthorized("invalid credentials")
)

// Credentials maps user names to bcrypt password hashes.
//
// The file format is one "user:hash" per line; blank lines and lines
// starting with # are ignored.
type Credentials struct {
	mu     sync.RWMutex
	hashes map[string][]byte
}

// LoadCredentials reads path. A missing file yields no users.
func LoadCredentials(path string) (*Credentials, error) {
	c := &Credentials{hashes: map[string][]byte{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	s := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; s.Scan(); n++ {
		l := strings.TrimSpace(s.Text())
		if l == "" || l[0] == '#' {
			continue
		}
		user, hash, ok := strings.Cut(l, ":")
		if !ok || user == "" || hash == "" {
			return nil, fmt.Errorf("%s:%d: expected user:hash", path, n)
		}
		c.hashes[user] = []byte(hash)
	}
	return c, s.Err()
}

// Len returns the number of users.
func (c *Credentials) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hashes)
}

// Check reports whether password is correct for user.
func (c *Credentials) Check(user, password string) bool {
	c.mu.RLock()
	hash, ok := c.hashes[user]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// Set adds or replaces user.
func (c *Credentials) Set(user, password string) error {
	if user == "" || strings.ContainsAny(user, ":\n") {
		return fmt.Errorf("invalid user name %q", user)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	c.mu.Lock()
	c.hashes[user] = hash
	c.mu.Unlock()
	return nil
}

// Save writes the credentials to path atomically.
func (c *Credentials) Save(path string) error {
	c.mu.RLock()
	users := slices.Sorted(maps.Keys(c.hashes))
	var b bytes.Buffer
	for _, u := range users {
		fmt.Fprintf(&b, "%s:%s\n", u, c.hashes[u])
	}
	c.mu.RUnlock()
	return atomic.WriteFile(path, &b)
}

// AddUser sets the password of user in the credentials file at path.
func AddUser(path, user, password string) error {
	c, err := LoadCredentials(path)
	if err != nil {
		return err
	}
	if err := c.Set(user, password); err != nil {
		return err
	}
	return c.Save(path)
}

// issueToken signs a token for user.
func issueToken(secret []byte, user string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": user,
		"jti": ksid.NewID().String(),
		"iat": now.Unix(),
		"exp": now.Add(tokenExpiration).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// validateToken returns the user named by the request bearer token.
func validateToken(r *http.Request, secret []byte) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", errMissingAuth
	}
	scheme, tokenString, ok := strings.Cut(h, " ")
	if !ok || scheme != "Bearer" || tokenString == "" {
		return "", errInvalidHeader
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}
	user, err := token.Claims.GetSubject()
	if err != nil || user == "" {
		return "", errInvalidToken
	}
	return user, nil
}
