package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/aaiyer/bugseverywhere-sub000/internal/server/dto"
	"github.com/aaiyer/bugseverywhere-sub000/internal/server/ratelimit"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage/reference"
)

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := t.Context()
	s := storage.New(reference.New(reference.Options{Versioned: true}))
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	return s
}

func newServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	if opts.Store == nil {
		opts.Store = newStore(t)
	}
	srv := httptest.NewServer(New(opts))
	t.Cleanup(srv.Close)
	return srv
}

type response struct {
	status int
	header http.Header
	body   string
}

func request(t *testing.T, srv *httptest.Server, method, path, body string, hdr map[string]string) response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return response{resp.StatusCode, resp.Header, string(b)}
}

func errorCode(t *testing.T, r response) dto.ErrorCode {
	t.Helper()
	var er dto.ErrorResponse
	if err := json.Unmarshal([]byte(r.body), &er); err != nil {
		t.Fatalf("invalid error body %q: %v", r.body, err)
	}
	return er.Error.Code
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	srv := newServer(t, Options{})
	steps := []struct {
		method, path, body string
		status             int
		want               string
	}{
		{"POST", "/add", `{"id":"p","directory":true}`, 200, "{}\n"},
		{"POST", "/add", `{"id":"p/values","parent":"p"}`, 200, "{}\n"},
		{"POST", "/set/p/values", `{"value":"aGk="}`, 200, "{}\n"},
		{"GET", "/get/p/values", "", 200, "hi"},
		{"GET", "/exists?id=p", "", 200, `{"exists":true}` + "\n"},
		{"GET", "/exists?id=q", "", 200, `{"exists":false}` + "\n"},
		{"GET", "/ancestors?id=p/values", "", 200, `{"ids":["p"]}` + "\n"},
		{"GET", "/children", "", 200, `{"ids":["p"]}` + "\n"},
		{"GET", "/children?id=p/values", "", 200, `{"ids":[]}` + "\n"},
		{"POST", "/commit", `{"summary":"first"}`, 200, ""},
		{"GET", "/version", "", 200, `{"version":"` + storage.FormatVersion + `","versioned":true,"backend":"reference"}` + "\n"},
		{"POST", "/remove", `{"id":"p","recursive":true}`, 200, "{}\n"},
	}
	for _, st := range steps {
		r := request(t, srv, st.method, st.path, st.body, nil)
		if r.status != st.status {
			t.Fatalf("%s %s = %d %s", st.method, st.path, r.status, r.body)
		}
		if st.want != "" && r.body != st.want {
			t.Errorf("%s %s = %q, want %q", st.method, st.path, r.body, st.want)
		}
	}
	r := request(t, srv, "GET", "/get/p/values", "", nil)
	if r.status != dto.StatusUserError || errorCode(t, r) != dto.ErrorCodeInvalidID {
		t.Errorf("get after remove = %d %s", r.status, r.body)
	}
	r = request(t, srv, "GET", "/revision-id?index=1", "", nil)
	var rev dto.RevisionResponse
	if err := json.Unmarshal([]byte(r.body), &rev); err != nil || rev.Revision == "" {
		t.Fatalf("revision-id = %s", r.body)
	}
	r = request(t, srv, "GET", "/get/p/values?revision="+rev.Revision, "", nil)
	if r.status != 200 || r.body != "hi" || r.header.Get(dto.VersionHeader) != storage.FormatVersion {
		t.Errorf("get at revision = %d %q %v", r.status, r.body, r.header)
	}
	r = request(t, srv, "GET", "/changed?revision="+rev.Revision, "", nil)
	var ch dto.ChangedResponse
	if err := json.Unmarshal([]byte(r.body), &ch); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"p", "p/values"}, ch.Removed); diff != "" {
		t.Errorf("changed mismatch (-want +got):\n%s", diff)
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()
	srv := newServer(t, Options{MaxBodyBytes: 64})
	data := []struct {
		name, method, path, body string
		status                   int
		code                     dto.ErrorCode
	}{
		{"Missing", "GET", "/get/nope", "", dto.StatusUserError, dto.ErrorCodeInvalidID},
		{"Parent", "POST", "/add", `{"id":"x","parent":"nope"}`, dto.StatusUserError, dto.ErrorCodeInvalidDirectory},
		{"Reserved", "POST", "/add", `{"id":"version"}`, dto.StatusUserError, dto.ErrorCodeSpacerCollision},
		{"Revision", "GET", "/revision-id?index=9", "", dto.StatusUserError, dto.ErrorCodeInvalidRevision},
		{"EmptyCommit", "POST", "/commit", `{"summary":"nothing"}`, dto.StatusUserError, dto.ErrorCodeEmptyCommit},
		{"UnknownField", "POST", "/add", `{"id":"x","color":"red"}`, http.StatusBadRequest, dto.ErrorCodeValidationFailed},
		{"NoID", "GET", "/exists", "", http.StatusBadRequest, dto.ErrorCodeValidationFailed},
		{"BadIndex", "GET", "/revision-id?index=one", "", http.StatusBadRequest, dto.ErrorCodeValidationFailed},
		{"TooLarge", "POST", "/add", `{"id":"` + strings.Repeat("x", 100) + `"}`, http.StatusRequestEntityTooLarge, dto.ErrorCodePayloadTooLarge},
		{"NoAuth", "POST", "/token", "", http.StatusNotFound, dto.ErrorCodeValidationFailed},
		{"NoRevision", "GET", "/changed", "", dto.StatusUserError, dto.ErrorCodeInvalidRevision},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			t.Parallel()
			r := request(t, srv, line.method, line.path, line.body, nil)
			if r.status != line.status {
				t.Fatalf("status = %d, want %d: %s", r.status, line.status, r.body)
			}
			if got := errorCode(t, r); got != line.code {
				t.Errorf("code = %s, want %s", got, line.code)
			}
		})
	}
}

func TestReadOnly(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	s.Writeable = false
	srv := newServer(t, Options{Store: s})
	r := request(t, srv, "POST", "/add", `{"id":"a"}`, nil)
	if r.status != dto.StatusUserError || errorCode(t, r) != dto.ErrorCodeNotWriteable {
		t.Errorf("add = %d %s", r.status, r.body)
	}
	if r := request(t, srv, "GET", "/children", "", nil); r.status != 200 {
		t.Errorf("children = %d %s", r.status, r.body)
	}
}

func TestAuthentication(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "users")
	if err := AddUser(path, "alice", "secret"); err != nil {
		t.Fatal(err)
	}
	creds, err := LoadCredentials(path)
	if err != nil {
		t.Fatal(err)
	}
	secret := []byte("test-secret")
	srv := newServer(t, Options{Credentials: creds, JWTSecret: secret})

	if r := request(t, srv, "GET", "/children", "", nil); r.status != http.StatusUnauthorized {
		t.Errorf("anonymous = %d", r.status)
	}
	if r := request(t, srv, "GET", "/children", "", map[string]string{"Authorization": "Basic x"}); r.status != http.StatusUnauthorized {
		t.Errorf("wrong scheme = %d", r.status)
	}

	req, err := http.NewRequestWithContext(t.Context(), "POST", srv.URL+"/token", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.SetBasicAuth("alice", "wrong")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password = %d", resp.StatusCode)
	}

	req.SetBasicAuth("alice", "secret")
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var tok dto.TokenResponse
	err = json.NewDecoder(resp.Body).Decode(&tok)
	_ = resp.Body.Close()
	if err != nil || tok.Token == "" {
		t.Fatalf("token = %v, %v", tok, err)
	}
	if r := request(t, srv, "GET", "/children", "", map[string]string{"Authorization": "Bearer " + tok.Token}); r.status != 200 {
		t.Errorf("with token = %d %s", r.status, r.body)
	}

	forged, err := issueToken([]byte("other-secret"), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if r := request(t, srv, "GET", "/children", "", map[string]string{"Authorization": "Bearer " + forged}); r.status != http.StatusUnauthorized {
		t.Errorf("forged token = %d", r.status)
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	if r := request(t, srv, "GET", "/children", "", map[string]string{"Authorization": "Bearer " + expired}); r.status != http.StatusUnauthorized {
		t.Errorf("expired token = %d", r.status)
	}
}

func TestCredentials(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "users")
	if err := AddUser(path, "bob", "one"); err != nil {
		t.Fatal(err)
	}
	if err := AddUser(path, "alice", "two"); err != nil {
		t.Fatal(err)
	}
	if err := AddUser(path, "bob", "three"); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCredentials(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d", c.Len())
	}
	if c.Check("bob", "one") || !c.Check("bob", "three") || !c.Check("alice", "two") || c.Check("eve", "") {
		t.Error("Check() mismatch")
	}
	if err := AddUser(path, "a:b", "x"); err == nil {
		t.Error("AddUser(a:b) succeeded")
	}

	bad := filepath.Join(dir, "bad")
	if err := os.WriteFile(bad, []byte("# comment\n\nnocolon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCredentials(bad); err == nil || !strings.Contains(err.Error(), ":3:") {
		t.Errorf("LoadCredentials(bad) = %v", err)
	}
	c, err = LoadCredentials(filepath.Join(dir, "missing"))
	if err != nil || c.Len() != 0 {
		t.Errorf("LoadCredentials(missing) = %v, %v", c, err)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	l := ratelimit.NewLimiter(2, time.Hour)
	t.Cleanup(l.Close)
	srv := newServer(t, Options{Limiter: l})
	for i := range 2 {
		if r := request(t, srv, "GET", "/children", "", nil); r.status != 200 {
			t.Fatalf("request %d = %d", i, r.status)
		}
	}
	r := request(t, srv, "GET", "/children", "", nil)
	if r.status != http.StatusTooManyRequests || errorCode(t, r) != dto.ErrorCodeRateLimited {
		t.Fatalf("third request = %d %s", r.status, r.body)
	}
	if r.header.Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	// Another client has its own bucket.
	if r := request(t, srv, "GET", "/children", "", map[string]string{"X-Forwarded-For": "192.0.2.1"}); r.status != 200 {
		t.Errorf("other client = %d", r.status)
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	srv := newServer(t, Options{})
	request(t, srv, "GET", "/children", "", nil)
	request(t, srv, "GET", "/get/nope", "", nil)
	r := request(t, srv, "GET", "/metrics", "", nil)
	for _, want := range []string{
		`be_http_requests_total{code="200",route="GET /children"} 1`,
		`be_http_requests_total{code="418",route="GET /get/{id...}"} 1`,
		`be_http_request_duration_seconds_count{route="GET /children"} 1`,
	} {
		if !strings.Contains(r.body, want) {
			t.Errorf("metrics missing %q:\n%s", want, r.body)
		}
	}
}

func TestWatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var reloads atomic.Int32
	s := New(Options{Store: newStore(t), Reload: func(context.Context) error {
		reloads.Add(1)
		return nil
	}})
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, dir) }()
	deadline := time.Now().Add(10 * time.Second)
	for reloads.Load() == 0 && time.Now().Before(deadline) {
		// The watcher may not be registered yet; keep touching the tree.
		if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "sub", "values"), []byte(time.Now().String()), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() failed: %v", err)
	}
	if reloads.Load() == 0 {
		t.Error("Reload was never called")
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "198.51.100.7:1234"
	if got := clientIP(r); got != "198.51.100.7" {
		t.Errorf("clientIP() = %q", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(r); got != "203.0.113.9" {
		t.Errorf("clientIP(forwarded) = %q", got)
	}
}
