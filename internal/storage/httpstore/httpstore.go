// Package httpstore is a storage driver talking to a remote "be serve".
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aaiyer/bugseverywhere-sub000/internal/server/dto"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

// Options configures a Storage.
type Options struct {
	// URL is the server base URL.
	URL string
	// User and Password are exchanged for a bearer token on Connect when
	// User is set.
	User     string
	Password string
	// Client defaults to http.DefaultClient.
	Client *http.Client
	// Version is the storage format the server must report. Defaults to
	// storage.FormatVersion.
	Version string
}

// RemoteError is a storage failure reported by the server.
type RemoteError struct {
	Code    dto.ErrorCode
	Message string
	err     error
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap returns the storage sentinel matching Code, if any.
func (e *RemoteError) Unwrap() error {
	return e.err
}

// Storage implements storage.VersionedDriver over HTTP.
type Storage struct {
	opts      Options
	base      *url.URL
	token     string
	versioned bool
}

// New returns a driver for the server at opts.URL.
func New(opts Options) *Storage {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Version == "" {
		opts.Version = storage.FormatVersion
	}
	return &Storage{opts: opts}
}

// Name implements storage.Driver.
func (s *Storage) Name() string {
	return "http"
}

// Version implements storage.Driver.
func (s *Storage) Version(context.Context) string {
	return s.opts.Version
}

// Versioned implements storage.VersionedDriver. It is known after Connect.
func (s *Storage) Versioned() bool {
	return s.versioned
}

// Init implements storage.Driver. Remote repositories are created on the
// server.
func (s *Storage) Init(context.Context) error {
	return fmt.Errorf("remote init: %w", storage.ErrNotSupported)
}

// Destroy implements storage.Driver.
func (s *Storage) Destroy(context.Context) error {
	return fmt.Errorf("remote destroy: %w", storage.ErrNotSupported)
}

// Connect implements storage.Driver. It authenticates when configured and
// checks the remote storage format.
func (s *Storage) Connect(ctx context.Context) error {
	base, err := url.Parse(strings.TrimSuffix(s.opts.URL, "/") + "/")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("invalid url %q: %w", s.opts.URL, storage.ErrConnection)
	}
	s.base = base
	if s.opts.User != "" {
		if err := s.login(ctx); err != nil {
			s.base = nil
			return err
		}
	}
	var resp dto.VersionResponse
	if err := s.call(ctx, http.MethodGet, "version", nil, nil, &resp); err != nil {
		s.base = nil
		if re := (*RemoteError)(nil); errors.As(err, &re) && re.err != nil {
			return err
		}
		return fmt.Errorf("%w: %w", storage.ErrConnection, err)
	}
	if resp.Version != s.opts.Version {
		s.base = nil
		return fmt.Errorf("%s reports %q: %w", s.opts.URL, resp.Version, storage.ErrInvalidStorageVersion)
	}
	s.versioned = resp.Versioned
	slog.DebugContext(ctx, "Connected", "url", s.opts.URL, "backend", resp.Backend, "versioned", resp.Versioned)
	return nil
}

func (s *Storage) login(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base.JoinPath("token").String(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.opts.User, s.opts.Password)
	var resp dto.TokenResponse
	if err := s.do(req, &resp); err != nil {
		return fmt.Errorf("failed to log in as %s: %w: %w", s.opts.User, storage.ErrConnection, err)
	}
	s.token = resp.Token
	return nil
}

// Disconnect implements storage.Driver.
func (s *Storage) Disconnect(context.Context) error {
	s.token = ""
	return nil
}

// call sends a request to endpoint and decodes the JSON answer into out.
func (s *Storage) call(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	if s.base == nil {
		return fmt.Errorf("not connected: %w", storage.ErrConnection)
	}
	u := s.base.JoinPath(endpoint)
	u.RawQuery = query.Encode()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.do(req, out)
}

// send runs req and returns the body of a 200 answer.
func (s *Storage) send(req *http.Request) (http.Header, []byte, error) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, decodeError(resp.StatusCode, data)
	}
	return resp.Header, data, nil
}

func (s *Storage) do(req *http.Request, out any) error {
	_, data, err := s.send(req)
	if err != nil || out == nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// decodeError rebuilds the server error. Storage codes unwrap to their
// sentinel.
func decodeError(status int, data []byte) error {
	var er dto.ErrorResponse
	if err := json.Unmarshal(data, &er); err != nil || er.Error.Code == "" {
		return fmt.Errorf("http %d: %s", status, bytes.TrimSpace(data))
	}
	re := &RemoteError{Code: er.Error.Code, Message: er.Error.Message}
	if status == dto.StatusUserError {
		re.err = dto.Sentinel(er.Error.Code)
	}
	return re
}

func revQuery(id, rev string) url.Values {
	q := url.Values{}
	if id != "" {
		q.Set("id", id)
	}
	if rev != "" {
		q.Set("revision", rev)
	}
	return q
}

// idPath escapes each segment of a compound id.
func idPath(endpoint, id string) string {
	parts := strings.Split(id, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return endpoint + "/" + strings.Join(parts, "/")
}

// Add implements storage.Driver.
func (s *Storage) Add(ctx context.Context, id string, opts storage.AddOptions) error {
	return s.call(ctx, http.MethodPost, "add", nil, &dto.AddRequest{ID: id, Parent: opts.Parent, Directory: opts.Directory}, nil)
}

// Exists implements storage.Driver.
func (s *Storage) Exists(ctx context.Context, id, rev string) (bool, error) {
	var resp dto.ExistsResponse
	if err := s.call(ctx, http.MethodGet, "exists", revQuery(id, rev), nil, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// Remove implements storage.Driver.
func (s *Storage) Remove(ctx context.Context, id string) error {
	return s.call(ctx, http.MethodPost, "remove", nil, &dto.RemoveRequest{ID: id}, nil)
}

// RecursiveRemove implements storage.Driver.
func (s *Storage) RecursiveRemove(ctx context.Context, id string) error {
	return s.call(ctx, http.MethodPost, "remove", nil, &dto.RemoveRequest{ID: id, Recursive: true}, nil)
}

// Ancestors implements storage.Driver.
func (s *Storage) Ancestors(ctx context.Context, id, rev string) ([]string, error) {
	var resp dto.IDsResponse
	if err := s.call(ctx, http.MethodGet, "ancestors", revQuery(id, rev), nil, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// Children implements storage.Driver.
func (s *Storage) Children(ctx context.Context, id, rev string) ([]string, error) {
	var resp dto.IDsResponse
	if err := s.call(ctx, http.MethodGet, "children", revQuery(id, rev), nil, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// Get implements storage.Driver. A value served for another storage
// format is refused.
func (s *Storage) Get(ctx context.Context, id, rev string) ([]byte, error) {
	if s.base == nil {
		return nil, fmt.Errorf("not connected: %w", storage.ErrConnection)
	}
	u := s.base.JoinPath(idPath("get", id))
	u.RawQuery = revQuery("", rev).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	h, data, err := s.send(req)
	if err != nil {
		return nil, err
	}
	if v := h.Get(dto.VersionHeader); v != s.opts.Version {
		return nil, fmt.Errorf("%q served as %q: %w", id, v, storage.ErrInvalidStorageVersion)
	}
	return data, nil
}

// Set implements storage.Driver.
func (s *Storage) Set(ctx context.Context, id string, value []byte) error {
	return s.call(ctx, http.MethodPost, idPath("set", id), nil, &dto.SetRequest{Value: value}, nil)
}

// StorageVersion implements storage.Driver.
func (s *Storage) StorageVersion(ctx context.Context, rev string) (string, error) {
	var resp dto.VersionResponse
	if err := s.call(ctx, http.MethodGet, "version", revQuery("", rev), nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// Commit implements storage.VersionedDriver.
func (s *Storage) Commit(ctx context.Context, summary, body string, allowEmpty bool) (string, error) {
	var resp dto.RevisionResponse
	if err := s.call(ctx, http.MethodPost, "commit", nil, &dto.CommitRequest{Summary: summary, Body: body, AllowEmpty: allowEmpty}, &resp); err != nil {
		return "", err
	}
	return resp.Revision, nil
}

// RevisionID implements storage.VersionedDriver.
func (s *Storage) RevisionID(ctx context.Context, index int) (string, error) {
	var resp dto.RevisionResponse
	q := url.Values{"index": {strconv.Itoa(index)}}
	if err := s.call(ctx, http.MethodGet, "revision-id", q, nil, &resp); err != nil {
		return "", err
	}
	return resp.Revision, nil
}

// Changed implements storage.VersionedDriver.
func (s *Storage) Changed(ctx context.Context, rev string) (*storage.Changes, error) {
	var resp dto.ChangedResponse
	if err := s.call(ctx, http.MethodGet, "changed", revQuery("", rev), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
