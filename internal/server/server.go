// Package server serves a storage.Store over HTTP.
//
// Every storage call is serialized behind one lock since the drivers are
// not safe for concurrent use.
package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/aaiyer/bugseverywhere-sub000/internal/server/dto"
	"github.com/aaiyer/bugseverywhere-sub000/internal/server/ratelimit"
	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

// Options configures a Server.
type Options struct {
	// Store is connected by the caller.
	Store *storage.Store
	// Credentials enables authentication when it is not nil. JWTSecret
	// must then be set.
	Credentials *Credentials
	JWTSecret   []byte
	// Limiter enables per-client rate limiting when it is not nil.
	Limiter *ratelimit.Limiter
	// MaxBodyBytes caps request bodies, 0 for no limit.
	MaxBodyBytes int64
	// Reload is called by Watch.
	Reload func(context.Context) error
}

// Server is the storage HTTP handler.
type Server struct {
	opts    Options
	mu      sync.Mutex
	metrics *metrics
	mux     *http.ServeMux
}

// New returns a Server for opts.
func New(opts Options) *Server {
	s := &Server{opts: opts, metrics: newMetrics(), mux: http.NewServeMux()}
	routes := []struct {
		pattern string
		h       http.Handler
	}{
		{"GET /exists", wrap(s, s.exists)},
		{"GET /ancestors", wrap(s, s.ancestors)},
		{"GET /children", wrap(s, s.children)},
		{"GET /get/{id...}", http.HandlerFunc(s.get)},
		{"POST /set/{id...}", wrap(s, s.set)},
		{"POST /add", wrap(s, s.add)},
		{"POST /remove", wrap(s, s.remove)},
		{"POST /commit", wrap(s, s.commit)},
		{"GET /revision-id", wrap(s, s.revisionID)},
		{"GET /changed", wrap(s, s.changed)},
		{"GET /version", wrap(s, s.version)},
	}
	for _, r := range routes {
		s.mux.Handle(r.pattern, s.metrics.instrument(r.pattern, s.limit(s.authenticate(r.h))))
	}
	s.mux.Handle("POST /token", s.metrics.instrument("POST /token", s.limit(http.HandlerFunc(s.token))))
	s.mux.Handle("GET /metrics", s.metrics.handler())
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// clientIP returns the first X-Forwarded-For hop, else the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func (s *Server) limit(h http.Handler) http.Handler {
	if s.opts.Limiter == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := s.opts.Limiter.Allow(clientIP(r))
		ratelimit.WriteHeaders(w, res)
		if !res.Allowed {
			writeError(r.Context(), w, dto.NewAPIError(http.StatusTooManyRequests, dto.ErrorCodeRateLimited, "rate limit exceeded"))
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(h http.Handler) http.Handler {
	if s.opts.Credentials == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := validateToken(r, s.opts.JWTSecret); err != nil {
			writeError(r.Context(), w, err)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.opts.Credentials == nil {
		writeError(ctx, w, dto.NewAPIError(http.StatusNotFound, dto.ErrorCodeValidationFailed, "authentication is disabled"))
		return
	}
	user, password, ok := r.BasicAuth()
	if !ok {
		writeError(ctx, w, errMissingAuth)
		return
	}
	if !s.opts.Credentials.Check(user, password) {
		writeError(ctx, w, errBadPassword)
		return
	}
	t, err := issueToken(s.opts.JWTSecret, user)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, &dto.TokenResponse{Token: t})
}

func (s *Server) exists(ctx context.Context, req *dto.IDRequest) (*dto.ExistsResponse, error) {
	ok, err := s.opts.Store.Exists(ctx, req.ID, req.Revision)
	if err != nil {
		return nil, err
	}
	return &dto.ExistsResponse{Exists: ok}, nil
}

func (s *Server) ancestors(ctx context.Context, req *dto.IDRequest) (*dto.IDsResponse, error) {
	ids, err := s.opts.Store.Ancestors(ctx, req.ID, req.Revision)
	if err != nil {
		return nil, err
	}
	return &dto.IDsResponse{IDs: nonNil(ids)}, nil
}

func (s *Server) children(ctx context.Context, req *dto.ChildrenRequest) (*dto.IDsResponse, error) {
	ids, err := s.opts.Store.Children(ctx, req.ID, req.Revision)
	if err != nil {
		return nil, err
	}
	return &dto.IDsResponse{IDs: nonNil(ids)}, nil
}

// get answers with the raw value rather than JSON.
func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := &dto.GetRequest{}
	if err := s.decodeRequest(w, r, req); err != nil {
		writeError(ctx, w, err)
		return
	}
	s.mu.Lock()
	v, err := s.opts.Store.Get(ctx, req.ID, storage.AtRevision(req.Revision))
	s.mu.Unlock()
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	w.Header().Set(dto.VersionHeader, storage.FormatVersion)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(v)
}

func (s *Server) set(ctx context.Context, req *dto.SetRequest) (*dto.EmptyResponse, error) {
	if err := s.opts.Store.Set(ctx, req.ID, req.Value); err != nil {
		return nil, err
	}
	return &dto.EmptyResponse{}, nil
}

func (s *Server) add(ctx context.Context, req *dto.AddRequest) (*dto.EmptyResponse, error) {
	if err := s.opts.Store.Add(ctx, req.ID, storage.AddOptions{Parent: req.Parent, Directory: req.Directory}); err != nil {
		return nil, err
	}
	return &dto.EmptyResponse{}, nil
}

func (s *Server) remove(ctx context.Context, req *dto.RemoveRequest) (*dto.EmptyResponse, error) {
	var err error
	if req.Recursive {
		err = s.opts.Store.RecursiveRemove(ctx, req.ID)
	} else {
		err = s.opts.Store.Remove(ctx, req.ID)
	}
	if err != nil {
		return nil, err
	}
	return &dto.EmptyResponse{}, nil
}

func (s *Server) commit(ctx context.Context, req *dto.CommitRequest) (*dto.RevisionResponse, error) {
	rev, err := s.opts.Store.Commit(ctx, req.Summary, req.Body, req.AllowEmpty)
	if err != nil {
		return nil, err
	}
	return &dto.RevisionResponse{Revision: rev}, nil
}

func (s *Server) revisionID(ctx context.Context, req *dto.RevisionIDRequest) (*dto.RevisionResponse, error) {
	rev, err := s.opts.Store.RevisionID(ctx, req.Index)
	if err != nil {
		return nil, err
	}
	return &dto.RevisionResponse{Revision: rev}, nil
}

func (s *Server) changed(ctx context.Context, req *dto.RevisionRequest) (*dto.ChangedResponse, error) {
	return s.opts.Store.Changed(ctx, req.Revision)
}

func (s *Server) version(ctx context.Context, req *dto.RevisionRequest) (*dto.VersionResponse, error) {
	v, err := s.opts.Store.StorageVersion(ctx, req.Revision)
	if err != nil {
		return nil, err
	}
	return &dto.VersionResponse{Version: v, Versioned: s.opts.Store.Versioned(), Backend: s.opts.Store.Name()}, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
