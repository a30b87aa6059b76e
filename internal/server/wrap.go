// Adapts typed handler functions to http.Handler.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/aaiyer/bugseverywhere-sub000/internal/server/dto"
)

// wrap turns fn into a handler. The request is decoded from the JSON body,
// then fields tagged `path:"name"` and `query:"name"` are filled from the
// URL. fn runs with the storage lock held.
func wrap[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](s *Server, fn func(context.Context, PtrIn) (*Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		input := new(In)
		if err := s.decodeRequest(w, r, input); err != nil {
			writeError(ctx, w, err)
			return
		}
		s.mu.Lock()
		output, err := fn(ctx, PtrIn(input))
		s.mu.Unlock()
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, output)
	})
}

// decodeRequest fills and validates input.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, input dto.Validatable) error {
	if err := s.readBody(w, r, input); err != nil {
		return err
	}
	populatePathParams(r, input)
	if err := populateQueryParams(r, input); err != nil {
		return err
	}
	return input.Validate()
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request, input any) error {
	if s.opts.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	}
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return dto.NewAPIError(http.StatusRequestEntityTooLarge, dto.ErrorCodePayloadTooLarge, "request body too large")
		}
		return dto.BadRequest("failed to read request body").Wrap(err)
	}
	if len(body) == 0 {
		return nil
	}
	d := json.NewDecoder(bytes.NewReader(body))
	d.DisallowUnknownFields()
	if err := d.Decode(input); err != nil {
		return dto.BadRequest("invalid request body").Wrap(err)
	}
	return nil
}

// populatePathParams sets string fields tagged `path:"name"`.
func populatePathParams(r *http.Request, input any) {
	elem := reflect.ValueOf(input).Elem()
	typ := elem.Type()
	for i := range typ.NumField() {
		tag := typ.Field(i).Tag.Get("path")
		if tag == "" || typ.Field(i).Type.Kind() != reflect.String {
			continue
		}
		if v := r.PathValue(tag); v != "" {
			elem.Field(i).SetString(v)
		}
	}
}

// populateQueryParams sets string and int fields tagged `query:"name"`.
func populateQueryParams(r *http.Request, input any) error {
	elem := reflect.ValueOf(input).Elem()
	typ := elem.Type()
	query := r.URL.Query()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("query")
		if tag == "" {
			continue
		}
		v := query.Get(tag)
		if v == "" {
			continue
		}
		switch field.Type.Kind() {
		case reflect.String:
			elem.Field(i).SetString(v)
		case reflect.Int:
			n, err := strconv.Atoi(v)
			if err != nil {
				return dto.BadRequest("invalid " + tag).Wrap(err)
			}
			elem.Field(i).SetInt(int64(n))
		}
	}
	return nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

// writeError sends err as a dto.ErrorResponse.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	e := dto.FromError(err)
	if e.StatusCode() >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", e.StatusCode(), "code", e.Code())
	} else {
		slog.DebugContext(ctx, "Request failed", "err", err, "statusCode", e.StatusCode(), "code", e.Code())
	}
	writeJSON(ctx, w, e.StatusCode(), &dto.ErrorResponse{Error: dto.ErrorDetails{Code: e.Code(), Message: e.Error()}})
}
