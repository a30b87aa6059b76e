package dto

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

func TestFromError(t *testing.T) {
	t.Parallel()
	data := []struct {
		err    error
		status int
		code   ErrorCode
	}{
		{storage.ErrConnection, StatusUserError, ErrorCodeConnection},
		{fmt.Errorf("x: %w", storage.ErrInvalidStorageVersion), StatusUserError, ErrorCodeStorageVersion},
		{fmt.Errorf("%q: %w", "a", storage.ErrInvalidID), StatusUserError, ErrorCodeInvalidID},
		{storage.ErrSpacerCollision, StatusUserError, ErrorCodeSpacerCollision},
		{storage.ErrInvalidDirectory, StatusUserError, ErrorCodeInvalidDirectory},
		{storage.ErrDirectoryNotEmpty, StatusUserError, ErrorCodeDirectoryNotEmpty},
		{storage.ErrInvalidRevision, StatusUserError, ErrorCodeInvalidRevision},
		{storage.ErrNotReadable, StatusUserError, ErrorCodeNotReadable},
		{storage.ErrNotWriteable, StatusUserError, ErrorCodeNotWriteable},
		{storage.ErrEmptyCommit, StatusUserError, ErrorCodeEmptyCommit},
		{storage.ErrNotVersioned, StatusUserError, ErrorCodeNotVersioned},
		{storage.ErrNotSupported, StatusUserError, ErrorCodeNotSupported},
		{storage.ErrDecode, StatusUserError, ErrorCodeDecode},
		{errors.New("disk on fire"), http.StatusInternalServerError, ErrorCodeInternal},
		{MissingField("id"), http.StatusBadRequest, ErrorCodeValidationFailed},
		{fmt.Errorf("wrapped: %w", Unauthorized("no")), http.StatusUnauthorized, ErrorCodeUnauthorized},
	}
	for _, line := range data {
		t.Run(string(line.code), func(t *testing.T) {
			t.Parallel()
			got := FromError(line.err)
			if got.StatusCode() != line.status || got.Code() != line.code {
				t.Errorf("FromError(%v) = %d %s, want %d %s", line.err, got.StatusCode(), got.Code(), line.status, line.code)
			}
		})
	}
}

func TestSentinel(t *testing.T) {
	t.Parallel()
	for _, s := range sentinels {
		err := Sentinel(s.code)
		if err != s.err {
			t.Errorf("Sentinel(%s) = %v", s.code, err)
		}
		// Round trip: the code of the rebuilt error is the original code.
		if got := FromError(err).Code(); got != s.code {
			t.Errorf("FromError(Sentinel(%s)).Code() = %s", s.code, got)
		}
	}
	if Sentinel(ErrorCodeInternal) != nil {
		t.Error("Sentinel(INTERNAL_ERROR) != nil")
	}
}

func TestAPIError(t *testing.T) {
	t.Parallel()
	cause := errors.New("cause")
	err := NewAPIError(http.StatusBadRequest, ErrorCodeValidationFailed, "bad").Wrap(cause)
	if err.Error() != "bad" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap() lost the cause")
	}
}
