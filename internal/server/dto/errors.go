// Package dto defines the storage protocol request and response types and
// its error encoding.
//
// Storage failures travel as status 418 with a code naming the storage
// sentinel, so that the client can rebuild an error matching errors.Is.
// Transport failures (bad request, authentication, rate limiting) use the
// usual 4xx and 5xx statuses.
package dto

import (
	"errors"
	"net/http"

	"github.com/aaiyer/bugseverywhere-sub000/internal/storage"
)

// StatusUserError is the status of every storage failure.
const StatusUserError = http.StatusTeapot

// ErrorCode is the machine readable error class.
type ErrorCode string

// Storage error codes.
const (
	ErrorCodeConnection        ErrorCode = "CONNECTION"
	ErrorCodeStorageVersion    ErrorCode = "INVALID_STORAGE_VERSION"
	ErrorCodeInvalidID         ErrorCode = "INVALID_ID"
	ErrorCodeSpacerCollision   ErrorCode = "SPACER_COLLISION"
	ErrorCodeInvalidDirectory  ErrorCode = "INVALID_DIRECTORY"
	ErrorCodeDirectoryNotEmpty ErrorCode = "DIRECTORY_NOT_EMPTY"
	ErrorCodeInvalidRevision   ErrorCode = "INVALID_REVISION"
	ErrorCodeNotReadable       ErrorCode = "NOT_READABLE"
	ErrorCodeNotWriteable      ErrorCode = "NOT_WRITEABLE"
	ErrorCodeEmptyCommit       ErrorCode = "EMPTY_COMMIT"
	ErrorCodeNotVersioned      ErrorCode = "NOT_VERSIONED"
	ErrorCodeNotSupported      ErrorCode = "NOT_SUPPORTED"
	ErrorCodeDecode            ErrorCode = "DECODE"
)

// Transport error codes.
const (
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrorCodePayloadTooLarge  ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrorCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrorCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrorCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// sentinels is ordered so that a wrapping sentinel is matched before the
// one it wraps.
var sentinels = []struct {
	code ErrorCode
	err  error
}{
	{ErrorCodeStorageVersion, storage.ErrInvalidStorageVersion},
	{ErrorCodeConnection, storage.ErrConnection},
	{ErrorCodeSpacerCollision, storage.ErrSpacerCollision},
	{ErrorCodeInvalidID, storage.ErrInvalidID},
	{ErrorCodeDirectoryNotEmpty, storage.ErrDirectoryNotEmpty},
	{ErrorCodeInvalidDirectory, storage.ErrInvalidDirectory},
	{ErrorCodeInvalidRevision, storage.ErrInvalidRevision},
	{ErrorCodeNotReadable, storage.ErrNotReadable},
	{ErrorCodeNotWriteable, storage.ErrNotWriteable},
	{ErrorCodeEmptyCommit, storage.ErrEmptyCommit},
	{ErrorCodeNotVersioned, storage.ErrNotVersioned},
	{ErrorCodeNotSupported, storage.ErrNotSupported},
	{ErrorCodeDecode, storage.ErrDecode},
}

// ErrorDetails is the error object of a response.
type ErrorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error ErrorDetails `json:"error"`
}

// ErrorWithStatus is an error that knows how it is sent.
type ErrorWithStatus interface {
	error
	StatusCode() int
	Code() ErrorCode
}

// APIError is an error with a status and a code.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	wrappedErr error
}

// NewAPIError returns an APIError.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{statusCode: statusCode, code: code, message: message}
}

// Wrap records the cause.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

func (e *APIError) Error() string {
	return e.message
}

// StatusCode implements ErrorWithStatus.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Code implements ErrorWithStatus.
func (e *APIError) Code() ErrorCode {
	return e.code
}

func (e *APIError) Unwrap() error {
	return e.wrappedErr
}

// BadRequest is returned for malformed requests.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeValidationFailed, message)
}

// MissingField is returned when a required field is empty.
func MissingField(field string) *APIError {
	return BadRequest(field + " is required")
}

// Unauthorized is returned when credentials are missing or wrong.
func Unauthorized(message string) *APIError {
	return NewAPIError(http.StatusUnauthorized, ErrorCodeUnauthorized, message)
}

// FromError converts err for sending. Storage sentinels become 418 with
// their code; anything else is an internal error.
func FromError(err error) ErrorWithStatus {
	var ews ErrorWithStatus
	if errors.As(err, &ews) {
		return ews
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return NewAPIError(StatusUserError, s.code, err.Error()).Wrap(err)
		}
	}
	return NewAPIError(http.StatusInternalServerError, ErrorCodeInternal, err.Error()).Wrap(err)
}

// Sentinel returns the storage error for code, nil if code is not a
// storage code.
func Sentinel(code ErrorCode) error {
	for _, s := range sentinels {
		if s.code == code {
			return s.err
		}
	}
	return nil
}
