package attendance

import (
	"errors"
	"fmt"

	"github.com/chusseyoo/proj-sub001/internal/geo"
	"github.com/chusseyoo/proj-sub001/internal/token"
)

// Code is the stable, client-facing identifier of an outcome.
type Code string

const (
	CodeTokenInvalid       Code = "TOKEN_INVALID"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeTokenTypeMismatch  Code = "TOKEN_TYPE_MISMATCH"
	CodeSessionClosed      Code = "SESSION_CLOSED"
	CodeIneligible         Code = "INELIGIBLE"
	CodeRosterUnavailable  Code = "ROSTER_UNAVAILABLE"
	CodeSessionUnavailable Code = "SESSION_UNAVAILABLE"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeSessionNotFound    Code = "SESSION_NOT_FOUND"
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeInternal           Code = "INTERNAL"
)

// Rejection reports whether c is an expected refusal of a claim.
func (c Code) Rejection() bool {
	switch c {
	case CodeTokenInvalid, CodeTokenExpired, CodeTokenTypeMismatch, CodeSessionClosed, CodeIneligible:
		return true
	}
	return false
}

// Retryable reports whether the caller may retry with backoff.
func (c Code) Retryable() bool {
	switch c {
	case CodeRosterUnavailable, CodeSessionUnavailable, CodeStorageUnavailable:
		return true
	}
	return false
}

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrStudentNotFound     = errors.New("student not found")
	ErrInvalidSession      = errors.New("invalid session")
	ErrDuplicateAttendance = errors.New("attendance already recorded")
	ErrRosterUnavailable   = errors.New("roster unavailable")
	ErrSessionUnavailable  = errors.New("session lookup unavailable")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)

// Error is a failure that is not a claim rejection: a dependency outage, a
// missing resource or a broken invariant.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("attendance.%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("attendance.%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf maps any error produced by this package to its Code.
func CodeOf(err error) Code {
	var e *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &e):
		return e.Code
	case errors.Is(err, token.ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, token.ErrTokenTypeMismatch):
		return CodeTokenTypeMismatch
	case errors.Is(err, token.ErrTokenInvalid):
		return CodeTokenInvalid
	case errors.Is(err, ErrRosterUnavailable):
		return CodeRosterUnavailable
	case errors.Is(err, ErrSessionUnavailable):
		return CodeSessionUnavailable
	case errors.Is(err, ErrStorageUnavailable):
		return CodeStorageUnavailable
	case errors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, geo.ErrInvalidCoordinate):
		return CodeInvalidRequest
	}
	return CodeInternal
}

// IsRetryable reports whether err is a transient dependency failure.
func IsRetryable(err error) bool {
	return CodeOf(err).Retryable()
}
