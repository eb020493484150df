package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidArgument          = errors.New("invalid argument")
	ErrNotParticipant           = errors.New("not a participant")
	ErrNotFound                 = errors.New("not found")
	ErrStorageUnavailable       = errors.New("storage unavailable")
	ErrTimeout                  = errors.New("timeout")
	ErrConcurrentCreateConflict = errors.New("concurrent create conflict")
	ErrInternal                 = errors.New("internal error")
)

// Error carries one of the sentinel kinds plus the failing operation.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func New(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func InvalidArgument(op, format string, args ...any) error {
	return New(ErrInvalidArgument, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return New(ErrNotFound, op, format, args...)
}

func NotParticipant(op, userID, chatID string) error {
	return New(ErrNotParticipant, op, "user %s is not in chat %s", userID, chatID)
}

// Storage classifies a backend error. Context expiry becomes Timeout and
// anything not already classified becomes StorageUnavailable.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrTimeout, op, err)
	}
	return Wrap(ErrStorageUnavailable, op, err)
}

// IsTransient reports whether a retry may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrTimeout)
}

// Code is the stable wire name of err's kind.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrConcurrentCreateConflict):
		return "conflict"
	default:
		return "internal"
	}
}

// HTTPStatus maps err's kind to a response status.
func HTTPStatus(err error) int {
	switch Code(err) {
	case "invalid_argument":
		return http.StatusBadRequest
	case "not_participant":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "timeout":
		return http.StatusGatewayTimeout
	case "storage_unavailable":
		return http.StatusServiceUnavailable
	case "conflict":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
