package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a failed message for the originating connection.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindNotInRoom        Kind = "not_in_room"
	KindValidationFailed Kind = "validation_failed"
	KindInternal         Kind = "internal"
)

var (
	// ErrNotFound matches any error of KindNotFound under errors.Is.
	ErrNotFound = &Error{kind: KindNotFound}
	// ErrForbidden matches any error of KindForbidden under errors.Is.
	ErrForbidden = &Error{kind: KindForbidden}
	// ErrNotInRoom matches any error of KindNotInRoom under errors.Is.
	ErrNotInRoom = &Error{kind: KindNotInRoom}
	// ErrValidationFailed matches any error of KindValidationFailed under errors.Is.
	ErrValidationFailed = &Error{kind: KindValidationFailed}
)

// Error is a per-message failure reported to the originating connection only.
type Error struct {
	kind    Kind
	message string
}

func (e *Error) Error() string {
	if e.message == "" {
		return string(e.kind)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Kind returns the error classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Message returns the human readable detail.
func (e *Error) Message() string {
	return e.message
}

// Is reports whether target is the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	if !ok {
		return false
	}
	return sentinel.message == "" && sentinel.kind == e.kind
}

func NotFound(format string, args ...any) error {
	return &Error{kind: KindNotFound, message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) error {
	return &Error{kind: KindForbidden, message: fmt.Sprintf(format, args...)}
}

func NotInRoom(format string, args ...any) error {
	return &Error{kind: KindNotInRoom, message: fmt.Sprintf(format, args...)}
}

func ValidationFailed(format string, args ...any) error {
	return &Error{kind: KindValidationFailed, message: fmt.Sprintf(format, args...)}
}

// KindOf maps err onto the wire taxonomy. Errors outside it are internal.
func KindOf(err error) Kind {
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.kind
	}
	return KindInternal
}
