// Package apperr defines the error kinds surfaced by the attendance core.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error so transports can map it without string matching.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindValidation
	KindCourseNotFound
	KindSessionNotFound
	KindSessionExpired
	KindProximityMismatch
	KindBiometricNotEnrolled
	KindBiometricNoMatch
	KindBiometricNoFace
	KindBiometricEnrollment
	KindDuplicateAttendance
	KindConflict
	KindStorage
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindCourseNotFound:
		return "course_not_found"
	case KindSessionNotFound:
		return "session_not_found"
	case KindSessionExpired:
		return "session_expired"
	case KindProximityMismatch:
		return "proximity_mismatch"
	case KindBiometricNotEnrolled:
		return "biometric_not_enrolled"
	case KindBiometricNoMatch:
		return "biometric_no_match"
	case KindBiometricNoFace:
		return "biometric_no_face"
	case KindBiometricEnrollment:
		return "biometric_enrollment"
	case KindDuplicateAttendance:
		return "duplicate_attendance"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	case KindUnknown:
		return "unknown"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is the domain error carried across package boundaries.
type Error struct {
	Kind Kind
	Op   string // operation that failed, for logs
	Msg  string // caller-facing message
	Err  error  // underlying cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return e.Op + ": " + e.Msg + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of the given kind with a caller-facing message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Storage wraps a persistence failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Msg: "storage failure", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the caller-facing message of err. Storage and unknown
// failures collapse to a generic message.
func Message(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	switch e.Kind {
	case KindStorage, KindUnknown, KindConflict:
		return "internal error"
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}
