// Package nexuserr defines the error taxonomy shared by every component.
// Errors never cross a component boundary as raw failures: call sites wrap
// them with a Kind so the HTTP layer, the executor, and the loops can map
// them to the right surface (422, failed result, retry, skip).
package nexuserr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for boundary handling.
type Kind int

const (
	// KindInternal is the zero value: unexpected failure, logged and contained.
	KindInternal Kind = iota
	// KindValidation rejects bad request fields at the API boundary.
	KindValidation
	// KindPolicyDenied marks an action refused by the policy gate.
	KindPolicyDenied
	// KindTimeout marks an action that exceeded its deadline.
	KindTimeout
	// KindNotFound marks a missing path or record.
	KindNotFound
	// KindTransient marks retryable network or filesystem failures.
	KindTransient
	// KindCorrupt marks a malformed persisted record; callers skip and continue.
	KindCorrupt
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPolicyDenied:
		return "policy_denied"
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindCorrupt:
		return "corrupt"
	default:
		return "internal"
	}
}

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Knd Kind
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %v", e.Msg, e.Err)
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with a plain message.
func New(kind Kind, msg string) error {
	return &Error{Knd: kind, Msg: msg}
}

// Newf builds a kinded error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Knd: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and context message to an existing error.
// A nil err returns nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Knd: kind, Msg: msg, Err: err}
}

// KindOf reports the Kind of err, unwrapping as needed.
// Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Knd
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if errors.As(err, &e) {
			if e.Knd == kind {
				return true
			}
			err = e.Err
			continue
		}
		return false
	}
	return false
}
