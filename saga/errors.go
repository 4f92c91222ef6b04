// Package saga holds the deterministic part of the fulfillment saga: error
// kinds, the ordered step runner and the guarded transition plans. It does
// no I/O and is safe to call from workflow code.
package saga

import (
	"errors"
	"fmt"
)

// Kind classifies a saga failure for callers
type Kind string

const (
	KindGuardViolation   Kind = "guard_violation"
	KindAlreadyFinalized Kind = "already_finalized"
	KindNotFound         Kind = "not_found"
	KindUnavailable      Kind = "downstream_unavailable"
	KindConflict         Kind = "conflict"
	KindBadRequest       Kind = "bad_request"
	KindRejected         Kind = "rejected"
	KindInternal         Kind = "internal"
)

// Retriable reports whether the same request may succeed if sent again unchanged
func (k Kind) Retriable() bool {
	return k == KindUnavailable || k == KindConflict || k == KindInternal
}

// Error is a classified saga failure
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Errorf creates an Error of kind
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, KindInternal for unclassified errors and
// the empty kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var sagaErr *Error
	if errors.As(err, &sagaErr) {
		return sagaErr.Kind
	}
	return KindInternal
}
