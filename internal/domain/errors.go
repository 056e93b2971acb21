// Package domain provides shared domain-level sentinel errors and the
// structured error taxonomy used across arbitration.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a ledger write was rejected because the desired end
// state already holds (already ruled, already settled, cancelled).
var ErrConflict = errors.New("conflict: ledger state already settled by another writer")

// ErrInvalidInput indicates a malformed caller-supplied value.
var ErrInvalidInput = errors.New("invalid input")

// Kind classifies an arbitration failure.
type Kind string

const (
	KindTransient       Kind = "transient"
	KindMalformedOutput Kind = "malformed_output"
	KindNoEvidence      Kind = "no_evidence"
	KindConflict        Kind = "conflict"
	KindInvalidInput    Kind = "invalid_input"
	KindNotFound        Kind = "not_found"
	KindInternal        Kind = "internal"
)

// Error is a classified failure. Details carries diagnostic payloads such as
// the raw model output that failed to parse.
type Error struct {
	Kind    Kind
	Msg     string
	Cause   error
	Details map[string]string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Errorf builds a classified error without a cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind. A nil cause returns nil.
func Wrap(kind Kind, msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors map from the sentinels, else KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	}
	return KindInternal
}

// IsRetryable reports whether a later attempt at the same dispute may succeed.
// Malformed output is included: the next attempt re-invokes the model.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindMalformedOutput, KindInternal:
		return true
	}
	return false
}
