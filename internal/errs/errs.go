// Package errs defines the error taxonomy shared across Agency OS
// components. Every surfaced error carries a Kind, a stable Code usable in
// tests, and free-form context. The dispatch worker is the only component
// that recovers locally; everything else surfaces these explicitly.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling policy.
type Kind string

const (
	Validation        Kind = "validation"
	Suppressed        Kind = "suppressed"
	RateLimited       Kind = "rate_limited"
	Collision         Kind = "collision"
	ProviderTransient Kind = "provider_transient"
	ProviderPermanent Kind = "provider_permanent"
	BounceComplaint   Kind = "bounce_complaint"
	ClassifierAmbig   Kind = "classifier_ambiguous"
	BudgetExhausted   Kind = "budget_exhausted"
	Consistency       Kind = "consistency"
	NotFound          Kind = "not_found"
	Internal          Kind = "internal"
)

// Error is a classified error with a stable code.
type Error struct {
	Kind    Kind
	Code    string
	Context string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s [%s]", e.Code, e.Kind)
	if e.Context != "" {
		msg += ": " + e.Context
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, code, context string) *Error {
	return &Error{Kind: kind, Code: code, Context: context}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// KindOf returns the Kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// CodeOf returns the stable code of err, or "" if unclassified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the dispatch worker may retry after err.
// Only transient provider failures and store serialisation conflicts
// qualify.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ProviderTransient, Consistency:
		return true
	}
	return false
}
