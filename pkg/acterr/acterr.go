// Package acterr defines the error taxonomy shared by every actsafe component.
//
// Each failure carries a Kind (what class of failure it is, and therefore how a
// caller may react to it) and a stable Code suitable for machine matching.
// Kinds are comparable with errors.Is; the full detail is reachable with
// errors.As on *Error.
package acterr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindValidation covers malformed or missing required fields. Never retried.
	KindValidation Kind = "ValidationError"
	// KindPolicy covers allowlist, cap and simulation-required rejections.
	KindPolicy Kind = "PolicyViolation"
	// KindIntegrity covers stored hash mismatches. The record must not be trusted.
	KindIntegrity Kind = "IntegrityViolation"
	// KindPrecondition covers resource state that is insufficient at commit time.
	KindPrecondition Kind = "PreconditionFailure"
	// KindExternal covers broadcast/confirm errors reported by collaborators.
	KindExternal Kind = "ExternalFailure"
)

// Sentinels for errors.Is matching against a kind.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrPolicy       = &Error{Kind: KindPolicy}
	ErrIntegrity    = &Error{Kind: KindIntegrity}
	ErrPrecondition = &Error{Kind: KindPrecondition}
	ErrExternal     = &Error{Kind: KindExternal}
)

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Code   string // stable reason code, e.g. "destination_not_allowlisted"
	Op     string // operation that failed, e.g. "receipts.Load"
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality, so errors.Is(err, acterr.ErrPolicy) matches any
// policy violation regardless of code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, op, code, detail string) *Error {
	return &Error{Kind: kind, Op: op, Code: code, Detail: detail}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op, code string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

// Validation is shorthand for a ValidationError.
func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, "invalid_input", fmt.Sprintf(format, args...))
}

// KindOf returns the kind of err, or "" if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the reason code of err, or "" if err is not classified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Retryable reports whether a caller may safely retry the failed step.
// Only external failures qualify; the external layer owns the backoff.
func Retryable(err error) bool {
	return KindOf(err) == KindExternal
}
