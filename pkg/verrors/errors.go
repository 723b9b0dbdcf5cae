// Copyright 2025 Certen Protocol

// Package verrors defines the structured error kinds of SPEC_FULL.md §7.
// The core reports these kinds as a *Error carrying one of these codes,
// following the teacher's LiteClientError shape (code + message +
// sub-reason + wrapped cause) so callers can branch with errors.As/Is
// instead of string matching.
package verrors

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies one of the error kinds the core can surface.
type Code string

const (
	NotOpen            Code = "NOT_OPEN"
	AlreadyOpen         Code = "ALREADY_OPEN"
	KeyNotFound         Code = "KEY_NOT_FOUND"
	TxNotFound          Code = "TX_NOT_FOUND"
	CorruptedData       Code = "CORRUPTED_DATA"
	VerificationFailed  Code = "VERIFICATION_FAILED"
	DeploymentMismatch  Code = "DEPLOYMENT_MISMATCH"
	ConnectionReleased  Code = "CONNECTION_RELEASED"
	Transport           Code = "TRANSPORT"
)

// Error is the structured error type every public operation returns.
type Error struct {
	Code    Code
	Message string
	// Reason carries the specific sub-check that failed, for
	// VerificationFailed (e.g. "inclusion", "dual-proof", "signature",
	// "key-mismatch", "deleted").
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Reason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps cause under the given code.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithReason attaches a sub-reason (used for VerificationFailed).
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

// Verification builds a VerificationFailed error for the given sub-check.
func Verification(reason string) *Error {
	return New(VerificationFailed, "proof verification failed").WithReason(reason)
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// MapServerError maps a raw server error message to a structured Error,
// per SPEC_FULL.md §4.6 ("string-matching on server errors"). Centralized
// here so it can be audited in one place. Matching is by substring of the
// lowercased message only; gRPC status codes are not consulted.
func MapServerError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "key not found"):
		return Wrap(KeyNotFound, "key not found", err)
	case strings.Contains(msg, "tx not found"), strings.Contains(msg, "transaction not found"):
		return Wrap(TxNotFound, "transaction not found", err)
	default:
		return Wrap(Transport, "rpc failed", err)
	}
}
