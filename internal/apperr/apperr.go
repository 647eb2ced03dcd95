// Package apperr defines the closed error taxonomy surfaced to callers
// (spec.md §7). Each Kind carries a fixed HTTP status and wire code;
// handlers never invent new error shapes ad hoc.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is a stable wire string identifying an error category.
type Kind string

const (
	KindMissingAPIKey      Kind = "missing_api_key"
	KindInvalidAPIKey      Kind = "invalid_api_key"
	KindInsufficientScope  Kind = "insufficient_scope"
	KindValidation         Kind = "validation_error"
	KindUnknownChallenge   Kind = "unknown_challenge"
	KindExpired            Kind = "EXPIRED"
	KindReplayed           Kind = "REPLAYED"
	KindBadClientData      Kind = "BAD_CLIENT_DATA"
	KindBadOrigin          Kind = "BAD_ORIGIN"
	KindBadChallenge       Kind = "BAD_CHALLENGE"
	KindMissingUP          Kind = "MISSING_UP"
	KindMissingUV          Kind = "MISSING_UV"
	KindBadSignature       Kind = "BAD_SIGNATURE"
	KindPurposeMismatch    Kind = "PURPOSE_MISMATCH"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindRateLimited        Kind = "rate_limited"
	KindNotFound           Kind = "not_found"
	KindInternal           Kind = "internal_error"
)

// statusByKind pins each Kind to its HTTP status per spec.md §7.
var statusByKind = map[Kind]int{
	KindMissingAPIKey:     http.StatusUnauthorized,
	KindInvalidAPIKey:     http.StatusForbidden,
	KindInsufficientScope: http.StatusForbidden,
	KindValidation:        http.StatusBadRequest,
	KindUnknownChallenge:  http.StatusNotFound,
	KindExpired:           http.StatusBadRequest,
	KindReplayed:          http.StatusBadRequest,
	KindBadClientData:     http.StatusBadRequest,
	KindBadOrigin:         http.StatusBadRequest,
	KindBadChallenge:      http.StatusBadRequest,
	KindMissingUP:         http.StatusBadRequest,
	KindMissingUV:         http.StatusBadRequest,
	KindBadSignature:      http.StatusBadRequest,
	KindPurposeMismatch:   http.StatusBadRequest,
	KindQuotaExceeded:     http.StatusPaymentRequired,
	KindRateLimited:       http.StatusTooManyRequests,
	KindNotFound:          http.StatusNotFound,
	KindInternal:          http.StatusInternalServerError,
}

// cryptoReasons is the subset of Kinds carried as `reason` under a
// `decision:"FAILED"` 400 response (spec.md §4.4/§7), rather than as a
// top-level error code.
var cryptoReasons = map[Kind]bool{
	KindBadClientData: true,
	KindBadOrigin:     true,
	KindBadChallenge:  true,
	KindMissingUP:     true,
	KindMissingUV:     true,
	KindBadSignature:    true,
	KindPurposeMismatch: true,
}

// IsCryptoReason reports whether k is one of the WebAuthn verifier's
// failure reasons (carried inside decision:FAILED rather than as a bare
// error code).
func IsCryptoReason(k Kind) bool { return cryptoReasons[k] }

// Error is the error type every apperr-aware layer returns.
type Error struct {
	Kind    Kind
	Message string
	Field   string // set for validation errors naming the offending field
	Err     error  // wrapped cause, never rendered to the caller
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status for e's Kind, defaulting to 500.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an *Error of the given kind with a caller-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// FieldError builds a validation *Error naming the offending field path.
func FieldError(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Field: field}
}

// Wrap builds an internal_error, keeping cause out of the caller-facing
// message (spec.md §7: internal errors never leak stack/DB details).
func Wrap(err error, message string) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == k
}
