// Package apperr defines the error-kind taxonomy shared by every service.
// Services return these instead of bare errors so the dispatcher can map
// them onto the correct outbound wire message without inspecting strings.
package apperr

import "errors"

// Kind classifies an error for wire-protocol translation.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindAuthorization Kind = "AUTHORIZATION"
	KindRuleViolation Kind = "RULE_VIOLATION"
	KindRateLimit     Kind = "RATE_LIMIT"
	KindConflict      Kind = "CONFLICT"
	KindTransient     Kind = "TRANSIENT"
	KindFatal         Kind = "FATAL"
)

// Error is a typed application error carrying the kind used to pick the
// outbound message type and whether it should be logged at Warn or Error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func new_(kind Kind, msg string, wrapped error) *Error {
	return &Error{Kind: kind, Message: msg, Err: wrapped}
}

func Validation(msg string) *Error              { return new_(KindValidation, msg, nil) }
func NotFound(msg string) *Error                { return new_(KindNotFound, msg, nil) }
func Authorization(msg string) *Error           { return new_(KindAuthorization, msg, nil) }
func RuleViolation(msg string) *Error           { return new_(KindRuleViolation, msg, nil) }
func RateLimit(msg string) *Error               { return new_(KindRateLimit, msg, nil) }
func Conflict(msg string) *Error                { return new_(KindConflict, msg, nil) }
func Transient(msg string, wrapped error) *Error { return new_(KindTransient, msg, wrapped) }
func Fatal(msg string, wrapped error) *Error    { return new_(KindFatal, msg, wrapped) }

// KindOf extracts the Kind from err, defaulting to KindTransient for
// errors that did not originate from this package (unexpected failures
// are treated as retryable rather than silently swallowed).
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransient
}

// IsWarnLevel reports whether err represents an expected, client-caused
// condition that should be logged at Warn rather than Error.
func IsWarnLevel(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindAuthorization, KindRuleViolation, KindRateLimit, KindConflict:
		return true
	default:
		return false
	}
}
