package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error routing follows a narrow policy: retry machinery observes only
// TransientError; validation errors are rejected at the boundary; everything
// else propagates unmodified. Reconciliation problems are report values, not
// errors.

// TransientError wraps a recoverable infrastructure failure (provider 5xx,
// database timeout, SMTP connect failure). Callers may retry with backoff.
type TransientError struct {
	Op  string // operation that failed, e.g. "polygon.daily_close"
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. A nil err returns nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ValidationError is a client-caused rejection. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation builds a field-scoped validation error.
func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a client-caused validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// GateClosedError is returned by the freshness gate when no non-superseded
// pack is fresh for the requested policy. It carries the time the caller
// should expect the gate to open.
type GateClosedError struct {
	Policy         string
	PackStatus     string // status of the latest pack, or "missing"
	EstimatedReady time.Time
}

func (e *GateClosedError) Error() string {
	return fmt.Sprintf("freshness gate closed for policy %q (latest pack %s, estimated ready %s)",
		e.Policy, e.PackStatus, e.EstimatedReady.UTC().Format(time.RFC3339))
}

// IsGateClosed reports whether err is a freshness-gate rejection.
func IsGateClosed(err error) (*GateClosedError, bool) {
	var ge *GateClosedError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// BreakerOpenError is the fast-fail returned when a provider's circuit
// breaker is open. The request consumed no rate-limiter token.
type BreakerOpenError struct {
	Provider string
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for provider %q", e.Provider)
}

// IsBreakerOpen reports whether err is a breaker fast-fail.
func IsBreakerOpen(err error) (*BreakerOpenError, bool) {
	var be *BreakerOpenError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
