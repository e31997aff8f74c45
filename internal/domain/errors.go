package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrAllocationFailure   = errors.New("order number allocation failed")
	ErrPersistenceConflict = errors.New("persistence conflict")
	ErrUpstreamUnavailable = errors.New("courier provider unavailable")
	ErrQuoteExpired        = errors.New("delivery quote expired")
	ErrAlreadyBooked       = errors.New("quotation already booked")
	ErrSigningFailure      = errors.New("request signing failed")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type RateLimitError struct {
	ActionKind ActionKind
	Remaining  time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many %s requests, try again in %d seconds", e.ActionKind, e.RemainingSeconds())
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimitExceeded }

// RemainingSeconds rounds up so a caller never retries too early.
func (e *RateLimitError) RemainingSeconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

// UpstreamError carries the courier provider's (or proxy's) response.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("courier upstream: %v", e.Err)
	}
	return fmt.Sprintf("courier upstream returned %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamUnavailable }

func (e *UpstreamError) Unwrap() error { return e.Err }

// BusinessError is a provider rejection that must not be retried, such as an
// expired or already used quotation. Kind is ErrQuoteExpired or ErrAlreadyBooked.
type BusinessError struct {
	Kind error
	Body string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Body)
}

func (e *BusinessError) Unwrap() error { return e.Kind }
