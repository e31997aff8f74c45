package domain

import (
	"errors"
	"net/http"
)

// ErrorCode is the machine readable error kind both HTTP surfaces return.
type ErrorCode string

const (
	CodeValidation          ErrorCode = "VALIDATION"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeAllocationFailure   ErrorCode = "ALLOCATION_FAILURE"
	CodePersistenceConflict ErrorCode = "PERSISTENCE_CONFLICT"
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	CodeQuoteExpired        ErrorCode = "QUOTE_EXPIRED"
	CodeAlreadyBooked       ErrorCode = "ALREADY_BOOKED"
	CodeSigningFailure      ErrorCode = "SIGNING_FAILURE"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	CodeInternal            ErrorCode = "INTERNAL"
)

// Classify maps an error to its wire code and HTTP status.
func Classify(err error) (ErrorCode, int) {
	var up *UpstreamError
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimited, http.StatusTooManyRequests
	case errors.Is(err, ErrValidation):
		return CodeValidation, http.StatusBadRequest
	case errors.Is(err, ErrOrderNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition, http.StatusConflict
	case errors.Is(err, ErrAllocationFailure):
		return CodeAllocationFailure, http.StatusServiceUnavailable
	case errors.Is(err, ErrPersistenceConflict):
		return CodePersistenceConflict, http.StatusConflict
	case errors.Is(err, ErrQuoteExpired):
		return CodeQuoteExpired, http.StatusGone
	case errors.Is(err, ErrAlreadyBooked):
		return CodeAlreadyBooked, http.StatusConflict
	case errors.Is(err, ErrSigningFailure):
		return CodeSigningFailure, http.StatusInternalServerError
	case errors.As(err, &up) && up.StatusCode == 0:
		return CodeUpstreamTimeout, http.StatusGatewayTimeout
	case errors.Is(err, ErrUpstreamUnavailable):
		return CodeUpstreamUnavailable, http.StatusBadGateway
	}
	return CodeInternal, http.StatusInternalServerError
}

// ProviderBody returns the courier provider's response body carried by err.
func ProviderBody(err error) string {
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Body
	}
	var biz *BusinessError
	if errors.As(err, &biz) {
		return biz.Body
	}
	return ""
}
