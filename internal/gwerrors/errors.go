// Package gwerrors enumerates the error kinds the policy engine can
// surface (spec §7) and maps each to an HTTP status so the pipeline's
// transport adapters never have to know the kind-to-status table twice.
package gwerrors

import (
	"errors"
	"net/http"
)

// Kind sentinels. Use errors.Is against these, not string comparison —
// a wrapped UpstreamError from a backend dial failure still Is() this.
var (
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrBucketFull     = errors.New("leaky bucket full")
	ErrTimedOut       = errors.New("timed out")
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrNoHealthy      = errors.New("no healthy backend")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden      = errors.New("forbidden")
	ErrUpstream       = errors.New("upstream error")
	ErrConfigInvalid  = errors.New("invalid configuration")
)

// StatusFor maps an error kind to its default HTTP status per spec §7.
// Falls back to 500 for anything not in the taxonomy.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrBucketFull):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrCircuitOpen):
		return http.StatusBadGateway
	case errors.Is(err, ErrNoHealthy):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the default retry predicate (spec §4.D,
// "retry_on is a predicate over raised error kinds") should retry this
// error. Only upstream forwarding failures and timeouts are retryable
// by default; quota/auth/config errors never are.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstream) || errors.Is(err, ErrTimedOut)
}
