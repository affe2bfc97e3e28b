package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned when the upstream signals quota or concurrency exhaustion.
	ErrRateLimited = errors.New("upstream rate limited")

	// ErrRateLimitExhausted is returned once every attempt on every permitted credential hit a rate limit.
	ErrRateLimitExhausted = fmt.Errorf("%w: retries and credentials exhausted", ErrRateLimited)

	// ErrInvalidRequest is returned for malformed parameters (HTTP 400).
	ErrInvalidRequest = errors.New("invalid upstream request")

	// ErrUnauthorized is returned when the credential is invalid (HTTP 401).
	ErrUnauthorized = errors.New("upstream credential invalid")

	// ErrForbidden is returned when the credential lacks the capability grant (HTTP 403).
	ErrForbidden = errors.New("upstream credential lacks capability grant")

	// ErrUpstreamFailure covers terminal job failures and unexpected upstream replies.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrEmptyResult is returned when a successful reply carries no result entries.
	ErrEmptyResult = fmt.Errorf("%w: empty result", ErrUpstreamFailure)

	// ErrTimeout is returned when an async job did not reach a terminal state in time.
	ErrTimeout = errors.New("upstream job timed out")
)

// StatusError is a non-2xx upstream reply. It unwraps to its kind.
type StatusError struct {
	Status int
	Detail string
	Kind   error
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (HTTP %d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("%v (HTTP %d): %s", e.Kind, e.Status, e.Detail)
}

func (e *StatusError) Unwrap() error { return e.Kind }

// KindFor maps an upstream HTTP status to its error kind.
func KindFor(status int) error {
	switch status {
	case 429:
		return ErrRateLimited
	case 400:
		return ErrInvalidRequest
	case 401:
		return ErrUnauthorized
	case 403:
		return ErrForbidden
	default:
		return ErrUpstreamFailure
	}
}

// KindName returns a short label for ledgers and metrics.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrEmptyResult):
		return "empty_result"
	case errors.Is(err, ErrUpstreamFailure):
		return "upstream_failure"
	default:
		return "transport"
	}
}
