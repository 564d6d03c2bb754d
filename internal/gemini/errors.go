package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// FailureKind classifies an upstream generation failure.
type FailureKind string

const (
	FailureRateLimited         FailureKind = "rate_limited"
	FailureInvalidInput        FailureKind = "invalid_input"
	FailureUpstreamUnavailable FailureKind = "upstream_unavailable"
	FailureTimeout             FailureKind = "timeout"
	FailureUnknown             FailureKind = "unknown"
)

// UpstreamError is a typed failure from the generation backend.
type UpstreamError struct {
	Kind    FailureKind
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gemini: %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini: %s: %s", e.Kind, e.Message)
}

// Classify maps any error from a gateway call to a FailureKind.
func Classify(err error) FailureKind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return FailureTimeout
	}
	return FailureUnknown
}

func kindForStatus(status int) FailureKind {
	switch {
	case status == 429:
		return FailureRateLimited
	case status == 400 || status == 422:
		return FailureInvalidInput
	case status >= 500:
		return FailureUpstreamUnavailable
	default:
		return FailureUnknown
	}
}
