// Package provider holds the pieces shared by every generative backend
// adapter: the typed failure surface and the process-wide call limiter.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies an upstream provider failure after the adapter has
// exhausted its own fallback sequence.
type FailureKind string

const (
	// FailureCreditExhausted means the provider rejected the call for
	// billing reasons. Retrying without topping up cannot succeed.
	FailureCreditExhausted FailureKind = "credit_exhausted"
	// FailureInvalidParameter means the provider rejected the request
	// parameters (size, aspect ratio, model).
	FailureInvalidParameter FailureKind = "invalid_parameter"
	// FailureUnavailable covers transport errors and 5xx responses.
	FailureUnavailable FailureKind = "unavailable"
)

// ErrLimiterClosed is returned when acquiring from a context that is done.
var ErrLimiterClosed = errors.New("limiter: context done before slot acquired")

// Error is the normalized failure every adapter surfaces to the orchestrator.
type Error struct {
	Provider   string
	Kind       FailureKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from an error chain, defaulting to
// FailureUnavailable for errors that are not provider failures.
func KindOf(err error) FailureKind {
	var providerErr *Error
	if errors.As(err, &providerErr) {
		return providerErr.Kind
	}

	return FailureUnavailable
}

// ClassifyStatus maps an upstream HTTP status and response body to a failure
// kind. Some providers report billing failures as 403 with a message rather
// than 402, so the body is consulted as well.
func ClassifyStatus(statusCode int, body string) FailureKind {
	lowered := strings.ToLower(body)
	if statusCode == 402 || strings.Contains(lowered, "insufficient credit") ||
		strings.Contains(lowered, "billing") {
		return FailureCreditExhausted
	}

	if statusCode == 400 || statusCode == 422 {
		return FailureInvalidParameter
	}

	return FailureUnavailable
}

// Limiter is a counting semaphore bounding in-flight provider calls for the
// whole process. One instance is constructed at bootstrap and injected into
// both the image and speech adapters, so concurrent runs share the ceiling.
type Limiter struct {
	slots chan struct{}
}

// NewLimiter creates a limiter admitting at most maxConcurrency calls.
func NewLimiter(maxConcurrency int) *Limiter {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	return &Limiter{
		slots: make(chan struct{}, maxConcurrency),
	}
}

// Acquire blocks until a slot is free or the context is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrLimiterClosed, ctx.Err())
	}
}

// Release frees a slot previously acquired.
func (l *Limiter) Release() {
	<-l.slots
}
