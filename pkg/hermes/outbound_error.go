package hermes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OutboundOperation names one SinkDispatcher operation.
type OutboundOperation string

const (
	// OutboundOperationSendMessage identifies SendMessage operations.
	OutboundOperationSendMessage OutboundOperation = "send_message"
	// OutboundOperationEditMessage identifies EditMessage operations.
	OutboundOperationEditMessage OutboundOperation = "edit_message"
	// OutboundOperationDeleteMessage identifies DeleteMessage operations.
	OutboundOperationDeleteMessage OutboundOperation = "delete_message"
	// OutboundOperationClearView identifies ClearView operations.
	OutboundOperationClearView OutboundOperation = "clear_view"
)

// OutboundErrorKind is a coarse classification of outbound failures.
type OutboundErrorKind string

const (
	// OutboundErrorKindRateLimited indicates platform-side rate limiting.
	OutboundErrorKindRateLimited OutboundErrorKind = "rate_limited"
	// OutboundErrorKindNotFound indicates the target message no longer exists
	// or can no longer be modified by this account.
	OutboundErrorKindNotFound OutboundErrorKind = "not_found"
	// OutboundErrorKindTemporary indicates retryable transient failure.
	OutboundErrorKindTemporary OutboundErrorKind = "temporary"
	// OutboundErrorKindPermanent indicates non-retryable permanent failure.
	OutboundErrorKindPermanent OutboundErrorKind = "permanent"
	// OutboundErrorKindUnknown indicates unclassified failure.
	OutboundErrorKindUnknown OutboundErrorKind = "unknown"
)

// OutboundError carries structured metadata for one failed outbound operation.
type OutboundError struct {
	// Operation identifies which outbound operation failed.
	Operation OutboundOperation
	// Kind classifies whether and how callers should retry.
	Kind OutboundErrorKind
	// Platform identifies which destination platform produced the failure.
	Platform Platform
	// SinkID identifies the configured sink when known.
	SinkID string
	// RetryAfter is the suggested delay for rate-limited failures when known.
	RetryAfter time.Duration
	// Code is the platform RPC/status code when known.
	Code int
	// Type is the platform error type token when known.
	Type string
	// Cause is the wrapped platform or transport error.
	Cause error
}

// Error renders key=value metadata followed by the cause.
func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var builder strings.Builder
	builder.WriteString("outbound error")
	write := func(key string, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if builder.Len() == len("outbound error") {
			builder.WriteString(":")
		}
		builder.WriteString(" ")
		builder.WriteString(key)
		builder.WriteString("=")
		builder.WriteString(value)
	}

	write("operation", string(e.Operation))
	write("kind", string(e.Kind))
	write("platform", string(e.Platform))
	write("sink_id", e.SinkID)
	if e.RetryAfter > 0 {
		write("retry_after", e.RetryAfter.String())
	}
	if e.Code != 0 {
		write("code", fmt.Sprintf("%d", e.Code))
	}
	write("type", e.Type)

	if e.Cause != nil {
		builder.WriteString(": ")
		builder.WriteString(e.Cause.Error())
	}

	return builder.String()
}

// Unwrap returns the wrapped root cause.
func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// Retryable reports whether the failure kind may succeed on retry.
func (e *OutboundError) Retryable() bool {
	if e == nil {
		return false
	}

	return e.Kind == OutboundErrorKindRateLimited || e.Kind == OutboundErrorKindTemporary
}

// AsOutboundError extracts an OutboundError from a wrapped error chain.
func AsOutboundError(err error) (*OutboundError, bool) {
	if err == nil {
		return nil, false
	}

	var outboundErr *OutboundError
	if errors.As(err, &outboundErr) && outboundErr != nil {
		return outboundErr, true
	}

	return nil, false
}

// AsOutboundRateLimit extracts retry delay metadata from rate-limit errors.
//
// It returns (0, false) if err is not classified as rate-limited, and (0, true)
// when rate-limited without a retry-after hint.
func AsOutboundRateLimit(err error) (time.Duration, bool) {
	outboundErr, ok := AsOutboundError(err)
	if !ok || outboundErr.Kind != OutboundErrorKindRateLimited {
		return 0, false
	}

	return outboundErr.RetryAfter, true
}

// IsOutboundNotFound reports whether err says the target message is gone.
func IsOutboundNotFound(err error) bool {
	outboundErr, ok := AsOutboundError(err)

	return ok && outboundErr.Kind == OutboundErrorKindNotFound
}
