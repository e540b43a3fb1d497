package hermes

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAsOutboundErrorPreservesUnwrap(t *testing.T) {
	t.Parallel()

	rootCause := errors.New("rpc failed")
	err := fmt.Errorf(
		"outer wrapper: %w",
		&OutboundError{
			Operation: OutboundOperationClearView,
			Kind:      OutboundErrorKindTemporary,
			Platform:  PlatformTelegram,
			SinkID:    "tg-main",
			Code:      500,
			Type:      "INTERNAL",
			Cause:     rootCause,
		},
	)

	outboundErr, ok := AsOutboundError(err)
	if !ok {
		t.Fatal("AsOutboundError = false, want true")
	}
	if outboundErr.Operation != OutboundOperationClearView {
		t.Fatalf("operation = %s, want %s", outboundErr.Operation, OutboundOperationClearView)
	}
	if !outboundErr.Retryable() {
		t.Fatal("Retryable = false, want true")
	}
	if !errors.Is(err, rootCause) {
		t.Fatalf("errors.Is(err, rootCause) = false, want true (err=%v)", err)
	}
}

func TestOutboundErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *OutboundError
		want string
	}{
		{
			name: "empty",
			err:  &OutboundError{},
			want: "outbound error",
		},
		{
			name: "cause only",
			err:  &OutboundError{Cause: errors.New("boom")},
			want: "outbound error: boom",
		},
		{
			name: "fields and cause",
			err: &OutboundError{
				Operation:  OutboundOperationDeleteMessage,
				Kind:       OutboundErrorKindRateLimited,
				RetryAfter: 2 * time.Second,
				Code:       420,
				Cause:      errors.New("flood"),
			},
			want: "outbound error: operation=delete_message kind=rate_limited retry_after=2s code=420: flood",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := testCase.err.Error(); got != testCase.want {
				t.Fatalf("Error() = %q, want %q", got, testCase.want)
			}
		})
	}
}

func TestAsOutboundRateLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		err          error
		wantDuration time.Duration
		wantOK       bool
	}{
		{
			name: "non outbound error",
			err:  errors.New("plain"),
		},
		{
			name: "outbound not found",
			err: &OutboundError{
				Operation: OutboundOperationEditMessage,
				Kind:      OutboundErrorKindNotFound,
			},
		},
		{
			name: "rate limited with retry after",
			err: fmt.Errorf("wrapped: %w", &OutboundError{
				Operation:  OutboundOperationEditMessage,
				Kind:       OutboundErrorKindRateLimited,
				RetryAfter: 7 * time.Second,
			}),
			wantDuration: 7 * time.Second,
			wantOK:       true,
		},
		{
			name: "rate limited without retry after",
			err: &OutboundError{
				Operation: OutboundOperationSendMessage,
				Kind:      OutboundErrorKindRateLimited,
			},
			wantOK: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			gotDuration, gotOK := AsOutboundRateLimit(testCase.err)
			if gotOK != testCase.wantOK {
				t.Fatalf("ok = %v, want %v", gotOK, testCase.wantOK)
			}
			if gotDuration != testCase.wantDuration {
				t.Fatalf("duration = %s, want %s", gotDuration, testCase.wantDuration)
			}
		})
	}
}

func TestIsOutboundNotFound(t *testing.T) {
	t.Parallel()

	notFound := fmt.Errorf("edit: %w", &OutboundError{Kind: OutboundErrorKindNotFound})
	if !IsOutboundNotFound(notFound) {
		t.Fatal("IsOutboundNotFound(not_found) = false, want true")
	}
	if IsOutboundNotFound(&OutboundError{Kind: OutboundErrorKindPermanent}) {
		t.Fatal("IsOutboundNotFound(permanent) = true, want false")
	}
	if IsOutboundNotFound(nil) {
		t.Fatal("IsOutboundNotFound(nil) = true, want false")
	}
}
