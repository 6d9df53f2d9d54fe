package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Sternrassler/respcache/pkg/storage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"503", &TransportError{Status: 503, Message: "unavailable"}, KindServer},
		{"500", &TransportError{Status: 500}, KindServer},
		{"504 is timeout", &TransportError{Status: 504}, KindTimeout},
		{"408 is timeout", &TransportError{Status: 408}, KindTimeout},
		{"401", &TransportError{Status: 401}, KindAuth},
		{"403", &TransportError{Status: 403}, KindAuth},
		{"404", &TransportError{Status: 404}, KindClient},
		{"429", &TransportError{Status: 429}, KindClient},
		{"ETIMEDOUT", &TransportError{Code: CodeTimeout}, KindTimeout},
		{"ECONNABORTED", &TransportError{Code: CodeConnAborted}, KindTimeout},
		{"ERR_NETWORK", &TransportError{Code: CodeNetwork}, KindNetwork},
		{"ECONNREFUSED", &TransportError{Code: CodeConnRefused}, KindNetwork},
		{"wrapped transport error", fmt.Errorf("fetch: %w", &TransportError{Status: 502}), KindServer},
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", fmt.Errorf("op: %w", context.DeadlineExceeded), KindTimeout},
		{"quota", storage.ErrQuotaExceeded, KindQuotaExceeded},
		{"unknown error", errors.New("boom"), KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got == nil {
				t.Fatal("Classify() = nil")
			}
			if got.Kind != tt.want {
				t.Errorf("Classify(%v).Kind = %q, want %q", tt.err, got.Kind, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classified error does not wrap %v", tt.err)
			}
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	if got := Classify(nil); got != nil {
		t.Errorf("Classify(nil) = %v, want nil", got)
	}
}

func TestClassify_AlreadyClassified(t *testing.T) {
	orig := &Error{Kind: KindAuth, Status: 401, Message: "expired token"}
	wrapped := fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, 3, orig)

	if got := Classify(wrapped); got != orig {
		t.Errorf("Classify() = %v, want original *Error", got)
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindNetwork, true},
		{KindTimeout, true},
		{KindServer, true},
		{KindClient, false},
		{KindAuth, false},
		{KindQuotaExceeded, false},
		{KindCanceled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
			if got := tt.kind.AllowsStale(); got != tt.want {
				t.Errorf("AllowsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "with status",
			err:      &Error{Kind: KindServer, Status: 503, Message: "service unavailable"},
			expected: "server error (status 503): service unavailable",
		},
		{
			name:     "without status",
			err:      &Error{Kind: KindNetwork, Message: "connection reset"},
			expected: "network error: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestTransportError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *TransportError
		expected string
	}{
		{"status", &TransportError{Status: 500, Message: "oops"}, "transport: status 500: oops"},
		{"wrapped", &TransportError{Code: CodeNetwork, Err: errors.New("reset")}, "transport: ERR_NETWORK: reset"},
		{"code only", &TransportError{Code: CodeTimeout, Message: "slow"}, "transport: ETIMEDOUT: slow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}
