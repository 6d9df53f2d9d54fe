package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Sternrassler/respcache/pkg/storage"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorKind classifies failures for retry and fallback decisions.
type ErrorKind string

const (
	// KindNetwork: no response reached the caller.
	KindNetwork ErrorKind = "network"

	// KindTimeout: the request or its deadline timed out.
	KindTimeout ErrorKind = "timeout"

	// KindServer: 5xx responses.
	KindServer ErrorKind = "server"

	// KindClient: 4xx responses other than auth failures.
	KindClient ErrorKind = "client"

	// KindAuth: 401/403. Recognised but left to an outer auth layer.
	KindAuth ErrorKind = "auth"

	// KindQuotaExceeded: the persistent backend is full.
	KindQuotaExceeded ErrorKind = "quota_exceeded"

	// KindCanceled: the caller cancelled the request.
	KindCanceled ErrorKind = "canceled"
)

// Retryable reports whether failures of this kind are retried.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}

// AllowsStale reports whether a cached copy may be served instead.
func (k ErrorKind) AllowsStale() bool {
	return k.Retryable()
}

// TransportError is the raw failure shape returned by transports.
// Status is 0 when no response was received; Code carries a transport
// specific condition such as "ETIMEDOUT".
type TransportError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

// Transport error codes understood by Classify.
const (
	CodeTimeout     = "ETIMEDOUT"
	CodeConnAborted = "ECONNABORTED"
	CodeNetwork     = "ERR_NETWORK"
	CodeConnRefused = "ECONNREFUSED"
	CodeBadResponse = "ERR_BAD_RESPONSE"
)

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch {
	case e.Status > 0:
		return fmt.Sprintf("transport: status %d: %s", e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("transport: %s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("transport: %s: %s", e.Code, e.Message)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Error is a classified request failure.
type Error struct {
	Kind    ErrorKind
	Status  int
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the request may be retried.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// Classify maps any error returned by a transport onto the ErrorKind
// taxonomy. It is the only place that inspects transport error fields.
// Already classified errors are returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Message: "request cancelled", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "deadline exceeded", Err: err}
	case errors.Is(err, storage.ErrQuotaExceeded):
		return &Error{Kind: KindQuotaExceeded, Message: err.Error(), Err: err}
	}

	var te *TransportError
	if errors.As(err, &te) {
		return classifyTransport(te, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: err.Error(), Err: err}
	}

	return &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
}

func classifyTransport(te *TransportError, err error) *Error {
	out := &Error{Status: te.Status, Code: te.Code, Message: te.Message, Err: err}
	if out.Message == "" {
		out.Message = err.Error()
	}

	switch {
	case te.Status == http.StatusUnauthorized || te.Status == http.StatusForbidden:
		out.Kind = KindAuth
	case te.Status == http.StatusRequestTimeout || te.Status == http.StatusGatewayTimeout:
		out.Kind = KindTimeout
	case te.Status >= 500:
		out.Kind = KindServer
	case te.Status >= 400:
		out.Kind = KindClient
	case te.Code == CodeTimeout || te.Code == CodeConnAborted:
		out.Kind = KindTimeout
	default:
		var netErr net.Error
		if errors.As(te.Err, &netErr) && netErr.Timeout() {
			out.Kind = KindTimeout
		} else {
			out.Kind = KindNetwork
		}
	}
	return out
}
