package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request describes a single upstream call.
type Request struct {
	Method   string
	Resource string
	Params   url.Values
	Body     any
}

// Transport performs upstream requests and returns the decoded JSON body.
// Failures should be reported as *TransportError so Classify can map them.
type Transport interface {
	Do(ctx context.Context, req Request) (json.RawMessage, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request) (json.RawMessage, error)

// Do calls f(ctx, req).
func (f TransportFunc) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// HTTPTransport is a Transport over net/http.
type HTTPTransport struct {
	// BaseURL is prepended to relative resources (e.g. "https://api.example.com")
	BaseURL string

	// UserAgent is sent with every request if set
	UserAgent string

	// Timeout bounds each individual request (0 = no per-request timeout)
	Timeout time.Duration

	// HTTPClient defaults to http.DefaultClient
	HTTPClient *http.Client
}

// NewHTTPTransport creates an HTTPTransport with a 30s per-request timeout.
func NewHTTPTransport(baseURL, userAgent string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		UserAgent:  userAgent,
		Timeout:    30 * time.Second,
		HTTPClient: &http.Client{},
	}
}

// Do executes req.
func (t *HTTPTransport) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := t.resolve(req.Resource, req.Params)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}

	var body io.Reader
	if req.Body != nil {
		buf, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.UserAgent)
	}

	hc := t.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, networkError(ctx, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Status:  resp.StatusCode,
			Code:    CodeBadResponse,
			Message: statusMessage(resp, payload),
		}
	}

	return toJSON(payload), nil
}

func (t *HTTPTransport) resolve(resource string, params url.Values) (string, error) {
	raw := resource
	if !strings.HasPrefix(resource, "http://") && !strings.HasPrefix(resource, "https://") {
		if !strings.HasPrefix(raw, "/") {
			raw = "/" + raw
		}
		raw = t.BaseURL + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// networkError wraps a failure where no usable response was received.
// Caller cancellation is passed through untouched.
func networkError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	code := CodeNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		code = CodeTimeout
	case strings.Contains(err.Error(), "connection refused"):
		code = CodeConnRefused
	}
	return &TransportError{Code: code, Message: err.Error(), Err: err}
}

func statusMessage(resp *http.Response, payload []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(payload, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return resp.Status
}

// toJSON returns payload as JSON. Empty bodies become null; non-JSON bodies
// are wrapped as a JSON string.
func toJSON(payload []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(payload))
	return quoted
}
