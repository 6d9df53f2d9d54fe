// Package testutil provides testing utilities for respcache packages.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock upstream response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a request seen by MockAPI.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
	Header http.Header
}

// MockAPI is a configurable mock upstream JSON API for testing.
// Responses are configured per path; a path given a sequence serves the
// responses in order and then keeps repeating the last one.
type MockAPI struct {
	server *httptest.Server

	mu        sync.Mutex
	handlers  map[string]http.HandlerFunc
	sequences map[string][]MockResponse
	counts    map[string]int
	requests  []RecordedRequest
}

// NewMockAPI creates and starts a new mock upstream.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:  make(map[string]http.HandlerFunc),
		sequences: make(map[string][]MockResponse),
		counts:    make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

func (m *MockAPI) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.counts[r.URL.Path]++
	m.requests = append(m.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Body:   string(body),
		Header: r.Header.Clone(),
	})

	handler, hasHandler := m.handlers[r.URL.Path]

	var resp MockResponse
	seq, hasSeq := m.sequences[r.URL.Path]
	if hasSeq {
		resp = seq[0]
		if len(seq) > 1 {
			m.sequences[r.URL.Path] = seq[1:]
		}
	}
	m.mu.Unlock()

	switch {
	case hasHandler:
		handler(w, r)
	case hasSeq:
		writeResponse(w, resp)
	default:
		writeResponse(w, MockResponse{
			StatusCode: http.StatusNotFound,
			Body:       `{"error": "not found"}`,
		})
	}
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears recorded requests and counters. Configured responses stay.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[string]int)
	m.requests = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetSequence(path, resp)
}

// SetSequence configures successive responses for a path.
func (m *MockAPI) SetSequence(path string, resps ...MockResponse) {
	if len(resps) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, path)
	m.sequences[path] = append([]MockResponse(nil), resps...)
}

// RequestCount returns the total number of requests received.
func (m *MockAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// PathCount returns the number of requests received for path.
func (m *MockAPI) PathCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[path]
}

// Requests returns a copy of every recorded request.
func (m *MockAPI) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// JSON creates a 200 OK response with body.
func JSON(body string) MockResponse {
	return MockResponse{StatusCode: http.StatusOK, Body: body}
}

// ServerError creates a 503 Service Unavailable response.
func ServerError() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       `{"error": "service unavailable"}`,
	}
}

// Status creates an error response with the given status code.
func Status(code int) MockResponse {
	return MockResponse{
		StatusCode: code,
		Body:       `{"error": "` + http.StatusText(code) + `"}`,
	}
}
