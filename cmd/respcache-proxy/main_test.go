package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/respcache/internal/config"
	"github.com/Sternrassler/respcache/internal/testutil"
	"github.com/Sternrassler/respcache/pkg/policy"
)

// proxyFixture is a proxy wired to a mock upstream.
type proxyFixture struct {
	api     *testutil.MockAPI
	stack   *stack
	handler http.Handler
}

func newProxyFixture(t *testing.T) *proxyFixture {
	t.Helper()

	api := testutil.NewMockAPI()
	t.Cleanup(api.Close)

	cfg := config.Default()
	cfg.Upstream.URL = api.URL()
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 2 * time.Millisecond
	cfg.Categories = map[policy.Category]policy.Policy{
		"weather":   {TTL: time.Hour, Backend: policy.BackendMemory, PrefetchEligible: true},
		"favorites": {TTL: time.Hour, Backend: policy.BackendBoth},
		"flash":     {TTL: time.Millisecond, Backend: policy.BackendMemory},
	}

	st, err := newStack(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := newServer(context.Background(), st.orch, st.client, zerolog.Nop())
	return &proxyFixture{api: api, stack: st, handler: srv.routes()}
}

func (f *proxyFixture) do(t *testing.T, method, target, body string) *http.Response {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(method, target, r))
	return w.Result()
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return strings.TrimSpace(string(b))
}

func TestHealthEndpoint(t *testing.T) {
	f := newProxyFixture(t)

	resp := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", readBody(t, resp))
}

func TestGetCachesUpstreamResponse(t *testing.T) {
	f := newProxyFixture(t)
	f.api.SetResponse("/forecast", testutil.JSON(`{"temp":21}`))

	resp := f.do(t, http.MethodGet, "/api/weather/forecast?city=berlin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"temp":21}`, readBody(t, resp))

	resp = f.do(t, http.MethodGet, "/api/weather/forecast?city=berlin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.JSONEq(t, `{"temp":21}`, readBody(t, resp))

	assert.Equal(t, 1, f.api.PathCount("/forecast"))
	reqs := f.api.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "city=berlin", reqs[0].Query)

	// Different params are a different entry.
	resp = f.do(t, http.MethodGet, "/api/weather/forecast?city=paris", "")
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, 2, f.api.PathCount("/forecast"))
}

func TestGetServesStaleOnUpstreamFailure(t *testing.T) {
	f := newProxyFixture(t)
	f.api.SetSequence("/alerts", testutil.JSON(`["storm"]`), testutil.ServerError())

	resp := f.do(t, http.MethodGet, "/api/flash/alerts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	readBody(t, resp)

	time.Sleep(10 * time.Millisecond)

	resp = f.do(t, http.MethodGet, "/api/flash/alerts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "STALE", resp.Header.Get("X-Cache"))
	assert.Contains(t, resp.Header.Get("X-Cache-Error"), "server error")
	assert.JSONEq(t, `["storm"]`, readBody(t, resp))

	// One initial fetch plus three failed attempts.
	assert.Equal(t, 4, f.api.PathCount("/alerts"))
}

func TestGetErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		upstream testutil.MockResponse
		want     int
	}{
		{"unknown category", "/api/nope/x", testutil.JSON(`{}`), http.StatusNotFound},
		{"upstream not found", "/api/weather/x", testutil.Status(http.StatusNotFound), http.StatusNotFound},
		{"upstream forbidden", "/api/weather/x", testutil.Status(http.StatusForbidden), http.StatusForbidden},
		{"upstream unavailable", "/api/weather/x", testutil.ServerError(), http.StatusBadGateway},
		{"upstream gateway timeout", "/api/weather/x", testutil.Status(http.StatusGatewayTimeout), http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProxyFixture(t)
			f.api.SetResponse("/x", tt.upstream)

			resp := f.do(t, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.want, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestMutationForwardsAndInvalidates(t *testing.T) {
	f := newProxyFixture(t)
	f.api.SetHandler("/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"id":2}`))
			return
		}
		w.Write([]byte(`[{"id":1}]`))
	})
	f.api.SetResponse("/forecast", testutil.JSON(`{"temp":21}`))

	readBody(t, f.do(t, http.MethodGet, "/api/favorites/items", ""))
	readBody(t, f.do(t, http.MethodGet, "/api/weather/forecast", ""))

	resp := f.do(t, http.MethodPost, "/api/favorites/items?invalidate=weather", `{"name":"lake"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":2}`, readBody(t, resp))

	reqs := f.api.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, http.MethodPost, reqs[2].Method)
	assert.JSONEq(t, `{"name":"lake"}`, reqs[2].Body)

	// Both the path category and the listed category were dropped.
	resp = f.do(t, http.MethodGet, "/api/favorites/items", "")
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	resp = f.do(t, http.MethodGet, "/api/weather/forecast", "")
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
}

func TestMutationRejectsBadRequests(t *testing.T) {
	f := newProxyFixture(t)

	resp := f.do(t, http.MethodPost, "/api/favorites/items?invalidate=nope", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/nope/items", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPatch, "/api/favorites/items", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Zero(t, f.api.RequestCount())
}

func TestFailedMutationKeepsCache(t *testing.T) {
	f := newProxyFixture(t)
	f.api.SetSequence("/items",
		testutil.JSON(`[{"id":1}]`),
		testutil.ServerError(),
	)

	readBody(t, f.do(t, http.MethodGet, "/api/favorites/items", ""))

	resp := f.do(t, http.MethodPost, "/api/favorites/items", `{"id":2}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/favorites/items", "")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	// POST is attempted once.
	assert.Equal(t, 2, f.api.PathCount("/items"))
}

func TestStatsEndpoint(t *testing.T) {
	f := newProxyFixture(t)
	f.api.SetResponse("/forecast", testutil.JSON(`{"temp":21}`))

	readBody(t, f.do(t, http.MethodGet, "/api/weather/forecast", ""))
	readBody(t, f.do(t, http.MethodGet, "/api/weather/forecast", ""))
	readBody(t, f.do(t, http.MethodGet, "/api/weather/forecast", ""))

	resp := f.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats statsResponse
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &stats))
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
	assert.Equal(t, 1, stats.MemoryEntries)
	assert.Zero(t, stats.PendingRefreshes)
}

func TestActivateEndpoint(t *testing.T) {
	f := newProxyFixture(t)

	resp := f.do(t, http.MethodPost, "/activate", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"refreshed":0}`, readBody(t, resp))
}

func TestPrefetchEndpoint(t *testing.T) {
	f := newProxyFixture(t)
	f.api.SetResponse("/forecast", testutil.JSON(`{"temp":21}`))

	resp := f.do(t, http.MethodPost, "/prefetch/nope/forecast", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/prefetch/weather/forecast", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Eventually(t, func() bool {
		return f.api.PathCount("/forecast") == 1 && f.stack.orch.Inflight() == 0
	}, time.Second, 5*time.Millisecond)

	resp = f.do(t, http.MethodGet, "/api/weather/forecast", "")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, uint64(1), f.stack.orch.Stats().Prefetches)
}

func TestPrefetchBatchEndpoint(t *testing.T) {
	f := newProxyFixture(t)
	f.api.SetResponse("/forecast", testutil.JSON(`{"temp":21}`))
	f.api.SetResponse("/radar", testutil.JSON(`{"img":"x"}`))

	resp := f.do(t, http.MethodPost, "/prefetch", `{"requests":[{"category":"nope","resource":"/x"}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/prefetch", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/prefetch", `{
		"concurrency": 2,
		"requests": [
			{"category": "weather", "resource": "/forecast", "params": {"city": ["berlin"]}},
			{"category": "weather", "resource": "/radar"}
		]
	}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"accepted":2}`, readBody(t, resp))

	assert.Eventually(t, func() bool {
		return f.stack.orch.Stats().Prefetches == 2 && f.stack.orch.Inflight() == 0
	}, time.Second, 5*time.Millisecond)

	resp = f.do(t, http.MethodGet, "/api/weather/forecast?city=berlin", "")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	resp = f.do(t, http.MethodGet, "/api/weather/radar", "")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newProxyFixture(t)
	f.api.SetResponse("/forecast", testutil.JSON(`{}`))
	readBody(t, f.do(t, http.MethodGet, "/api/weather/forecast", ""))

	resp := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "respcache_requests_total")
}

func TestNewStackRequiresUpstream(t *testing.T) {
	_, err := newStack(context.Background(), config.Default())
	assert.ErrorContains(t, err, "upstream URL is required")
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	opts, err = redisOptions("redis://:secret@cache.internal:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	_, err = redisOptions("redis://host:6379/notanumber")
	assert.Error(t, err)
}

func clearProxyEnv(t *testing.T) {
	for _, k := range []string{"REDIS_URL", "UPSTREAM_URL", "PORT", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestPoliciesCommand(t *testing.T) {
	clearProxyEnv(t)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"policies"})
	require.NoError(t, root.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, len(policy.DefaultPolicies())+1)
	assert.Equal(t, []string{"CATEGORY", "TTL", "BACKEND", "REFRESH", "PREFETCH"}, strings.Fields(lines[0]))
	assert.Contains(t, out.String(), "weather")
	assert.Contains(t, out.String(), "1h0m0s")
}

func TestServeCommandRequiresUpstream(t *testing.T) {
	clearProxyEnv(t)

	root := newRootCmd()
	root.SetArgs([]string{"serve", "--addr", "127.0.0.1:0"})
	assert.ErrorContains(t, root.Execute(), "upstream URL is required")
}
