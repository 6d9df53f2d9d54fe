package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/respcache/pkg/client"
	"github.com/Sternrassler/respcache/pkg/metrics"
	"github.com/Sternrassler/respcache/pkg/orchestrator"
	"github.com/Sternrassler/respcache/pkg/policy"
)

// maxBodyBytes bounds forwarded request bodies.
const maxBodyBytes = 1 << 20

// server exposes the orchestrator over HTTP.
type server struct {
	orch   *orchestrator.Orchestrator
	client *client.Client
	logger zerolog.Logger

	// baseCtx outlives single requests; prefetches run on it.
	baseCtx context.Context
}

func newServer(baseCtx context.Context, orch *orchestrator.Orchestrator, c *client.Client, logger zerolog.Logger) *server {
	return &server{orch: orch, client: c, logger: logger, baseCtx: baseCtx}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /activate", s.handleActivate)
	mux.HandleFunc("POST /prefetch", s.handlePrefetchBatch)
	mux.HandleFunc("POST /prefetch/{category}/{resource...}", s.handlePrefetch)

	mux.HandleFunc("GET /api/{category}/{resource...}", s.handleGet)
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		mux.HandleFunc(method+" /api/{category}/{resource...}", s.handleMutation)
	}

	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

type statsResponse struct {
	orchestrator.Stats
	MemoryEntries      int `json:"memoryEntries"`
	PendingRefreshes   int `json:"pendingRefreshes"`
	InflightPrefetches int `json:"inflightPrefetches"`
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Stats:              s.orch.Stats(),
		MemoryEntries:      s.orch.Store().Len(),
		PendingRefreshes:   s.orch.Pending(),
		InflightPrefetches: s.orch.Inflight(),
	})
}

func (s *server) handleActivate(w http.ResponseWriter, r *http.Request) {
	n := s.orch.OnActivated(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"refreshed": n})
}

func (s *server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	category := policy.Category(r.PathValue("category"))
	if !s.orch.Store().Registry().Has(category) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown category %q", category))
		return
	}
	resource := "/" + r.PathValue("resource")
	params := r.URL.Query()

	go func() {
		if err := s.orch.PrefetchResource(s.baseCtx, resource, params, category); err != nil {
			s.logger.Debug().Err(err).Str("resource", resource).Msg("Prefetch request failed")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

type prefetchBatch struct {
	Concurrency int `json:"concurrency"`
	Requests    []struct {
		Category policy.Category     `json:"category"`
		Resource string              `json:"resource"`
		Params   map[string][]string `json:"params"`
	} `json:"requests"`
}

// handlePrefetchBatch accepts
//
//	{"concurrency": 4, "requests": [{"category": "weather", "resource": "/forecast", "params": {"city": ["berlin"]}}]}
func (s *server) handlePrefetchBatch(w http.ResponseWriter, r *http.Request) {
	var batch prefetchBatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "decode body: "+err.Error())
		return
	}

	registry := s.orch.Store().Registry()
	reqs := make([]orchestrator.PrefetchRequest, 0, len(batch.Requests))
	for _, req := range batch.Requests {
		if !registry.Has(req.Category) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", req.Category))
			return
		}
		reqs = append(reqs, orchestrator.PrefetchRequest{
			Category: req.Category,
			Resource: req.Resource,
			Params:   req.Params,
		})
	}

	go func() {
		failed, err := s.orch.PrefetchMany(s.baseCtx, reqs, batch.Concurrency)
		if err != nil || failed > 0 {
			s.logger.Warn().Err(err).Int("failed", failed).Int("requested", len(reqs)).Msg("Batch prefetch incomplete")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(reqs)})
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	category := policy.Category(r.PathValue("category"))
	resource := "/" + r.PathValue("resource")

	res, err := s.orch.GetResource(r.Context(), resource, r.URL.Query(), category)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}

	switch {
	case res.Stale():
		w.Header().Set("X-Cache", "STALE")
		w.Header().Set("X-Cache-Error", res.Error)
	case res.FromCache:
		w.Header().Set("X-Cache", "HIT")
	default:
		w.Header().Set("X-Cache", "MISS")
	}
	writeRaw(w, http.StatusOK, res.Data)
}

func (s *server) handleMutation(w http.ResponseWriter, r *http.Request) {
	category := policy.Category(r.PathValue("category"))
	registry := s.orch.Store().Registry()

	invalidations := []client.Invalidation{client.InvalidateCategory(category)}
	for _, raw := range strings.Split(r.URL.Query().Get("invalidate"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			invalidations = append(invalidations, client.InvalidateCategory(policy.Category(raw)))
		}
	}
	for _, inv := range invalidations {
		if !registry.Has(inv.Category) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", inv.Category))
			return
		}
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	var body any
	if len(strings.TrimSpace(string(payload))) > 0 {
		if !json.Valid(payload) {
			writeError(w, http.StatusBadRequest, "request body is not valid JSON")
			return
		}
		body = json.RawMessage(payload)
	}

	resource := "/" + r.PathValue("resource")
	data, err := s.client.Mutate(r.Context(), r.Method, resource, body, client.MutationOptions{
		InvalidateCache: invalidations,
	})
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

// writeUpstreamError maps a failed read or write onto a response status.
func (s *server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, policy.ErrUnknownCategory) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	classified := client.Classify(err)
	status := http.StatusBadGateway
	switch classified.Kind {
	case client.KindClient, client.KindAuth:
		if classified.Status > 0 {
			status = classified.Status
		}
	case client.KindTimeout:
		status = http.StatusGatewayTimeout
	case client.KindCanceled:
		status = http.StatusServiceUnavailable
	}

	s.logger.Warn().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("error_kind", string(classified.Kind)).
		Int("status", status).
		Msg("Proxy request failed")

	writeError(w, status, classified.Error())
}

func writeRaw(w http.ResponseWriter, status int, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
