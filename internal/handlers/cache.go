package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"simmgate-vectorcache/internal/cache"
	"simmgate-vectorcache/pkg/logging/logging"
)

// CacheHandler serves lookup, store and clear for each configured tier.
type CacheHandler struct {
	caches map[string]cache.LLMCache
}

func NewCacheHandler(caches map[string]cache.LLMCache) *CacheHandler {
	return &CacheHandler{caches: caches}
}

type lookupRequest struct {
	Prompt    string `json:"prompt"`
	LLMString string `json:"llm_string"`
}

type lookupResponse struct {
	Hit         bool               `json:"hit"`
	Generations []cache.Generation `json:"generations,omitempty"`
}

type storeRequest struct {
	Prompt      string             `json:"prompt"`
	LLMString   string             `json:"llm_string"`
	Generations []cache.Generation `json:"generations"`
	TTLSeconds  int                `json:"ttl_seconds,omitempty"`
}

func (h *CacheHandler) tier(w http.ResponseWriter, r *http.Request) (string, cache.LLMCache, bool) {
	name := chi.URLParam(r, "tier")
	c, ok := h.caches[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_tier", fmt.Errorf("cache tier %q is not enabled", name))
		return name, nil, false
	}
	return name, c, true
}

// Lookup handles POST /v1/cache/{tier}/lookup. A miss is a 200 with
// hit=false; the reason is only logged.
func (h *CacheHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	tier, c, ok := h.tier(w, r)
	if !ok {
		return
	}
	var req lookupRequest
	if !decode(w, r, &req) {
		return
	}
	if req.LLMString == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("llm_string is required"))
		return
	}

	start := time.Now()
	gens, hit := c.Lookup(r.Context(), req.Prompt, req.LLMString)

	logging.L(r.Context()).Debug("cache_decision",
		zap.String("cache_tier", tier),
		zap.Bool("cache_hit", hit),
		zap.Duration("cache_lookup_latency", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, lookupResponse{Hit: hit, Generations: gens})
}

// Store handles POST /v1/cache/{tier}/store.
func (h *CacheHandler) Store(w http.ResponseWriter, r *http.Request) {
	_, c, ok := h.tier(w, r)
	if !ok {
		return
	}
	var req storeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.LLMString == "" || len(req.Generations) == 0 || req.TTLSeconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("llm_string and generations are required, ttl_seconds must not be negative"))
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := c.Store(r.Context(), req.Prompt, req.LLMString, req.Generations, ttl); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /v1/cache/{tier}.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	_, c, ok := h.tier(w, r)
	if !ok {
		return
	}
	if err := c.Clear(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
