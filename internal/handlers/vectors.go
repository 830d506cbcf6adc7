package handlers

import (
	"net/http"
	"time"

	"simmgate-vectorcache/internal/docstore"
	"simmgate-vectorcache/internal/vectorstore"
)

// VectorHandler exposes the document façade.
type VectorHandler struct {
	store *vectorstore.Store
}

func NewVectorHandler(store *vectorstore.Store) *VectorHandler {
	return &VectorHandler{store: store}
}

type addRequest struct {
	// Either texts (with optional metadatas and ids) or documents.
	Texts      []string            `json:"texts,omitempty"`
	Metadatas  []map[string]any    `json:"metadatas,omitempty"`
	IDs        []string            `json:"ids,omitempty"`
	Documents  []docstore.Document `json:"documents,omitempty"`
	TTLSeconds int                 `json:"ttl_seconds,omitempty"`
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

type idsResponse struct {
	IDs []string `json:"ids"`
}

type searchRequest struct {
	vectorstore.Request
	WithScores bool `json:"with_scores,omitempty"`
}

type searchResponse struct {
	Results   []docstore.SearchResult `json:"results,omitempty"`
	Documents []docstore.Document     `json:"documents,omitempty"`
}

type getResponse struct {
	Documents map[string]*docstore.Document `json:"documents"`
}

// Add handles POST /v1/vectors.
func (h *VectorHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !decode(w, r, &req) {
		return
	}
	opts := docstore.WriteOptions{TTL: time.Duration(req.TTLSeconds) * time.Second}

	var (
		ids []string
		err error
	)
	if len(req.Documents) > 0 {
		ids, err = h.store.AddDocuments(r.Context(), req.Documents, opts)
	} else {
		ids, err = h.store.AddTexts(r.Context(), req.Texts, req.Metadatas, req.IDs, opts)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idsResponse{IDs: ids})
}

// Search handles POST /v1/vectors/search. Scores are included only when
// with_scores is set.
func (h *VectorHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decode(w, r, &req) {
		return
	}

	results, err := h.store.Search(r.Context(), req.Request)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var resp searchResponse
	if req.WithScores {
		resp.Results = results
	} else {
		resp.Documents = make([]docstore.Document, len(results))
		for i, res := range results {
			resp.Documents[i] = res.Document
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Delete handles POST /v1/vectors/delete.
func (h *VectorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decode(w, r, &req) || !requireIDs(w, req.IDs) {
		return
	}
	if err := h.store.Delete(r.Context(), req.IDs); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get handles POST /v1/vectors/get. Missing ids map to null.
func (h *VectorHandler) Get(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decode(w, r, &req) || !requireIDs(w, req.IDs) {
		return
	}
	docs, err := h.store.Get(r.Context(), req.IDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, getResponse{Documents: docs})
}
