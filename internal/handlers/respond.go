package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"simmgate-vectorcache/internal/docstore"
	"simmgate-vectorcache/internal/vectorstore"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	resp := errorResponse{Error: code}
	if err != nil {
		resp.Message = err.Error()
	}
	writeJSON(w, status, resp)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", nil)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return false
	}
	return true
}

// writeStoreError maps docstore failures onto HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, docstore.ErrInvalidFilter),
		errors.Is(err, docstore.ErrUnsupportedDistance),
		errors.Is(err, vectorstore.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, docstore.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err)
	case errors.Is(err, docstore.ErrPartialWrite):
		writeError(w, http.StatusBadGateway, "partial_write", err)
	case docstore.IsConfigError(err):
		writeError(w, http.StatusInternalServerError, "misconfigured", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

func requireIDs(w http.ResponseWriter, ids []string) bool {
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("ids must not be empty"))
		return false
	}
	return true
}
