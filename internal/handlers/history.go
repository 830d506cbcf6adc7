package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"simmgate-vectorcache/internal/history"
)

// HistoryHandler exposes per-session chat message histories.
type HistoryHandler struct {
	store *history.Store
}

func NewHistoryHandler(store *history.Store) *HistoryHandler {
	return &HistoryHandler{store: store}
}

type messagesBody struct {
	Messages []history.Message `json:"messages"`
}

func (h *HistoryHandler) session(w http.ResponseWriter, r *http.Request) (*history.History, bool) {
	hist, err := h.store.For(chi.URLParam(r, "session"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return nil, false
	}
	return hist, true
}

// Messages handles GET /v1/history/{session}.
func (h *HistoryHandler) Messages(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.session(w, r)
	if !ok {
		return
	}
	msgs, err := hist.Messages(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messagesBody{Messages: msgs})
}

// Add handles POST /v1/history/{session}.
func (h *HistoryHandler) Add(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.session(w, r)
	if !ok {
		return
	}
	var req messagesBody
	if !decode(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", errors.New("messages must not be empty"))
		return
	}
	if err := hist.AddMessages(r.Context(), req.Messages); err != nil {
		if errors.Is(err, history.ErrInvalidMessage) {
			writeError(w, http.StatusBadRequest, "invalid_request", err)
			return
		}
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /v1/history/{session}.
func (h *HistoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	hist, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := hist.Clear(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
