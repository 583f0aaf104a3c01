package pagefetch

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes page fetching over HTTP.
type Handler struct {
	fetcher *Fetcher
}

// NewHandler creates the HTTP layer over a Fetcher.
func NewHandler(fetcher *Fetcher) *Handler {
	return &Handler{fetcher: fetcher}
}

// RegisterRoutes mounts the fetch endpoint on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/fetch-page", h.ServeFetch)
}

// ServeFetch fetches the page named in the request body and returns its
// Markdown rendering.
func (h *Handler) ServeFetch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	result, err := h.fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		slog.Warn("page fetch failed", "url", req.URL, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
