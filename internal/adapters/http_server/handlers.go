package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"listing_harvester/internal/app"
	"listing_harvester/internal/domain"
)

// PropertyQueries is satisfied by *app.QueryService.
type PropertyQueries interface {
	GetProperty(ctx context.Context, ref string) (domain.Property, error)
	PriceHistory(ctx context.Context, ref string) ([]domain.PriceHistoryEntry, error)
}

type Handlers struct{ Q PropertyQueries }

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type historyResponse struct {
	Reference string                     `json:"reference"`
	Items     []domain.PriceHistoryEntry `json:"items"`
}

var refPattern = regexp.MustCompile(`^\d+(\.0)?$`)

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/v1/properties/{ref}", h.getProperty)
	s.mux.Get("/v1/properties/{ref}/price-history", h.priceHistory)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("failed to write body")
	}
}

func refParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	ref := chi.URLParam(r, "ref")
	if !refPattern.MatchString(ref) {
		writeProblem(w, http.StatusBadRequest, "Invalid reference", "ref must be the numeric LP reference")
		return "", false
	}
	return app.NormalizeReference(ref), true
}

func lookupFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "property not found")
		return
	}
	log.Error().Err(err).Str("path", r.URL.Path).Msg("property lookup failed")
	writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
}

func (h *Handlers) getProperty(w http.ResponseWriter, r *http.Request) {
	ref, ok := refParam(w, r)
	if !ok {
		return
	}
	p, err := h.Q.GetProperty(r.Context(), ref)
	if err != nil {
		lookupFailed(w, r, err)
		return
	}
	writeJSON(w, r, p)
}

func (h *Handlers) priceHistory(w http.ResponseWriter, r *http.Request) {
	ref, ok := refParam(w, r)
	if !ok {
		return
	}

	limit := 0
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 500 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 500")
			return
		}
		limit = l
	}

	items, err := h.Q.PriceHistory(r.Context(), ref)
	if err != nil {
		lookupFailed(w, r, err)
		return
	}
	// oldest first; limit keeps the most recent entries
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	writeJSON(w, r, historyResponse{Reference: ref, Items: items})
}
