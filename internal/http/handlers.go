package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"voice-invoice-service/internal/models"
	"voice-invoice-service/internal/service/catalog"
	"voice-invoice-service/internal/service/extraction"
	"voice-invoice-service/internal/service/pipeline"
	"voice-invoice-service/internal/service/resolution"
)

type handlers struct {
	deps Deps
}

type transcriptRequest struct {
	Transcript string `json:"transcript"`
}

type clientRequest struct {
	ClientID string `json:"clientId"`
}

type productRequest struct {
	ProductID string `json:"productId"`
}

type discountRequest struct {
	Percent *float64 `json:"percent"`
}

type errorResponse struct {
	Error  string             `json:"error"`
	Issues []resolution.Issue `json:"issues,omitempty"`
}

func (h *handlers) createDraft(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.deps.Pipeline.Process(r.Context(), req.Transcript)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handlers) getDraft(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.Pipeline.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) resubmitDraft(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.deps.Pipeline.Resubmit(r.Context(), chi.URLParam(r, "id"), req.Transcript)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) selectClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "clientId is required"})
		return
	}
	rec, err := h.deps.Pipeline.SelectClient(r.Context(), chi.URLParam(r, "id"), req.ClientID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) dismissClient(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.Pipeline.DismissClient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) selectProduct(w http.ResponseWriter, r *http.Request) {
	line, ok := lineParam(w, r)
	if !ok {
		return
	}
	var req productRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "productId is required"})
		return
	}
	rec, err := h.deps.Pipeline.SelectProduct(r.Context(), chi.URLParam(r, "id"), line, req.ProductID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) dismissProduct(w http.ResponseWriter, r *http.Request) {
	line, ok := lineParam(w, r)
	if !ok {
		return
	}
	rec, err := h.deps.Pipeline.DismissProduct(r.Context(), chi.URLParam(r, "id"), line)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) updateDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Percent == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "percent is required"})
		return
	}
	rec, err := h.deps.Pipeline.UpdateDiscount(r.Context(), chi.URLParam(r, "id"), *req.Percent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) finalize(w http.ResponseWriter, r *http.Request) {
	inv, err := h.deps.Pipeline.Finalize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *handlers) searchClients(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, snap.Clients())
		return
	}
	out := snap.MatchClients(q)
	if out == nil {
		out = []models.ClientCandidate{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) searchProducts(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, snap.Products())
		return
	}
	out := snap.MatchProducts(q)
	if out == nil {
		out = []models.ProductCandidate{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) snapshot(w http.ResponseWriter) (*catalog.Snapshot, bool) {
	if h.deps.Catalog == nil {
		writeError(w, catalog.ErrNotLoaded)
		return nil, false
	}
	snap, err := h.deps.Catalog.Current()
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return snap, true
}

func lineParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	line, err := strconv.Atoi(chi.URLParam(r, "line"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "line must be an integer"})
		return 0, false
	}
	return line, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var fe *resolution.FinalizationError
	var xe *extraction.ExtractionFailedError
	switch {
	case errors.Is(err, extraction.ErrEmptyTranscript):
		return http.StatusBadRequest
	case errors.Is(err, extraction.ErrExtractionInFlight):
		return http.StatusTooManyRequests
	case errors.Is(err, pipeline.ErrDraftNotFound),
		errors.Is(err, pipeline.ErrCandidateNotFound),
		errors.Is(err, resolution.ErrLineOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrDraftFinalized):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrNotLoaded):
		return http.StatusServiceUnavailable
	case errors.As(err, &fe):
		return http.StatusUnprocessableEntity
	case errors.As(err, &xe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	var fe *resolution.FinalizationError
	if errors.As(err, &fe) {
		resp.Issues = fe.Issues
	}
	var xe *extraction.ExtractionFailedError
	if errors.As(err, &xe) {
		resp.Error = xe.Message
	}
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Response write failed")
	}
}
