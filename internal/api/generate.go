package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/ashureev/scenegen/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

// maxRequestBytes bounds the request body.
const maxRequestBytes = 64 << 10

// Messages returned to clients for terminal failures. Details stay in the logs.
const (
	msgRenderFailed       = "rendering failed, try again later"
	msgRenderUnavailable  = "rendering service unavailable, try again later"
	msgRenderCanceled     = "request canceled"
	msgInvalidRequestBody = "invalid request body"
	msgEmptyQuery         = "query must not be empty"
)

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	Query      string `json:"query"`
	Enrichment bool   `json:"enrichment"`
}

// GenerateResponse is the success body of POST /generate.
type GenerateResponse struct {
	Status       string `json:"status"`
	ID           string `json:"id"`
	ArtifactLink string `json:"artifactLink"`
}

// GenerationResponse is the body of GET /api/generations/{id}.
type GenerationResponse struct {
	*domain.Generation
	AttemptRecords []domain.AttemptRecord `json:"attempt_records"`
}

// GenerateHandler handles generation endpoints.
type GenerateHandler struct {
	*Handler
}

// NewGenerateHandler creates a new generation handler.
func NewGenerateHandler(base *Handler) *GenerateHandler {
	return &GenerateHandler{Handler: base}
}

// RegisterRoutes registers generation routes.
func (h *GenerateHandler) RegisterRoutes(r chi.Router) {
	r.Post("/generate", h.Generate)
	r.Get("/api/generations/{id}", h.GetGeneration)
}

// DecodeGenerateRequest reads and validates a generation request body.
func DecodeGenerateRequest(body io.Reader) (GenerateRequest, error) {
	var req GenerateRequest
	dec := json.NewDecoder(io.LimitReader(body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		return GenerateRequest{}, errors.New(msgInvalidRequestBody)
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return GenerateRequest{}, errors.New(msgEmptyQuery)
	}
	return req, nil
}

// NewGenerationRequest builds the pipeline request for body with a fresh id.
func (h *Handler) NewGenerationRequest(body GenerateRequest) domain.GenerationRequest {
	return domain.GenerationRequest{
		ID:         h.newID(),
		Query:      body.Query,
		Enrichment: body.Enrichment,
	}
}

// FailureMessage maps a terminal error to the message shown to clients.
func FailureMessage(err error) string {
	switch pipeline.KindOf(err) {
	case domain.FailureBudgetExhausted:
		return msgRenderFailed
	case domain.FailureCanceled:
		return msgRenderCanceled
	default:
		return msgRenderUnavailable
	}
}

// Generate runs the generate-validate-repair loop for one request.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	body, err := DecodeGenerateRequest(r.Body)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	req := h.NewGenerationRequest(body)
	slog.Info("Generation requested", "request_id", req.ID, "enrichment", req.Enrichment)

	res, err := h.runner.Run(r.Context(), req)
	if err != nil {
		slog.Warn("Generation request failed", "request_id", req.ID, "kind", pipeline.KindOf(err), "error", err)
		Error(w, http.StatusBadRequest, FailureMessage(err))
		return
	}

	JSON(w, http.StatusOK, GenerateResponse{
		Status:       "success",
		ID:           res.ID,
		ArtifactLink: res.ArtifactURL,
	})
}

// GetGeneration returns the audit record of a generation and its attempts.
func (h *GenerateHandler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		Error(w, http.StatusNotFound, "generation history is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	gen, err := h.repo.GetGeneration(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load generation", "request_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load generation")
		return
	}
	if gen == nil {
		Error(w, http.StatusNotFound, "generation not found")
		return
	}

	attempts, err := h.repo.ListAttempts(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load attempts", "request_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load generation")
		return
	}

	JSON(w, http.StatusOK, GenerationResponse{Generation: gen, AttemptRecords: attempts})
}
