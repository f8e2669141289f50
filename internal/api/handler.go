// Package api provides HTTP handlers for the scene generation API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/ashureev/scenegen/internal/pipeline"
	"github.com/ashureev/scenegen/internal/store"
)

// Runner executes generation requests. *pipeline.Service implements it.
type Runner interface {
	Run(ctx context.Context, req domain.GenerationRequest, observers ...pipeline.Observer) (pipeline.Result, error)
}

// Handler provides common handler utilities.
type Handler struct {
	runner Runner
	repo   store.Repository
	newID  func() string
}

// NewHandler creates a new Handler with common dependencies.
// repo may be nil when the audit trail is disabled.
func NewHandler(runner Runner, repo store.Repository, newID func() string) *Handler {
	return &Handler{runner: runner, repo: repo, newID: newID}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"detail": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"detail": message})
}
