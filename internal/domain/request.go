// Package domain contains core domain types for the scene generation service.
package domain

import (
	"time"
)

// Snippet is an exemplar query/code pair used to enrich generation prompts.
type Snippet struct {
	Query string `json:"query"`
	Code  string `json:"code"`
}

// GenerationRequest is the immutable input of one generation run.
type GenerationRequest struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Enrichment bool      `json:"enrichment"`
	Exemplars  []Snippet `json:"exemplars,omitempty"`
}

// WithExemplars returns a copy of the request carrying the given exemplars.
// The receiver is left untouched.
func (r GenerationRequest) WithExemplars(snippets []Snippet) GenerationRequest {
	out := r
	out.Exemplars = append([]Snippet(nil), snippets...)
	return out
}

// GenerationStatus is the lifecycle state of a persisted generation.
type GenerationStatus string

const (
	// StatusRunning marks a generation whose attempt loop has not finished.
	StatusRunning GenerationStatus = "running"
	// StatusSucceeded marks a generation that produced a published artifact.
	StatusSucceeded GenerationStatus = "succeeded"
	// StatusFailed marks a generation that ended with a terminal error.
	StatusFailed GenerationStatus = "failed"
)

// Generation is the audit record of one request and its outcome.
type Generation struct {
	ID          string           `json:"id"`
	Query       string           `json:"query"`
	Enrichment  bool             `json:"enrichment"`
	Status      GenerationStatus `json:"status"`
	ArtifactURL string           `json:"artifact_url,omitempty"`
	FailureKind FailureKind      `json:"failure_kind,omitempty"`
	Attempts    int              `json:"attempts"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Finished returns true once the generation reached a terminal status.
func (g *Generation) Finished() bool {
	return g.Status == StatusSucceeded || g.Status == StatusFailed
}
