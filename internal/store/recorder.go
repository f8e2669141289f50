package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/ashureev/scenegen/internal/pipeline"
)

// Recorder writes the audit trail of every generation as the pipeline runs.
// Persistence failures are logged and never affect the request.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

var _ pipeline.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder backed by repo.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Started implements pipeline.Observer.
func (r *Recorder) Started(ctx context.Context, req domain.GenerationRequest) {
	now := time.Now()
	err := r.repo.CreateGeneration(ctx, &domain.Generation{
		ID:         req.ID,
		Query:      req.Query,
		Enrichment: req.Enrichment,
		Status:     domain.StatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		r.logger.Warn("Failed to record generation start", "request_id", req.ID, "error", err)
	}
}

// AttemptFinished implements pipeline.Observer.
func (r *Recorder) AttemptFinished(ctx context.Context, req domain.GenerationRequest, rec domain.AttemptRecord) {
	if err := r.repo.RecordAttempt(ctx, req.ID, rec); err != nil {
		r.logger.Warn("Failed to record attempt", "request_id", req.ID, "attempt", rec.Number, "error", err)
	}
}

// Finished implements pipeline.Observer.
func (r *Recorder) Finished(ctx context.Context, req domain.GenerationRequest, res pipeline.Result, err error) {
	status := domain.StatusSucceeded
	if err != nil {
		status = domain.StatusFailed
	}
	if cerr := r.repo.CompleteGeneration(ctx, req.ID, status, res.ArtifactURL, pipeline.KindOf(err)); cerr != nil {
		r.logger.Warn("Failed to record generation outcome", "request_id", req.ID, "error", cerr)
	}
}
