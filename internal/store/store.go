// Package store provides persistence for the generation audit trail.
package store

import (
	"context"
	"time"

	"github.com/ashureev/scenegen/internal/domain"
)

// Repository defines the interface for persisting generations and their attempts.
type Repository interface {
	// CreateGeneration inserts a running generation for a request.
	CreateGeneration(ctx context.Context, gen *domain.Generation) error

	// RecordAttempt stores one attempt of a generation and bumps its attempt count.
	RecordAttempt(ctx context.Context, generationID string, rec domain.AttemptRecord) error

	// CompleteGeneration marks a generation finished with its outcome.
	CompleteGeneration(ctx context.Context, id string, status domain.GenerationStatus, artifactURL string, kind domain.FailureKind) error

	// GetGeneration retrieves a generation by id. It returns nil, nil when none exists.
	GetGeneration(ctx context.Context, id string) (*domain.Generation, error)

	// ListAttempts returns a generation's attempts in order.
	ListAttempts(ctx context.Context, generationID string) ([]domain.AttemptRecord, error)

	// PruneGenerations deletes generations last updated before the cutoff.
	PruneGenerations(ctx context.Context, before time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
