package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/qdrant/go-client/qdrant"
)

// DefaultLimit is the number of exemplars retrieved per query.
const DefaultLimit = 3

const (
	payloadQuery = "query"
	payloadCode  = "code"
)

// Qdrant finds exemplar snippets whose stored query is closest to the
// request's query.
type Qdrant struct {
	store      PointStore
	embedder   Embedder
	collection string
	limit      uint64
	logger     *slog.Logger
}

// NewQdrant creates a qdrant-backed enricher.
func NewQdrant(store PointStore, embedder Embedder, collection string, limit int, logger *slog.Logger) (*Qdrant, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("point store and embedder are required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Qdrant{
		store:      store,
		embedder:   embedder,
		collection: collection,
		limit:      uint64(limit),
		logger:     logger,
	}, nil
}

// Enrich returns up to the configured number of snippets, nearest first.
// A missing collection yields no snippets rather than an error.
func (q *Qdrant) Enrich(ctx context.Context, query string) ([]domain.Snippet, error) {
	vector, err := q.embedder.EmbedQuery(ctx, strings.ReplaceAll(query, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	points, err := q.store.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(q.limit),
		WithPayload:    qdrant.NewWithPayloadInclude(payloadQuery, payloadCode),
	})
	if err != nil {
		if isNotFound(err) {
			q.logger.Warn("Exemplar collection not found", "collection", q.collection)
			return []domain.Snippet{}, nil
		}
		return nil, fmt.Errorf("query collection %s: %w", q.collection, err)
	}

	snippets := make([]domain.Snippet, 0, len(points))
	for _, p := range points {
		code := p.GetPayload()[payloadCode].GetStringValue()
		if code == "" {
			continue
		}
		snippets = append(snippets, domain.Snippet{
			Query: p.GetPayload()[payloadQuery].GetStringValue(),
			Code:  code,
		})
	}
	return snippets, nil
}

// Ping checks that qdrant is reachable.
func (q *Qdrant) Ping(ctx context.Context) error {
	if _, err := q.store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}
