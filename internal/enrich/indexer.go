package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/qdrant/go-client/qdrant"
)

// DefaultBatchSize is the number of points embedded and upserted together.
const DefaultBatchSize = 64

// Indexer embeds exemplar snippets and stores them in a collection.
type Indexer struct {
	store      PointStore
	embedder   Embedder
	collection string
	batchSize  int
	logger     *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(store PointStore, embedder Embedder, collection string, batchSize int, logger *slog.Logger) (*Indexer, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("point store and embedder are required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{store: store, embedder: embedder, collection: collection, batchSize: batchSize, logger: logger}, nil
}

// Index stores snippets under sequential numeric ids starting at zero, so
// re-running it over the same corpus overwrites instead of duplicating.
// The collection is created on first use, sized to the embedding dimension.
func (ix *Indexer) Index(ctx context.Context, snippets []domain.Snippet) (int, error) {
	indexed := 0
	for start := 0; start < len(snippets); start += ix.batchSize {
		end := min(start+ix.batchSize, len(snippets))
		batch := snippets[start:end]

		texts := make([]string, len(batch))
		for i, s := range batch {
			texts[i] = strings.ReplaceAll(s.Query, "\n", "")
		}
		vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if len(vectors) != len(batch) {
			return indexed, fmt.Errorf("embed batch at %d: got %d vectors for %d snippets", start, len(vectors), len(batch))
		}

		if start == 0 {
			if err := ix.ensureCollection(ctx, uint64(len(vectors[0]))); err != nil {
				return indexed, err
			}
		}

		points := make([]*qdrant.PointStruct, len(batch))
		for i, s := range batch {
			points[i] = &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(start + i)),
				Vectors: qdrant.NewVectors(vectors[i]...),
				Payload: qdrant.NewValueMap(map[string]any{
					payloadQuery: texts[i],
					payloadCode:  s.Code,
				}),
			}
		}

		if _, err := ix.store.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: ix.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		}); err != nil {
			return indexed, fmt.Errorf("upsert batch at %d: %w", start, err)
		}
		indexed += len(batch)
		ix.logger.Info("Indexed exemplar batch", "collection", ix.collection, "indexed", indexed, "total", len(snippets))
	}
	return indexed, nil
}

func (ix *Indexer) ensureCollection(ctx context.Context, size uint64) error {
	exists, err := ix.store.CollectionExists(ctx, ix.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", ix.collection, err)
	}
	if exists {
		return nil
	}
	if err := ix.store.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: ix.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     size,
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return fmt.Errorf("create collection %s: %w", ix.collection, err)
	}
	ix.logger.Info("Created exemplar collection", "collection", ix.collection, "dimension", size)
	return nil
}
