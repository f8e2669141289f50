// Package enrich retrieves exemplar snippets from a qdrant collection to
// enrich generation prompts, and populates that collection offline.
package enrich

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// maxMessageSize bounds gRPC messages; code payloads can be large.
const maxMessageSize = 16 << 20

// Embedder turns text into vectors. langchaingo's EmbedderImpl satisfies it.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// PointStore is the subset of the qdrant client used by this package.
type PointStore interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
}

// ClientConfig configures the qdrant gRPC connection.
type ClientConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// NewClient dials qdrant over gRPC.
func NewClient(cfg ClientConfig) (*qdrant.Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid qdrant port: %d", cfg.Port)
	}

	qcfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxMessageSize),
				grpc.MaxCallSendMsgSize(maxMessageSize),
			),
		},
	}
	if !cfg.UseTLS {
		qcfg.GrpcOptions = append(qcfg.GrpcOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return client, nil
}

// EmbedderConfig configures an OpenAI-compatible embeddings endpoint,
// such as a local text-embeddings-inference server.
type EmbedderConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// NewEmbedder creates a langchaingo embedder for cfg.
func NewEmbedder(cfg EmbedderConfig) (*embeddings.EmbedderImpl, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("embedding base URL and model are required")
	}
	token := cfg.APIKey
	if token == "" {
		// langchaingo refuses an empty token; TEI ignores it.
		token = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embeddings client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embedder, nil
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.NotFound
}
