// Command populate loads exemplar query/code pairs into the similarity index.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashureev/scenegen/internal/config"
	"github.com/ashureev/scenegen/internal/domain"
	"github.com/ashureev/scenegen/internal/enrich"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	inputPath string
	batchSize int
)

var rootCmd = &cobra.Command{
	Use:   "populate",
	Short: "Embed exemplar scenes and upsert them into qdrant",
	Long: `Reads a JSON array of {"query": ..., "answer": ...} pairs, embeds each
query and stores the pair under a numeric id. Re-running over the same file
overwrites the existing points.`,
	RunE: runPopulate,
}

func init() {
	rootCmd.Flags().StringVarP(&inputPath, "file", "f", "manim_queries.json", "path to the exemplar JSON file")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", enrich.DefaultBatchSize, "number of exemplars embedded per request")
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func runPopulate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadEnrichment()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open exemplars: %w", err)
	}
	defer f.Close()

	snippets, err := readSnippets(f)
	if err != nil {
		return err
	}
	slog.Info("Loaded exemplars", "file", inputPath, "count", len(snippets))

	client, err := enrich.NewClient(enrich.ClientConfig{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantTLS,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	embedder, err := enrich.NewEmbedder(enrich.EmbedderConfig{
		BaseURL: cfg.EmbeddingBaseURL,
		Model:   cfg.EmbeddingModel,
		APIKey:  cfg.EmbeddingAPIKey,
	})
	if err != nil {
		return err
	}

	ix, err := enrich.NewIndexer(client, embedder, cfg.Collection, batchSize, slog.Default())
	if err != nil {
		return err
	}

	n, err := ix.Index(cmd.Context(), snippets)
	if err != nil {
		return fmt.Errorf("indexed %d of %d exemplars: %w", n, len(snippets), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d exemplars into %s\n", n, cfg.Collection)
	return nil
}

type exemplar struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// readSnippets decodes the exemplar file. Entries without a query or an
// answer are rejected so ids stay aligned with the file order.
func readSnippets(r io.Reader) ([]domain.Snippet, error) {
	var pairs []exemplar
	if err := json.NewDecoder(r).Decode(&pairs); err != nil {
		return nil, fmt.Errorf("decode exemplars: %w", err)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("exemplar file is empty")
	}

	snippets := make([]domain.Snippet, len(pairs))
	for i, p := range pairs {
		if strings.TrimSpace(p.Query) == "" || strings.TrimSpace(p.Answer) == "" {
			return nil, fmt.Errorf("exemplar %d: query and answer are required", i)
		}
		snippets[i] = domain.Snippet{Query: p.Query, Code: p.Answer}
	}
	return snippets, nil
}
