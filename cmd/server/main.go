// Scene generation server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/scenegen/internal/api"
	"github.com/ashureev/scenegen/internal/config"
	"github.com/ashureev/scenegen/internal/container"
	"github.com/ashureev/scenegen/internal/enrich"
	"github.com/ashureev/scenegen/internal/llm"
	"github.com/ashureev/scenegen/internal/metrics"
	"github.com/ashureev/scenegen/internal/middleware"
	"github.com/ashureev/scenegen/internal/pipeline"
	"github.com/ashureev/scenegen/internal/publish"
	"github.com/ashureev/scenegen/internal/store"
	"github.com/ashureev/scenegen/internal/stream"
	"github.com/ashureev/scenegen/internal/workspace"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const artifactRoute = "/artifacts"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "in_container", config.IsContainer())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	ws, err := workspace.New(cfg.Renderer.WorkDir, cfg.Renderer.SceneName, cfg.Renderer.Quality)
	if err != nil {
		slog.Error("Failed to initialize workspace", "error", err)
		os.Exit(1)
	}

	mgr, err := container.NewDockerManager(container.Config{
		Name:    cfg.Renderer.ContainerName,
		Image:   cfg.Renderer.Image,
		Runtime: cfg.Renderer.Runtime,
		HostDir: cfg.Renderer.HostDir,
	})
	if err != nil {
		slog.Error("Failed to initialize container manager", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := mgr.Close(); closeErr != nil {
			slog.Error("Failed to close docker client", "error", closeErr)
		}
	}()
	slog.Info("Container manager initialized")

	renderer, err := container.NewRenderer(mgr, ws, cfg.Renderer.TimeLimit, logger)
	if err != nil {
		slog.Error("Failed to initialize renderer", "error", err)
		os.Exit(1)
	}

	sink, localDir, closeSink, err := newSink(cfg)
	if err != nil {
		slog.Error("Failed to initialize artifact sink", "error", err)
		os.Exit(1)
	}
	defer closeSink()

	publisher, err := publish.New(ws, sink, logger)
	if err != nil {
		slog.Error("Failed to initialize publisher", "error", err)
		os.Exit(1)
	}

	generatorLLM, err := llm.NewOpenAIClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize generator model", "error", err)
		os.Exit(1)
	}
	diagnoserLLM, err := llm.NewOpenAIClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.DiagnoserModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize diagnoser model", "error", err)
		os.Exit(1)
	}

	checks := map[string]api.Pinger{
		"database": repo,
		"docker":   mgr,
	}

	var enricher pipeline.Enricher
	if cfg.Enrichment.Enabled() {
		qdrantEnricher, closeQdrant, err := newEnricher(cfg, logger)
		if err != nil {
			slog.Error("Failed to initialize enrichment", "error", err)
			os.Exit(1)
		}
		defer closeQdrant()
		enricher = qdrantEnricher
		checks["qdrant"] = qdrantEnricher
		slog.Info("Enrichment enabled", "host", cfg.Enrichment.QdrantHost, "collection", cfg.Enrichment.Collection)
	} else {
		slog.Info("Enrichment disabled (QDRANT_HOST not set)")
	}

	svc, err := pipeline.NewService(pipeline.Deps{
		Generator: generatorLLM,
		Diagnoser: diagnoserLLM,
		Validator: renderer,
		Publisher: publisher,
		Enricher:  enricher,
		Observers: []pipeline.Observer{store.NewRecorder(repo, logger)},
	}, pipeline.Config{
		RetryCeiling: cfg.Retry.MaxRetries,
		SceneName:    cfg.Renderer.SceneName,
		Timeouts: pipeline.Timeouts{
			Enrichment: cfg.Timeout.Enrichment,
			Generation: cfg.Timeout.Generation,
			Validation: cfg.Timeout.Validation,
			Diagnosis:  cfg.Timeout.Diagnosis,
			Publish:    cfg.Timeout.Publish,
		},
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize generation service", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(svc, repo, uuid.NewString)
	generateHandler := api.NewGenerateHandler(baseHandler)
	healthHandler := api.NewHealthHandler(checks, cfg.Timeout.HealthCheck)
	wsHandler := stream.NewWebSocketHandler(baseHandler, svc, cfg.PublicBaseURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	generateHandler.RegisterRoutes(r)
	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws/generate", wsHandler.ServeHTTP)

	if localDir != "" {
		r.Handle(artifactRoute+"/*", http.StripPrefix(artifactRoute+"/", http.FileServer(http.Dir(localDir))))
	}

	// Generation requests stay open for the whole attempt loop, so there is
	// no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container.StartSweeper(ctx, ws, repo, container.SweepConfig{
		Interval:        cfg.Sweep.Interval,
		StaleAfter:      cfg.Sweep.StaleAfter,
		RecordRetention: cfg.Sweep.RecordRetention,
		MaxRetries:      cfg.Retry.DatabaseMaxRetries,
		RetryBaseDelay:  cfg.Retry.DatabaseRetryBaseDelay,
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Failed to remove renderer container", "error", err)
	}

	slog.Info("Server stopped successfully")
}

// newSink picks GCS when a bucket is configured and a local directory
// served under /artifacts otherwise. localDir is empty for GCS.
func newSink(cfg *config.Config) (sink publish.Sink, localDir string, closeFn func(), err error) {
	if cfg.Publish.Bucket != "" {
		gcs, err := publish.NewGCS(context.Background(), cfg.Publish.Bucket, cfg.Publish.CredentialsFile)
		if err != nil {
			return nil, "", nil, err
		}
		slog.Info("Publishing artifacts to GCS", "bucket", cfg.Publish.Bucket)
		return gcs, "", func() {
			if err := gcs.Close(); err != nil {
				slog.Warn("Failed to close GCS client", "error", err)
			}
		}, nil
	}

	local, err := publish.NewLocal(cfg.Publish.ArtifactDir, cfg.PublicBaseURL+artifactRoute)
	if err != nil {
		return nil, "", nil, err
	}
	slog.Info("Publishing artifacts locally", "dir", local.Dir())
	return local, local.Dir(), func() {}, nil
}

func newEnricher(cfg *config.Config, logger *slog.Logger) (*enrich.Qdrant, func(), error) {
	client, err := enrich.NewClient(enrich.ClientConfig{
		Host:   cfg.Enrichment.QdrantHost,
		Port:   cfg.Enrichment.QdrantPort,
		APIKey: cfg.Enrichment.QdrantAPIKey,
		UseTLS: cfg.Enrichment.QdrantTLS,
	})
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close qdrant client", "error", err)
		}
	}

	embedder, err := enrich.NewEmbedder(enrich.EmbedderConfig{
		BaseURL: cfg.Enrichment.EmbeddingBaseURL,
		Model:   cfg.Enrichment.EmbeddingModel,
		APIKey:  cfg.Enrichment.EmbeddingAPIKey,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	q, err := enrich.NewQdrant(client, embedder, cfg.Enrichment.Collection, cfg.Enrichment.Limit, logger)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return q, closeFn, nil
}
