// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// MaxEnrichmentLimit is the most exemplars a single request may receive.
const MaxEnrichmentLimit = 3

// Config holds all application configuration.
type Config struct {
	Port           string
	PublicBaseURL  string
	DBPath         string
	AllowedOrigins []string
	LogLevel       string
	LLM            LLMConfig
	Enrichment     EnrichmentConfig
	Renderer       RendererConfig
	Publish        PublishConfig
	Retry          RetryConfig
	Timeout        TimeoutConfig
	Sweep          SweepConfig
}

// LLMConfig selects the OpenAI-compatible completion endpoint.
type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	DiagnoserModel string
	Temperature    float32
	MaxTokens      int
}

// EnrichmentConfig controls similarity retrieval of exemplar snippets.
// Enrichment is disabled when QdrantHost is empty.
type EnrichmentConfig struct {
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantTLS        bool
	Collection       string
	EmbeddingBaseURL string
	EmbeddingModel   string
	EmbeddingAPIKey  string
	Limit            int
}

// Enabled returns true if a similarity index is configured.
func (e EnrichmentConfig) Enabled() bool {
	return e.QdrantHost != ""
}

// RendererConfig describes the sandbox container used to validate code.
type RendererConfig struct {
	ContainerName string
	Image         string
	Runtime       string // Docker runtime: "" = default (runc), "runsc" = gVisor
	WorkDir       string // Workspace path as seen by this process.
	HostDir       string // Workspace path as seen by the Docker daemon (bind mount source).
	SceneName     string
	Quality       string // manim quality flag: l, m, h or k.
	TimeLimit     time.Duration
}

// PublishConfig selects where rendered artifacts go.
// GCS is used when Bucket is set; otherwise artifacts are copied to ArtifactDir.
type PublishConfig struct {
	Bucket          string
	CredentialsFile string
	ArtifactDir     string
}

// RetryConfig bounds the generate-validate-repair loop.
type RetryConfig struct {
	MaxRetries             int
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// TimeoutConfig holds per-call deadlines for external collaborators.
type TimeoutConfig struct {
	Generation  time.Duration
	Diagnosis   time.Duration
	Validation  time.Duration
	Publish     time.Duration
	Enrichment  time.Duration
	HealthCheck time.Duration
}

// SweepConfig controls the background workspace and audit cleanup.
type SweepConfig struct {
	Interval        time.Duration
	StaleAfter      time.Duration
	RecordRetention time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	workDir := getEnv("RENDER_WORKDIR", "./data/render")
	if abs, err := filepath.Abs(workDir); err == nil {
		workDir = abs
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8001"),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8001"), "/"),
		DBPath:         getEnv("DB_PATH", "./data/scenegen.db"),
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LLM: LLMConfig{
			BaseURL:        getEnv("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
			APIKey:         firstEnv("LLM_API_KEY", "GROQ_API_KEY"),
			Model:          getEnv("LLM_MODEL", "llama-3.1-70b-versatile"),
			DiagnoserModel: getEnv("DIAGNOSER_MODEL", ""),
			Temperature:    float32(getEnvFloat("LLM_TEMPERATURE", 0)),
			MaxTokens:      getEnvInt("LLM_MAX_TOKENS", 0),
		},
		Enrichment: loadEnrichment(),
		Renderer: RendererConfig{
			ContainerName: getEnv("DOCKER_CONTAINER_NAME", "scenegen-renderer"),
			Image:         getEnv("RENDER_IMAGE", "manimcommunity/manim:stable"),
			Runtime:       getEnv("CONTAINER_RUNTIME", ""),
			WorkDir:       workDir,
			HostDir:       getEnv("RENDER_HOST_DIR", workDir),
			SceneName:     getEnv("RENDER_SCENE_NAME", "GenerateVideo"),
			Quality:       getEnv("RENDER_QUALITY", "m"),
			TimeLimit:     getEnvDuration("RENDER_TIME_LIMIT", 90*time.Second),
		},
		Publish: PublishConfig{
			Bucket:          getEnv("GCS_BUCKET", ""),
			CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			ArtifactDir:     getEnv("ARTIFACT_DIR", "./data/artifacts"),
		},
		Retry: RetryConfig{
			MaxRetries:             getEnvInt("MAX_RETRIES", 3),
			DatabaseMaxRetries:     getEnvInt("DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: getEnvDuration("DB_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
		Timeout: TimeoutConfig{
			Generation:  getEnvDuration("GENERATION_TIMEOUT", 60*time.Second),
			Diagnosis:   getEnvDuration("DIAGNOSIS_TIMEOUT", 30*time.Second),
			Validation:  getEnvDuration("VALIDATION_TIMEOUT", 120*time.Second),
			Publish:     getEnvDuration("PUBLISH_TIMEOUT", 60*time.Second),
			Enrichment:  getEnvDuration("ENRICHMENT_TIMEOUT", 10*time.Second),
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		},
		Sweep: SweepConfig{
			Interval:        getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
			StaleAfter:      getEnvDuration("SWEEP_STALE_AFTER", 30*time.Minute),
			RecordRetention: getEnvDuration("RECORD_RETENTION", 7*24*time.Hour),
		},
	}
	if cfg.LLM.DiagnoserModel == "" {
		cfg.LLM.DiagnoserModel = cfg.LLM.Model
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadEnrichment reads only the similarity index settings. It is used by
// tools that populate the index and need no model or renderer configuration.
func LoadEnrichment() (EnrichmentConfig, error) {
	e := loadEnrichment()
	if !e.Enabled() {
		return e, fmt.Errorf("QDRANT_HOST must be set")
	}
	if err := e.validate(); err != nil {
		return e, err
	}
	return e, nil
}

func loadEnrichment() EnrichmentConfig {
	return EnrichmentConfig{
		QdrantHost:       getEnv("QDRANT_HOST", ""),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantTLS:        getEnvBool("QDRANT_TLS", false),
		Collection:       getEnv("COLLECTION_NAME", "scene_examples"),
		EmbeddingBaseURL: getEnv("EMBEDDING_BASE_URL", "http://localhost:8080/v1"),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "dunzhang/stella_en_400M_v5"),
		EmbeddingAPIKey:  getEnv("EMBEDDING_API_KEY", ""),
		Limit:            getEnvInt("ENRICHMENT_LIMIT", 3),
	}
}

func (e EnrichmentConfig) validate() error {
	if e.Collection == "" {
		return fmt.Errorf("COLLECTION_NAME cannot be empty when QDRANT_HOST is set")
	}
	if e.Limit <= 0 || e.Limit > MaxEnrichmentLimit {
		return fmt.Errorf("ENRICHMENT_LIMIT must be between 1 and %d", MaxEnrichmentLimit)
	}
	if e.EmbeddingBaseURL == "" || e.EmbeddingModel == "" {
		return fmt.Errorf("EMBEDDING_BASE_URL and EMBEDDING_MODEL cannot be empty when QDRANT_HOST is set")
	}
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL cannot be empty")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY (or GROQ_API_KEY) must be set")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be >= 0")
	}
	if c.Retry.DatabaseMaxRetries <= 0 {
		return fmt.Errorf("DB_MAX_RETRIES must be > 0")
	}
	if c.Enrichment.Enabled() {
		if err := c.Enrichment.validate(); err != nil {
			return err
		}
	}
	if c.Renderer.ContainerName == "" {
		return fmt.Errorf("DOCKER_CONTAINER_NAME cannot be empty")
	}
	if c.Renderer.SceneName == "" {
		return fmt.Errorf("RENDER_SCENE_NAME cannot be empty")
	}
	switch c.Renderer.Quality {
	case "l", "m", "h", "k":
	default:
		return fmt.Errorf("RENDER_QUALITY must be one of l, m, h, k (got %q)", c.Renderer.Quality)
	}
	if c.Renderer.TimeLimit <= 0 {
		return fmt.Errorf("RENDER_TIME_LIMIT must be > 0")
	}
	if c.Publish.Bucket == "" && c.Publish.ArtifactDir == "" {
		return fmt.Errorf("either GCS_BUCKET or ARTIFACT_DIR must be set")
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if lifetime := c.MaxRequestDuration(); c.Sweep.StaleAfter <= lifetime || c.Sweep.StaleAfter <= c.Renderer.TimeLimit {
		return fmt.Errorf("SWEEP_STALE_AFTER (%s) must exceed the longest request (%s) and RENDER_TIME_LIMIT", c.Sweep.StaleAfter, lifetime)
	}
	return nil
}

// MaxRequestDuration is the longest a single request can run when every
// attempt uses its full generation, validation and diagnosis timeouts.
func (c *Config) MaxRequestDuration() time.Duration {
	attempt := c.Timeout.Generation + c.Timeout.Validation + c.Timeout.Diagnosis
	return c.Timeout.Enrichment + time.Duration(1+c.Retry.MaxRetries)*attempt + c.Timeout.Publish
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.Contains(c.PublicBaseURL, "localhost") ||
		strings.Contains(c.PublicBaseURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	// Check for .dockerenv file
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
