// Package llm provides chat-completion clients for OpenAI-compatible endpoints.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/sashabaranov/go-openai"
)

var (
	// ErrNoChoices is returned when the endpoint answers without any completion.
	ErrNoChoices = errors.New("completion returned no choices")
	// ErrMissingAPIKey is returned when a client is built without credentials.
	ErrMissingAPIKey = errors.New("api key is required")
)

// Completer turns a message history into a single completion text.
type Completer interface {
	Complete(ctx context.Context, messages []domain.Message) (string, error)
}

// Config selects the endpoint and sampling parameters.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAIClient implements Completer with go-openai.
type OpenAIClient struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

// NewOpenAIClient creates a client for an OpenAI-compatible chat endpoint.
func NewOpenAIClient(cfg Config, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	logger.Info("Initializing completion client", "model", cfg.Model, "base_url", clientCfg.BaseURL)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Model returns the model name used for completions.
func (c *OpenAIClient) Model() string {
	return c.cfg.Model
}

// Complete implements Completer.
func (c *OpenAIClient) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    toChatMessages(messages),
		Temperature: c.cfg.Temperature,
	}
	if c.cfg.MaxTokens > 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}

	c.logger.Debug("Requesting completion", "model", c.cfg.Model, "messages", len(messages))
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", c.cfg.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	c.logger.Debug("Received completion",
		"model", c.cfg.Model,
		"finish_reason", resp.Choices[0].FinishReason,
		"total_tokens", resp.Usage.TotalTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

func toChatMessages(messages []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    chatRole(m.Role),
			Content: m.Content,
		})
	}
	return out
}

func chatRole(r domain.Role) string {
	switch r {
	case domain.RoleSystem:
		return openai.ChatMessageRoleSystem
	case domain.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// Ensure OpenAIClient implements Completer.
var _ Completer = (*OpenAIClient)(nil)
