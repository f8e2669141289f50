// Package pipeline implements the generate-validate-repair loop that turns a
// natural-language request into a rendered animation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/ashureev/scenegen/internal/llm"
)

// DefaultRetryCeiling is the number of retries permitted after the first attempt.
const DefaultRetryCeiling = 3

// Enricher returns exemplar snippets related to a query.
// Implementations return an empty slice when nothing is available.
type Enricher interface {
	Enrich(ctx context.Context, query string) ([]domain.Snippet, error)
}

// Validator runs a program in the sandbox.
// A non-nil error is an infrastructure fault, never a code defect.
type Validator interface {
	Validate(ctx context.Context, id string, lines []string) (domain.RenderOutcome, error)
}

// Publisher makes a rendered artifact retrievable and removes intermediates.
type Publisher interface {
	Publish(ctx context.Context, id string) (string, error)
	Cleanup(ctx context.Context, id string) error
}

// Timeouts bounds each external call made by the loop.
type Timeouts struct {
	Enrichment time.Duration
	Generation time.Duration
	Validation time.Duration
	Diagnosis  time.Duration
	Publish    time.Duration
}

// Config holds loop policy.
type Config struct {
	RetryCeiling int
	SceneName    string
	Timeouts     Timeouts
}

// DefaultConfig returns the standard loop policy.
func DefaultConfig() Config {
	return Config{
		RetryCeiling: DefaultRetryCeiling,
		SceneName:    "GenerateVideo",
		Timeouts: Timeouts{
			Enrichment: 10 * time.Second,
			Generation: 60 * time.Second,
			Validation: 120 * time.Second,
			Diagnosis:  30 * time.Second,
			Publish:    60 * time.Second,
		},
	}
}

// Deps are the collaborators shared by every request.
type Deps struct {
	Generator llm.Completer
	Diagnoser llm.Completer
	Validator Validator
	Publisher Publisher
	Enricher  Enricher   // optional; NopEnricher when nil
	Observers []Observer // notified for every request
}

// NopEnricher never returns exemplars.
type NopEnricher struct{}

// Enrich implements Enricher.
func (NopEnricher) Enrich(context.Context, string) ([]domain.Snippet, error) {
	return []domain.Snippet{}, nil
}

// Result is the successful outcome of a run.
type Result struct {
	ID          string                 `json:"id"`
	ArtifactURL string                 `json:"artifact_url"`
	Attempts    []domain.AttemptRecord `json:"attempts"`
}

// ErrRetryBudgetExhausted is wrapped by terminal errors of kind budget_exhausted.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// TerminalError is the only failure that crosses the pipeline boundary.
type TerminalError struct {
	Kind     domain.FailureKind
	Attempts int
	Err      error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("generation failed (%s) after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind carried by err, or infrastructure for
// errors that did not come from Run.
func KindOf(err error) domain.FailureKind {
	if err == nil {
		return domain.FailureNone
	}
	var te *TerminalError
	if errors.As(err, &te) {
		return te.Kind
	}
	return domain.FailureInfrastructure
}

// Service runs generation requests. It holds no per-request state and is
// safe for concurrent use.
type Service struct {
	generator *CodeGenerator
	diagnoser *ErrorDiagnoser
	validator Validator
	publisher Publisher
	enricher  Enricher
	observers []Observer
	cfg       Config
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(deps Deps, cfg Config, logger *slog.Logger) (*Service, error) {
	if deps.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.RetryCeiling < 0 {
		return nil, fmt.Errorf("retry ceiling must be >= 0, got %d", cfg.RetryCeiling)
	}
	if cfg.SceneName == "" {
		return nil, fmt.Errorf("scene name is required")
	}

	generator, err := NewCodeGenerator(deps.Generator)
	if err != nil {
		return nil, fmt.Errorf("code generator: %w", err)
	}
	diagnoserCompleter := deps.Diagnoser
	if diagnoserCompleter == nil {
		diagnoserCompleter = deps.Generator
	}
	diagnoser, err := NewErrorDiagnoser(diagnoserCompleter)
	if err != nil {
		return nil, fmt.Errorf("error diagnoser: %w", err)
	}

	enricher := deps.Enricher
	if enricher == nil {
		enricher = NopEnricher{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		generator: generator,
		diagnoser: diagnoser,
		validator: deps.Validator,
		publisher: deps.Publisher,
		enricher:  enricher,
		observers: deps.Observers,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Run drives one request through the attempt loop.
// Extra observers receive events for this request only.
func (s *Service) Run(ctx context.Context, req domain.GenerationRequest, observers ...Observer) (Result, error) {
	all := make(multiObserver, 0, len(s.observers)+len(observers))
	all = append(all, s.observers...)
	all = append(all, observers...)
	return newController(s, req, all).run(ctx)
}

// withTimeout derives a call context that survives caller cancellation so an
// in-flight external call can finish, bounded by d.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if d <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, d)
}
