package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/ashureev/scenegen/internal/metrics"
)

// controller owns the state of a single request: its history, its attempt
// records and what is left of its retry budget. It is never shared.
type controller struct {
	svc      *Service
	req      domain.GenerationRequest
	history  domain.History
	attempts []domain.AttemptRecord
	budget   int
	observer Observer
	logger   *slog.Logger
}

func newController(svc *Service, req domain.GenerationRequest, observer Observer) *controller {
	return &controller{
		svc:      svc,
		req:      req,
		history:  initialHistory(req.Query, svc.cfg.SceneName),
		budget:   svc.cfg.RetryCeiling,
		observer: observer,
		logger:   svc.logger.With("request_id", req.ID),
	}
}

func (c *controller) run(ctx context.Context) (Result, error) {
	detached := context.WithoutCancel(ctx)
	c.observer.Started(detached, c.req)
	c.logger.Info("Generation started", "query", c.req.Query, "enrichment", c.req.Enrichment)

	res, err := c.loop(ctx)
	c.cleanup(ctx)

	metrics.AttemptsPerGeneration.Observe(float64(len(c.attempts)))
	if err != nil {
		kind := KindOf(err)
		metrics.GenerationsTotal.WithLabelValues(string(kind)).Inc()
		c.logger.Error("Generation failed", "kind", kind, "attempts", len(c.attempts), "error", err)
	} else {
		metrics.GenerationsTotal.WithLabelValues("success").Inc()
		c.logger.Info("Generation succeeded", "attempts", len(c.attempts), "artifact_url", res.ArtifactURL)
	}
	c.observer.Finished(detached, c.req, res, err)
	return res, err
}

func (c *controller) loop(ctx context.Context) (Result, error) {
	if c.req.Enrichment {
		c.enrich(ctx)
	}

	for number := 1; ; number++ {
		if err := ctx.Err(); err != nil {
			return Result{}, c.terminal(domain.FailureCanceled, err)
		}

		rec, err := c.attempt(ctx, number)
		if err != nil {
			c.record(ctx, rec)
			return Result{}, c.terminal(domain.FailureInfrastructure, err)
		}
		if err := ctx.Err(); err != nil {
			c.record(ctx, rec)
			return Result{}, c.terminal(domain.FailureCanceled, err)
		}

		if rec.Succeeded() {
			c.record(ctx, rec)
			url, err := c.publish(ctx)
			if err != nil {
				return Result{}, c.terminal(domain.FailureInfrastructure, fmt.Errorf("publish artifact: %w", err))
			}
			if err := ctx.Err(); err != nil {
				return Result{}, c.terminal(domain.FailureCanceled, err)
			}
			return Result{ID: c.req.ID, ArtifactURL: url, Attempts: c.attempts}, nil
		}

		if c.budget == 0 {
			c.record(ctx, rec)
			return Result{}, c.terminal(domain.FailureBudgetExhausted,
				fmt.Errorf("%w: last failure %s", ErrRetryBudgetExhausted, rec.Failure))
		}

		diag, err := c.diagnose(ctx, rec)
		if err != nil {
			c.record(ctx, rec)
			return Result{}, c.terminal(domain.FailureInfrastructure, fmt.Errorf("diagnose failure: %w", err))
		}
		rec.Diagnosis = &diag
		c.record(ctx, rec)

		c.history = c.history.Append(retryMessage(rec, diag, c.svc.cfg.SceneName))
		c.budget--
	}
}

// enrich consults the enricher once, before the first attempt. Enrichment is
// optional, so failures only cost the extra context.
func (c *controller) enrich(ctx context.Context) {
	callCtx, cancel := withTimeout(ctx, c.svc.cfg.Timeouts.Enrichment)
	defer cancel()

	start := time.Now()
	snippets, err := c.svc.enricher.Enrich(callCtx, c.req.Query)
	metrics.ObserveStage(metrics.StageEnrich, start, err)
	if err != nil {
		c.logger.Warn("Enrichment failed, continuing without exemplars", "error", err)
		return
	}

	c.req = c.req.WithExemplars(snippets)
	if len(snippets) == 0 {
		c.logger.Info("Enrichment returned no exemplars")
		return
	}
	c.history = c.history.Append(exemplarMessage(snippets))
	c.logger.Info("Enrichment added exemplars", "count", len(snippets))
}

// attempt runs one generate-and-validate cycle. Code defects come back as a
// record with a retryable failure kind; only infrastructure faults are errors.
func (c *controller) attempt(ctx context.Context, number int) (domain.AttemptRecord, error) {
	rec := domain.AttemptRecord{Number: number}
	started := time.Now()

	cand, err := c.generate(ctx)
	rec.RawOutput = cand.Raw
	if err != nil {
		if errors.Is(err, ErrMalformedOutput) {
			rec.Failure = domain.FailureParse
			rec.RawLog = err.Error()
			rec.Duration = time.Since(started)
			return rec, nil
		}
		rec.Failure = domain.FailureInfrastructure
		rec.Duration = time.Since(started)
		return rec, fmt.Errorf("generate code: %w", err)
	}
	rec.Code = cand.Lines

	outcome, err := c.validate(ctx, cand.Lines)
	rec.Duration = time.Since(started)
	if err != nil {
		rec.Failure = domain.FailureInfrastructure
		return rec, fmt.Errorf("validate code: %w", err)
	}

	rec.ExitCode = outcome.ExitCode
	rec.RawLog = outcome.RawLog
	switch {
	case outcome.Succeeded():
		rec.Failure = domain.FailureNone
	case outcome.TimedOut():
		rec.Failure = domain.FailureTimeout
	default:
		rec.Failure = domain.FailureValidation
	}
	return rec, nil
}

func (c *controller) generate(ctx context.Context) (Candidate, error) {
	callCtx, cancel := withTimeout(ctx, c.svc.cfg.Timeouts.Generation)
	defer cancel()

	start := time.Now()
	cand, err := c.svc.generator.Generate(callCtx, c.history)
	var infraErr error
	if err != nil && !errors.Is(err, ErrMalformedOutput) {
		infraErr = err
	}
	metrics.ObserveStage(metrics.StageGenerate, start, infraErr)
	return cand, err
}

func (c *controller) validate(ctx context.Context, lines []string) (domain.RenderOutcome, error) {
	callCtx, cancel := withTimeout(ctx, c.svc.cfg.Timeouts.Validation)
	defer cancel()

	start := time.Now()
	outcome, err := c.svc.validator.Validate(callCtx, c.req.ID, lines)
	metrics.ObserveStage(metrics.StageValidate, start, err)
	return outcome, err
}

// diagnose summarizes a failed attempt. Parse failures and timeouts have no
// execution log worth analyzing and get a fixed diagnosis instead.
func (c *controller) diagnose(ctx context.Context, rec domain.AttemptRecord) (domain.Diagnosis, error) {
	switch rec.Failure {
	case domain.FailureParse:
		return parseFailureDiagnosis(), nil
	case domain.FailureTimeout:
		return timeoutDiagnosis(), nil
	}

	callCtx, cancel := withTimeout(ctx, c.svc.cfg.Timeouts.Diagnosis)
	defer cancel()

	start := time.Now()
	diag, err := c.svc.diagnoser.Diagnose(callCtx, rec.RawLog)
	metrics.ObserveStage(metrics.StageDiagnose, start, err)
	return diag, err
}

func (c *controller) publish(ctx context.Context) (string, error) {
	callCtx, cancel := withTimeout(ctx, c.svc.cfg.Timeouts.Publish)
	defer cancel()

	start := time.Now()
	url, err := c.svc.publisher.Publish(callCtx, c.req.ID)
	metrics.ObserveStage(metrics.StagePublish, start, err)
	return url, err
}

func (c *controller) cleanup(ctx context.Context) {
	callCtx, cancel := withTimeout(ctx, c.svc.cfg.Timeouts.Publish)
	defer cancel()

	if err := c.svc.publisher.Cleanup(callCtx, c.req.ID); err != nil {
		c.logger.Warn("Cleanup failed", "error", err)
	}
}

func (c *controller) record(ctx context.Context, rec domain.AttemptRecord) {
	c.attempts = append(c.attempts, rec)
	metrics.AttemptsTotal.WithLabelValues(attemptLabel(rec.Failure)).Inc()

	attrs := []any{
		"attempt", rec.Number,
		"result", attemptLabel(rec.Failure),
		"exit_code", rec.ExitCode,
		"duration", rec.Duration,
		"budget_left", c.budget,
	}
	if rec.Succeeded() {
		c.logger.Info("Attempt succeeded", attrs...)
	} else {
		attrs = append(attrs, "raw_log", rec.RawLog)
		if rec.Diagnosis != nil {
			attrs = append(attrs, "diagnosis", rec.Diagnosis.String())
		}
		c.logger.Warn("Attempt failed", attrs...)
	}

	c.observer.AttemptFinished(context.WithoutCancel(ctx), c.req, rec)
}

func (c *controller) terminal(kind domain.FailureKind, err error) error {
	return &TerminalError{Kind: kind, Attempts: len(c.attempts), Err: err}
}

func attemptLabel(kind domain.FailureKind) string {
	if kind == domain.FailureNone {
		return "success"
	}
	return string(kind)
}
