package domain

import (
	"fmt"
	"time"
)

// FailureKind classifies why an attempt or a whole generation failed.
type FailureKind string

const (
	// FailureNone is the zero value used by successful attempts.
	FailureNone FailureKind = ""
	// FailureParse means the model output held no usable fenced code block.
	FailureParse FailureKind = "parse_failure"
	// FailureValidation means the sandbox reported a code defect.
	FailureValidation FailureKind = "validation_failure"
	// FailureTimeout means the sandbox run exceeded its time limit.
	FailureTimeout FailureKind = "validation_timeout"
	// FailureBudgetExhausted means every permitted attempt failed.
	FailureBudgetExhausted FailureKind = "budget_exhausted"
	// FailureInfrastructure means a collaborator was unreachable or misbehaved.
	FailureInfrastructure FailureKind = "infrastructure"
	// FailureCanceled means the caller went away before the loop finished.
	FailureCanceled FailureKind = "canceled"
)

// Retryable reports whether the attempt loop may try again after this kind.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureParse, FailureValidation, FailureTimeout:
		return true
	default:
		return false
	}
}

// Undetermined is the field value used when a diagnosis cannot be inferred.
const Undetermined = "could not be determined"

// Diagnosis is a short structured summary of a raw failure log.
type Diagnosis struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
}

// String renders the diagnosis as the text fed back to the code generator.
func (d Diagnosis) String() string {
	return fmt.Sprintf("Error type: %s\nError message: %s", orUndetermined(d.ErrorType), orUndetermined(d.ErrorMessage))
}

func orUndetermined(s string) string {
	if s == "" {
		return Undetermined
	}
	return s
}

// AttemptRecord captures one completed generate-and-validate cycle.
type AttemptRecord struct {
	Number    int           `json:"number"`
	Code      []string      `json:"code,omitempty"`
	RawOutput string        `json:"-"`
	Failure   FailureKind   `json:"failure,omitempty"`
	ExitCode  int           `json:"exit_code"`
	RawLog    string        `json:"raw_log,omitempty"`
	Diagnosis *Diagnosis    `json:"diagnosis,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// Succeeded returns true if the attempt passed validation.
func (a *AttemptRecord) Succeeded() bool {
	return a.Failure == FailureNone
}

// TimeoutExitCode is the exit code reported by the sandbox when a run hits its time limit.
const TimeoutExitCode = 124

// RenderOutcome is the sandbox's verdict for one submitted program.
type RenderOutcome struct {
	ExitCode int
	RawLog   string
}

// Succeeded returns true for a clean exit.
func (o RenderOutcome) Succeeded() bool {
	return o.ExitCode == 0
}

// TimedOut returns true if the run was stopped by the time limit.
func (o RenderOutcome) TimedOut() bool {
	return o.ExitCode == TimeoutExitCode
}
