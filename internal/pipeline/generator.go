package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/ashureev/scenegen/internal/llm"
)

var errNilCompleter = errors.New("completer is required")

// Candidate is one generated program.
type Candidate struct {
	Raw   string
	Lines []string
}

// CodeGenerator asks the model for a program and extracts its code block.
type CodeGenerator struct {
	completer llm.Completer
}

// NewCodeGenerator creates a generator backed by completer.
func NewCodeGenerator(completer llm.Completer) (*CodeGenerator, error) {
	if completer == nil {
		return nil, errNilCompleter
	}
	return &CodeGenerator{completer: completer}, nil
}

// Generate returns the candidate program for the given history.
// A reply without a usable code block yields an error wrapping
// ErrMalformedOutput; the raw reply is still set on the candidate.
func (g *CodeGenerator) Generate(ctx context.Context, history domain.History) (Candidate, error) {
	raw, err := g.completer.Complete(ctx, history.Messages())
	if err != nil {
		return Candidate{}, err
	}
	lines, err := ExtractCode(raw)
	if err != nil {
		return Candidate{Raw: raw}, fmt.Errorf("extract code: %w", err)
	}
	return Candidate{Raw: raw, Lines: lines}, nil
}
