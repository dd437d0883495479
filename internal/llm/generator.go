// Package llm generates answers from assembled prompts.
package llm

import (
	"context"
	"errors"
)

// ErrGenerationUnavailable is returned when the model server cannot produce an answer.
var ErrGenerationUnavailable = errors.New("generation unavailable")

// Generator completes a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// StaticGenerator returns Answer for every prompt and remembers the prompts it saw.
// It is used in tests and for offline runs without a model server.
type StaticGenerator struct {
	Answer  string
	Prompts []string
	Err     error
}

// Generate records prompt and returns the fixed answer or error.
func (g *StaticGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.Prompts = append(g.Prompts, prompt)
	if g.Err != nil {
		return "", g.Err
	}
	return g.Answer, nil
}
