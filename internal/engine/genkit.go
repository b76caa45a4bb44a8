package engine

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitCompleter adapts a Genkit instance to the Completer interface.
type GenkitCompleter struct {
	g     *genkit.Genkit
	model string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
}

// NewGenkitCompleter creates a completer for the given model.
func NewGenkitCompleter(g *genkit.Genkit, model string) (*GenkitCompleter, error) {
	if g == nil {
		return nil, fmt.Errorf("engine: genkit instance is required")
	}
	if model == "" {
		return nil, fmt.Errorf("engine: model name is required")
	}
	return &GenkitCompleter{g: g, model: model}, nil
}

// Complete runs one text completion. Errors propagate untouched; the
// engine treats them as fatal to the request.
func (c *GenkitCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.model),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("model returned an empty response")
	}
	return text, nil
}
