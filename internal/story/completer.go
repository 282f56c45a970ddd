// Package story turns a free-form user story into a linked set of tasks.
// Decomposition runs through a pluggable TextCompleter; the built-in one
// calls Gemini, and the intelligent variant hands the prompt back to the
// calling assistant instead.
package story

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Sentinel errors for the decomposition pipeline.
var (
	ErrUpstreamTimeout = errors.New("completion timed out")
	ErrUpstream        = errors.New("completion failed")
	ErrParse           = errors.New("decomposition response is not a task list")
)

// TextCompleter produces a completion for a prompt. Implementations must
// honor context cancellation.
type TextCompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to the TextCompleter interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// GeminiCompleter completes prompts through the Gemini API.
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

// NewGeminiCompleter builds a completer for the given model.
func NewGeminiCompleter(apiKey, model string) (*GeminiCompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiCompleter{client: client, model: model}, nil
}

// Complete sends the prompt and returns the concatenated text parts of the
// first candidate.
func (g *GeminiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Gemini generation failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("Gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

// Model returns the configured model name.
func (g *GeminiCompleter) Model() string {
	return g.model
}
