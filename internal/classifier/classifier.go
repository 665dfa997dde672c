// Package classifier wraps the text-generation model used to assign
// categories to merchants. The pipeline only depends on the Classify
// contract; the response is free text and is parsed upstream.
package classifier

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Classifier turns a prompt into the model's raw text response.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// Gemini is the GenAI-backed Classifier. Credentials come from the
// environment (GEMINI_API_KEY or application default credentials).
type Gemini struct {
	model string
}

// NewGemini creates a Gemini classifier using the given model name.
func NewGemini(model string) *Gemini {
	return &Gemini{model: model}
}

// Classify sends the prompt to the model and returns the raw response text.
func (g *Gemini) Classify(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return "", fmt.Errorf("classify: create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("classify: generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("classify: empty response from model")
	}
	return text, nil
}

var _ Classifier = (*Gemini)(nil)
