package adapter

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GoogleAdapter implements the Adapter interface for Gemini models.
type GoogleAdapter struct {
	client *genai.Client
}

// NewGoogleAdapter creates a new Google Gemini adapter.
func NewGoogleAdapter(apiKey string) (*GoogleAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleAdapter{client: client}, nil
}

// Name returns the adapter identifier.
func (a *GoogleAdapter) Name() string {
	return "google"
}

// Models returns the list of supported Gemini models.
func (a *GoogleAdapter) Models() []string {
	return []string{
		"gemini-2.0-pro",
	}
}

// Generate sends a prompt to Gemini and returns the full response.
func (a *GoogleAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	resp, err := a.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return nil, wrapGoogleErr(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &AdapterError{Kind: KindInvalidResponse, Err: fmt.Errorf("google returned no candidates")}
	}

	var content string
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
		}
	}

	return &Response{
		Text:         content,
		FinishReason: string(resp.Candidates[0].FinishReason),
		Usage:        googleUsage(resp),
	}, nil
}

// Stream sends a prompt to Gemini and streams the response chunks.
func (a *GoogleAdapter) Stream(ctx context.Context, model string, prompt string) (<-chan Chunk, error) {
	out := make(chan Chunk, streamChunkBuffer)
	go func() {
		defer close(out)

		var usage *Usage
		finish := ""
		for resp, err := range a.client.Models.GenerateContentStream(ctx, model, genai.Text(prompt), nil) {
			if err != nil {
				out <- Chunk{Err: wrapGoogleErr(err)}
				return
			}
			if resp == nil || len(resp.Candidates) == 0 {
				continue
			}
			if u := googleUsage(resp); u != nil {
				usage = u
			}
			if resp.Candidates[0].FinishReason != "" {
				finish = string(resp.Candidates[0].FinishReason)
			}
			if resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				select {
				case out <- Chunk{Text: part.Text}:
				case <-ctx.Done():
					out <- Chunk{Err: ctx.Err()}
					return
				}
			}
		}
		out <- Chunk{Done: true, FinishReason: finish, Usage: usage}
	}()
	return out, nil
}

func googleUsage(resp *genai.GenerateContentResponse) *Usage {
	if resp.UsageMetadata == nil {
		return nil
	}
	return &Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

func wrapGoogleErr(err error) error {
	var apierr genai.APIError
	if errors.As(err, &apierr) {
		return WrapStatus(apierr.Code, fmt.Errorf("google API error: %w", err))
	}
	return fmt.Errorf("google API error: %w", err)
}
