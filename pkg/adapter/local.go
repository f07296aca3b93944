package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultLocalBaseURL = "http://127.0.0.1:8080/v1"

// LocalAdapter implements the Adapter interface for an on-device model
// served over an OpenAI-compatible endpoint (llama.cpp server, ollama).
// No API key is required; the endpoint is assumed to be loopback.
type LocalAdapter struct {
	client   openai.Client
	models   []string
	variants map[string]string
}

// NewLocalAdapter creates an adapter for a local inference server.
// variants maps a model to the smaller variant used under resource
// pressure.
func NewLocalAdapter(baseURL string, models []string, variants map[string]string) (*LocalAdapter, error) {
	if baseURL == "" {
		baseURL = defaultLocalBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("local base URL must be http(s): %q", baseURL)
	}
	if len(models) == 0 {
		models = []string{"llama-3.2-3b-instruct"}
	}
	if variants == nil {
		variants = make(map[string]string)
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey("local"),
	)
	return &LocalAdapter{client: client, models: models, variants: variants}, nil
}

// Name returns the adapter identifier.
func (a *LocalAdapter) Name() string {
	return "local"
}

// Models returns the models served by the local endpoint.
func (a *LocalAdapter) Models() []string {
	return a.models
}

// Downgrade returns the smaller variant for a model, or "" when none is
// configured.
func (a *LocalAdapter) Downgrade(model string) string {
	return a.variants[model]
}

// Generate sends a prompt to the local server and returns the response.
func (a *LocalAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	resp, err := chatCompletion(ctx, a.client, "local", model, prompt)
	if err != nil {
		return nil, localizeErr(err)
	}
	return resp, nil
}

// Stream sends a prompt to the local server and streams the response.
func (a *LocalAdapter) Stream(ctx context.Context, model string, prompt string) (<-chan Chunk, error) {
	upstream := chatCompletionStream(ctx, a.client, "local", model, prompt)

	out := make(chan Chunk, streamChunkBuffer)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if chunk.Err != nil {
				chunk.Err = localizeErr(chunk.Err)
			}
			out <- chunk
		}
	}()
	return out, nil
}

// localizeErr reinterprets provider error kinds for a local server. A
// loopback endpoint has no auth or rate limits; connection failures mean
// the model process is not up.
func localizeErr(err error) error {
	switch Classify(err) {
	case KindAuth, KindRateLimited:
		return &AdapterError{Kind: KindModelLoad, Err: fmt.Errorf("local model unavailable: %w", err)}
	case KindNetwork:
		return &AdapterError{Kind: KindModelLoad, Err: fmt.Errorf("local inference server unreachable: %w", err)}
	default:
		return err
	}
}
