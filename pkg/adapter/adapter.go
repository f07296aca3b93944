package adapter

import "context"

// Adapter defines the interface for inference backend adapters.
type Adapter interface {
	// Generate sends a prompt to the model and returns the full response.
	Generate(ctx context.Context, model string, prompt string) (*Response, error)

	// Stream sends a prompt and returns a channel of response chunks.
	// The channel is closed after the final chunk. A chunk with a non-nil
	// Err is always the last chunk delivered.
	Stream(ctx context.Context, model string, prompt string) (<-chan Chunk, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// AdapterInfo holds metadata about an adapter.
type AdapterInfo struct {
	Name   string
	Models []ModelInfo
}

// ModelInfo holds metadata about a model.
type ModelInfo struct {
	ID          string
	Description string
}
