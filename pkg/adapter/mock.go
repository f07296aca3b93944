package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockAdapter returns deterministic responses for local runs and tests.
// Responses can be scripted per prompt, chunked, delayed, and prefixed
// with failures to exercise retry paths.
type MockAdapter struct {
	mu              sync.Mutex
	name            string
	responses       map[string]string
	defaultResponse string
	chunkSize       int
	delay           time.Duration
	failures        []error
	calls           int
	Usage           *Usage
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		name:            "mock",
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
		chunkSize:       8,
	}
}

// NewMockAdapterWithResponses creates a mock adapter with predefined responses.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	m := NewMockAdapter()
	if responses != nil {
		m.responses = responses
	}
	if defaultResponse != "" {
		m.defaultResponse = defaultResponse
	}
	return m
}

// WithName overrides the adapter identifier, letting one mock stand in
// for several providers.
func (a *MockAdapter) WithName(name string) *MockAdapter {
	a.name = name
	return a
}

// WithDelay makes every call take at least d before the first chunk.
func (a *MockAdapter) WithDelay(d time.Duration) *MockAdapter {
	a.delay = d
	return a
}

// WithChunkSize sets the streamed chunk size in bytes.
func (a *MockAdapter) WithChunkSize(n int) *MockAdapter {
	if n > 0 {
		a.chunkSize = n
	}
	return a
}

// FailFirst queues errors returned by the next calls, one per call, before
// the mock starts succeeding.
func (a *MockAdapter) FailFirst(errs ...error) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, errs...)
	return a
}

// Calls reports how many Generate/Stream calls were made.
func (a *MockAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return a.name
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

func (a *MockAdapter) nextFailure() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.failures) == 0 {
		return nil
	}
	err := a.failures[0]
	a.failures = a.failures[1:]
	return err
}

func (a *MockAdapter) responseFor(prompt string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if response, ok := a.responses[prompt]; ok {
		return response
	}
	return fmt.Sprintf("%s %s", a.defaultResponse, prompt)
}

// Generate returns a deterministic response for the prompt.
func (a *MockAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	if err := a.nextFailure(); err != nil {
		return nil, err
	}
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	text := a.responseFor(prompt)
	usage := a.Usage
	if usage == nil {
		usage = &Usage{
			PromptTokens:     len(strings.Fields(prompt)),
			CompletionTokens: len(strings.Fields(text)),
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return &Response{Text: text, FinishReason: "stop", Usage: usage}, nil
}

// Stream returns the scripted response in fixed-size chunks.
func (a *MockAdapter) Stream(ctx context.Context, model string, prompt string) (<-chan Chunk, error) {
	if err := a.nextFailure(); err != nil {
		return nil, err
	}

	text := a.responseFor(prompt)
	out := make(chan Chunk, streamChunkBuffer)
	go func() {
		defer close(out)
		if a.delay > 0 {
			select {
			case <-time.After(a.delay):
			case <-ctx.Done():
				out <- Chunk{Err: ctx.Err()}
				return
			}
		}

		for start := 0; start < len(text); start += a.chunkSize {
			end := start + a.chunkSize
			if end > len(text) {
				end = len(text)
			}
			select {
			case out <- Chunk{Text: text[start:end]}:
			case <-ctx.Done():
				out <- Chunk{Err: ctx.Err()}
				return
			}
		}

		usage := a.Usage
		if usage == nil {
			usage = &Usage{
				PromptTokens:     len(strings.Fields(prompt)),
				CompletionTokens: len(strings.Fields(text)),
			}
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		out <- Chunk{Done: true, FinishReason: "stop", Usage: usage}
	}()
	return out, nil
}
