package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// streamChunkBuffer bounds the per-stream channel so a slow consumer
// applies backpressure instead of growing memory.
const streamChunkBuffer = 32

// OpenAIAdapter implements the Adapter interface for OpenAI models.
type OpenAIAdapter struct {
	client openai.Client
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(apiKey string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIAdapter{client: client}, nil
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Models returns the list of supported OpenAI models.
func (a *OpenAIAdapter) Models() []string {
	return []string{
		"gpt-5.2-instant",
		"gpt-5.2-thinking",
		"gpt-5.2-pro",
	}
}

// Generate sends a prompt to OpenAI and returns the full response.
func (a *OpenAIAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	return chatCompletion(ctx, a.client, "openai", model, prompt)
}

// Stream sends a prompt to OpenAI and streams the response chunks.
func (a *OpenAIAdapter) Stream(ctx context.Context, model string, prompt string) (<-chan Chunk, error) {
	return chatCompletionStream(ctx, a.client, "openai", model, prompt), nil
}

// chatCompletion issues a blocking chat completion against any
// OpenAI-compatible endpoint.
func chatCompletion(ctx context.Context, client openai.Client, provider, model, prompt string) (*Response, error) {
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(4096),
	})
	if err != nil {
		return nil, wrapOpenAIErr(provider, err)
	}

	if len(resp.Choices) == 0 {
		return nil, &AdapterError{Kind: KindInvalidResponse, Err: fmt.Errorf("%s returned no choices", provider)}
	}

	return &Response{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// chatCompletionStream streams a chat completion against any
// OpenAI-compatible endpoint.
func chatCompletionStream(ctx context.Context, client openai.Client, provider, model, prompt string) <-chan Chunk {
	stream := client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(4096),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	})

	out := make(chan Chunk, streamChunkBuffer)
	go func() {
		defer close(out)
		defer stream.Close()

		usage := Usage{}
		finish := ""
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if chunk.Choices[0].FinishReason != "" {
				finish = string(chunk.Choices[0].FinishReason)
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				select {
				case out <- Chunk{Text: delta}:
				case <-ctx.Done():
					out <- Chunk{Err: ctx.Err()}
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- Chunk{Err: wrapOpenAIErr(provider, err)}
			return
		}
		out <- Chunk{Done: true, FinishReason: finish, Usage: &usage}
	}()

	return out
}

func wrapOpenAIErr(provider string, err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return WrapStatus(apierr.StatusCode, fmt.Errorf("%s API error: %w", provider, err))
	}
	return fmt.Errorf("%s API error: %w", provider, err)
}
