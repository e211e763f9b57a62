package gateway

import (
	"context"
	"fmt"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// GeminiOpenAIBaseURL is Gemini's OpenAI-compatible endpoint.
const GeminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// OpenAI calls any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI creates a chat-completions gateway. An empty baseURL uses the
// SDK default.
func NewOpenAI(apiKey, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...)}, nil
}

func chatParams(req Request) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
	}
}

// Generate returns the full response text.
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, chatParams(req))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", errEmptyResponse
	}
	return completion.Choices[0].Message.Content, nil
}

// Stream yields content deltas.
func (o *OpenAI) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := o.client.Chat.Completions.NewStreaming(ctx, chatParams(req))
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("chat completion stream: %w", err))
		}
	}
}
