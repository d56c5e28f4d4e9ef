package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI is a Chatter backed by the OpenAI chat-completions API (or any
// compatible endpoint when a base URL is supplied).
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI creates an OpenAI-backed Chatter. baseURL may be empty for the
// default API endpoint.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientConfig)}
}

func buildRequest(model string, messages []Message, opts Options) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONOutput {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

// Chat sends messages and returns the complete assistant response.
func (c *OpenAI) Chat(ctx context.Context, model string, messages []Message, opts Options) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, buildRequest(model, messages, opts))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream sends messages and delivers the response chunk by chunk.
func (c *OpenAI) ChatStream(ctx context.Context, model string, messages []Message, opts Options, fn StreamFunc) error {
	stream, err := c.client.CreateChatCompletionStream(ctx, buildRequest(model, messages, opts))
	if err != nil {
		return fmt.Errorf("starting chat stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading chat stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
}
