package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Ollama is a Chatter that talks to a local Ollama instance over HTTP.
type Ollama struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllama creates an Ollama-backed Chatter targeting the given base URL.
func NewOllama(baseURL string) *Ollama {
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0, // per-call deadlines come from ctx
		},
	}
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// chatResponse is one JSON object of the /api/chat response. Non-streaming
// calls return a single object; streaming calls return one per chunk with
// Done set on the last.
type chatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

func (c *Ollama) newChatRequest(ctx context.Context, model string, messages []Message, opts Options, stream bool) (*http.Request, error) {
	cr := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}
	if opts.JSONOutput {
		cr.Format = "json"
	}
	if opts.Temperature != 0 || opts.MaxTokens != 0 {
		cr.Options = map[string]any{}
		if opts.Temperature != 0 {
			cr.Options["temperature"] = opts.Temperature
		}
		if opts.MaxTokens != 0 {
			cr.Options["num_predict"] = opts.MaxTokens
		}
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Chat sends messages to the given model and returns the assistant's response.
func (c *Ollama) Chat(ctx context.Context, model string, messages []Message, opts Options) (string, error) {
	req, err := c.newChatRequest(ctx, model, messages, opts, false)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat: unexpected status %d", resp.StatusCode)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	return result.Message.Content, nil
}

// ChatStream sends messages to the given model, reading the newline-delimited
// JSON stream and passing each content chunk to fn.
func (c *Ollama) ChatStream(ctx context.Context, model string, messages []Message, opts Options, fn StreamFunc) error {
	req, err := c.newChatRequest(ctx, model, messages, opts, true)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat stream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chat stream: unexpected status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var chunk chatResponse
		if err := dec.Decode(&chunk); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("reading chat stream: %w", err)
		}
		if chunk.Message.Content != "" {
			if err := fn(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
}
