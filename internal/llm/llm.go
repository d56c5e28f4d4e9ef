package llm

import (
	"context"
	"fmt"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Options tunes a single chat call. The zero value means provider defaults.
type Options struct {
	// Temperature controls sampling randomness. Classification callers pass 0.
	Temperature float32
	// MaxTokens caps the response length; 0 means no explicit cap.
	MaxTokens int
	// JSONOutput requests a strict JSON object response from the provider.
	JSONOutput bool
}

// StreamFunc receives one chunk of streamed response text. Returning an
// error aborts the stream.
type StreamFunc func(chunk string) error

// Chatter abstracts a chat-completion backend (OpenAI-compatible cloud API
// or a local Ollama instance). Consumers such as intent classification,
// attribute extraction, and response generation use this interface instead
// of depending on a concrete client.
type Chatter interface {
	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message, opts Options) (string, error)

	// ChatStream sends messages to the given model and delivers the response
	// incrementally through fn. The full response is the concatenation of all
	// chunks passed to fn.
	ChatStream(ctx context.Context, model string, messages []Message, opts Options, fn StreamFunc) error
}

// Config selects and configures a chat provider.
type Config struct {
	Provider string // "openai" or "ollama"
	APIKey   string // required for openai
	BaseURL  string // optional OpenAI-compatible endpoint; Ollama server URL
}

// New builds a Chatter for the configured provider. A missing API key for
// the openai provider is a construction-time error; nothing is retried or
// deferred.
func New(cfg Config) (Chatter, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm provider %q requires an API key", cfg.Provider)
		}
		return NewOpenAI(cfg.APIKey, cfg.BaseURL), nil
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return NewOllama(baseURL), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}
