// Package respond generates the assistant's replies: intent-steered answers,
// domain redirects for off-topic queries, closing messages, and the static
// texts used when generation is unavailable.
package respond

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/lexi/internal/intent"
	"github.com/kalambet/lexi/internal/llm"
	"github.com/kalambet/lexi/internal/profile"
)

// responseTemperature is the sampling temperature for user-facing replies.
// Classification and extraction run at zero; answers should not.
const responseTemperature = 0.7

const defaultTimeout = 30 * time.Second

// scrubWindow is how many bytes of the stream head are buffered before the
// first chunk is released, long enough to catch a leaked category label.
const scrubWindow = 20

// internalLabels are classifier category names the model occasionally
// parrots at the start of a reply. They are stripped before delivery.
var internalLabels = []string{
	"Implementation", "News & Trends", "Fundamentals", "Comparison",
	"LLM_FUNDAMENTALS", "LLM_IMPLEMENTATION", "LLM_COMPARISON", "LLM_NEWS",
}

// Chatter is the slice of the model client response generation needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []llm.Message, opts llm.Options) (string, error)
	ChatStream(ctx context.Context, model string, messages []llm.Message, opts llm.Options, fn llm.StreamFunc) error
}

// Config tunes the generator.
type Config struct {
	Model   string
	Timeout time.Duration
}

// Generator produces replies through the configured model.
type Generator struct {
	chat    Chatter
	model   string
	timeout time.Duration
}

// NewGenerator builds a response generator. A non-positive timeout falls
// back to the default.
func NewGenerator(chat Chatter, cfg Config) *Generator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Generator{chat: chat, model: cfg.Model, timeout: timeout}
}

// Generate answers the query under the given intent, steering the reply
// with the profile and keeping it on topic. UNKNOWN intents produce a
// redirect back to LLM territory instead of an answer.
func (g *Generator) Generate(ctx context.Context, query string, it intent.Intent, history []llm.Message, p *profile.Profile, topic string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.chat.Chat(ctx, g.model, buildMessages(query, it, history, p, topic), llm.Options{Temperature: responseTemperature})
	if err != nil {
		return "", fmt.Errorf("generate response for intent %s: %w", it, err)
	}
	return scrubLabels(raw), nil
}

// GenerateStream is Generate delivered incrementally through fn. It returns
// the complete scrubbed response for appending to history.
func (g *Generator) GenerateStream(ctx context.Context, query string, it intent.Intent, history []llm.Message, p *profile.Profile, topic string, fn llm.StreamFunc) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	scrubber := newLabelScrubber(fn)
	err := g.chat.ChatStream(ctx, g.model, buildMessages(query, it, history, p, topic), llm.Options{Temperature: responseTemperature}, scrubber.write)
	if err != nil {
		return "", fmt.Errorf("stream response for intent %s: %w", it, err)
	}
	return scrubber.flush()
}

// Closing generates the goodbye for an ending conversation. It never fails:
// generation errors and empty replies degrade to a static goodbye, since a
// conversation that is ending has no second chance to say goodbye.
func (g *Generator) Closing(ctx context.Context, history []llm.Message, p *profile.Profile) string {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.chat.Chat(ctx, g.model, closingMessages(history, p), llm.Options{Temperature: responseTemperature})
	if err != nil {
		slog.Warn("closing generation failed, using static goodbye", "error", err)
		return ClosingFallback(p)
	}
	cleaned := scrubLabels(raw)
	if cleaned == "" {
		return ClosingFallback(p)
	}
	return cleaned
}

// ClosingStream is Closing delivered incrementally through fn. On failure
// the static goodbye is pushed through fn so the client still hears one.
func (g *Generator) ClosingStream(ctx context.Context, history []llm.Message, p *profile.Profile, fn llm.StreamFunc) string {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	scrubber := newLabelScrubber(fn)
	err := g.chat.ChatStream(ctx, g.model, closingMessages(history, p), llm.Options{Temperature: responseTemperature}, scrubber.write)
	if err == nil {
		full, ferr := scrubber.flush()
		if ferr == nil && full != "" {
			return full
		}
		err = ferr
	}
	if err != nil {
		slog.Warn("closing stream failed, using static goodbye", "error", err)
	}
	fallback := ClosingFallback(p)
	if err := fn(fallback); err != nil {
		slog.Warn("could not deliver static goodbye", "error", err)
	}
	return fallback
}

// labelScrubber buffers the head of a stream long enough to strip a leaked
// internal label, then passes chunks through untouched.
type labelScrubber struct {
	fn      llm.StreamFunc
	head    strings.Builder
	full    strings.Builder
	started bool
}

func newLabelScrubber(fn llm.StreamFunc) *labelScrubber {
	return &labelScrubber{fn: fn}
}

func (s *labelScrubber) write(chunk string) error {
	if s.started {
		s.full.WriteString(chunk)
		return s.fn(chunk)
	}
	s.head.WriteString(chunk)
	if s.head.Len() <= scrubWindow {
		return nil
	}
	cleaned := scrubLabels(s.head.String())
	s.head.Reset()
	s.started = true
	s.full.WriteString(cleaned)
	return s.fn(cleaned)
}

// flush releases whatever is still buffered and returns the full response.
func (s *labelScrubber) flush() (string, error) {
	if !s.started && s.head.Len() > 0 {
		cleaned := scrubLabels(s.head.String())
		s.head.Reset()
		s.started = true
		s.full.WriteString(cleaned)
		if err := s.fn(cleaned); err != nil {
			return s.full.String(), err
		}
	}
	return s.full.String(), nil
}

// scrubLabels removes internal category labels the model sometimes echoes
// at the start of a reply.
func scrubLabels(response string) string {
	text := strings.TrimSpace(response)
	for _, label := range internalLabels {
		if strings.HasPrefix(text, label) {
			text = strings.TrimSpace(strings.TrimPrefix(text, label))
			text = strings.TrimSpace(strings.TrimLeft(text, ":"))
		}
	}
	return text
}

const welcomeText = "Welcome to LexiLLM! I'm your specialized assistant for Large Language Models. " +
	"I can help with technical questions, implementation advice, model comparisons, " +
	"and the latest developments in the field. How can I assist you today?"

const welcomeFallbackText = "Welcome to LexiLLM! I'm your specialized assistant for Large Language Models. How can I help you today?"

// Welcome is the greeting for returning users who need no onboarding.
func Welcome() string {
	return welcomeText
}

// WelcomeFallback is the greeting used when building the usual welcome
// fails for any reason.
func WelcomeFallback() string {
	return welcomeFallbackText
}

// Apology is the recovery message for a turn that errored out.
func Apology(p *profile.Profile) string {
	if name := p.Value(profile.AttrName); name != "" {
		return fmt.Sprintf("I apologize, %s, but I encountered an error while processing your message. Let's try again with a different question.", name)
	}
	return "I apologize, but I encountered an error while processing your message. Let's try again with a different question."
}

// ClosingFallback is the static goodbye used when closing generation fails.
func ClosingFallback(p *profile.Profile) string {
	if name := p.Value(profile.AttrName); name != "" {
		return fmt.Sprintf("Thank you for chatting with LexiLLM, %s! It's been a pleasure assisting you with your LLM questions. Feel free to reach out anytime for more help with language models. Have a great day!", name)
	}
	return "Thank you for chatting with LexiLLM! It's been a pleasure assisting you with your LLM questions. Feel free to reach out anytime for more help with language models. Have a great day!"
}
