package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/kalambet/lexi/internal/llm"
)

const (
	// unknownConfidenceThreshold demotes low-confidence classifications to
	// Unknown so they route to the fallback response.
	unknownConfidenceThreshold = 0.6

	// forceFallbackConfidence is reported when the keyword pre-filter rejects
	// an off-domain query without a model call.
	forceFallbackConfidence = 0.95

	defaultClassifyTimeout = 15 * time.Second
	defaultFollowupTimeout = 2 * time.Second
)

// Chatter is the chat-completion interface used for classification calls.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []llm.Message, opts llm.Options) (string, error)
}

// Config tunes a Classifier. Zero durations fall back to defaults.
type Config struct {
	Model           string
	Timeout         time.Duration
	FollowupTimeout time.Duration
}

// Classifier labels user queries with a topic category. A keyword pre-filter
// short-circuits clearly off-domain queries; everything else goes to the
// classification model.
type Classifier struct {
	chatter         Chatter
	model           string
	timeout         time.Duration
	followupTimeout time.Duration
}

// NewClassifier creates a Classifier backed by the given chat model.
func NewClassifier(chatter Chatter, cfg Config) *Classifier {
	c := &Classifier{
		chatter:         chatter,
		model:           cfg.Model,
		timeout:         cfg.Timeout,
		followupTimeout: cfg.FollowupTimeout,
	}
	if c.timeout <= 0 {
		c.timeout = defaultClassifyTimeout
	}
	if c.followupTimeout <= 0 {
		c.followupTimeout = defaultFollowupTimeout
	}
	return c
}

// classifyResponse is the JSON shape the classification model must return.
type classifyResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Classify determines the topic category for query. Classification failures
// (timeout, transport error, malformed JSON) degrade to Unknown with zero
// confidence rather than failing the turn.
func (c *Classifier) Classify(ctx context.Context, query string) Result {
	if strings.TrimSpace(query) == "" {
		return Result{Intent: Unknown}
	}
	if r, ok := quickClassify(query); ok {
		slog.Debug("intent resolved by keyword pre-filter", "intent", r.Intent)
		return r
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: classifySystemPrompt},
		{Role: llm.RoleUser, Content: query},
	}
	raw, err := c.chatter.Chat(ctx, c.model, messages, llm.Options{Temperature: 0, JSONOutput: true})
	if err != nil {
		slog.Warn("intent classification failed", "error", err)
		return Result{Intent: Unknown}
	}

	var resp classifyResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		slog.Warn("failed to unmarshal intent classification", "error", err, "response", raw)
		return Result{Intent: Unknown}
	}

	in, ok := Parse(resp.Intent)
	if !ok || resp.Confidence < unknownConfidenceThreshold {
		slog.Info("classification demoted to unknown", "label", resp.Intent, "confidence", resp.Confidence)
		return Result{Intent: Unknown, Confidence: resp.Confidence}
	}
	return Result{Intent: in, Confidence: resp.Confidence}
}

// quickClassify applies the keyword pre-filter: a query that mentions a known
// off-domain topic and nothing LLM-related is rejected without a model call.
// Queries mentioning the domain, or matching neither list, are left to the
// model.
func quickClassify(query string) (Result, bool) {
	msg := strings.ToLower(query)
	words := tokenize(msg)
	if llmTerms.matches(msg, words) {
		return Result{}, false
	}
	if offTopicTerms.matches(msg, words) {
		return Result{Intent: Unknown, Confidence: forceFallbackConfidence}, true
	}
	return Result{}, false
}

// termSet matches single-word terms on word boundaries and multi-word or
// hyphenated terms as substrings.
type termSet struct {
	words   map[string]struct{}
	phrases []string
}

func newTermSet(terms []string) termSet {
	ts := termSet{words: make(map[string]struct{}, len(terms))}
	for _, t := range terms {
		if strings.ContainsAny(t, " -") {
			ts.phrases = append(ts.phrases, t)
		} else {
			ts.words[t] = struct{}{}
		}
	}
	return ts
}

func (ts termSet) matches(msg string, words []string) bool {
	for _, w := range words {
		if _, ok := ts.words[w]; ok {
			return true
		}
	}
	for _, p := range ts.phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func tokenize(msg string) []string {
	return strings.FieldsFunc(msg, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var llmTerms = newTermSet([]string{
	"llm", "language model", "gpt", "bert", "transformer", "embedding",
	"token", "prompt", "fine-tune", "vector", "attention", "nlp",
	"natural language", "ai model", "neural network", "machine learning",
	"generative", "generation", "text generation", "chatgpt", "claude",
	"llama", "mistral", "gemini", "bard", "rag", "retrieval",
})

var offTopicTerms = newTermSet([]string{
	"president", "trump", "biden", "politics", "election", "weather",
	"sports", "game", "movie", "actor", "celebrity", "singer",
	"song", "music", "history", "war", "country", "city", "travel",
	"recipe", "food", "health", "disease", "medicine", "doctor",
	"news", "economy", "market", "price", "buy", "sell",
	"white house", "congress", "senate", "government", "politician",
	"campaign", "vote", "democracy", "republican", "democrat",
	"political party", "governor", "mayor", "administration", "policy",
	"foreign policy", "domestic policy", "supreme court", "justice",
})
