package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kalambet/lexi/internal/llm"
)

const (
	// shortFollowupTokens marks very short messages as follow-ups outright.
	shortFollowupTokens = 5

	// likelyFollowupTokens marks medium-length messages as follow-ups once a
	// conversation is established, skipping the model call.
	likelyFollowupTokens = 10

	// minHistoryForFollowup is the message count below which nothing counts
	// as a follow-up: there is no prior topic to follow up on.
	minHistoryForFollowup = 4
)

var followupPhrases = []string{
	"tell me more", "how about", "what about",
	"can you explain", "such as", "for example",
	"like what", "in what way", "how are", "how is",
	"how do", "how does", "how can", "how would",
	"what is", "what are", "why is", "why are",
	"where", "when", "who", "which",
}

// IsFollowup reports whether message continues the conversation's current
// topic rather than opening a new one. Cheap lexical checks decide most
// messages; only ambiguous long ones consult the model, under a short
// deadline with a lexical fallback on error or timeout.
func (c *Classifier) IsFollowup(ctx context.Context, message string, history []llm.Message) bool {
	tokens := len(strings.Fields(message))
	if tokens < shortFollowupTokens {
		return true
	}
	if strings.HasSuffix(strings.TrimSpace(message), "?") {
		return true
	}
	msg := strings.ToLower(message)
	for _, phrase := range followupPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	if len(history) < minHistoryForFollowup {
		return false
	}
	if tokens < likelyFollowupTokens {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, c.followupTimeout)
	defer cancel()

	raw, err := c.chatter.Chat(ctx, c.model, buildFollowupPrompt(message, history), llm.Options{Temperature: 0})
	if err != nil {
		slog.Warn("follow-up check failed, using length heuristic", "error", err)
		return tokens < shortFollowupTokens
	}
	return strings.Contains(strings.ToLower(raw), "yes")
}
