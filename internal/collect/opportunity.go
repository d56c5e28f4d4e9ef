package collect

import (
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/lexi/internal/conversation"
	"github.com/kalambet/lexi/internal/intent"
	"github.com/kalambet/lexi/internal/profile"
)

// needConfidence is the floor below which an intent's steering attribute
// must be asked for before answering.
const needConfidence = 0.6

// intentAttributes maps each intent to the profile attribute its answers
// are steered by.
var intentAttributes = map[intent.Intent]string{
	intent.Fundamentals:   profile.AttrTechnicalLevel,
	intent.Implementation: profile.AttrProjectStage,
	intent.Comparison:     profile.AttrComparisonCriterion,
	intent.News:           profile.AttrInterestArea,
}

// NeedMoreInfo reports whether answering under it requires collecting the
// intent's steering attribute first: the attribute is unset or held with
// confidence too low to trust.
func NeedMoreInfo(p *profile.Profile, it intent.Intent) (string, bool) {
	attr, ok := intentAttributes[it]
	if !ok {
		return "", false
	}
	a := p.Attribute(attr)
	if a.Value == "" || a.Confidence < needConfidence {
		slog.Info("intent needs attribute before answering", "intent", it, "attribute", attr)
		return attr, true
	}
	return "", false
}

// Opportunistic asks begin two interactions after the configured threshold
// and repeat at a stretched interval, so the collector never feels pushy.
const (
	thresholdPad = 2
	intervalPad  = 3
)

// closingPhrases mark an assistant message that hands the floor to the user;
// collection must never pile onto an unanswered question.
var closingPhrases = []string{"would you like", "could you", "can you", "what do you", "how about"}

// Policy holds the pacing knobs for opportunistic collection.
type Policy struct {
	InteractionThreshold int
	Interval             int
}

// DefaultPolicy matches the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{InteractionThreshold: 2, Interval: 3}
}

// Opportunity reports whether now is a good moment to interrupt with a
// profile question, and which attribute to ask for. It is suppressed while
// collecting, onboarding, awaiting confirmation, or mid-answer; while the
// user is firing short replies at an earlier question; off the pacing
// schedule; and when the assistant's last message already asked something.
func (pl Policy) Opportunity(conv *conversation.Conversation, p *profile.Profile, now time.Time) (string, bool) {
	if conv.IsCollectingInfo() || conv.State() == conversation.StateOnboarding || !p.OnboardingCompleted {
		return "", false
	}
	if conv.IsAwaitingConfirmation() {
		return "", false
	}
	switch conv.State() {
	case conversation.StateProcessing, conversation.StateResponding:
		return "", false
	}

	if conv.HistoryLen() >= 4 {
		if last, ok := conv.LastUserMessage(); ok && len(strings.Fields(last)) <= 2 {
			slog.Debug("no collection opportunity: user is mid-exchange")
			return "", false
		}
	}

	if p.InteractionCount < pl.InteractionThreshold+thresholdPad {
		return "", false
	}
	if interval := pl.Interval + intervalPad; interval > 0 && p.InteractionCount%interval != 0 {
		return "", false
	}

	if last, ok := conv.LastAssistantMessage(); ok && endsWithQuestion(last) {
		slog.Debug("no collection opportunity: last reply left a question open")
		return "", false
	}

	attr, ok := p.NextAttributeToCollect(now)
	if !ok {
		return "", false
	}
	slog.Info("collection opportunity", "attribute", attr)
	return attr, true
}

// endsWithQuestion reports whether the message trails off into a question:
// a '?' in the final 30 bytes or a closing phrase in the final 50.
func endsWithQuestion(msg string) bool {
	if strings.Contains(tail(msg, 30), "?") {
		return true
	}
	t := strings.ToLower(tail(msg, 50))
	for _, phrase := range closingPhrases {
		if strings.Contains(t, phrase) {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
