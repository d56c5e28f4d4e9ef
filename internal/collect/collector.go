// Package collect implements profile information collection: the collection
// prompt catalog, explicit-answer normalization, the opportunistic-collection
// pacing policy, and implicit attribute extraction from ordinary messages.
package collect

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/lexi/internal/conversation"
	"github.com/kalambet/lexi/internal/profile"
)

// ExplicitConfidence is the trust assigned to direct answers to collection
// questions.
const ExplicitConfidence = 0.9

const exitReminder = " You can also say 'exit' or 'end' at any time to end our conversation."

// completionAck closes a single-attribute collection when no deferred query
// is waiting.
const completionAck = "Thanks for providing that information. What would you like to know about LLMs?"

// Result reports how a collection turn ended. When Done is false, Prompt
// holds the next question to send. When Done is true and Completion is
// empty, the caller resumes the deferred query.
type Result struct {
	Done       bool
	Prompt     string
	Completion string
}

// ProcessResponse consumes the user's answer to the outstanding collection
// question and merges it into the profile. During onboarding it walks the
// missing core attributes until none remain, then completes onboarding with
// a personalized message; outside onboarding a single answer finishes the
// collection.
func ProcessResponse(conv *conversation.Conversation, p *profile.Profile, message string, now time.Time) (Result, error) {
	attr := conv.CollectingAttribute()
	if attr == "" {
		return Result{}, errors.New("no attribute under collection")
	}

	value := Normalize(attr, message)
	if value == "" {
		// Nothing usable in the answer; ask again.
		return Result{Prompt: PromptFor(attr, p)}, nil
	}

	p.UpdateAttribute(attr, value, ExplicitConfidence, profile.SourceExplicit, now)
	slog.Info("collected profile attribute", "attribute", attr, "value", value)

	if !p.OnboardingCompleted {
		if next, ok := nextOnboardingAttribute(p, attr); ok {
			if err := conv.StartInfoCollection(next); err != nil {
				return Result{}, err
			}
			return Result{Prompt: PromptFor(next, p)}, nil
		}
		p.CompleteOnboarding()
		conv.EndInfoCollection()
		slog.Info("onboarding complete", "user", p.UserID)
		return Result{Done: true, Completion: onboardingCompletion(p)}, nil
	}

	conv.EndInfoCollection()
	if _, ok := conv.PendingQuery(); ok {
		return Result{Done: true}, nil
	}
	return Result{Done: true, Completion: completionAck}, nil
}

func nextOnboardingAttribute(p *profile.Profile, justCollected string) (string, bool) {
	for _, name := range p.MissingCoreAttributes() {
		if name != justCollected {
			return name, true
		}
	}
	return "", false
}

func onboardingCompletion(p *profile.Profile) string {
	name := p.Value(profile.AttrName)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(
		"Thanks for sharing that information, %s! I'll tailor my responses to your %s level and focus on %s. What would you like to know about LLMs today?",
		name,
		p.ValueOrDefault(profile.AttrTechnicalLevel),
		p.ValueOrDefault(profile.AttrInterestArea),
	)
}

// PromptFor returns the question asking for the given attribute,
// personalized with the user's name when known.
func PromptFor(attribute string, p *profile.Profile) string {
	prefix := ""
	if name := p.Value(profile.AttrName); name != "" {
		prefix = name + ", "
	}

	var msg string
	switch attribute {
	case profile.AttrName:
		msg = "Before we dive in, I'd love to know your name so I can address you properly." + exitReminder
	case profile.AttrTechnicalLevel:
		msg = prefix + "to tailor my responses to your background, could you tell me your level of experience with Large Language Models? (Beginner/Intermediate/Advanced)" + exitReminder
	case profile.AttrInterestArea:
		msg = prefix + "what aspects of LLMs are you most interested in learning about? Research advances, practical applications, or something else?" + exitReminder
	case profile.AttrProjectStage:
		msg = prefix + "are you currently working on an LLM project? If so, what stage are you in? (Planning/Development/Optimization)" + exitReminder
	case profile.AttrComparisonCriterion:
		msg = prefix + "when evaluating different LLM options, what's most important to you? (Accuracy/Speed/Cost)" + exitReminder
	case profile.AttrDepthPreference:
		msg = prefix + "how detailed would you like my explanations to be? Brief overviews, standard explanations, or in-depth technical details?" + exitReminder
	default:
		msg = prefix + "could you tell me about your " + strings.ReplaceAll(attribute, "_", " ") + "? This helps me provide more relevant information."
	}

	return capitalize(msg)
}

// Normalize maps a free-form explicit answer onto the canonical value for
// the attribute. Unrecognized answers fall back to the attribute's
// conventional middle ground; names are taken as given, extracting from
// sentence-style answers ("I'm Alice") when possible.
func Normalize(attribute, response string) string {
	v := strings.ToLower(strings.TrimSpace(response))

	switch attribute {
	case profile.AttrName:
		if name, ok := matchName(response); ok {
			return name
		}
		return strings.TrimSpace(response)

	case profile.AttrTechnicalLevel:
		switch {
		case containsAny(v, "begin", "new", "basic"):
			return "beginner"
		case containsAny(v, "inter", "some", "familiar"):
			return "intermediate"
		case containsAny(v, "adv", "expert", "experienc"):
			return "advanced"
		}
		return "intermediate"

	case profile.AttrProjectStage:
		switch {
		case containsAny(v, "plan", "start", "idea"):
			return "planning"
		case containsAny(v, "dev", "build", "implement"):
			return "development"
		case containsAny(v, "opt", "tun", "refin"):
			return "optimization"
		}
		return "development"

	case profile.AttrComparisonCriterion:
		switch {
		case containsAny(v, "acc", "qual", "perform"):
			return "accuracy"
		case containsAny(v, "speed", "fast", "quick"):
			return "speed"
		case containsAny(v, "cost", "price", "cheap", "afford"):
			return "cost"
		}
		return "accuracy"

	case profile.AttrInterestArea:
		switch {
		case containsAny(v, "research", "acad", "paper", "theory"):
			return "research"
		case containsAny(v, "app", "pract", "indus", "use"):
			return "applications"
		}
		return "research"

	case profile.AttrDepthPreference:
		switch {
		case containsAny(v, "brief", "short", "quick", "overview"):
			return "brief"
		case containsAny(v, "standard", "normal", "regular"):
			return "standard"
		case containsAny(v, "detailed", "in-depth", "thorough", "technical"):
			return "detailed"
		}
		return "standard"
	}

	return strings.TrimSpace(response)
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
