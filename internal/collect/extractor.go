package collect

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/lexi/internal/llm"
	"github.com/kalambet/lexi/internal/profile"
)

const (
	// nameConfidence is the trust given to names found by pattern match.
	nameConfidence = 0.7
	// llmImplicitConfidence is the trust given to model-extracted values.
	llmImplicitConfidence = 0.6

	defaultExtractTimeout = 3 * time.Second
)

// Finding is one implicitly extracted attribute candidate.
type Finding struct {
	Attribute  string
	Value      string
	Confidence float64
}

// Chatter is the slice of the model client the extractor needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []llm.Message, opts llm.Options) (string, error)
}

// Extractor infers profile attributes from ordinary conversation without
// asking. Rule tables run first; a model-assisted pass fills the gaps when
// a Chatter is configured. Extraction is opportunistic: every failure is
// swallowed and treated as nothing found.
type Extractor struct {
	chat    Chatter
	model   string
	timeout time.Duration
}

// NewExtractor builds an extractor. A nil chat disables the model pass;
// a non-positive timeout falls back to the default.
func NewExtractor(chat Chatter, model string, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = defaultExtractTimeout
	}
	return &Extractor{chat: chat, model: model, timeout: timeout}
}

// Extract merges every attribute the message reveals into the profile under
// the confidence rule and returns the attribute names that changed. Very
// short messages are skipped: they are usually confirmations, not
// information.
func (e *Extractor) Extract(ctx context.Context, p *profile.Profile, message string, now time.Time) []string {
	trimmed := strings.TrimSpace(message)
	if len(trimmed) <= 5 || len(strings.Fields(trimmed)) < 2 {
		return nil
	}

	findings := ruleFindings(trimmed)
	if len(findings) == 0 && e.modelPassWorthwhile(trimmed) {
		findings = e.modelFindings(ctx, trimmed)
	}

	var updated []string
	for _, f := range findings {
		if p.UpdateAttribute(f.Attribute, f.Value, f.Confidence, profile.SourceImplicit, now) {
			updated = append(updated, f.Attribute)
		}
	}
	if len(updated) > 0 {
		slog.Info("extracted profile attributes", "attributes", updated)
	}
	return updated
}

// namePatterns catch self-introductions. The bare "<Name> here" form
// requires a capital to avoid reading "right here" as a name.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:i am|i'm|call me|name is|this is)\s+([A-Za-z]+)\b`),
	regexp.MustCompile(`\b([A-Z][a-z]+) here\b`),
}

// nameStopwords are words that follow "I'm ..." far more often than names
// do. A capture in this set is an adjective, not an introduction.
var nameStopwords = map[string]bool{
	"new": true, "just": true, "not": true, "so": true, "very": true,
	"really": true, "here": true, "there": true, "going": true,
	"trying": true, "learning": true, "working": true, "still": true,
	"also": true, "sure": true, "sorry": true, "glad": true, "happy": true,
	"interested": true, "curious": true, "confused": true, "familiar": true,
	"done": true, "good": true, "fine": true, "currently": true,
	"now": true, "all": true, "a": true, "an": true, "the": true,
	"pretty": true, "quite": true, "mostly": true, "asking": true,
	"wondering": true, "looking": true, "building": true,
	"beginner": true, "intermediate": true, "advanced": true,
	"experienced": true, "comfortable": true,
}

// matchName pulls a personal name out of self-introduction phrasing.
func matchName(message string) (string, bool) {
	for _, re := range namePatterns {
		m := re.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		lowered := strings.ToLower(m[1])
		if nameStopwords[lowered] {
			continue
		}
		return capitalize(lowered), true
	}
	return "", false
}

type keywordRule struct {
	value      string
	confidence float64
	terms      []string
}

// extractionTables map conversational phrasing onto attribute values.
// Within a table the first matching rule wins; explicit self-descriptions
// rank above circumstantial ones.
var extractionTables = []struct {
	attribute string
	rules     []keywordRule
}{
	{profile.AttrTechnicalLevel, []keywordRule{
		{"beginner", 0.8, []string{"beginner", "new to", "just starting"}},
		{"intermediate", 0.8, []string{"intermediate", "some experience"}},
		{"advanced", 0.8, []string{"advanced", "expert", "experienced"}},
		{"beginner", 0.6, []string{"don't understand", "confused", "learning"}},
		{"intermediate", 0.6, []string{"familiar with", "worked with"}},
		{"advanced", 0.6, []string{"years of experience", "implemented"}},
	}},
	{profile.AttrInterestArea, []keywordRule{
		{"research", 0.7, []string{"research", "paper", "academic", "theory", "architecture", "algorithm"}},
		{"applications", 0.7, []string{"application", "implement", "project", "business", "product", "practical", "industry"}},
	}},
	{profile.AttrProjectStage, []keywordRule{
		{"planning", 0.7, []string{"planning", "starting", "idea"}},
		{"development", 0.7, []string{"developing", "building", "implementing"}},
		{"optimization", 0.7, []string{"optimizing", "tuning", "improving"}},
	}},
	{profile.AttrComparisonCriterion, []keywordRule{
		{"accuracy", 0.7, []string{"accuracy", "quality", "reliable"}},
		{"speed", 0.7, []string{"speed", "fast", "performance"}},
		{"cost", 0.7, []string{"cost", "budget", "cheap"}},
	}},
	{profile.AttrDepthPreference, []keywordRule{
		{"brief", 0.7, []string{"brief", "short", "quick", "overview"}},
		{"detailed", 0.7, []string{"detailed", "in-depth", "thorough", "technical"}},
	}},
}

// ruleFindings runs the extraction tables against the message. Keyword
// tables match on the lowered text; name patterns see the original casing.
func ruleFindings(message string) []Finding {
	var findings []Finding
	if name, ok := matchName(message); ok {
		findings = append(findings, Finding{Attribute: profile.AttrName, Value: name, Confidence: nameConfidence})
	}
	lowered := strings.ToLower(message)
	for _, table := range extractionTables {
		for _, rule := range table.rules {
			if containsAny(lowered, rule.terms...) {
				findings = append(findings, Finding{Attribute: table.attribute, Value: rule.value, Confidence: rule.confidence})
				break
			}
		}
	}
	return findings
}

// firstPersonMarkers gate the model pass: profile facts almost never
// appear without the user talking about themselves.
var firstPersonMarkers = []string{"i ", "i'm", "i've", "my ", "me "}

func (e *Extractor) modelPassWorthwhile(message string) bool {
	if e.chat == nil || len(strings.Fields(message)) < 4 {
		return false
	}
	lowered := " " + strings.ToLower(message)
	for _, m := range firstPersonMarkers {
		if strings.Contains(lowered, " "+m) {
			return true
		}
	}
	return false
}

const extractSystemPrompt = `You extract user profile facts from a single chat message sent to an assistant for Large Language Model topics. Your output must be ONLY a single valid JSON object. Do not include any other text, prose, or markdown.

The object may contain ONLY these keys, each with a string value:
- "name": the user's personal name, only if they introduce themselves
- "technical_level": one of "beginner", "intermediate", "advanced"
- "interest_area": one of "research", "applications"
- "project_stage": one of "planning", "development", "optimization"
- "comparison_criterion": one of "accuracy", "speed", "cost"
- "depth_preference": one of "brief", "standard", "detailed"

Include a key ONLY when the message clearly states that fact about the user themselves. Never guess from the subject of their question. If the message states no profile facts, return {}.`

// allAttributes fixes the merge order of model findings.
var allAttributes = append(append([]string{}, profile.CoreAttributes...), profile.AdvancedAttributes...)

func (e *Extractor) modelFindings(ctx context.Context, message string) []Finding {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.chat.Chat(ctx, e.model, []llm.Message{
		{Role: llm.RoleSystem, Content: extractSystemPrompt},
		{Role: llm.RoleUser, Content: message},
	}, llm.Options{Temperature: 0, JSONOutput: true})
	if err != nil {
		slog.Debug("implicit extraction model call failed", "error", err)
		return nil
	}

	var extracted map[string]string
	if err := json.Unmarshal([]byte(raw), &extracted); err != nil {
		slog.Debug("implicit extraction returned malformed JSON", "error", err)
		return nil
	}

	var findings []Finding
	for _, attr := range allAttributes {
		value, ok := vetModelValue(attr, extracted[attr])
		if !ok {
			continue
		}
		findings = append(findings, Finding{Attribute: attr, Value: value, Confidence: llmImplicitConfidence})
	}
	return findings
}

// canonicalValues are the only values accepted from the model pass;
// anything else is discarded rather than guessed at.
var canonicalValues = map[string][]string{
	profile.AttrTechnicalLevel:      {"beginner", "intermediate", "advanced"},
	profile.AttrInterestArea:        {"research", "applications"},
	profile.AttrProjectStage:        {"planning", "development", "optimization"},
	profile.AttrComparisonCriterion: {"accuracy", "speed", "cost"},
	profile.AttrDepthPreference:     {"brief", "standard", "detailed"},
}

func vetModelValue(attr, value string) (string, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", false
	}
	if attr == profile.AttrName {
		if len(strings.Fields(value)) != 1 {
			return "", false
		}
		return capitalize(value), true
	}
	for _, allowed := range canonicalValues[attr] {
		if value == allowed {
			return value, true
		}
	}
	return "", false
}
