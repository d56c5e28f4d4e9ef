package profile

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

// Summary returns a compact string representation of the profile suitable
// for injection into a system prompt.
func (p *Profile) Summary() string {
	var parts []string

	if name := p.Value(AttrName); name != "" {
		parts = append(parts, fmt.Sprintf("User: %s.", name))
	}
	if level := p.Value(AttrTechnicalLevel); level != "" {
		parts = append(parts, fmt.Sprintf("Technical level with LLMs: %s.", level))
	}
	if interest := p.Value(AttrInterestArea); interest != "" {
		parts = append(parts, fmt.Sprintf("Interested in: %s.", interest))
	}
	if stage := p.Value(AttrProjectStage); stage != "" {
		parts = append(parts, fmt.Sprintf("Project stage: %s.", stage))
	}
	if criterion := p.Value(AttrComparisonCriterion); criterion != "" {
		parts = append(parts, fmt.Sprintf("Values %s when comparing models.", criterion))
	}
	if depth := p.Value(AttrDepthPreference); depth != "" {
		parts = append(parts, fmt.Sprintf("Prefers %s explanations.", depth))
	}

	// Recent topics, newest last.
	if n := len(p.TopicHistory); n > 0 {
		start := n - 3
		if start < 0 {
			start = 0
		}
		parts = append(parts, fmt.Sprintf("Recent topics: %s.", strings.Join(p.TopicHistory[start:], "; ")))
	}

	if len(parts) == 0 {
		return "User profile: not yet collected."
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		// Ensure we don't split a multi-byte UTF-8 character.
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}
