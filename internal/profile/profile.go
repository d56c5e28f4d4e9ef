package profile

import "time"

// Collection thresholds.
const (
	// lowConfidence marks an attribute as effectively missing.
	lowConfidence = 0.5
	// advancedAfterInteractions gates advanced-attribute collection.
	advancedAfterInteractions = 2
	// staleAfter is the refresh window for already-collected advanced attributes.
	staleAfter = 7 * 24 * time.Hour
)

// New creates an empty profile for the given user.
func New(userID string, now time.Time) *Profile {
	return &Profile{
		UserID:           userID,
		Attributes:       make(map[string]Attribute),
		FirstInteraction: now,
		LastInteraction:  now,
	}
}

// Attribute returns the named attribute, or the unset placeholder when it
// was never written.
func (p *Profile) Attribute(name string) Attribute {
	if a, ok := p.Attributes[name]; ok {
		return a
	}
	return unset()
}

// Value returns the attribute's raw value ("" when unset).
func (p *Profile) Value(name string) string {
	return p.Attribute(name).Value
}

// ValueOrDefault returns the attribute's value, falling back to the
// per-attribute default for response generation.
func (p *Profile) ValueOrDefault(name string) string {
	if v := p.Value(name); v != "" {
		return v
	}
	return defaults[name]
}

// UpdateAttribute merges a candidate value into the named attribute under
// the confidence rule. Reports whether the value landed.
func (p *Profile) UpdateAttribute(name, value string, confidence float64, source Source, now time.Time) bool {
	if p.Attributes == nil {
		p.Attributes = make(map[string]Attribute)
	}
	a := p.Attribute(name)
	if !a.Merge(value, confidence, source, now) {
		return false
	}
	p.Attributes[name] = a
	return true
}

// TrackInteraction bumps the interaction counter and appends the topic to
// the topic history when one is known.
func (p *Profile) TrackInteraction(topic string, now time.Time) {
	p.InteractionCount++
	p.LastInteraction = now
	if topic != "" {
		p.TopicHistory = append(p.TopicHistory, topic)
	}
}

// MissingCoreAttributes returns the core attributes that are unset or held
// with low confidence, in collection order.
func (p *Profile) MissingCoreAttributes() []string {
	var missing []string
	for _, name := range CoreAttributes {
		a := p.Attribute(name)
		if a.Value == "" || a.Confidence < lowConfidence {
			missing = append(missing, name)
		}
	}
	return missing
}

// ShouldCollect reports whether the named attribute is worth asking for now:
// anything unset or low-confidence, plus advanced attributes gone stale once
// the conversation is established.
func (p *Profile) ShouldCollect(name string, now time.Time) bool {
	a := p.Attribute(name)
	if a.Value == "" || a.Confidence < lowConfidence {
		return true
	}
	if isAdvanced(name) && p.InteractionCount > advancedAfterInteractions+1 {
		return now.Sub(a.UpdatedAt) > staleAfter
	}
	return false
}

// NextAttributeToCollect returns the attribute the collector should ask for
// next: missing core attributes first until onboarding completes, then
// advanced attributes once the conversation has warmed up.
func (p *Profile) NextAttributeToCollect(now time.Time) (string, bool) {
	if !p.OnboardingCompleted {
		if missing := p.MissingCoreAttributes(); len(missing) > 0 {
			return missing[0], true
		}
	}

	if p.InteractionCount > advancedAfterInteractions {
		for _, name := range AdvancedAttributes {
			if p.ShouldCollect(name, now) {
				return name, true
			}
		}
	}

	return "", false
}

// CompleteOnboarding marks onboarding done. Monotonic: never unset.
func (p *Profile) CompleteOnboarding() {
	p.OnboardingCompleted = true
}

func isAdvanced(name string) bool {
	for _, n := range AdvancedAttributes {
		if n == name {
			return true
		}
	}
	return false
}
