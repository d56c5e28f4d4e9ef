package profile

import "time"

// Source records how an attribute value was obtained.
type Source string

const (
	// SourceExplicit marks values the user stated in answer to a direct question.
	SourceExplicit Source = "explicit"
	// SourceImplicit marks values inferred from ordinary conversation.
	SourceImplicit Source = "implicit"
	// SourceDefault marks values never provided by the user.
	SourceDefault Source = "default"
)

// Attribute is a confidence-scored, timestamped value holder.
type Attribute struct {
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
	Source     Source    `json:"source"`
}

// unsetConfidence is the trust level of an attribute that was never set.
// Candidates below it never land, even on an empty attribute.
const unsetConfidence = 0.5

// unset is the attribute returned for names that were never written.
func unset() Attribute {
	return Attribute{Confidence: unsetConfidence, Source: SourceDefault}
}

// Merge applies a candidate value iff its confidence is at least the current
// one (ties favor the newer value). Reports whether the value was applied.
// Confidence is therefore non-decreasing for the lifetime of the attribute.
func (a *Attribute) Merge(value string, confidence float64, source Source, now time.Time) bool {
	if confidence < a.Confidence {
		return false
	}
	a.Value = value
	a.Confidence = confidence
	a.Source = source
	a.UpdatedAt = now
	return true
}

// Attribute names collected into the profile.
const (
	AttrName                = "name"
	AttrTechnicalLevel      = "technical_level"
	AttrInterestArea        = "interest_area"
	AttrProjectStage        = "project_stage"
	AttrComparisonCriterion = "comparison_criterion"
	AttrDepthPreference     = "depth_preference"
)

// CoreAttributes must be collected once, in order, before onboarding
// completes. AdvancedAttributes are collected opportunistically later.
var (
	CoreAttributes     = []string{AttrName, AttrTechnicalLevel, AttrInterestArea}
	AdvancedAttributes = []string{AttrProjectStage, AttrComparisonCriterion, AttrDepthPreference}
)

// Defaults used when a response must be generated before an attribute has
// been collected.
var defaults = map[string]string{
	AttrTechnicalLevel:      "intermediate",
	AttrProjectStage:        "development",
	AttrComparisonCriterion: "accuracy",
	AttrInterestArea:        "research",
	AttrDepthPreference:     "standard",
}

// Profile is one user's accumulated attributes plus interaction bookkeeping.
// It is a plain value; all mutation goes through methods that take the
// current time explicitly, keeping the model clock-free and testable.
type Profile struct {
	UserID              string               `json:"user_id"`
	Attributes          map[string]Attribute `json:"attributes"`
	InteractionCount    int                  `json:"interaction_count"`
	TopicHistory        []string             `json:"topic_history"`
	OnboardingCompleted bool                 `json:"onboarding_completed"`
	FirstInteraction    time.Time            `json:"first_interaction"`
	LastInteraction     time.Time            `json:"last_interaction"`
}
