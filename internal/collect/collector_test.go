package collect

import (
	"strings"
	"testing"
	"time"

	"github.com/kalambet/lexi/internal/conversation"
	"github.com/kalambet/lexi/internal/intent"
	"github.com/kalambet/lexi/internal/profile"
)

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

// collectingConv returns a conversation already asking for attr.
func collectingConv(t *testing.T, attr string) *conversation.Conversation {
	t.Helper()
	conv := conversation.New(0, 0)
	if err := conv.TransitionTo(conversation.StateIdle); err != nil {
		t.Fatalf("TransitionTo(idle): %v", err)
	}
	if err := conv.StartInfoCollection(attr); err != nil {
		t.Fatalf("StartInfoCollection(%s): %v", attr, err)
	}
	return conv
}

func TestProcessResponse_OnboardingWalk(t *testing.T) {
	conv := conversation.New(0, 0)
	if err := conv.TransitionTo(conversation.StateOnboarding); err != nil {
		t.Fatalf("TransitionTo(onboarding): %v", err)
	}
	if err := conv.StartInfoCollection(profile.AttrName); err != nil {
		t.Fatalf("StartInfoCollection(name): %v", err)
	}
	p := profile.New("u-onboard", testNow)

	res, err := ProcessResponse(conv, p, "Alice", testNow)
	if err != nil {
		t.Fatalf("ProcessResponse(name): %v", err)
	}
	if res.Done {
		t.Fatal("onboarding reported done after one answer")
	}
	if !strings.HasPrefix(res.Prompt, "Alice, ") {
		t.Errorf("level prompt not personalized: %q", res.Prompt)
	}
	if got := conv.CollectingAttribute(); got != profile.AttrTechnicalLevel {
		t.Errorf("collecting = %q, want %q", got, profile.AttrTechnicalLevel)
	}

	res, err = ProcessResponse(conv, p, "I'd say beginner", testNow)
	if err != nil {
		t.Fatalf("ProcessResponse(level): %v", err)
	}
	if res.Done {
		t.Fatal("onboarding reported done with interest area still missing")
	}
	if !strings.Contains(res.Prompt, "what aspects of LLMs") {
		t.Errorf("interest prompt = %q", res.Prompt)
	}
	if got := conv.CollectingAttribute(); got != profile.AttrInterestArea {
		t.Errorf("collecting = %q, want %q", got, profile.AttrInterestArea)
	}

	res, err = ProcessResponse(conv, p, "research", testNow)
	if err != nil {
		t.Fatalf("ProcessResponse(interest): %v", err)
	}
	if !res.Done {
		t.Fatal("onboarding did not complete after all core attributes")
	}
	for _, want := range []string{"Alice", "beginner", "research"} {
		if !strings.Contains(res.Completion, want) {
			t.Errorf("completion missing %q: %q", want, res.Completion)
		}
	}
	if !p.OnboardingCompleted {
		t.Error("OnboardingCompleted = false after full walk")
	}
	if got := conv.CollectingAttribute(); got != "" {
		t.Errorf("still collecting %q after completion", got)
	}

	a := p.Attribute(profile.AttrName)
	if a.Value != "Alice" || a.Confidence != ExplicitConfidence || a.Source != profile.SourceExplicit {
		t.Errorf("name attribute = %+v", a)
	}
}

func TestProcessResponse_ReasksOnEmptyAnswer(t *testing.T) {
	conv := conversation.New(0, 0)
	if err := conv.TransitionTo(conversation.StateOnboarding); err != nil {
		t.Fatalf("TransitionTo(onboarding): %v", err)
	}
	if err := conv.StartInfoCollection(profile.AttrName); err != nil {
		t.Fatalf("StartInfoCollection(name): %v", err)
	}
	p := profile.New("u-empty", testNow)

	res, err := ProcessResponse(conv, p, "   ", testNow)
	if err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	if res.Done {
		t.Error("blank answer reported done")
	}
	if !strings.Contains(res.Prompt, "your name") {
		t.Errorf("re-ask prompt = %q", res.Prompt)
	}
	if got := conv.CollectingAttribute(); got != profile.AttrName {
		t.Errorf("collecting = %q, want name kept", got)
	}
	if v := p.Value(profile.AttrName); v != "" {
		t.Errorf("blank answer stored name %q", v)
	}
}

func TestProcessResponse_PendingQueryResumes(t *testing.T) {
	conv := conversation.New(0, 0)
	if err := conv.TransitionTo(conversation.StateIdle); err != nil {
		t.Fatalf("TransitionTo(idle): %v", err)
	}
	p := profile.New("u-pending", testNow)
	p.CompleteOnboarding()

	conv.SavePendingQuery("how do I fine-tune a model?", intent.Implementation, "fine-tuning")
	if err := conv.StartInfoCollection(profile.AttrProjectStage); err != nil {
		t.Fatalf("StartInfoCollection: %v", err)
	}

	res, err := ProcessResponse(conv, p, "still in the planning stage", testNow)
	if err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	if !res.Done {
		t.Fatal("single-attribute collection did not finish")
	}
	if res.Completion != "" {
		t.Errorf("Completion = %q, want empty so the deferred query resumes", res.Completion)
	}
	if v := p.Value(profile.AttrProjectStage); v != "planning" {
		t.Errorf("project_stage = %q, want planning", v)
	}
	if _, ok := conv.PendingQuery(); !ok {
		t.Error("pending query lost during collection")
	}
}

func TestProcessResponse_NoPendingAcknowledges(t *testing.T) {
	conv := collectingConv(t, profile.AttrDepthPreference)
	p := profile.New("u-ack", testNow)
	p.CompleteOnboarding()

	res, err := ProcessResponse(conv, p, "keep it brief please", testNow)
	if err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	if !res.Done || res.Completion == "" {
		t.Fatalf("result = %+v, want done with acknowledgement", res)
	}
	if !strings.Contains(res.Completion, "What would you like to know") {
		t.Errorf("acknowledgement = %q", res.Completion)
	}
	if v := p.Value(profile.AttrDepthPreference); v != "brief" {
		t.Errorf("depth_preference = %q, want brief", v)
	}
}

func TestProcessResponse_NotCollecting(t *testing.T) {
	conv := conversation.New(0, 0)
	if err := conv.TransitionTo(conversation.StateIdle); err != nil {
		t.Fatalf("TransitionTo(idle): %v", err)
	}
	p := profile.New("u-idle", testNow)

	if _, err := ProcessResponse(conv, p, "beginner", testNow); err == nil {
		t.Error("ProcessResponse succeeded with no attribute under collection")
	}
}

func TestPromptFor(t *testing.T) {
	anon := profile.New("u-anon", testNow)
	named := profile.New("u-named", testNow)
	named.UpdateAttribute(profile.AttrName, "alice", ExplicitConfidence, profile.SourceExplicit, testNow)

	tests := []struct {
		name      string
		attribute string
		profile   *profile.Profile
		contains  []string
		excludes  []string
	}{
		{
			name:      "name prompt never personalized",
			attribute: profile.AttrName,
			profile:   named,
			contains:  []string{"Before we dive in", "'exit' or 'end'"},
			excludes:  []string{"alice"},
		},
		{
			name:      "level prompt capitalizes known name",
			attribute: profile.AttrTechnicalLevel,
			profile:   named,
			contains:  []string{"Alice, to tailor", "(Beginner/Intermediate/Advanced)", "'exit' or 'end'"},
		},
		{
			name:      "anonymous prompt starts with a capital",
			attribute: profile.AttrComparisonCriterion,
			profile:   anon,
			contains:  []string{"When evaluating", "(Accuracy/Speed/Cost)"},
		},
		{
			name:      "unknown attribute gets the generic form",
			attribute: "favorite_model",
			profile:   anon,
			contains:  []string{"Could you tell me about your favorite model?"},
			excludes:  []string{"'exit' or 'end'"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PromptFor(tt.attribute, tt.profile)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("PromptFor(%s) = %q, missing %q", tt.attribute, got, want)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("PromptFor(%s) = %q, should not contain %q", tt.attribute, got, bad)
				}
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		attribute string
		response  string
		want      string
	}{
		{profile.AttrName, "I'm Alice", "Alice"},
		{profile.AttrName, "  Bob  ", "Bob"},
		{profile.AttrName, "call me CARLOS please", "Carlos"},
		{profile.AttrTechnicalLevel, "total beginner here", "beginner"},
		{profile.AttrTechnicalLevel, "I know the basics", "beginner"},
		{profile.AttrTechnicalLevel, "fairly advanced", "advanced"},
		{profile.AttrTechnicalLevel, "hard to say", "intermediate"},
		{profile.AttrProjectStage, "just an idea so far", "planning"},
		{profile.AttrProjectStage, "we're building it now", "development"},
		{profile.AttrProjectStage, "tuning the prompts", "optimization"},
		{profile.AttrComparisonCriterion, "quality matters most", "accuracy"},
		{profile.AttrComparisonCriterion, "needs to be fast", "speed"},
		{profile.AttrComparisonCriterion, "whatever is affordable", "cost"},
		{profile.AttrInterestArea, "mostly academic work", "research"},
		{profile.AttrInterestArea, "practical use cases", "applications"},
		{profile.AttrInterestArea, "no idea", "research"},
		{profile.AttrDepthPreference, "quick overviews", "brief"},
		{profile.AttrDepthPreference, "thorough please", "detailed"},
		{profile.AttrDepthPreference, "whatever you think", "standard"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.attribute, tt.response); got != tt.want {
			t.Errorf("Normalize(%s, %q) = %q, want %q", tt.attribute, tt.response, got, tt.want)
		}
	}
}
