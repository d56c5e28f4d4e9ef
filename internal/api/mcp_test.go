package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/lexi/internal/intent"
	"github.com/kalambet/lexi/internal/profile"
	"github.com/kalambet/lexi/internal/session"
	"github.com/kalambet/lexi/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *mcpSessions, *profile.Manager) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	profiles := profile.NewManager(store)
	registry := session.NewRegistry(
		session.Config{MaxHistoryPairs: 10, PreserveInitial: 2},
		session.Deps{
			Profiles:   profiles,
			Classifier: &stubClassifier{result: intent.Result{Intent: intent.Fundamentals, Confidence: 0.9}},
			Responder:  &stubResponder{reply: stubReply, closing: stubClosing},
			Log:        store,
		},
		time.Minute,
	)

	deps := MCPDeps{
		Registry: registry,
		Profiles: profiles,
		Store:    store,
	}
	sessions := &mcpSessions{
		registry: registry,
		byUser:   make(map[string]*session.Session),
	}
	return deps, sessions, profiles
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_SendMessage_OnboardedUser(t *testing.T) {
	deps, sessions, profiles := newTestMCPDeps(t)
	seedOnboarded(t, profiles, "dana")
	handler := mcpSendMessage(sessions)

	req := makeCallToolRequest("send_message", map[string]interface{}{
		"user_id": "dana",
		"message": "What is a transformer?",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != stubReply {
		t.Fatalf("reply = %q, want %q", got, stubReply)
	}

	// The same user keeps one conversation across calls.
	s, ok := sessions.lookup("dana")
	if !ok {
		t.Fatal("expected a tracked session for dana")
	}
	if _, ok := deps.Registry.Get(s.ID); !ok {
		t.Fatal("session should be registered")
	}
}

func TestMCPTool_SendMessage_CollectsThenResumes(t *testing.T) {
	_, sessions, _ := newTestMCPDeps(t)
	handler := mcpSendMessage(sessions)

	// A user with no profile gets asked for a missing attribute first.
	req := makeCallToolRequest("send_message", map[string]interface{}{
		"user_id": "alice",
		"message": "What is a transformer?",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prompt := toolText(t, result)
	if !strings.Contains(prompt, "level of experience") {
		t.Fatalf("first reply = %q, want an experience prompt", prompt)
	}

	// Answering the prompt resolves collection and answers the held query.
	req = makeCallToolRequest("send_message", map[string]interface{}{
		"user_id": "alice",
		"message": "Intermediate",
	})
	result, err = handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != stubReply {
		t.Fatalf("resumed reply = %q, want %q", got, stubReply)
	}
}

func TestMCPTool_SendMessage_MissingArgs(t *testing.T) {
	_, sessions, _ := newTestMCPDeps(t)
	handler := mcpSendMessage(sessions)

	req := makeCallToolRequest("send_message", map[string]interface{}{
		"message": "hello",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a tool error for missing user_id")
	}
}

func TestMCPTool_SendMessage_NewSessionAfterGoodbye(t *testing.T) {
	_, sessions, profiles := newTestMCPDeps(t)
	seedOnboarded(t, profiles, "dana")
	handler := mcpSendMessage(sessions)

	req := makeCallToolRequest("send_message", map[string]interface{}{
		"user_id": "dana",
		"message": "goodbye",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != stubClosing {
		t.Fatalf("closing = %q, want %q", got, stubClosing)
	}
	first, _ := sessions.lookup("dana")

	// The ended conversation is replaced on the next message.
	req = makeCallToolRequest("send_message", map[string]interface{}{
		"user_id": "dana",
		"message": "What is a transformer?",
	})
	result, err = handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != stubReply {
		t.Fatalf("reply = %q, want %q", got, stubReply)
	}
	second, _ := sessions.lookup("dana")
	if second.ID == first.ID {
		t.Fatal("expected a fresh session after the old one ended")
	}
}

func TestMCPTool_ResetConversation(t *testing.T) {
	_, sessions, profiles := newTestMCPDeps(t)
	seedOnboarded(t, profiles, "dana")
	send := mcpSendMessage(sessions)
	reset := mcpResetConversation(sessions)

	req := makeCallToolRequest("send_message", map[string]interface{}{
		"user_id": "dana",
		"message": "What is a transformer?",
	})
	if _, err := send(context.Background(), req); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	req = makeCallToolRequest("reset_conversation", map[string]interface{}{
		"user_id": "dana",
	})
	result, err := reset(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	s, _ := sessions.lookup("dana")
	if len(s.History()) != 0 {
		t.Errorf("history has %d messages after reset, want 0", len(s.History()))
	}
}

func TestMCPTool_ResetConversation_UnknownUser(t *testing.T) {
	_, sessions, _ := newTestMCPDeps(t)
	handler := mcpResetConversation(sessions)

	req := makeCallToolRequest("reset_conversation", map[string]interface{}{
		"user_id": "nobody",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a tool error for unknown user")
	}
}

func TestMCPTool_SetPreference(t *testing.T) {
	deps, _, profiles := newTestMCPDeps(t)
	handler := mcpSetPreference(deps)

	req := makeCallToolRequest("set_preference", map[string]interface{}{
		"user_id":   "dana",
		"attribute": "technical_level",
		"value":     "Advanced",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "Set technical_level = advanced" {
		t.Fatalf("unexpected response: %s", got)
	}

	p, err := profiles.Get("dana")
	if err != nil {
		t.Fatalf("getting profile: %v", err)
	}
	a := p.Attribute(profile.AttrTechnicalLevel)
	if a.Value != "advanced" {
		t.Fatalf("technical_level = %q, want %q", a.Value, "advanced")
	}
	if a.Source != profile.SourceExplicit {
		t.Errorf("source = %q, want %q", a.Source, profile.SourceExplicit)
	}
}

func TestMCPTool_SetPreference_UnknownAttribute(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	handler := mcpSetPreference(deps)

	req := makeCallToolRequest("set_preference", map[string]interface{}{
		"user_id":   "dana",
		"attribute": "favorite_color",
		"value":     "blue",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a tool error for unknown attribute")
	}
	if !strings.Contains(toolText(t, result), "unknown attribute") {
		t.Fatalf("unexpected message: %s", toolText(t, result))
	}
}

func TestMCPTool_GetProfile(t *testing.T) {
	deps, _, profiles := newTestMCPDeps(t)
	seedOnboarded(t, profiles, "dana")
	handler := mcpGetProfile(deps)

	req := makeCallToolRequest("get_profile", map[string]interface{}{
		"user_id": "dana",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var p profile.Profile
	if err := json.Unmarshal([]byte(toolText(t, result)), &p); err != nil {
		t.Fatalf("failed to parse profile JSON: %v", err)
	}
	if p.Value(profile.AttrName) != "Dana" {
		t.Fatalf("name = %q, want %q", p.Value(profile.AttrName), "Dana")
	}
}

func TestMCPResource_Profile(t *testing.T) {
	deps, _, profiles := newTestMCPDeps(t)
	seedOnboarded(t, profiles, "dana")
	handler := mcpResourceProfile(deps)

	contents, err := handler(context.Background(), makeReadResourceRequest("lexi://profile/dana"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var p profile.Profile
	if err := json.Unmarshal([]byte(tc.Text), &p); err != nil {
		t.Fatalf("failed to parse profile JSON: %v", err)
	}
	if p.UserID != "dana" {
		t.Fatalf("user_id = %q, want %q", p.UserID, "dana")
	}
	if !p.OnboardingCompleted {
		t.Fatal("expected onboarding_completed to be true")
	}
}

func TestMCPResource_Profile_BadURI(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	handler := mcpResourceProfile(deps)

	if _, err := handler(context.Background(), makeReadResourceRequest("lexi://profile/")); err == nil {
		t.Fatal("expected an error for an empty user segment")
	}
}

func TestMCPResource_Interactions(t *testing.T) {
	deps, sessions, profiles := newTestMCPDeps(t)
	seedOnboarded(t, profiles, "dana")
	send := mcpSendMessage(sessions)

	req := makeCallToolRequest("send_message", map[string]interface{}{
		"user_id": "dana",
		"message": "What is a transformer?",
	})
	if _, err := send(context.Background(), req); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	handler := mcpResourceInteractions(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("lexi://interactions/dana"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var turns []map[string]interface{}
	if err := json.Unmarshal([]byte(tc.Text), &turns); err != nil {
		t.Fatalf("failed to parse interactions JSON: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	if turns[0]["message"] != "What is a transformer?" {
		t.Fatalf("message = %q", turns[0]["message"])
	}
	if turns[0]["reply"] != stubReply {
		t.Fatalf("reply = %q", turns[0]["reply"])
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, sessions, profiles := newTestMCPDeps(t)
	for i := 0; i < 5; i++ {
		seedOnboarded(t, profiles, fmt.Sprintf("user-%d", i))
	}

	send := mcpSendMessage(sessions)
	get := mcpGetProfile(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 10)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := makeCallToolRequest("send_message", map[string]interface{}{
				"user_id": fmt.Sprintf("user-%d", i),
				"message": "What is a transformer?",
			})
			if _, err := send(context.Background(), req); err != nil {
				errs <- err
			}
		}(i)
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := makeCallToolRequest("get_profile", map[string]interface{}{
				"user_id": fmt.Sprintf("user-%d", i),
			})
			if _, err := get(context.Background(), req); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}
