package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/lexi/internal/collect"
	"github.com/kalambet/lexi/internal/intent"
	"github.com/kalambet/lexi/internal/llm"
	"github.com/kalambet/lexi/internal/profile"
	"github.com/kalambet/lexi/internal/session"
	"github.com/kalambet/lexi/internal/storage"
)

const testToken = "test-token-12345"

const (
	stubReply   = "Transformers rely on attention."
	stubClosing = "Goodbye, and happy building!"
)

// stubClassifier and stubResponder stand in for the model-backed
// collaborators so handler tests run without a provider.
type stubClassifier struct {
	result intent.Result
}

func (c *stubClassifier) Classify(ctx context.Context, query string) intent.Result {
	return c.result
}

func (c *stubClassifier) IsFollowup(ctx context.Context, message string, history []llm.Message) bool {
	return false
}

type stubResponder struct {
	reply   string
	closing string
}

func (r *stubResponder) Generate(ctx context.Context, query string, it intent.Intent, history []llm.Message, p *profile.Profile, topic string) (string, error) {
	return r.reply, nil
}

func (r *stubResponder) GenerateStream(ctx context.Context, query string, it intent.Intent, history []llm.Message, p *profile.Profile, topic string, fn llm.StreamFunc) (string, error) {
	half := len(r.reply) / 2
	if err := fn(r.reply[:half]); err != nil {
		return "", err
	}
	if err := fn(r.reply[half:]); err != nil {
		return "", err
	}
	return r.reply, nil
}

func (r *stubResponder) Closing(ctx context.Context, history []llm.Message, p *profile.Profile) string {
	return r.closing
}

func (r *stubResponder) ClosingStream(ctx context.Context, history []llm.Message, p *profile.Profile, fn llm.StreamFunc) string {
	fn(r.closing)
	return r.closing
}

func setupAppHandler(t *testing.T, token string) (http.Handler, *storage.Store, *profile.Manager) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
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

	handler := NewAppHandler(AppDeps{
		Registry: registry,
		Profiles: profiles,
		Store:    store,
		Token:    token,
	})
	return handler, store, profiles
}

// seedOnboarded persists a profile that has finished onboarding so message
// turns reach the responder instead of the collection prompts.
func seedOnboarded(t *testing.T, profiles *profile.Manager, userID string) {
	t.Helper()
	now := time.Now().UTC()
	p, err := profiles.Get(userID)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", userID, err)
	}
	p.UpdateAttribute(profile.AttrName, "Dana", collect.ExplicitConfidence, profile.SourceExplicit, now)
	p.UpdateAttribute(profile.AttrTechnicalLevel, "intermediate", collect.ExplicitConfidence, profile.SourceExplicit, now)
	p.UpdateAttribute(profile.AttrInterestArea, "applications", collect.ExplicitConfidence, profile.SourceExplicit, now)
	p.CompleteOnboarding()
	if err := profiles.Save(p); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func createSession(t *testing.T, h http.Handler, userID string) sessionInfo {
	t.Helper()
	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/sessions", fmt.Sprintf(`{"user_id":%q}`, userID), testToken)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, want %d; body = %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	var info sessionInfo
	if err := json.NewDecoder(rr.Body).Decode(&info); err != nil {
		t.Fatalf("decode session info failed: %v", err)
	}
	return info
}

func postMessage(t *testing.T, h http.Handler, sessionID, message string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	body := fmt.Sprintf(`{"message":%q}`, message)
	req := authReq(http.MethodPost, "/sessions/"+sessionID+"/messages", body, testToken)
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %q, want ok status", rr.Body.String())
	}
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/sessions", `{"user_id":"alice"}`, "")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuth_RejectsWrongToken(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/sessions/some-id", "", "wrong-token")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestCreateSession_FreshUserIsAskedForName(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	info := createSession(t, h, "alice")

	if info.SessionID == "" {
		t.Fatal("response missing session_id")
	}
	if info.UserID != "alice" {
		t.Errorf("user_id = %q, want %q", info.UserID, "alice")
	}
	if !strings.Contains(info.Greeting, "your name") {
		t.Errorf("greeting = %q, want a name prompt", info.Greeting)
	}
	if info.State != "collecting_info" {
		t.Errorf("state = %q, want %q", info.State, "collecting_info")
	}
	if !info.Active {
		t.Error("session should be active")
	}
}

func TestCreateSession_ReturningUserIsWelcomedBack(t *testing.T) {
	h, _, profiles := setupAppHandler(t, testToken)
	seedOnboarded(t, profiles, "dana")

	info := createSession(t, h, "dana")

	if strings.Contains(info.Greeting, "your name") {
		t.Errorf("greeting = %q, should not ask for the name again", info.Greeting)
	}
	if info.State != "idle" {
		t.Errorf("state = %q, want %q", info.State, "idle")
	}
}

func TestCreateSession_MissingUserID(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/sessions", `{}`, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestListSessions_NewestFirst(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)
	createSession(t, h, "alice")
	second := createSession(t, h, "bob")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/sessions", "", testToken)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var infos []sessionInfo
	if err := json.NewDecoder(rr.Body).Decode(&infos); err != nil {
		t.Fatalf("decode sessions failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d sessions, want 2", len(infos))
	}
	if infos[0].SessionID != second.SessionID {
		t.Errorf("first listed = %q, want the most recent %q", infos[0].SessionID, second.SessionID)
	}
}

func TestGetSession_Unknown(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/sessions/no-such-id", "", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestDeleteSession_RemovesIt(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)
	info := createSession(t, h, "alice")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodDelete, "/sessions/"+info.SessionID, "", testToken)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", rr.Code, http.StatusOK)
	}

	rr = httptest.NewRecorder()
	req = authReq(http.MethodGet, "/sessions/"+info.SessionID, "", testToken)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	rr = httptest.NewRecorder()
	req = authReq(http.MethodDelete, "/sessions/"+info.SessionID, "", testToken)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestSessionMessage_RepliesAndRecordsTurn(t *testing.T) {
	h, store, profiles := setupAppHandler(t, testToken)
	seedOnboarded(t, profiles, "dana")
	info := createSession(t, h, "dana")

	rr := postMessage(t, h, info.SessionID, "What is a transformer?")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp messageResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.Reply != stubReply {
		t.Errorf("reply = %q, want %q", resp.Reply, stubReply)
	}
	if resp.State != "idle" {
		t.Errorf("state = %q, want %q", resp.State, "idle")
	}
	if resp.Intent != string(intent.Fundamentals) {
		t.Errorf("intent = %q, want %q", resp.Intent, intent.Fundamentals)
	}
	if !resp.Active {
		t.Error("session should remain active")
	}

	interactions, err := store.GetRecentInteractions("dana", 10)
	if err != nil {
		t.Fatalf("GetRecentInteractions failed: %v", err)
	}
	if len(interactions) != 1 {
		t.Fatalf("recorded %d interactions, want 1", len(interactions))
	}
	if interactions[0].UserMessage != "What is a transformer?" {
		t.Errorf("recorded message = %q", interactions[0].UserMessage)
	}
	if interactions[0].BotMessage != stubReply {
		t.Errorf("recorded reply = %q", interactions[0].BotMessage)
	}
}

func TestSessionMessage_EmptyMessage(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)
	info := createSession(t, h, "alice")

	rr := postMessage(t, h, info.SessionID, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSessionMessage_UnknownSession(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := postMessage(t, h, "no-such-id", "hello")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestSessionMessage_GoodbyeEndsSession(t *testing.T) {
	h, _, profiles := setupAppHandler(t, testToken)
	seedOnboarded(t, profiles, "dana")
	info := createSession(t, h, "dana")

	rr := postMessage(t, h, info.SessionID, "goodbye")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp messageResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Reply != stubClosing {
		t.Errorf("reply = %q, want %q", resp.Reply, stubClosing)
	}
	if resp.Active {
		t.Error("session should be inactive after goodbye")
	}
	if resp.State != "ending" {
		t.Errorf("state = %q, want %q", resp.State, "ending")
	}

	rr = postMessage(t, h, info.SessionID, "one more question")
	if rr.Code != http.StatusConflict {
		t.Fatalf("status after end = %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestSessionMessage_StreamsSSE(t *testing.T) {
	h, _, profiles := setupAppHandler(t, testToken)
	seedOnboarded(t, profiles, "dana")
	info := createSession(t, h, "dana")

	rr := httptest.NewRecorder()
	body := `{"message":"What is a transformer?","stream":true}`
	req := authReq(http.MethodPost, "/sessions/"+info.SessionID+"/messages", body, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}

	out := rr.Body.String()
	if !strings.Contains(out, `"delta"`) {
		t.Errorf("stream missing delta events: %q", out)
	}
	if !strings.Contains(out, `"done":true`) {
		t.Errorf("stream missing done event: %q", out)
	}
	if !strings.Contains(out, "data: [DONE]") {
		t.Errorf("stream missing terminator: %q", out)
	}

	// Chunks assemble to the full reply.
	var assembled strings.Builder
	for _, line := range strings.Split(out, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}
		var event struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			t.Fatalf("bad event %q: %v", payload, err)
		}
		assembled.WriteString(event.Delta)
	}
	if assembled.String() != stubReply {
		t.Errorf("assembled = %q, want %q", assembled.String(), stubReply)
	}
}

func TestResetSession_ClearsHistory(t *testing.T) {
	h, _, profiles := setupAppHandler(t, testToken)
	seedOnboarded(t, profiles, "dana")
	info := createSession(t, h, "dana")
	postMessage(t, h, info.SessionID, "What is a transformer?")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/sessions/"+info.SessionID+"/reset", "", testToken)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "reset" {
		t.Errorf("status = %q, want %q", resp["status"], "reset")
	}
	if resp["state"] != "idle" {
		t.Errorf("state = %q, want %q", resp["state"], "idle")
	}

	rr = httptest.NewRecorder()
	req = authReq(http.MethodGet, "/sessions/"+info.SessionID+"/history", "", testToken)
	h.ServeHTTP(rr, req)
	var history []llm.Message
	if err := json.NewDecoder(rr.Body).Decode(&history); err != nil {
		t.Fatalf("decode history failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history has %d messages after reset, want 0", len(history))
	}
}

func TestSessionHistory_ReturnsTranscript(t *testing.T) {
	h, _, profiles := setupAppHandler(t, testToken)
	seedOnboarded(t, profiles, "dana")
	info := createSession(t, h, "dana")
	postMessage(t, h, info.SessionID, "What is a transformer?")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/sessions/"+info.SessionID+"/history", "", testToken)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var history []llm.Message
	if err := json.NewDecoder(rr.Body).Decode(&history); err != nil {
		t.Fatalf("decode history failed: %v", err)
	}
	// Welcome greeting, user query, assistant reply.
	if len(history) != 3 {
		t.Fatalf("history has %d messages, want 3", len(history))
	}
	if history[1].Role != llm.RoleUser || history[1].Content != "What is a transformer?" {
		t.Errorf("history[1] = %+v, want the user query", history[1])
	}
	if history[2].Role != llm.RoleAssistant || history[2].Content != stubReply {
		t.Errorf("history[2] = %+v, want the reply", history[2])
	}
}

func TestGetProfile_ReturnsAttributes(t *testing.T) {
	h, _, profiles := setupAppHandler(t, testToken)
	seedOnboarded(t, profiles, "dana")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/profiles/dana", "", testToken)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var p profile.Profile
	if err := json.NewDecoder(rr.Body).Decode(&p); err != nil {
		t.Fatalf("decode profile failed: %v", err)
	}
	if p.UserID != "dana" {
		t.Errorf("user_id = %q, want %q", p.UserID, "dana")
	}
	if p.Value(profile.AttrName) != "Dana" {
		t.Errorf("name = %q, want %q", p.Value(profile.AttrName), "Dana")
	}
	if !p.OnboardingCompleted {
		t.Error("onboarding_completed should be true")
	}
}

func TestUpdateProfile_SetsAttributes(t *testing.T) {
	h, _, profiles := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	body := `{"technical_level":"Advanced","interest_area":"practical applications"}`
	req := authReq(http.MethodPatch, "/profiles/dana", body, testToken)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	p, err := profiles.Get("dana")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Value(profile.AttrTechnicalLevel) != "advanced" {
		t.Errorf("technical_level = %q, want %q", p.Value(profile.AttrTechnicalLevel), "advanced")
	}
	if p.Value(profile.AttrInterestArea) != "applications" {
		t.Errorf("interest_area = %q, want %q", p.Value(profile.AttrInterestArea), "applications")
	}
	if p.Attribute(profile.AttrTechnicalLevel).Source != profile.SourceExplicit {
		t.Errorf("source = %q, want %q", p.Attribute(profile.AttrTechnicalLevel).Source, profile.SourceExplicit)
	}
}

func TestUpdateProfile_UnknownAttribute(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPatch, "/profiles/dana", `{"favorite_color":"blue"}`, testToken)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestListInteractions_RespectsLimit(t *testing.T) {
	h, _, profiles := setupAppHandler(t, testToken)
	seedOnboarded(t, profiles, "dana")
	info := createSession(t, h, "dana")
	postMessage(t, h, info.SessionID, "What is a transformer?")
	postMessage(t, h, info.SessionID, "How does attention work in practice?")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/profiles/dana/interactions?limit=1", "", testToken)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var interactions []storage.Interaction
	if err := json.NewDecoder(rr.Body).Decode(&interactions); err != nil {
		t.Fatalf("decode interactions failed: %v", err)
	}
	if len(interactions) != 1 {
		t.Fatalf("got %d interactions, want 1", len(interactions))
	}
}

func TestSessionWS_UnknownSession(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/sessions/no-such-id/ws", "", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestListInteractions_EmptyIsArray(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/profiles/nobody/interactions", "", testToken)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %q, want empty array", got)
	}
}
