// Package session orchestrates one user's dialogue. A Session owns the
// conversation state machine and the user's profile, routes each message
// through the confirmation and collection sub-protocols, classifies fresh
// queries, and drives response generation. One message is processed at a
// time; concurrent calls serialize on the session lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/lexi/internal/collect"
	"github.com/kalambet/lexi/internal/conversation"
	"github.com/kalambet/lexi/internal/intent"
	"github.com/kalambet/lexi/internal/llm"
	"github.com/kalambet/lexi/internal/profile"
	"github.com/kalambet/lexi/internal/respond"
	"github.com/kalambet/lexi/internal/storage"
)

// Sentinel errors for the stages of a turn. Turn failures are absorbed into
// an apology reply; these surface in logs and tests via errors.Is.
var (
	ErrEnded              = errors.New("session has ended")
	ErrConversation       = errors.New("conversation state error")
	ErrInfoCollection     = errors.New("info collection error")
	ErrResponseGeneration = errors.New("response generation error")
)

// Confirmation replies when no deferred query is waiting.
const (
	confirmedIdleReply = "Great! What would you like to know about LLMs today?"
	rejectedIdleReply  = "No problem. What would you like to know about LLMs instead?"
)

// Classifier resolves a query's topic category and topic continuity.
type Classifier interface {
	Classify(ctx context.Context, query string) intent.Result
	IsFollowup(ctx context.Context, message string, history []llm.Message) bool
}

// Responder generates user-facing replies.
type Responder interface {
	Generate(ctx context.Context, query string, it intent.Intent, history []llm.Message, p *profile.Profile, topic string) (string, error)
	GenerateStream(ctx context.Context, query string, it intent.Intent, history []llm.Message, p *profile.Profile, topic string, fn llm.StreamFunc) (string, error)
	Closing(ctx context.Context, history []llm.Message, p *profile.Profile) string
	ClosingStream(ctx context.Context, history []llm.Message, p *profile.Profile, fn llm.StreamFunc) string
}

// Extractor mines profile attributes from ordinary messages.
type Extractor interface {
	Extract(ctx context.Context, p *profile.Profile, message string, now time.Time) []string
}

// Profiles loads and persists user profiles. Implemented by profile.Manager.
type Profiles interface {
	Get(userID string) (profile.Profile, error)
	Save(p profile.Profile) error
}

// InteractionLog records completed turns. A nil log disables recording.
type InteractionLog interface {
	SaveInteraction(i storage.Interaction) error
}

// Config bounds a session's conversation and collection pacing.
type Config struct {
	MaxHistoryPairs int
	PreserveInitial int
	Policy          collect.Policy
}

// Deps are the collaborators a session drives. Profiles, Classifier, and
// Responder are required; Extractor, Log, and Clock are optional.
type Deps struct {
	Profiles   Profiles
	Classifier Classifier
	Responder  Responder
	Extractor  Extractor
	Log        InteractionLog
	Clock      func() time.Time
}

// Session is one user's live dialogue.
type Session struct {
	ID     string
	UserID string

	mu   sync.Mutex
	conv *conversation.Conversation
	prof profile.Profile

	profiles   Profiles
	classifier Classifier
	responder  Responder
	extractor  Extractor
	log        InteractionLog
	policy     collect.Policy
	now        func() time.Time

	lastResult intent.Result
	lastActive time.Time
}

// New creates a session for the user, loading (or creating) their profile.
func New(id, userID string, cfg Config, deps Deps) (*Session, error) {
	if deps.Profiles == nil || deps.Classifier == nil || deps.Responder == nil {
		return nil, errors.New("session: profiles, classifier, and responder are required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	prof, err := deps.Profiles.Get(userID)
	if err != nil {
		return nil, fmt.Errorf("load profile for session: %w", err)
	}
	policy := cfg.Policy
	if policy == (collect.Policy{}) {
		policy = collect.DefaultPolicy()
	}
	return &Session{
		ID:         id,
		UserID:     userID,
		conv:       conversation.New(cfg.MaxHistoryPairs, cfg.PreserveInitial),
		prof:       prof,
		profiles:   deps.Profiles,
		classifier: deps.Classifier,
		responder:  deps.Responder,
		extractor:  deps.Extractor,
		log:        deps.Log,
		policy:     policy,
		now:        now,
		lastActive: now(),
	}, nil
}

// Welcome opens the conversation. Fresh users are walked through onboarding
// starting with their name; returning users get the standard greeting.
// Calling it again after the conversation has started just repeats the
// greeting.
func (s *Session) Welcome() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conv.State() != conversation.StateInitializing {
		return respond.Welcome()
	}

	now := s.now()
	s.lastActive = now
	s.prof.TrackInteraction("", now)

	if !s.prof.OnboardingCompleted {
		if err := s.startOnboarding(); err != nil {
			slog.Error("could not start onboarding", "session", s.ID, "error", err)
			return respond.WelcomeFallback()
		}
		prompt := collect.PromptFor(profile.AttrName, &s.prof)
		s.conv.AppendAssistantMessage(prompt)
		s.saveProfile()
		return prompt
	}

	if err := s.conv.TransitionTo(conversation.StateIdle); err != nil {
		slog.Error("could not settle into idle", "session", s.ID, "error", err)
		return respond.WelcomeFallback()
	}
	greeting := respond.Welcome()
	s.conv.AppendAssistantMessage(greeting)
	s.saveProfile()
	return greeting
}

func (s *Session) startOnboarding() error {
	if err := s.conv.TransitionTo(conversation.StateOnboarding); err != nil {
		return err
	}
	return s.conv.StartInfoCollection(profile.AttrName)
}

// ProcessMessage runs one dialogue turn and returns the reply. Internal
// failures degrade to an apology; the error is non-nil only when the
// session cannot reply at all (it has ended, or the caller is gone).
func (s *Session) ProcessMessage(ctx context.Context, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.process(ctx, message, nil)
}

// ProcessMessageStreaming is ProcessMessage delivered incrementally through
// fn. Single-piece replies (collection prompts, confirmations) arrive as
// one chunk; generated answers stream as the model produces them. The
// returned string is always the complete reply.
func (s *Session) ProcessMessageStreaming(ctx context.Context, message string, fn llm.StreamFunc) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.process(ctx, message, fn)
}

func (s *Session) process(ctx context.Context, message string, stream llm.StreamFunc) (string, error) {
	now := s.now()

	// Goodbyes short-circuit the whole pipeline. They are answered even on
	// an ended conversation: a repeated goodbye gets a goodbye back.
	if conversation.IsEndRequest(message) {
		s.lastActive = now
		return s.end(ctx, message, stream)
	}

	if !s.conv.Active() {
		return "", ErrEnded
	}
	s.lastActive = now

	// First contact without an explicit Welcome settles into idle.
	if s.conv.State() == conversation.StateInitializing {
		if err := s.conv.TransitionTo(conversation.StateIdle); err != nil {
			return "", fmt.Errorf("%w: %v", ErrConversation, err)
		}
	}

	s.prof.TrackInteraction(s.conv.Topic(), now)
	s.conv.AppendUserMessage(message)

	reply, err := s.turn(ctx, message, stream, now)
	if err != nil {
		slog.Error("turn failed", "session", s.ID, "state", s.conv.State(), "error", err)
		s.conv.ForceIdle()
		reply = respond.Apology(&s.prof)
		s.saveProfile()
		s.record(message, reply, now)
		return reply, emit(stream, reply)
	}

	s.saveProfile()
	s.record(message, reply, now)
	return reply, nil
}

// turn routes one message based on the machine's state: an outstanding
// confirmation first, then an in-flight collection, then the query pipeline.
func (s *Session) turn(ctx context.Context, message string, stream llm.StreamFunc, now time.Time) (string, error) {
	if s.conv.IsAwaitingConfirmation() {
		reply, handled, err := s.resolveConfirmation(ctx, message, stream)
		if err != nil || handled {
			return reply, err
		}
	}

	if s.conv.IsCollectingInfo() {
		return s.collectTurn(ctx, message, stream, now)
	}

	return s.queryTurn(ctx, message, stream, now)
}

// resolveConfirmation settles an outstanding confirmation. A confirmation
// resumes the deferred query when one is waiting; a rejection drops it.
// Anything else abandons the confirmation and reports handled=false so the
// message runs as a fresh query.
func (s *Session) resolveConfirmation(ctx context.Context, message string, stream llm.StreamFunc) (string, bool, error) {
	switch {
	case conversation.IsConfirmation(message):
		if pending, ok := s.conv.TakePendingQuery(); ok {
			slog.Info("confirmed, resuming deferred query", "session", s.ID, "topic", pending.Topic)
			reply, err := s.respondTo(ctx, pending.Message, pending.Intent, pending.Topic, stream)
			return reply, true, err
		}
		if err := s.conv.TransitionTo(conversation.StateIdle); err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrConversation, err)
		}
		s.conv.AppendAssistantMessage(confirmedIdleReply)
		return confirmedIdleReply, true, emit(stream, confirmedIdleReply)

	case conversation.IsRejection(message):
		slog.Info("rejected, dropping deferred query", "session", s.ID)
		s.conv.ClearPendingQuery()
		if err := s.conv.TransitionTo(conversation.StateIdle); err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrConversation, err)
		}
		s.conv.AppendAssistantMessage(rejectedIdleReply)
		return rejectedIdleReply, true, emit(stream, rejectedIdleReply)

	default:
		// Neither; the user moved on. Leaving the confirmation state drops
		// the stale pending query so it can never resurface later.
		s.conv.ClearConfirmation()
		if err := s.conv.TransitionTo(conversation.StateIdle); err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrConversation, err)
		}
		return "", false, nil
	}
}

// collectTurn feeds the user's answer to the collector and either asks the
// next question, resumes the deferred query with a real answer, or settles
// back into idle with the collector's completion message.
func (s *Session) collectTurn(ctx context.Context, message string, stream llm.StreamFunc, now time.Time) (string, error) {
	res, err := collect.ProcessResponse(s.conv, &s.prof, message, now)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInfoCollection, err)
	}

	if !res.Done {
		s.conv.AppendAssistantMessage(res.Prompt)
		return res.Prompt, emit(stream, res.Prompt)
	}

	if res.Completion == "" {
		pending, ok := s.conv.TakePendingQuery()
		if !ok {
			return "", fmt.Errorf("%w: collection finished expecting a deferred query", ErrConversation)
		}
		slog.Info("collection complete, resuming deferred query", "session", s.ID, "topic", pending.Topic)
		return s.respondTo(ctx, pending.Message, pending.Intent, pending.Topic, stream)
	}

	if err := s.conv.TransitionTo(conversation.StateIdle); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversation, err)
	}
	s.conv.AppendAssistantMessage(res.Completion)
	return res.Completion, emit(stream, res.Completion)
}

// queryTurn handles a fresh query or a follow-up: implicit extraction,
// topic continuity, classification, the two collection triggers, and
// finally response generation.
func (s *Session) queryTurn(ctx context.Context, message string, stream llm.StreamFunc, now time.Time) (string, error) {
	if s.extractor != nil {
		s.extractor.Extract(ctx, &s.prof, message, now)
	}

	it := s.conv.Intent()
	if it != "" && s.classifier.IsFollowup(ctx, message, s.conv.History()) {
		// Same topic continues under the same intent. A very short
		// follow-up like "embeddings" names a narrower topic.
		if len(strings.Fields(message)) <= 2 {
			s.conv.SetTopic(strings.ToLower(strings.TrimSpace(message)))
		}
		slog.Debug("follow-up under existing intent", "session", s.ID, "intent", it)
	} else {
		result := s.classifier.Classify(ctx, message)
		it = result.Intent
		s.lastResult = result
		s.conv.SetIntent(it)
		s.conv.SetTopic(strings.ToLower(strings.TrimSpace(message)))
		slog.Debug("classified query", "session", s.ID, "intent", it, "confidence", result.Confidence)
	}

	if attr, need := collect.NeedMoreInfo(&s.prof, it); need {
		return s.deferForCollection(message, it, attr, stream)
	}
	if attr, ok := s.policy.Opportunity(s.conv, &s.prof, now); ok {
		return s.deferForCollection(message, it, attr, stream)
	}

	return s.respondTo(ctx, message, it, s.conv.Topic(), stream)
}

// deferForCollection parks the query in the pending slot and asks the
// collection question instead. The slot holds one query; the newest wins.
func (s *Session) deferForCollection(message string, it intent.Intent, attr string, stream llm.StreamFunc) (string, error) {
	s.conv.SavePendingQuery(message, it, s.conv.Topic())
	if err := s.conv.StartInfoCollection(attr); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversation, err)
	}
	prompt := collect.PromptFor(attr, &s.prof)
	s.conv.AppendAssistantMessage(prompt)
	return prompt, emit(stream, prompt)
}

// respondTo generates the reply for query under it, walking the machine
// through PROCESSING and RESPONDING and back to IDLE.
func (s *Session) respondTo(ctx context.Context, query string, it intent.Intent, topic string, stream llm.StreamFunc) (string, error) {
	if err := s.conv.TransitionTo(conversation.StateProcessing); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversation, err)
	}
	s.conv.TruncateHistory()
	if err := s.conv.TransitionTo(conversation.StateResponding); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversation, err)
	}

	// The generator supplies the query as the final user turn; drop it from
	// the tail of the transcript so it is not sent twice.
	history := s.conv.History()
	if n := len(history); n > 0 && history[n-1].Role == llm.RoleUser && history[n-1].Content == query {
		history = history[:n-1]
	}

	var reply string
	var err error
	if stream != nil {
		reply, err = s.responder.GenerateStream(ctx, query, it, history, &s.prof, topic, stream)
	} else {
		reply, err = s.responder.Generate(ctx, query, it, history, &s.prof, topic)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResponseGeneration, err)
	}

	s.conv.AppendAssistantMessage(reply)
	if err := s.conv.TransitionTo(conversation.StateIdle); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversation, err)
	}
	return reply, nil
}

// end closes the conversation on an explicit request: the machine enters
// ENDING first so nothing can interleave, then the goodbye is generated
// from the final transcript without the goodbye request itself. A goodbye
// on an already-ended conversation regenerates the closing and touches
// nothing else.
func (s *Session) end(ctx context.Context, message string, stream llm.StreamFunc) (string, error) {
	slog.Info("end requested", "session", s.ID)
	first := s.conv.Active()
	s.conv.End()

	var closing string
	if stream != nil {
		closing = s.responder.ClosingStream(ctx, s.conv.History(), &s.prof, stream)
	} else {
		closing = s.responder.Closing(ctx, s.conv.History(), &s.prof)
	}
	if !first {
		return closing, nil
	}
	s.conv.AppendAssistantMessage(closing)
	s.saveProfile()
	s.record(message, closing, s.now())
	return closing, nil
}

// End closes the session without a user turn: no goodbye is generated.
// Safe to call repeatedly.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.conv.Active() {
		return
	}
	s.conv.End()
	s.saveProfile()
}

// Reset clears the conversation (history, topic, intent, machine state)
// and reactivates the session. The profile survives; resets forget the
// dialogue, not the user.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Reset()
	s.lastResult = intent.Result{}
	slog.Info("conversation reset", "session", s.ID)
}

// IsActive reports whether the session still accepts messages.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Active()
}

// LastActive reports when the session last processed a call.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// State reports the conversation machine's current state.
func (s *Session) State() conversation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.State()
}

// Intent reports the current conversation intent, empty before the first
// classified query.
func (s *Session) Intent() intent.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Intent()
}

// Profile returns a snapshot of the session's profile.
func (s *Session) Profile() profile.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.prof
	cp.Attributes = make(map[string]profile.Attribute, len(s.prof.Attributes))
	for k, v := range s.prof.Attributes {
		cp.Attributes[k] = v
	}
	cp.TopicHistory = append([]string(nil), s.prof.TopicHistory...)
	return cp
}

// History returns a copy of the conversation transcript.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.History()
}

func (s *Session) saveProfile() {
	if err := s.profiles.Save(s.prof); err != nil {
		slog.Warn("could not persist profile", "session", s.ID, "user", s.UserID, "error", err)
	}
}

func (s *Session) record(userMessage, botMessage string, now time.Time) {
	if s.log == nil {
		return
	}
	err := s.log.SaveInteraction(storage.Interaction{
		ID:          uuid.NewString(),
		UserID:      s.UserID,
		CreatedAt:   now,
		UserMessage: userMessage,
		BotMessage:  botMessage,
		Intent:      string(s.conv.Intent()),
		Confidence:  s.lastResult.Confidence,
		State:       string(s.conv.State()),
	})
	if err != nil {
		slog.Warn("could not record interaction", "session", s.ID, "error", err)
	}
}

// emit delivers a fully formed reply through the stream when one is set.
func emit(stream llm.StreamFunc, text string) error {
	if stream == nil {
		return nil
	}
	return stream(text)
}
