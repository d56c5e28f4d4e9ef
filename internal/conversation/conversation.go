// Package conversation owns the per-session dialogue state: the state
// machine, the single-slot pending query, the confirmation context, and
// the bounded message history.
package conversation

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/lexi/internal/intent"
	"github.com/kalambet/lexi/internal/llm"
)

// ErrIllegalTransition is returned by TransitionTo for moves the state
// machine does not permit.
var ErrIllegalTransition = errors.New("illegal state transition")

const (
	// DefaultMaxHistoryPairs bounds history to this many user/assistant pairs.
	DefaultMaxHistoryPairs = 10
	// DefaultPreserveInitialMessages keeps this many leading messages when truncating.
	DefaultPreserveInitialMessages = 2
)

// PendingQuery captures a deferred user query so it can be answered once a
// prerequisite (missing info, confirmation) is satisfied. Immutable once
// saved; consumed exactly once via TakePendingQuery.
type PendingQuery struct {
	Message string
	Intent  intent.Intent
	Topic   string
}

// Conversation tracks the dialogue state for one session. It is not safe
// for concurrent use; callers must process one message at a time.
type Conversation struct {
	state        State
	topic        string
	intent       intent.Intent
	collecting   string
	pending      *PendingQuery
	confirmation string
	active       bool

	history         []llm.Message
	maxPairs        int
	preserveInitial int
}

// New returns a conversation in the INITIALIZING state. Non-positive
// limits fall back to the package defaults.
func New(maxPairs, preserveInitial int) *Conversation {
	if maxPairs <= 0 {
		maxPairs = DefaultMaxHistoryPairs
	}
	if preserveInitial <= 0 {
		preserveInitial = DefaultPreserveInitialMessages
	}
	return &Conversation{
		state:           StateInitializing,
		active:          true,
		maxPairs:        maxPairs,
		preserveInitial: preserveInitial,
	}
}

// State returns the current phase.
func (c *Conversation) State() State {
	return c.state
}

// Active reports whether the conversation accepts further turns.
func (c *Conversation) Active() bool {
	return c.active
}

// TransitionTo moves the machine to next, validating legality. The pending
// query only survives in COLLECTING_INFO, AWAITING_CONFIRMATION, and
// PROCESSING; entering any other state drops it. The confirmation context
// is likewise dropped on leaving AWAITING_CONFIRMATION.
func (c *Conversation) TransitionTo(next State) error {
	if !c.state.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.state, next)
	}
	slog.Debug("conversation state transition", "from", c.state, "to", next)
	c.state = next

	if next == StateEnding {
		c.active = false
	}
	if !pendingCapable(next) {
		c.pending = nil
	}
	if next != StateAwaitingConfirmation {
		c.confirmation = ""
	}
	if next != StateCollectingInfo {
		c.collecting = ""
	}
	return nil
}

func pendingCapable(s State) bool {
	return s == StateCollectingInfo || s == StateAwaitingConfirmation || s == StateProcessing
}

// End marks the conversation over. Calling it again is a no-op.
func (c *Conversation) End() {
	if c.state == StateEnding {
		return
	}
	slog.Debug("conversation state transition", "from", c.state, "to", StateEnding)
	c.state = StateEnding
	c.active = false
	c.pending = nil
	c.confirmation = ""
	c.collecting = ""
}

// ForceIdle resets the machine to IDLE unconditionally, dropping any
// pending query, confirmation, and collection in progress. Used for
// error recovery at the turn boundary; history is preserved.
func (c *Conversation) ForceIdle() {
	slog.Debug("conversation state forced to idle", "from", c.state)
	c.state = StateIdle
	c.pending = nil
	c.confirmation = ""
	c.collecting = ""
}

// Reset clears history, topic, and intent and returns the conversation
// to IDLE, reactivating it if it had ended. The user profile is owned
// elsewhere and is untouched.
func (c *Conversation) Reset() {
	c.history = nil
	c.topic = ""
	c.intent = ""
	c.pending = nil
	c.confirmation = ""
	c.collecting = ""
	c.state = StateIdle
	c.active = true
	slog.Debug("conversation reset")
}

// Topic returns the current topic label.
func (c *Conversation) Topic() string {
	return c.topic
}

// SetTopic records the topic label for the current exchange.
func (c *Conversation) SetTopic(topic string) {
	c.topic = topic
}

// Intent returns the last resolved intent.
func (c *Conversation) Intent() intent.Intent {
	return c.intent
}

// SetIntent records the last resolved intent.
func (c *Conversation) SetIntent(it intent.Intent) {
	c.intent = it
}

// StartInfoCollection enters COLLECTING_INFO for the given attribute,
// staying put when already collecting (moving to the next attribute).
func (c *Conversation) StartInfoCollection(attribute string) error {
	if c.state != StateCollectingInfo {
		if err := c.TransitionTo(StateCollectingInfo); err != nil {
			return err
		}
	}
	c.collecting = attribute
	slog.Debug("started info collection", "attribute", attribute)
	return nil
}

// EndInfoCollection clears the attribute being collected. The caller
// decides the next state.
func (c *Conversation) EndInfoCollection() {
	c.collecting = ""
}

// CollectingAttribute returns the attribute presently being asked for, or
// the empty string when not collecting.
func (c *Conversation) CollectingAttribute() string {
	if c.state != StateCollectingInfo {
		return ""
	}
	return c.collecting
}

// IsCollectingInfo reports whether an attribute is being collected.
func (c *Conversation) IsCollectingInfo() bool {
	return c.state == StateCollectingInfo
}

// SavePendingQuery stores a deferred query. Saving while one exists
// overwrites it; the slot never holds more than one.
func (c *Conversation) SavePendingQuery(message string, it intent.Intent, topic string) {
	if c.pending != nil {
		slog.Debug("overwriting pending query", "old_topic", c.pending.Topic, "new_topic", topic)
	}
	c.pending = &PendingQuery{Message: message, Intent: it, Topic: topic}
}

// PendingQuery returns a copy of the deferred query, if any.
func (c *Conversation) PendingQuery() (PendingQuery, bool) {
	if c.pending == nil {
		return PendingQuery{}, false
	}
	return *c.pending, true
}

// TakePendingQuery returns the deferred query and clears the slot, so a
// saved query is consumed at most once.
func (c *Conversation) TakePendingQuery() (PendingQuery, bool) {
	if c.pending == nil {
		return PendingQuery{}, false
	}
	pq := *c.pending
	c.pending = nil
	return pq, true
}

// ClearPendingQuery drops the deferred query, if any.
func (c *Conversation) ClearPendingQuery() {
	c.pending = nil
}

// RequestConfirmation enters AWAITING_CONFIRMATION. The context string is
// diagnostic only; resolving the confirmation never inspects it.
func (c *Conversation) RequestConfirmation(context string) error {
	if err := c.TransitionTo(StateAwaitingConfirmation); err != nil {
		return err
	}
	c.confirmation = context
	slog.Debug("awaiting confirmation", "context", context)
	return nil
}

// ConfirmationContext returns the diagnostic context of the outstanding
// confirmation, or the empty string.
func (c *Conversation) ConfirmationContext() string {
	return c.confirmation
}

// ClearConfirmation drops the confirmation context.
func (c *Conversation) ClearConfirmation() {
	c.confirmation = ""
}

// IsAwaitingConfirmation reports whether a confirmation is outstanding.
func (c *Conversation) IsAwaitingConfirmation() bool {
	return c.state == StateAwaitingConfirmation
}

// AppendUserMessage adds a user message to the history.
func (c *Conversation) AppendUserMessage(text string) {
	c.history = append(c.history, llm.Message{Role: llm.RoleUser, Content: text})
}

// AppendAssistantMessage adds an assistant message to the history.
func (c *Conversation) AppendAssistantMessage(text string) {
	c.history = append(c.history, llm.Message{Role: llm.RoleAssistant, Content: text})
}

// History returns a copy of the message history.
func (c *Conversation) History() []llm.Message {
	out := make([]llm.Message, len(c.history))
	copy(out, c.history)
	return out
}

// HistoryLen returns the number of messages in the history.
func (c *Conversation) HistoryLen() int {
	return len(c.history)
}

// LastAssistantMessage returns the most recent assistant message.
func (c *Conversation) LastAssistantMessage() (string, bool) {
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Role == llm.RoleAssistant {
			return c.history[i].Content, true
		}
	}
	return "", false
}

// LastUserMessage returns the most recent user message.
func (c *Conversation) LastUserMessage() (string, bool) {
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Role == llm.RoleUser {
			return c.history[i].Content, true
		}
	}
	return "", false
}

// TruncateHistory bounds the history to maxPairs user/assistant pairs,
// keeping the first preserveInitial messages and the most recent ones.
func (c *Conversation) TruncateHistory() {
	limit := c.maxPairs * 2
	if len(c.history) <= limit {
		return
	}
	head := c.preserveInitial
	if head > len(c.history) {
		head = len(c.history)
	}
	tail := limit - head

	truncated := make([]llm.Message, 0, limit)
	truncated = append(truncated, c.history[:head]...)
	truncated = append(truncated, c.history[len(c.history)-tail:]...)
	slog.Debug("truncated conversation history", "from", len(c.history), "to", len(truncated))
	c.history = truncated
}
