package conversation

// State identifies a phase of the conversation lifecycle.
type State string

const (
	StateInitializing         State = "initializing"
	StateOnboarding           State = "onboarding"
	StateIdle                 State = "idle"
	StateCollectingInfo       State = "collecting_info"
	StateProcessing           State = "processing"
	StateResponding           State = "responding"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateEnding               State = "ending"
)

// transitions lists the legal next states for each state, except for the
// two universal rules handled in CanTransitionTo: any non-terminal state
// may enter AWAITING_CONFIRMATION, and any state may enter ENDING.
var transitions = map[State]map[State]bool{
	StateInitializing: {
		StateOnboarding: true,
		StateIdle:       true,
	},
	StateOnboarding: {
		StateCollectingInfo: true,
		StateIdle:           true,
	},
	StateIdle: {
		StateCollectingInfo: true,
		StateProcessing:     true,
	},
	StateCollectingInfo: {
		StateOnboarding: true,
		StateProcessing: true,
		StateIdle:       true,
	},
	StateProcessing: {
		StateResponding: true,
	},
	StateResponding: {
		StateIdle: true,
	},
	StateAwaitingConfirmation: {
		StateIdle:       true,
		StateProcessing: true,
	},
	StateEnding: {},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s State) CanTransitionTo(next State) bool {
	if s == StateEnding {
		return false
	}
	if next == StateEnding || next == StateAwaitingConfirmation {
		return true
	}
	return transitions[s][next]
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateEnding
}
