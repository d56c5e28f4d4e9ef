package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one completed user/assistant exchange, recorded for
// history inspection and the status endpoint.
type Interaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UserMessage string    `json:"user_message"`
	BotMessage  string    `json:"bot_message"`
	Intent      string    `json:"intent,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	State       string    `json:"state,omitempty"`
}
