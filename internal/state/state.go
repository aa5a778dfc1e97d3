package state

import "time"

// State represents a conversation state of one user.
type State string

const (
	// StateIdle is the default: free text goes to the assistant.
	StateIdle State = "idle"
	// StateAwaitingFeedback means the next text message is forwarded to the admin as feedback.
	StateAwaitingFeedback State = "awaiting_feedback"
)

// UserState captures the current conversation state for a Telegram user.
type UserState struct {
	UserID       int64     `json:"user_id"`
	CurrentState State     `json:"current_state"`
	UpdatedAt    time.Time `json:"updated_at"`
}
