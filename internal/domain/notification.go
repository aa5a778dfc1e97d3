package domain

import "time"

// Notification is a message waiting in the queue for delivery to a user.
type Notification struct {
	UserID     int64     `json:"user_id"`
	Text       string    `json:"text"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
