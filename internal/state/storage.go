// Package state keeps short-lived per-user conversation state for the bot.
package state

import "context"

// Storage defines the persistence contract for user conversation state.
type Storage interface {
	GetState(ctx context.Context, userID int64) (*UserState, error)
	SetState(ctx context.Context, userID int64, state *UserState) error
	ClearState(ctx context.Context, userID int64) error
}
