package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	userLockKeyPattern = "user:lock:%d"
	lockTTL            = 5 * time.Second
)

var (
	// ErrInvalidTransition indicates that a requested transition is not allowed.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStateNotFound indicates that a user state record does not exist.
	ErrStateNotFound = errors.New("user state not found")
	// ErrStateLocked indicates that a concurrent operation already holds the lock.
	ErrStateLocked = errors.New("state is locked, try again later")
)

// StateMachine describes the operations supported by the conversation state controller.
type StateMachine interface {
	// Current returns the user's state, idle when none is stored.
	Current(ctx context.Context, userID int64) (State, error)
	TransitionTo(ctx context.Context, userID int64, newState State) error
	ClearState(ctx context.Context, userID int64) error
}

type machine struct {
	storage     Storage
	log         *slog.Logger
	redisClient redis.UniversalClient
}

// NewStateMachine creates a controller over storage. Writes are serialised per user with a Redis
// lock when redisClient is set.
func NewStateMachine(storage Storage, log *slog.Logger, redisClient redis.UniversalClient) StateMachine {
	if log == nil {
		log = slog.Default()
	}

	return &machine{
		storage:     storage,
		log:         log,
		redisClient: redisClient,
	}
}

func (m *machine) Current(ctx context.Context, userID int64) (State, error) {
	stored, err := m.storage.GetState(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return StateIdle, nil
		}
		return StateIdle, err
	}
	if stored == nil || stored.CurrentState == "" {
		return StateIdle, nil
	}

	return stored.CurrentState, nil
}

// TransitionTo changes the state if the transition is allowed. Moving to idle clears the record.
func (m *machine) TransitionTo(ctx context.Context, userID int64, newState State) error {
	if err := m.lock(ctx, userID); err != nil {
		return err
	}
	defer m.unlock(ctx, userID)

	current, err := m.Current(ctx, userID)
	if err != nil {
		return err
	}

	if !IsTransitionAllowed(current, newState) {
		m.log.WarnContext(ctx, "invalid state transition",
			slog.Int64("user_id", userID),
			slog.String("from", string(current)),
			slog.String("to", string(newState)),
		)
		return ErrInvalidTransition
	}

	if newState == StateIdle {
		return m.storage.ClearState(ctx, userID)
	}

	return m.storage.SetState(ctx, userID, &UserState{UserID: userID, CurrentState: newState})
}

func (m *machine) ClearState(ctx context.Context, userID int64) error {
	if err := m.lock(ctx, userID); err != nil {
		return err
	}
	defer m.unlock(ctx, userID)

	return m.storage.ClearState(ctx, userID)
}

func (m *machine) lock(ctx context.Context, userID int64) error {
	if m.redisClient == nil {
		return nil
	}

	key := fmt.Sprintf(userLockKeyPattern, userID)
	acquired, err := m.redisClient.SetNX(ctx, key, 1, lockTTL).Result()
	if err != nil {
		m.log.ErrorContext(ctx, "failed to acquire user state lock", slog.Int64("user_id", userID), slog.Any("error", err))
		return err
	}

	if !acquired {
		m.log.WarnContext(ctx, "user state lock already held", slog.Int64("user_id", userID))
		return ErrStateLocked
	}

	return nil
}

func (m *machine) unlock(ctx context.Context, userID int64) {
	if m.redisClient == nil {
		return
	}

	key := fmt.Sprintf(userLockKeyPattern, userID)
	if err := m.redisClient.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
		m.log.ErrorContext(ctx, "failed to release user state lock", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
