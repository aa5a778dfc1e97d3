// Package idempotency short-circuits concurrent duplicates of the same operation before they
// reach the database. It is an optimisation: the authoritative guard is the row lock taken by
// the operation itself, so store failures fail open.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var ErrRequestInProgress = errors.New("request with this key is already in progress")

type Operation func(ctx context.Context) error

// Manager runs an operation while holding an in-flight marker for its key.
type Manager interface {
	Execute(ctx context.Context, key string, fn Operation) error
}

type manager struct {
	store   Store
	log     *slog.Logger
	lockTTL time.Duration
}

func NewManager(store Store, lockTTL time.Duration, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}

	return &manager{
		store:   store,
		log:     log,
		lockTTL: lockTTL,
	}
}

func (m *manager) Execute(ctx context.Context, key string, fn Operation) error {
	if fn == nil {
		return errors.New("operation fn cannot be nil")
	}

	token := uuid.NewString()
	locked, err := m.store.Lock(ctx, key, token, m.lockTTL)
	if err != nil {
		m.log.WarnContext(ctx, "idempotency store unavailable, running without guard",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return fn(ctx)
	}
	if !locked {
		return ErrRequestInProgress
	}

	defer func() {
		// the caller's context may already be cancelled
		if err := m.store.Release(context.WithoutCancel(ctx), key, token); err != nil {
			m.log.Warn("failed to release idempotency lock", slog.String("key", key), slog.Any("error", err))
		}
	}()

	return fn(ctx)
}
