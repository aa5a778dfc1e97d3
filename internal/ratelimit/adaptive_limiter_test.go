package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type switchableLimiter struct {
	down  bool
	calls int
}

func (s *switchableLimiter) Check(context.Context, string, int, time.Duration) (*Result, error) {
	s.calls++
	if s.down {
		return nil, errors.New("connection refused")
	}
	return &Result{Allowed: true, Remaining: 1}, nil
}

func TestAdaptiveLimiter_RetriesPrimaryAfterInterval(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	primary := &switchableLimiter{down: true}
	limiter := NewAdaptiveLimiter(primary, NewMemoryLimiter(testLogger()), testLogger())
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := limiter.Check(ctx, "k", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, limiter.Degraded())
	assert.Equal(t, 1, primary.calls)

	_, err = limiter.Check(ctx, "k", 10, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls, "primary is not retried inside the recheck interval")

	primary.down = false
	now = now.Add(DefaultRecheckInterval)

	res, err := limiter.Check(ctx, "k", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, primary.calls)
	assert.False(t, limiter.Degraded())
}

func TestAdaptiveLimiter_FallbackErrorPropagates(t *testing.T) {
	limiter := NewAdaptiveLimiter(failingLimiter{}, failingLimiter{}, testLogger())

	_, err := limiter.Check(context.Background(), "k", 10, time.Minute)
	assert.Error(t, err)
}
