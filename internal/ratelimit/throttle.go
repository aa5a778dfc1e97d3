package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

const minThrottleDelay = 10 * time.Millisecond

// Throttle blocks callers until the shared limiter admits them. It keeps outbound delivery under
// the messaging platform's global send rate.
type Throttle struct {
	limiter Limiter
	key     string
	rate    int
	window  time.Duration
	log     *slog.Logger
}

// NewThrottle admits at most rate calls per window under key. A non-positive rate disables it.
func NewThrottle(limiter Limiter, key string, rate int, window time.Duration, log *slog.Logger) *Throttle {
	if log == nil {
		log = slog.Default()
	}
	if window <= 0 {
		window = time.Second
	}

	return &Throttle{
		limiter: limiter,
		key:     key,
		rate:    rate,
		window:  window,
		log:     log,
	}
}

// Wait returns once a slot is granted or ctx is done. Limiter failures let the call through.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.rate <= 0 || t.limiter == nil {
		return nil
	}

	for {
		result, err := t.limiter.Check(ctx, t.key, t.rate, t.window)
		if err != nil {
			t.log.WarnContext(ctx, "send throttle unavailable", slog.String("key", t.key), slog.Any("error", err))
			return nil
		}
		if result.Allowed {
			return nil
		}

		delay := min(max(time.Until(result.ResetAt), minThrottleDelay), t.window)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
