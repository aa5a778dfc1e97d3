package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultRecheckInterval is how long the limiter stays on the fallback before trying the primary again.
const DefaultRecheckInterval = 5 * time.Second

var (
	rateLimitChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_checks_total",
		Help: "Total number of rate limit checks by backend and result.",
	}, []string{"backend", "result"})

	rateLimitDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_degraded_total",
		Help: "Number of times the limiter switched from Redis to the in-memory fallback.",
	})
)

// AdaptiveLimiter uses the primary (shared) limiter while it is healthy. After a primary failure it
// serves from the fallback at half the limit, since every replica then counts on its own, and tries
// the primary again once the recheck interval has passed.
type AdaptiveLimiter struct {
	primary       Limiter
	fallback      Limiter
	recheckInterval time.Duration
	log           *slog.Logger
	now           func() time.Time

	mu            sync.Mutex
	degradedUntil time.Time
	degraded      bool
}

// NewAdaptiveLimiter creates a limiter that moves between primary and fallback backends.
func NewAdaptiveLimiter(primary, fallback Limiter, log *slog.Logger) *AdaptiveLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &AdaptiveLimiter{
		primary:       primary,
		fallback:      fallback,
		recheckInterval: DefaultRecheckInterval,
		log:           log.With(slog.String("component", "adaptive_limiter")),
		now:           time.Now,
	}
}

// Degraded reports whether checks are currently served by the fallback.
func (a *AdaptiveLimiter) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

func (a *AdaptiveLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if a.usePrimary() {
		result, err := a.primary.Check(ctx, key, limit, window)
		if err == nil {
			a.recovered()
			rateLimitChecksTotal.WithLabelValues("primary", resultLabel(result.Allowed)).Inc()
			return result, nil
		}
		a.degrade(key, err)
	}

	result, err := a.fallback.Check(ctx, key, max(limit/2, 1), window)
	if err != nil {
		return nil, err
	}
	rateLimitChecksTotal.WithLabelValues("fallback", resultLabel(result.Allowed)).Inc()

	return result, nil
}

func (a *AdaptiveLimiter) usePrimary() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.degraded || !a.now().Before(a.degradedUntil)
}

func (a *AdaptiveLimiter) degrade(key string, err error) {
	a.mu.Lock()
	wasDegraded := a.degraded
	a.degraded = true
	a.degradedUntil = a.now().Add(a.recheckInterval)
	a.mu.Unlock()

	if !wasDegraded {
		rateLimitDegradedTotal.Inc()
		a.log.Warn("primary limiter failed, using in-memory fallback",
			slog.String("key", key),
			slog.Any("error", err),
		)
	}
}

func (a *AdaptiveLimiter) recovered() {
	a.mu.Lock()
	wasDegraded := a.degraded
	a.degraded = false
	a.mu.Unlock()

	if wasDegraded {
		a.log.Info("primary limiter recovered")
	}
}

func resultLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "rejected"
}
