package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/Proton-105/premium-bot/internal/errors"
	"github.com/Proton-105/premium-bot/internal/jobs"
	"github.com/Proton-105/premium-bot/internal/repository"
	"github.com/Proton-105/premium-bot/pkg/metrics"
)

var errNoChat = errors.New("user has no delivery address")

// Sender is the delivery capability.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// ChatCache caches chat ids in front of the user repository.
type ChatCache interface {
	ChatID(ctx context.Context, userID int64) (int64, bool, error)
	SetChatID(ctx context.Context, userID, chatID int64) error
	Invalidate(ctx context.Context, userID int64) error
}

// Throttle bounds the global send rate.
type Throttle interface {
	Wait(ctx context.Context) error
}

// Deliverer consumes notification tasks. Transient failures are retried in-process with bounded
// backoff; exhausted or rejected messages are logged and acknowledged so they never block the queue.
// A cancelled context (shutdown) hands the task back to the broker.
type Deliverer struct {
	users    repository.UserRepository
	cache    ChatCache
	throttle Throttle
	sender   Sender
	policy   apperrors.RetryPolicy
	log      *slog.Logger
}

var _ asynq.Handler = (*Deliverer)(nil)

type DelivererOption func(*Deliverer)

func WithChatCache(cache ChatCache) DelivererOption {
	return func(d *Deliverer) {
		d.cache = cache
	}
}

func WithThrottle(throttle Throttle) DelivererOption {
	return func(d *Deliverer) {
		d.throttle = throttle
	}
}

func NewDeliverer(users repository.UserRepository, sender Sender, policy apperrors.RetryPolicy, log *slog.Logger, opts ...DelivererOption) *Deliverer {
	if log == nil {
		log = slog.Default()
	}

	d := &Deliverer{
		users:  users,
		sender: sender,
		policy: policy,
		log:    log.With(slog.String("component", "notify_consumer")),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Deliverer) ProcessTask(ctx context.Context, t *asynq.Task) error {
	n, err := jobs.ParseNotifyTask(t)
	if err != nil {
		d.log.ErrorContext(ctx, "dropping undecodable notification", slog.Any("error", err))
		metrics.RecordDelivery("malformed", 0)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	start := time.Now()
	attrs := []any{slog.Int64("user_id", n.UserID), slog.Duration("queued_for", start.Sub(n.EnqueuedAt))}

	var chatID int64
	err = apperrors.WithRetryPolicy(ctx, d.policy, func() error {
		if chatID == 0 {
			id, err := d.resolveChat(ctx, n.UserID)
			if err != nil {
				return err
			}
			chatID = id
		}

		if d.throttle != nil {
			if err := d.throttle.Wait(ctx); err != nil {
				return err
			}
		}

		return d.sender.Send(ctx, chatID, n.Text)
	})

	switch {
	case err == nil:
		metrics.RecordDelivery("delivered", time.Since(start))
		d.log.DebugContext(ctx, "notification delivered", attrs...)
		return nil
	case ctx.Err() != nil:
		metrics.RecordDelivery("requeued", time.Since(start))
		d.log.WarnContext(ctx, "delivery interrupted, returning task to queue", attrs...)
		return ctx.Err()
	case errors.Is(err, errNoChat):
		metrics.RecordDelivery("no_chat", time.Since(start))
		d.log.WarnContext(ctx, "dropping notification for user without chat", attrs...)
		return nil
	case errors.Is(err, apperrors.KindDeliveryRejected):
		metrics.RecordDelivery("rejected", time.Since(start))
		d.invalidate(ctx, n.UserID)
		d.log.WarnContext(ctx, "notification rejected by platform", append(attrs, slog.Any("error", err))...)
		return nil
	default:
		metrics.RecordDelivery("dropped", time.Since(start))
		d.log.ErrorContext(ctx, "notification dropped after retries", append(attrs, slog.Any("error", err))...)
		return nil
	}
}

func (d *Deliverer) resolveChat(ctx context.Context, userID int64) (int64, error) {
	if d.cache != nil {
		chatID, ok, err := d.cache.ChatID(ctx, userID)
		if err != nil {
			d.log.WarnContext(ctx, "chat cache lookup failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		if ok && chatID != 0 {
			return chatID, nil
		}
	}

	user, err := d.users.GetUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, errNoChat
	}
	if err != nil {
		return 0, apperrors.NewDatabaseError(fmt.Errorf("resolve chat for user %d: %w", userID, err))
	}
	if user.ChatID == nil || *user.ChatID == 0 {
		return 0, errNoChat
	}

	if d.cache != nil {
		if err := d.cache.SetChatID(ctx, userID, *user.ChatID); err != nil {
			d.log.WarnContext(ctx, "chat cache store failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}

	return *user.ChatID, nil
}

func (d *Deliverer) invalidate(ctx context.Context, userID int64) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Invalidate(ctx, userID); err != nil {
		d.log.WarnContext(ctx, "chat cache invalidate failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
