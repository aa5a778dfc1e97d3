// Package notify decouples deciding to message a user from delivering the message.
// Queue is the producer; Deliverer is the asynq consumer.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/premium-bot/internal/domain"
	apperrors "github.com/Proton-105/premium-bot/internal/errors"
	"github.com/Proton-105/premium-bot/internal/jobs"
	"github.com/Proton-105/premium-bot/pkg/metrics"
)

// Queue enqueues notifications onto the durable task queue.
type Queue struct {
	jobs  jobs.Manager
	queue string
	log   *slog.Logger
	now   func() time.Time
}

func NewQueue(manager jobs.Manager, queue string, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}

	return &Queue{
		jobs:  manager,
		queue: queue,
		log:   log.With(slog.String("component", "notify_queue")),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue durably stores one message for userID. It returns once the broker has accepted it.
func (q *Queue) Enqueue(ctx context.Context, userID int64, text string) error {
	if userID == 0 {
		return apperrors.NewValidationError("notification requires a user id")
	}
	if text == "" {
		return apperrors.NewValidationError("notification text is empty")
	}

	task, err := jobs.NewNotifyTask(q.queue, domain.Notification{
		UserID:     userID,
		Text:       text,
		EnqueuedAt: q.now(),
	})
	if err != nil {
		metrics.RecordEnqueue("error")
		return fmt.Errorf("build notification task: %w", err)
	}

	if _, err := q.jobs.Enqueue(ctx, task); err != nil {
		metrics.RecordEnqueue("error")
		return apperrors.NewExternalAPIError("queue", err)
	}

	metrics.RecordEnqueue("ok")
	q.log.DebugContext(ctx, "notification enqueued", slog.Int64("user_id", userID))

	return nil
}

// Broadcast enqueues text once per distinct user id. It keeps going past failures and returns
// how many messages were enqueued together with the joined errors.
func (q *Queue) Broadcast(ctx context.Context, userIDs []int64, text string) (int, error) {
	seen := make(map[int64]struct{}, len(userIDs))
	enqueued := 0

	var errs []error
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		if err := q.Enqueue(ctx, id, text); err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", id, err))
			continue
		}
		enqueued++
	}

	q.log.InfoContext(ctx, "broadcast enqueued",
		slog.Int("recipients", len(seen)),
		slog.Int("enqueued", enqueued),
		slog.Int("failed", len(errs)),
	)

	return enqueued, errors.Join(errs...)
}
