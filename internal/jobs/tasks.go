package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/premium-bot/internal/domain"
)

const (
	TaskTypeNotify = "notification:deliver"
	TaskTypeSweep  = "maintenance:sweep"
)

const DefaultQueue = "notifications"

// NewNotifyTask wraps one notification. Delivery retries happen inside the handler, so asynq
// only re-runs the task after a crash or an interrupted shutdown.
func NewNotifyTask(queue string, n domain.Notification) (*asynq.Task, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeNotify, payload,
		asynq.Queue(queueOrDefault(queue)),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
	), nil
}

// ParseNotifyTask decodes a notification payload.
func ParseNotifyTask(t *asynq.Task) (domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return domain.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.UserID == 0 {
		return domain.Notification{}, fmt.Errorf("notification without user id")
	}

	return n, nil
}

// NewSweepTask is the periodic expiry sweep. Unique keeps at most one pending sweep per interval.
func NewSweepTask(queue string, interval time.Duration) *asynq.Task {
	return asynq.NewTask(TaskTypeSweep, nil,
		asynq.Queue(queueOrDefault(queue)),
		asynq.MaxRetry(0),
		asynq.Unique(interval),
	)
}

func queueOrDefault(queue string) string {
	if queue == "" {
		return DefaultQueue
	}
	return queue
}
