package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/Proton-105/premium-bot/internal/errors"
)

// Worker provides APIs to register handlers and control the background worker lifecycle.
type Worker interface {
	RegisterHandler(taskType string, handler asynq.Handler)
	Start() error
	Shutdown()
}

// WorkerConfig bounds the consumer. Concurrency is the number of in-flight deliveries.
type WorkerConfig struct {
	Queue           string
	Concurrency     int
	ShutdownTimeout time.Duration
}

type worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *slog.Logger
}

var _ Worker = (*worker)(nil)

// NewWorker constructs a Worker backed by an asynq.Server instance.
func NewWorker(redisOpt asynq.RedisConnOpt, cfg WorkerConfig, log *slog.Logger) Worker {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Queues:          map[string]int{queueOrDefault(cfg.Queue): 1},
		Concurrency:     cfg.Concurrency,
		ShutdownTimeout: cfg.ShutdownTimeout,
		RetryDelayFunc:  retryDelay,
		Logger:          NewAsynqLogger(log),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.WarnContext(ctx, "jobs worker: task failed",
				slog.String("task_type", task.Type()),
				slog.Int("retried", retried),
				slog.Int("max_retry", maxRetry),
				slog.Any("error", err),
			)
		}),
	})

	return &worker{
		server: server,
		mux:    asynq.NewServeMux(),
		log:    log,
	}
}

// retryDelay keeps asynq's exponential schedule but never retries before a flood wait runs out.
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	return max(asynq.DefaultRetryDelayFunc(n, err, task), apperrors.RetryAfter(err))
}

// RegisterHandler wires a task type to the provided handler.
func (w *worker) RegisterHandler(taskType string, handler asynq.Handler) {
	w.mux.Handle(taskType, handler)
}

// Start begins processing in the background. Shutdown drains in-flight tasks.
func (w *worker) Start() error {
	w.log.InfoContext(context.Background(), "jobs worker: starting processing loop")

	return w.server.Start(w.mux)
}

// Shutdown waits up to the configured timeout for in-flight tasks; unfinished tasks go back to
// the queue.
func (w *worker) Shutdown() {
	w.log.InfoContext(context.Background(), "jobs worker: shutting down")

	w.server.Shutdown()
}
