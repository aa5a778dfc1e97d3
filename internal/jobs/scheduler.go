package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

type Scheduler interface {
	RegisterSweep(interval time.Duration) error
	Start() error
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	queue          string
	log            *slog.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, queue string, log *slog.Logger) Scheduler {
	if log == nil {
		log = slog.Default()
	}

	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Location: time.UTC,
			Logger:   NewAsynqLogger(log),
		}),
		queue: queue,
		log:   log,
	}
}

// RegisterSweep schedules the expiry sweep every interval.
func (s *scheduler) RegisterSweep(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.asynqScheduler.Register(spec, NewSweepTask(s.queue, interval)); err != nil {
		return err
	}

	s.log.InfoContext(context.Background(), "scheduler: registered sweep task", slog.String("spec", spec))

	return nil
}

func (s *scheduler) Start() error {
	s.log.InfoContext(context.Background(), "scheduler: starting")

	return s.asynqScheduler.Start()
}

func (s *scheduler) Shutdown() {
	s.log.InfoContext(context.Background(), "scheduler: shutting down")

	s.asynqScheduler.Shutdown()
}
