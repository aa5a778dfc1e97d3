// Package sweep enforces expiry invariants on entitlements and payment links.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/premium-bot/internal/entitlement"
	"github.com/Proton-105/premium-bot/pkg/metrics"
)

// ErrSweepInProgress is returned when a previous run has not finished.
var ErrSweepInProgress = errors.New("sweep already in progress")

type Entitlements interface {
	ExpireSweep(ctx context.Context) (entitlement.SweepReport, error)
}

type PaymentLinks interface {
	ExpireSweep(ctx context.Context) (int, error)
}

// Report summarises one run.
type Report struct {
	Premium      entitlement.SweepReport
	ExpiredLinks int
	Duration     time.Duration
}

// Sweeper runs the entitlement sweep and then the payment-link sweep. Runs never overlap.
type Sweeper struct {
	entitlements Entitlements
	links        PaymentLinks
	log          *slog.Logger
	running      sync.Mutex
}

var _ asynq.Handler = (*Sweeper)(nil)

func New(entitlements Entitlements, links PaymentLinks, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}

	return &Sweeper{
		entitlements: entitlements,
		links:        links,
		log:          log.With(slog.String("component", "sweeper")),
	}
}

// Run performs one sweep. The payment-link sweep still runs when the entitlement sweep fails.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		metrics.RecordSweepRun("skipped")
		return Report{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	start := time.Now()
	var report Report

	premium, premiumErr := s.entitlements.ExpireSweep(ctx)
	report.Premium = premium
	if premiumErr != nil {
		s.log.ErrorContext(ctx, "premium expiry sweep failed", slog.Any("error", premiumErr))
	}

	links, linksErr := s.links.ExpireSweep(ctx)
	report.ExpiredLinks = links
	if linksErr != nil {
		s.log.ErrorContext(ctx, "payment link sweep failed", slog.Any("error", linksErr))
	}

	report.Duration = time.Since(start)

	err := errors.Join(premiumErr, linksErr)
	if err != nil {
		metrics.RecordSweepRun("failed")
	} else {
		metrics.RecordSweepRun("ok")
	}

	s.log.InfoContext(ctx, "sweep finished",
		slog.Int("premium_scanned", report.Premium.Scanned),
		slog.Int("premium_revoked", report.Premium.Revoked),
		slog.Int("premium_failed", report.Premium.Failed),
		slog.Int("links_expired", report.ExpiredLinks),
		slog.Duration("duration", report.Duration),
	)

	return report, err
}

// ProcessTask runs the sweep for a scheduled task. An overlapping trigger is acknowledged and
// skipped; a failed sweep is not retried because the next interval repeats it.
func (s *Sweeper) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	_, err := s.Run(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSweepInProgress):
		s.log.WarnContext(ctx, "previous sweep still running, skipping")
		return nil
	default:
		return errors.Join(asynq.SkipRetry, err)
	}
}
