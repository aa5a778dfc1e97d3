// Package entitlement tracks hourly message quotas and the premium subscription lifecycle.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/premium-bot/internal/domain"
	apperrors "github.com/Proton-105/premium-bot/internal/errors"
	"github.com/Proton-105/premium-bot/internal/repository"
	"github.com/Proton-105/premium-bot/pkg/metrics"
)

// ErrUserNotFound is returned for operations on a user that was never created.
var ErrUserNotFound = errors.New("user not found")

// Limits configures hourly quotas and the feedback cooldown.
type Limits struct {
	MaxRegular       int
	MaxPremium       int
	Window           time.Duration
	FeedbackCooldown time.Duration
}

// Notifier enqueues a user-facing message.
type Notifier interface {
	Enqueue(ctx context.Context, userID int64, text string) error
}

// Quota is the outcome of a limit check.
type Quota struct {
	Allowed   bool
	Remaining int
	Limit     int
	Premium   bool
}

// Status summarises a user's entitlement for display.
type Status struct {
	Premium   bool
	ExpiresAt *time.Time
	Limit     int
	Remaining int
}

type FeedbackReason string

const (
	FeedbackAccepted    FeedbackReason = "accepted"
	FeedbackPremiumOnly FeedbackReason = "premium_only"
	FeedbackCooldown    FeedbackReason = "cooldown"
)

// FeedbackDecision tells whether a user may submit feedback now.
type FeedbackDecision struct {
	Allowed    bool
	Reason     FeedbackReason
	RetryAfter time.Duration
}

// SweepReport summarises one expiry sweep.
type SweepReport struct {
	Scanned int
	Revoked int
	Failed  int
}

// Service is the entitlement store. All read-then-write sequences run inside one
// repository transaction with the user row locked.
type Service struct {
	store    repository.Store
	limits   Limits
	log      *slog.Logger
	now      func() time.Time
	adminID  int64
	notifier Notifier
}

type Option func(*Service)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAdminNotifier announces newly created users to adminID.
func WithAdminNotifier(adminID int64, notifier Notifier) Option {
	return func(s *Service) {
		s.adminID = adminID
		s.notifier = notifier
	}
}

// NewService constructs the entitlement store.
func NewService(store repository.Store, limits Limits, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	if limits.Window <= 0 {
		limits.Window = time.Hour
	}

	s := &Service{
		store:  store,
		limits: limits,
		log:    log.With(slog.String("component", "entitlement")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// IsWithinLimit reports whether the user may send another message in the current window and how
// many messages remain. An elapsed window resets the counter, and the reset is persisted.
// Unknown users are never allowed.
func (s *Service) IsWithinLimit(ctx context.Context, userID int64) (bool, int, error) {
	var quota Quota
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		user, err := s.loadForQuota(ctx, tx, userID)
		if err != nil {
			return err
		}
		quota = s.quotaFor(user)
		return nil
	})
	if errors.Is(err, ErrUserNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, s.fail("is_within_limit", userID, err)
	}

	metrics.RecordQuotaCheck(quota.Premium, quota.Allowed)

	return quota.Allowed, quota.Remaining, nil
}

// RecordMessage counts one message against the user's window.
func (s *Service) RecordMessage(ctx context.Context, userID int64) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return s.recordTx(ctx, tx, userID)
	})
	if err != nil {
		return s.fail("record_message", userID, err)
	}

	return nil
}

// CheckAndRecord performs the limit check and, when allowed, records the message in the same
// transaction. Remaining reflects the quota after this message.
func (s *Service) CheckAndRecord(ctx context.Context, userID int64) (Quota, error) {
	var quota Quota
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		user, err := s.loadForQuota(ctx, tx, userID)
		if err != nil {
			return err
		}

		quota = s.quotaFor(user)
		if !quota.Allowed {
			return nil
		}

		now := s.now()
		user.MessageCount++
		user.LastMessageAt = &now
		if err := tx.Users().UpdateEntitlement(ctx, user); err != nil {
			return err
		}

		quota.Remaining = max(quota.Limit-user.MessageCount, 0)
		return nil
	})
	if errors.Is(err, ErrUserNotFound) {
		return Quota{}, nil
	}
	if err != nil {
		return Quota{}, s.fail("check_and_record", userID, err)
	}

	metrics.RecordQuotaCheck(quota.Premium, quota.Allowed)

	return quota, nil
}

// GrantPremium makes the user premium for days from now and resets the message counter.
// A repeated grant overwrites the previous expiration.
func (s *Service) GrantPremium(ctx context.Context, userID int64, days int) (time.Time, error) {
	var expiresAt time.Time
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		expiresAt, err = s.GrantPremiumTx(ctx, tx, userID, days)
		return err
	})
	if err != nil {
		return time.Time{}, s.fail("grant_premium", userID, err)
	}

	return expiresAt, nil
}

// GrantPremiumTx is GrantPremium inside a caller-owned transaction.
func (s *Service) GrantPremiumTx(ctx context.Context, tx repository.Tx, userID int64, days int) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, apperrors.NewValidationError(fmt.Sprintf("premium duration must be positive, got %d days", days))
	}

	user, err := s.lockUser(ctx, tx, userID)
	if err != nil {
		return time.Time{}, err
	}

	expiresAt := s.now().AddDate(0, 0, days)
	user.SetPremium(expiresAt)
	user.MessageCount = 0

	if err := tx.Users().UpdateEntitlement(ctx, user); err != nil {
		return time.Time{}, err
	}

	metrics.RecordPremiumGranted()
	s.log.InfoContext(ctx, "premium granted",
		slog.Int64("user_id", userID),
		slog.Int("days", days),
		slog.Time("expires_at", expiresAt),
	)

	return expiresAt, nil
}

// Revoke drops premium state for the user.
func (s *Service) Revoke(ctx context.Context, userID int64) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		user, err := s.lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		user.ClearPremium()
		return tx.Users().UpdateEntitlement(ctx, user)
	})
	if err != nil {
		return s.fail("revoke", userID, err)
	}

	return nil
}

// ExpireSweep revokes every premium subscription whose expiration is in the past. Each user is
// handled in its own transaction so one failing row does not block the rest.
func (s *Service) ExpireSweep(ctx context.Context) (SweepReport, error) {
	now := s.now()

	ids, err := s.store.Users().ListExpiredPremium(ctx, now)
	if err != nil {
		return SweepReport{}, apperrors.NewDatabaseError(fmt.Errorf("list expired premium: %w", err))
	}

	report := SweepReport{Scanned: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		revoked, err := s.expireOne(ctx, id, now)
		switch {
		case err != nil:
			report.Failed++
			s.log.ErrorContext(ctx, "failed to expire premium", slog.Int64("user_id", id), slog.Any("error", err))
		case revoked:
			report.Revoked++
		}
	}

	metrics.RecordSweepRows("premium", "revoked", report.Revoked)
	metrics.RecordSweepRows("premium", "failed", report.Failed)

	return report, nil
}

func (s *Service) expireOne(ctx context.Context, userID int64, now time.Time) (bool, error) {
	revoked := false
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		user, err := s.lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		// renewed between the scan and the lock
		if !user.PremiumExpired(now) {
			return nil
		}
		user.ClearPremium()
		if err := tx.Users().UpdateEntitlement(ctx, user); err != nil {
			return err
		}
		revoked = true
		return nil
	})

	return revoked, err
}

// EnsureUser creates the user on first interaction and refreshes the profile afterwards.
func (s *Service) EnsureUser(ctx context.Context, profile domain.Profile) (bool, error) {
	created, err := s.store.Users().UpsertUser(ctx, profile, s.now())
	if err != nil {
		return false, s.fail("ensure_user", profile.ID, err)
	}

	if created {
		s.log.InfoContext(ctx, "new user registered", slog.Int64("user_id", profile.ID), slog.String("username", profile.Username))
		s.announceNewUser(ctx, profile)
	}

	return created, nil
}

// Status reports premium state and the quota left in the current window without mutating it.
func (s *Service) Status(ctx context.Context, userID int64) (Status, error) {
	user, err := s.store.Users().GetUser(ctx, userID)
	if err != nil {
		return Status{}, s.fail("status", userID, err)
	}

	if s.windowElapsed(user) {
		user.MessageCount = 0
	}

	quota := s.quotaFor(user)

	return Status{
		Premium:   quota.Premium,
		ExpiresAt: user.PremiumExpiresAt,
		Limit:     quota.Limit,
		Remaining: quota.Remaining,
	}, nil
}

// TryFeedback lets premium users submit feedback at most once per cooldown.
func (s *Service) TryFeedback(ctx context.Context, userID int64) (FeedbackDecision, error) {
	var decision FeedbackDecision
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		user, err := s.lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		now := s.now()
		if !s.isPremium(user) {
			decision = FeedbackDecision{Reason: FeedbackPremiumOnly}
			return nil
		}

		if user.LastFeedbackAt != nil {
			if elapsed := now.Sub(*user.LastFeedbackAt); elapsed < s.limits.FeedbackCooldown {
				decision = FeedbackDecision{Reason: FeedbackCooldown, RetryAfter: s.limits.FeedbackCooldown - elapsed}
				return nil
			}
		}

		user.LastFeedbackAt = &now
		if err := tx.Users().UpdateEntitlement(ctx, user); err != nil {
			return err
		}

		decision = FeedbackDecision{Allowed: true, Reason: FeedbackAccepted}
		return nil
	})
	if err != nil {
		return FeedbackDecision{}, s.fail("try_feedback", userID, err)
	}

	return decision, nil
}

func (s *Service) recordTx(ctx context.Context, tx repository.Tx, userID int64) error {
	err := tx.Users().IncrementMessageCount(ctx, userID, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

// loadForQuota locks the user and persists a counter reset when the window has elapsed.
func (s *Service) loadForQuota(ctx context.Context, tx repository.Tx, userID int64) (*domain.User, error) {
	user, err := s.lockUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	if s.windowElapsed(user) && user.MessageCount != 0 {
		user.MessageCount = 0
		if err := tx.Users().UpdateEntitlement(ctx, user); err != nil {
			return nil, err
		}
	}

	return user, nil
}

func (s *Service) lockUser(ctx context.Context, tx repository.Tx, userID int64) (*domain.User, error) {
	user, err := tx.Users().GetUserForUpdate(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *Service) windowElapsed(user *domain.User) bool {
	return user.LastMessageAt != nil && s.now().Sub(*user.LastMessageAt) >= s.limits.Window
}

// isPremium treats a lapsed subscription the sweep has not reached yet as regular.
func (s *Service) isPremium(user *domain.User) bool {
	return user.IsPremium && !user.PremiumExpired(s.now())
}

func (s *Service) quotaFor(user *domain.User) Quota {
	premium := s.isPremium(user)

	limit := s.limits.MaxRegular
	if premium {
		limit = s.limits.MaxPremium
	}

	return Quota{
		Allowed:   user.MessageCount < limit,
		Remaining: max(limit-user.MessageCount, 0),
		Limit:     limit,
		Premium:   premium,
	}
}

func (s *Service) announceNewUser(ctx context.Context, profile domain.Profile) {
	if s.notifier == nil || s.adminID == 0 {
		return
	}

	text := fmt.Sprintf("Новый пользователь зашел в бота: @%s (ID: %d)", profile.Username, profile.ID)
	if err := s.notifier.Enqueue(ctx, s.adminID, text); err != nil {
		s.log.WarnContext(ctx, "failed to enqueue new user announcement", slog.Int64("user_id", profile.ID), slog.Any("error", err))
	}
}

// fail keeps typed outcomes intact and classifies everything else as a persistence failure.
func (s *Service) fail(op string, userID int64, err error) error {
	switch {
	case errors.Is(err, ErrUserNotFound), errors.Is(err, repository.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	s.log.Error("entitlement operation failed",
		slog.String("operation", op),
		slog.Int64("user_id", userID),
		slog.Any("error", err),
	)

	return apperrors.NewDatabaseError(fmt.Errorf("%s: %w", op, err))
}
