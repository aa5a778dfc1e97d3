// Package webhook verifies payment provider callbacks and applies them exactly once.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validator "github.com/go-playground/validator/v10"

	"github.com/Proton-105/premium-bot/internal/domain"
	apperrors "github.com/Proton-105/premium-bot/internal/errors"
	"github.com/Proton-105/premium-bot/internal/idempotency"
	"github.com/Proton-105/premium-bot/internal/payment"
	"github.com/Proton-105/premium-bot/internal/repository"
)

const (
	MessagePaymentSucceeded = "Ваша подписка активирована! Наслаждайтесь премиум-возможностями."
	MessageLinkExpired      = "Ваша попытка оплаты не удалась, так как ссылка для оплаты истекла."
)

// Outcome is the provider-facing verdict.
type Outcome int

const (
	OutcomeReject Outcome = iota
	OutcomeAck
)

func (o Outcome) String() string {
	if o == OutcomeAck {
		return "ack"
	}
	return "reject"
}

// Result explains an outcome. Err is set for every reject.
type Result struct {
	Outcome   Outcome
	Reason    string
	ExpiresAt time.Time
	Err       error
}

// Links is the part of the payment registry the verifier needs.
type Links interface {
	Lookup(ctx context.Context, orderID string) (*domain.PaymentLink, error)
	MarkPaid(ctx context.Context, tx repository.Tx, orderID string) (payment.MarkResult, error)
}

// Entitlements grants premium inside the payment transaction.
type Entitlements interface {
	GrantPremiumTx(ctx context.Context, tx repository.Tx, userID int64, days int) (time.Time, error)
}

type Notifier interface {
	Enqueue(ctx context.Context, userID int64, text string) error
}

type Config struct {
	MerchantID  string
	Secret2     string
	Currency    string
	PremiumDays int
}

// Verifier runs the callback state machine: status check, validation, signature, link checks and the
// paid+grant transaction.
type Verifier struct {
	cfg          Config
	store        repository.Store
	links        Links
	entitlements Entitlements
	notifier     Notifier
	guard        idempotency.Manager
	validate     *validator.Validate
	log          *slog.Logger
	now          func() time.Time
}

type Option func(*Verifier)

// WithGuard short-circuits concurrent callbacks for the same order before they reach the database.
func WithGuard(guard idempotency.Manager) Option {
	return func(v *Verifier) {
		v.guard = guard
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

func NewVerifier(
	cfg Config,
	store repository.Store,
	links Links,
	entitlements Entitlements,
	notifier Notifier,
	log *slog.Logger,
	opts ...Option,
) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PremiumDays <= 0 {
		cfg.PremiumDays = 30
	}

	v := &Verifier{
		cfg:          cfg,
		store:        store,
		links:        links,
		entitlements: entitlements,
		notifier:     notifier,
		validate:     validator.New(),
		log:          log.With(slog.String("component", "webhook")),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Handle processes one callback. Rejects never mutate state; the only side effect of a reject is
// the failure notification for an unknown or expired link.
func (v *Verifier) Handle(ctx context.Context, p Payload) Result {
	if p.StatusCheck {
		v.log.InfoContext(ctx, "status check received")
		return Result{Outcome: OutcomeAck, Reason: "status_check"}
	}

	if err := v.validate.StructCtx(ctx, p); err != nil {
		return v.reject(ctx, "malformed", apperrors.NewValidationError(fmt.Sprintf("invalid callback: %v", err)), p)
	}
	if p.MerchantID != v.cfg.MerchantID {
		return v.reject(ctx, "merchant_mismatch", apperrors.NewValidationError("unexpected merchant id "+p.MerchantID), p)
	}

	expected := payment.WebhookSignature(p.MerchantID, p.Amount, v.cfg.Secret2, v.cfg.Currency, p.OrderID)
	if !payment.Verify(expected, p.Sign) {
		return v.reject(ctx, "signature_mismatch", apperrors.NewSignatureMismatchError(p.OrderID), p)
	}

	if v.guard == nil {
		return v.apply(ctx, p)
	}

	var result Result
	err := v.guard.Execute(ctx, idempotency.Key("webhook", p.OrderID), func(ctx context.Context) error {
		result = v.apply(ctx, p)
		return nil
	})
	if errors.Is(err, idempotency.ErrRequestInProgress) {
		return v.reject(ctx, "in_flight", apperrors.NewDuplicatePaymentError(p.OrderID), p)
	}

	return result
}

func (v *Verifier) apply(ctx context.Context, p Payload) Result {
	userID := p.userID()

	link, err := v.links.Lookup(ctx, p.OrderID)
	switch {
	case errors.Is(err, payment.ErrLinkNotFound):
		v.notifyExpired(ctx, userID, p.OrderID)
		return v.reject(ctx, "unknown_link", apperrors.NewExpiredLinkError(p.OrderID), p)
	case err != nil:
		return v.reject(ctx, "persistence", err, p)
	}

	if link.UserID != userID {
		return v.reject(ctx, "user_mismatch", apperrors.NewValidationError(fmt.Sprintf("order %s does not belong to user %d", p.OrderID, userID)), p)
	}
	// a replay of a paid order is a duplicate even after the link expired
	if link.Paid {
		return v.reject(ctx, "duplicate", apperrors.NewDuplicatePaymentError(p.OrderID), p)
	}
	if link.IsExpired(v.now()) {
		v.notifyExpired(ctx, userID, p.OrderID)
		return v.reject(ctx, "expired_link", apperrors.NewExpiredLinkError(p.OrderID), p)
	}

	var expiresAt time.Time
	err = v.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		mark, err := v.links.MarkPaid(ctx, tx, p.OrderID)
		if err != nil {
			return err
		}

		switch mark {
		case payment.MarkAlreadyPaid:
			return apperrors.NewDuplicatePaymentError(p.OrderID)
		case payment.MarkNotFound:
			return apperrors.NewExpiredLinkError(p.OrderID)
		}

		expiresAt, err = v.entitlements.GrantPremiumTx(ctx, tx, link.UserID, v.cfg.PremiumDays)
		return err
	})
	if err != nil {
		reason := "persistence"
		switch {
		case errors.Is(err, apperrors.KindDuplicatePayment):
			reason = "duplicate"
		case errors.Is(err, apperrors.KindExpiredLink):
			reason = "unknown_link"
		default:
			var appErr *apperrors.AppError
			if !errors.As(err, &appErr) {
				err = apperrors.NewDatabaseError(fmt.Errorf("apply payment %s: %w", p.OrderID, err))
			}
		}
		return v.reject(ctx, reason, err, p)
	}

	v.log.InfoContext(ctx, "payment applied",
		slog.String("order_id", p.OrderID),
		slog.Int64("user_id", link.UserID),
		slog.String("amount", p.Amount),
		slog.String("intid", p.IntID),
		slog.Time("premium_expires_at", expiresAt),
	)

	// the grant is committed; a lost notification must not turn the ack into a provider retry
	if err := v.notifier.Enqueue(ctx, link.UserID, MessagePaymentSucceeded); err != nil {
		v.log.ErrorContext(ctx, "failed to enqueue payment confirmation",
			slog.String("order_id", p.OrderID),
			slog.Int64("user_id", link.UserID),
			slog.Any("error", err),
		)
	}

	return Result{Outcome: OutcomeAck, Reason: "paid", ExpiresAt: expiresAt}
}

func (v *Verifier) notifyExpired(ctx context.Context, userID int64, orderID string) {
	if userID == 0 {
		return
	}
	if err := v.notifier.Enqueue(ctx, userID, MessageLinkExpired); err != nil {
		v.log.ErrorContext(ctx, "failed to enqueue expired link notice",
			slog.String("order_id", orderID),
			slog.Int64("user_id", userID),
			slog.Any("error", err),
		)
	}
}

func (v *Verifier) reject(ctx context.Context, reason string, err error, p Payload) Result {
	attrs := []any{
		slog.String("reason", reason),
		slog.String("order_id", p.OrderID),
		slog.String("us_user_id", p.UserID),
		slog.Any("error", err),
	}

	switch {
	case errors.Is(err, apperrors.KindSignatureMismatch), errors.Is(err, apperrors.KindPersistence):
		v.log.ErrorContext(ctx, "payment callback rejected", attrs...)
	case errors.Is(err, apperrors.KindDuplicatePayment), errors.Is(err, apperrors.KindExpiredLink):
		v.log.WarnContext(ctx, "payment callback rejected", attrs...)
	default:
		v.log.InfoContext(ctx, "payment callback rejected", attrs...)
	}

	return Result{Outcome: OutcomeReject, Reason: reason, Err: err}
}
