// Package payment issues signed payment links and tracks their lifecycle.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Proton-105/premium-bot/internal/domain"
	apperrors "github.com/Proton-105/premium-bot/internal/errors"
	"github.com/Proton-105/premium-bot/internal/repository"
	"github.com/Proton-105/premium-bot/pkg/metrics"
)

const maxOrderAttempts = 5

var (
	// ErrLinkNotFound is returned by Lookup for an unknown order id.
	ErrLinkNotFound = errors.New("payment link not found")
	// ErrOrderIDExhausted is returned when every generated order id collided.
	ErrOrderIDExhausted = errors.New("could not allocate a unique order id")
)

// MarkResult is the outcome of MarkPaid.
type MarkResult int

const (
	MarkNotFound MarkResult = iota
	MarkSuccess
	MarkAlreadyPaid
)

func (r MarkResult) String() string {
	switch r {
	case MarkSuccess:
		return "success"
	case MarkAlreadyPaid:
		return "already_paid"
	default:
		return "not_found"
	}
}

// Config describes the merchant account on the payment gateway.
type Config struct {
	MerchantID string
	Secret1    string
	Currency   string
	Lang       string
	BaseURL    string
	LinkTTL    time.Duration
}

// Registry creates payment links and moves them through pending, paid and expired.
type Registry struct {
	store repository.Store
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
	ids   orderIDSource
}

type Option func(*Registry)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(store repository.Store, cfg Config, log *slog.Logger, opts ...Option) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 30 * time.Minute
	}

	r := &Registry{
		store: store,
		cfg:   cfg,
		log:   log.With(slog.String("component", "payment_registry")),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// CreateLink persists a pending link for userID and returns the gateway URL for it.
func (r *Registry) CreateLink(ctx context.Context, userID int64, amount int64) (string, *domain.PaymentLink, error) {
	if amount <= 0 {
		return "", nil, apperrors.NewValidationError(fmt.Sprintf("payment amount must be positive, got %d", amount))
	}

	for attempt := 1; attempt <= maxOrderAttempts; attempt++ {
		now := r.now()
		link := &domain.PaymentLink{
			OrderID:   r.ids.next(now, userID),
			UserID:    userID,
			Amount:    amount,
			CreatedAt: now,
			ExpiresAt: now.Add(r.cfg.LinkTTL),
		}

		err := r.store.PaymentLinks().CreatePaymentLink(ctx, link)
		switch {
		case err == nil:
			metrics.RecordPaymentLinkCreated()
			r.log.InfoContext(ctx, "payment link created",
				slog.String("order_id", link.OrderID),
				slog.Int64("user_id", userID),
				slog.Int64("amount", amount),
				slog.Time("expires_at", link.ExpiresAt),
			)
			return r.linkURL(link), link, nil
		case errors.Is(err, repository.ErrDuplicateOrder):
			r.log.WarnContext(ctx, "order id collision, regenerating",
				slog.String("order_id", link.OrderID),
				slog.Int("attempt", attempt),
			)
		case errors.Is(err, repository.ErrUnknownUser):
			return "", nil, apperrors.NewValidationError(fmt.Sprintf("user %d is not registered", userID))
		default:
			return "", nil, apperrors.NewDatabaseError(fmt.Errorf("create payment link: %w", err))
		}
	}

	return "", nil, ErrOrderIDExhausted
}

// Lookup returns the link for orderID.
func (r *Registry) Lookup(ctx context.Context, orderID string) (*domain.PaymentLink, error) {
	link, err := r.store.PaymentLinks().GetPaymentLinkByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("lookup payment link: %w", err))
	}

	return link, nil
}

// MarkPaid flips the link to paid inside tx. The row stays locked until tx ends, so concurrent
// calls for the same order observe MarkAlreadyPaid.
func (r *Registry) MarkPaid(ctx context.Context, tx repository.Tx, orderID string) (MarkResult, error) {
	link, err := tx.PaymentLinks().GetPaymentLinkForUpdate(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return MarkNotFound, nil
	}
	if err != nil {
		return MarkNotFound, err
	}

	if link.Paid {
		return MarkAlreadyPaid, nil
	}

	if err := tx.PaymentLinks().MarkPaymentLinkPaid(ctx, orderID, r.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return MarkAlreadyPaid, nil
		}
		return MarkNotFound, err
	}

	return MarkSuccess, nil
}

// ExpireSweep flags unpaid links past their expiration. Paid links are never touched.
func (r *Registry) ExpireSweep(ctx context.Context) (int, error) {
	n, err := r.store.PaymentLinks().ExpireUnpaidLinks(ctx, r.now())
	if err != nil {
		metrics.RecordSweepRows("payment_links", "failed", 1)
		return 0, apperrors.NewDatabaseError(fmt.Errorf("expire payment links: %w", err))
	}

	metrics.RecordSweepRows("payment_links", "expired", n)
	if n > 0 {
		r.log.InfoContext(ctx, "expired unpaid payment links", slog.Int("count", n))
	}

	return n, nil
}

// linkURL builds the gateway URL. Parameter order follows the gateway documentation.
func (r *Registry) linkURL(link *domain.PaymentLink) string {
	amount := strconv.FormatInt(link.Amount, 10)
	params := [][2]string{
		{"m", r.cfg.MerchantID},
		{"oa", amount},
		{"o", link.OrderID},
		{"currency", r.cfg.Currency},
		{"s", LinkSignature(r.cfg.MerchantID, amount, r.cfg.Secret1, r.cfg.Currency, link.OrderID)},
		{"lang", r.cfg.Lang},
		{"us_user_id", strconv.FormatInt(link.UserID, 10)},
		{"strd", "1"},
	}

	var b strings.Builder
	b.WriteString(r.cfg.BaseURL)
	if strings.Contains(r.cfg.BaseURL, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[1]))
	}

	return b.String()
}
