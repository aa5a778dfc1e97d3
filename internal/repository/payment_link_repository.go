package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/premium-bot/internal/domain"
)

type paymentLinkRepository struct {
	q   queryer
	log *slog.Logger
}

// CreatePaymentLink inserts a new unpaid link. A taken order id yields ErrDuplicateOrder.
func (r *paymentLinkRepository) CreatePaymentLink(ctx context.Context, link *domain.PaymentLink) error {
	const query = `
		INSERT INTO payment_links (order_id, user_id, amount, created_at, expiration_time)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.q.ExecContext(
		ctx,
		query,
		link.OrderID,
		link.UserID,
		link.Amount,
		link.CreatedAt,
		link.ExpiresAt,
	); err != nil {
		classified := classifyPQError(err)
		if !errors.Is(classified, ErrDuplicateOrder) {
			r.log.Error("failed to create payment link", slog.String("order_id", link.OrderID), slog.Any("error", err))
		}
		return fmt.Errorf("insert payment link: %w", classified)
	}

	return nil
}

// GetPaymentLinkByOrderID retrieves a link by its order identifier.
func (r *paymentLinkRepository) GetPaymentLinkByOrderID(ctx context.Context, orderID string) (*domain.PaymentLink, error) {
	return r.get(ctx, orderID, "")
}

// GetPaymentLinkForUpdate retrieves a link and locks it for the rest of the transaction.
func (r *paymentLinkRepository) GetPaymentLinkForUpdate(ctx context.Context, orderID string) (*domain.PaymentLink, error) {
	return r.get(ctx, orderID, " FOR UPDATE")
}

func (r *paymentLinkRepository) get(ctx context.Context, orderID, suffix string) (*domain.PaymentLink, error) {
	query := `
		SELECT order_id, user_id, amount, created_at, expiration_time, paid, paid_at, expired
		FROM payment_links
		WHERE order_id = $1` + suffix

	var (
		link   domain.PaymentLink
		paidAt sql.NullTime
	)

	if err := r.q.QueryRowContext(ctx, query, orderID).Scan(
		&link.OrderID,
		&link.UserID,
		&link.Amount,
		&link.CreatedAt,
		&link.ExpiresAt,
		&link.Paid,
		&paidAt,
		&link.Expired,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		r.log.Error("failed to fetch payment link", slog.String("order_id", orderID), slog.Any("error", err))
		return nil, fmt.Errorf("select payment link: %w", err)
	}

	link.PaidAt = nullTime(paidAt)

	return &link, nil
}

// MarkPaymentLinkPaid flips paid to true. The WHERE clause keeps the transition forward-only.
func (r *paymentLinkRepository) MarkPaymentLinkPaid(ctx context.Context, orderID string, at time.Time) error {
	const query = `UPDATE payment_links SET paid = TRUE, paid_at = $2 WHERE order_id = $1 AND NOT paid`

	res, err := r.q.ExecContext(ctx, query, orderID, at)
	if err != nil {
		r.log.Error("failed to mark payment link paid", slog.String("order_id", orderID), slog.Any("error", err))
		return fmt.Errorf("mark payment link paid: %w", err)
	}

	return expectOneRow(res)
}

// ExpireUnpaidLinks flags stale unpaid links. Paid links are never touched.
func (r *paymentLinkRepository) ExpireUnpaidLinks(ctx context.Context, now time.Time) (int, error) {
	const query = `
		UPDATE payment_links SET expired = TRUE
		WHERE NOT paid AND NOT expired AND expiration_time < $1
	`

	res, err := r.q.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("expire payment links: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return int(affected), nil
}
