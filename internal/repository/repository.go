// Package repository defines the persistence capability and its PostgreSQL implementation.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Proton-105/premium-bot/internal/domain"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateOrder is returned when an order identifier is already taken.
	ErrDuplicateOrder = errors.New("order id already exists")
	// ErrUnknownUser is returned when a row references a user that was never created.
	ErrUnknownUser = errors.New("user does not exist")
)

// UserRepository defines persistence operations for users and their entitlements.
type UserRepository interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	// GetUserForUpdate loads the user and holds a row lock until the transaction ends.
	GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error)
	// UpsertUser inserts the profile or refreshes its Telegram fields; created reports an insert.
	UpsertUser(ctx context.Context, profile domain.Profile, now time.Time) (created bool, err error)
	// UpdateEntitlement persists premium state, counters and timestamps of user.
	UpdateEntitlement(ctx context.Context, user *domain.User) error
	IncrementMessageCount(ctx context.Context, id int64, at time.Time) error
	ListExpiredPremium(ctx context.Context, now time.Time) ([]int64, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
}

// PaymentLinkRepository defines persistence operations for payment links.
type PaymentLinkRepository interface {
	CreatePaymentLink(ctx context.Context, link *domain.PaymentLink) error
	GetPaymentLinkByOrderID(ctx context.Context, orderID string) (*domain.PaymentLink, error)
	// GetPaymentLinkForUpdate loads the link and holds a row lock until the transaction ends.
	GetPaymentLinkForUpdate(ctx context.Context, orderID string) (*domain.PaymentLink, error)
	MarkPaymentLinkPaid(ctx context.Context, orderID string, at time.Time) error
	// ExpireUnpaidLinks flags unpaid links whose expiration is before now and returns how many changed.
	ExpireUnpaidLinks(ctx context.Context, now time.Time) (int, error)
}

// Tx exposes repositories bound to a single transaction (or to autocommit when used from Store).
type Tx interface {
	Users() UserRepository
	PaymentLinks() PaymentLinkRepository
}

// TxFunc is the body of a unit of work.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the persistence capability. Repositories returned directly from Store run in autocommit
// mode; WithinTx commits only when fn returns nil and rolls back on every other exit path.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn TxFunc) error
	HealthCheck(ctx context.Context) error
}
