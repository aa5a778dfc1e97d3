package domain

import "time"

// PaymentLink is a single-use signed payment URL issued to one user for one amount.
type PaymentLink struct {
	OrderID   string
	UserID    int64
	Amount    int64
	CreatedAt time.Time
	ExpiresAt time.Time
	Paid      bool
	PaidAt    *time.Time
	Expired   bool
}

// IsExpired reports whether the link expiration is strictly before now.
func (l *PaymentLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}
