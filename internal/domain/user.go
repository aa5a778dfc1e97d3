package domain

import "time"

// User represents a bot user together with their entitlement state.
type User struct {
	ID               int64
	ChatID           *int64
	Username         string
	FirstName        string
	LastName         string
	IsPremium        bool
	PremiumExpiresAt *time.Time
	MessageCount     int
	LastMessageAt    *time.Time
	LastFeedbackAt   *time.Time
	CreatedAt        time.Time
}

// Profile carries the Telegram-facing fields refreshed on every interaction.
type Profile struct {
	ID        int64
	ChatID    int64
	Username  string
	FirstName string
	LastName  string
}

// SetPremium switches the user to premium until expiresAt.
func (u *User) SetPremium(expiresAt time.Time) {
	u.IsPremium = true
	u.PremiumExpiresAt = &expiresAt
}

// ClearPremium drops premium state. The expiration is cleared with the flag.
func (u *User) ClearPremium() {
	u.IsPremium = false
	u.PremiumExpiresAt = nil
}

// PremiumExpired reports whether a premium user is past their expiration at now.
func (u *User) PremiumExpired(now time.Time) bool {
	return u.IsPremium && u.PremiumExpiresAt != nil && u.PremiumExpiresAt.Before(now)
}
