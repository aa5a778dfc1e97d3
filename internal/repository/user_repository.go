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

const userColumns = `id, chat_id, username, first_name, last_name, is_premium, premium_expiration,
		message_count, last_message_time, last_feedback_time, created_at`

type userRepository struct {
	q   queryer
	log *slog.Logger
}

// GetUser retrieves a user by Telegram identifier.
func (r *userRepository) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return r.getUser(ctx, id, "")
}

// GetUserForUpdate retrieves a user and locks the row for the rest of the transaction.
func (r *userRepository) GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error) {
	return r.getUser(ctx, id, " FOR UPDATE")
}

func (r *userRepository) getUser(ctx context.Context, id int64, suffix string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1` + suffix

	var (
		user           domain.User
		chatID         sql.NullInt64
		premiumExpires sql.NullTime
		lastMessage    sql.NullTime
		lastFeedback   sql.NullTime
	)

	if err := r.q.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&chatID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.IsPremium,
		&premiumExpires,
		&user.MessageCount,
		&lastMessage,
		&lastFeedback,
		&user.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		r.log.Error("failed to fetch user", slog.Int64("user_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("select user: %w", err)
	}

	user.ChatID = nullInt64(chatID)
	user.PremiumExpiresAt = nullTime(premiumExpires)
	user.LastMessageAt = nullTime(lastMessage)
	user.LastFeedbackAt = nullTime(lastFeedback)

	return &user, nil
}

// UpsertUser inserts a new user or refreshes the profile fields of an existing one.
// A zero chat id leaves the stored delivery address untouched.
func (r *userRepository) UpsertUser(ctx context.Context, profile domain.Profile, now time.Time) (bool, error) {
	const query = `
		INSERT INTO users (id, chat_id, username, first_name, last_name, created_at)
		VALUES ($1, NULLIF($2::bigint, 0), $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			chat_id = COALESCE(EXCLUDED.chat_id, users.chat_id),
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	if err := r.q.QueryRowContext(
		ctx,
		query,
		profile.ID,
		profile.ChatID,
		profile.Username,
		profile.FirstName,
		profile.LastName,
		now,
	).Scan(&inserted); err != nil {
		r.log.Error("failed to upsert user", slog.Int64("user_id", profile.ID), slog.Any("error", err))
		return false, fmt.Errorf("upsert user: %w", err)
	}

	return inserted, nil
}

// UpdateEntitlement writes the entitlement columns of user.
func (r *userRepository) UpdateEntitlement(ctx context.Context, user *domain.User) error {
	const query = `
		UPDATE users SET
			is_premium = $2,
			premium_expiration = $3,
			message_count = $4,
			last_message_time = $5,
			last_feedback_time = $6
		WHERE id = $1
	`

	res, err := r.q.ExecContext(
		ctx,
		query,
		user.ID,
		user.IsPremium,
		user.PremiumExpiresAt,
		user.MessageCount,
		user.LastMessageAt,
		user.LastFeedbackAt,
	)
	if err != nil {
		r.log.Error("failed to update entitlement", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return fmt.Errorf("update entitlement: %w", err)
	}

	return expectOneRow(res)
}

// IncrementMessageCount bumps the hourly counter and stamps the message time.
func (r *userRepository) IncrementMessageCount(ctx context.Context, id int64, at time.Time) error {
	const query = `
		UPDATE users SET message_count = message_count + 1, last_message_time = $2
		WHERE id = $1
	`

	res, err := r.q.ExecContext(ctx, query, id, at)
	if err != nil {
		r.log.Error("failed to increment message count", slog.Int64("user_id", id), slog.Any("error", err))
		return fmt.Errorf("increment message count: %w", err)
	}

	return expectOneRow(res)
}

// ListExpiredPremium returns ids of premium users whose expiration is before now.
func (r *userRepository) ListExpiredPremium(ctx context.Context, now time.Time) ([]int64, error) {
	const query = `
		SELECT id FROM users
		WHERE is_premium AND premium_expiration < $1
		ORDER BY id
	`

	return r.listIDs(ctx, query, now)
}

// ListUserIDs returns every known user id.
func (r *userRepository) ListUserIDs(ctx context.Context) ([]int64, error) {
	return r.listIDs(ctx, `SELECT id FROM users ORDER BY id`)
}

func (r *userRepository) listIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}

	return ids, nil
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
