package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/premium-bot/internal/domain"
	apperrors "github.com/Proton-105/premium-bot/internal/errors"
	"github.com/Proton-105/premium-bot/internal/i18n"
	"github.com/Proton-105/premium-bot/internal/idempotency"
	"github.com/Proton-105/premium-bot/internal/ratelimit"
	"github.com/Proton-105/premium-bot/pkg/metrics"
)

// RecoveryMiddleware catches panics, reports them via the centralized handler, and notifies the user.
func RecoveryMiddleware(log *slog.Logger, errHandler *apperrors.Handler, t i18n.Translator) telebot.MiddlewareFunc {
	return func(next telebot.HandlerFunc) telebot.HandlerFunc {
		return func(c telebot.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered in handler", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))

					userMsg := t.T("errors.generic")
					if errHandler != nil {
						errHandler.Handle(context.Background(), fmt.Errorf("panic recovered: %v", r))
					}

					if sendErr := c.Send(userMsg); sendErr != nil {
						log.Error("failed to notify user about panic", slog.Any("error", sendErr))
					}

					err = nil
				}
			}()

			return next(c)
		}
	}
}

// ErrorHandlingMiddleware centralizes error reporting and user messaging for handler failures.
func ErrorHandlingMiddleware(errHandler *apperrors.Handler, t i18n.Translator) telebot.MiddlewareFunc {
	return func(next telebot.HandlerFunc) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			userMsg := t.T("errors.generic")
			if errHandler != nil {
				var appErr *apperrors.AppError
				handled, _ := errHandler.Handle(context.Background(), err)
				if errors.As(err, &appErr) && appErr.UserMessage != "" {
					userMsg = handled
				}
			}

			_ = c.Send(userMsg)
			return nil
		}
	}
}

// LoggingMiddleware logs basic telemetry about incoming updates.
func LoggingMiddleware(log *slog.Logger) telebot.MiddlewareFunc {
	return func(next telebot.HandlerFunc) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			start := time.Now()
			userID := int64(0)
			if c.Sender() != nil {
				userID = c.Sender().ID
			}
			action := actionLabel(c)

			err := next(c)
			log.Info("handled update",
				slog.Int64("user_id", userID),
				slog.String("action", action),
				slog.Duration("duration", time.Since(start)),
				slog.Any("error", err),
			)

			return err
		}
	}
}

// RegisterMiddleware upserts the sender's profile on every update. The delivery chat id is only
// refreshed from private chats; group messages and chatless updates keep the stored one.
// New users are announced to the admin by the entitlement service.
func RegisterMiddleware(users Entitlements, cache ChatCache, log *slog.Logger) telebot.MiddlewareFunc {
	return func(next telebot.HandlerFunc) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			sender := c.Sender()
			if sender == nil || users == nil {
				return next(c)
			}

			profile := domain.Profile{
				ID:        sender.ID,
				Username:  sender.Username,
				FirstName: sender.FirstName,
				LastName:  sender.LastName,
			}
			if chat := c.Chat(); chat != nil && chat.Type == telebot.ChatPrivate {
				profile.ChatID = chat.ID
			}

			ctx := context.Background()
			if _, err := users.EnsureUser(ctx, profile); err != nil {
				return err
			}

			if cache != nil && profile.ChatID != 0 {
				if err := cache.SetChatID(ctx, profile.ID, profile.ChatID); err != nil {
					log.Warn("failed to cache chat id", slog.Int64("user_id", profile.ID), slog.Any("error", err))
				}
			}

			return next(c)
		}
	}
}

// IdempotencyMiddleware drops an update while an identical one is still being handled.
func IdempotencyMiddleware(manager idempotency.Manager, log *slog.Logger) telebot.MiddlewareFunc {
	return func(next telebot.HandlerFunc) telebot.HandlerFunc {
		if manager == nil {
			return next
		}

		return func(c telebot.Context) error {
			key := updateKey(c)
			if key == "" {
				return next(c)
			}

			var handlerErr error
			err := manager.Execute(context.Background(), idempotency.Key("update", key), func(context.Context) error {
				handlerErr = next(c)
				return handlerErr
			})
			if errors.Is(err, idempotency.ErrRequestInProgress) {
				log.Info("duplicate update dropped", slog.String("key", key))
				return nil
			}

			return handlerErr
		}
	}
}

// RateLimitMiddleware rejects bursts from one user before they reach persistence. Limiter
// errors let the update through.
func RateLimitMiddleware(limiter ratelimit.Limiter, limit int, window time.Duration, t i18n.Translator, log *slog.Logger) telebot.MiddlewareFunc {
	return func(next telebot.HandlerFunc) telebot.HandlerFunc {
		if limiter == nil || limit <= 0 || window <= 0 {
			return next
		}

		return func(c telebot.Context) error {
			sender := c.Sender()
			if sender == nil {
				return next(c)
			}

			result, err := limiter.Check(context.Background(), fmt.Sprintf("user:%d", sender.ID), limit, window)
			if err != nil {
				log.Warn("rate limiter error", slog.Int64("user_id", sender.ID), slog.Any("error", err))
				return next(c)
			}

			if !result.Allowed {
				log.Warn("rate limit exceeded", slog.Int64("user_id", sender.ID))
				return c.Send(t.T("errors.too_fast"))
			}

			return next(c)
		}
	}
}

// MetricsMiddleware measures execution time and status for bot handlers.
func MetricsMiddleware(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		start := time.Now()
		err := next(c)

		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordCommand(actionLabel(c), status, time.Since(start))

		return err
	}
}

// actionLabel keeps metric labels bounded: commands by name, everything else as text.
func actionLabel(c telebot.Context) string {
	text := strings.TrimSpace(c.Text())
	if strings.HasPrefix(text, "/") {
		return commandName(text)
	}
	return "text"
}

func updateKey(c telebot.Context) string {
	msg := c.Message()
	if msg == nil || msg.ID == 0 {
		return ""
	}

	chatID := int64(0)
	if msg.Chat != nil {
		chatID = msg.Chat.ID
	}
	return fmt.Sprintf("msg:%d:%d", chatID, msg.ID)
}
