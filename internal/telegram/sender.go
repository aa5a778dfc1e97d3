// Package telegram delivers text messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/premium-bot/internal/errors"
)

const apiName = "telegram"

// Transport is the subset of *telebot.Bot used for delivery.
type Transport interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Sender sends messages and classifies failures into retryable and terminal AppErrors.
type Sender struct {
	transport Transport
	breaker   *apperrors.CircuitBreaker
	log       *slog.Logger
}

func NewSender(transport Transport, breaker *apperrors.CircuitBreaker, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	if breaker == nil {
		breaker = apperrors.NewCircuitBreaker(apperrors.BreakerSettings{})
	}

	return &Sender{
		transport: transport,
		breaker:   breaker,
		log:       log.With(slog.String("component", "telegram_sender")),
	}
}

// Send delivers text to chatID.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.breaker.Call(func() error {
		_, err := s.transport.Send(telebot.ChatID(chatID), text, &telebot.SendOptions{DisableWebPagePreview: true})
		return Classify(err)
	})
	if errors.Is(err, apperrors.ErrCircuitOpen) {
		return apperrors.NewExternalAPIError(apiName, err)
	}

	return err
}

// Classify maps a Bot API error onto the delivery taxonomy.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var flood telebot.FloodError
	if errors.As(err, &flood) {
		return apperrors.NewRateLimitError(flood.RetryAfter)
	}

	var apiErr *telebot.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return apperrors.NewRateLimitError(1)
		case apiErr.Code >= 500:
			return apperrors.NewExternalAPIError(apiName, err)
		default:
			return apperrors.NewDeliveryRejectedError(apiName, err)
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewExternalAPIError(apiName, fmt.Errorf("request timed out: %w", err))
	}

	// transport failures and API errors telebot does not map to a known *Error
	return apperrors.NewExternalAPIError(apiName, err)
}
