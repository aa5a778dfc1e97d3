package bot

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/premium-bot/internal/bot/keyboard"
	"github.com/Proton-105/premium-bot/internal/entitlement"
	"github.com/Proton-105/premium-bot/internal/i18n"
	"github.com/Proton-105/premium-bot/internal/state"
)

const (
	expiryLayout     = "02.01.2006 15:04 MST"
	broadcastTimeout = time.Minute
)

type handlers struct {
	deps Deps
	t    i18n.Translator
	fsm  state.StateMachine
	log  *slog.Logger
}

func (h *handlers) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.deps.Config.HandlerTimeout)
}

func (h *handlers) start(c telebot.Context) error {
	ctx, cancel := h.ctx()
	defer cancel()

	status, err := h.deps.Entitlements.Status(ctx, c.Sender().ID)
	if err != nil {
		return err
	}

	statusLine := h.t.T("start.premium_inactive")
	if status.Premium {
		statusLine = h.t.T("start.premium_active")
	}

	text := h.t.T("start.welcome") + "\n\n" + h.t.Tf("start.premium_info",
		h.deps.Config.Price,
		h.deps.Config.PremiumDays,
		h.deps.Config.MaxPremium,
		statusLine,
	)

	return c.Send(text, keyboard.MainMenu(h.t))
}

func (h *handlers) status(c telebot.Context) error {
	ctx, cancel := h.ctx()
	defer cancel()

	status, err := h.deps.Entitlements.Status(ctx, c.Sender().ID)
	if err != nil {
		return err
	}

	premium := h.t.T("status.inactive")
	if status.Premium && status.ExpiresAt != nil {
		premium = h.t.Tf("status.active_until", status.ExpiresAt.Format(expiryLayout))
	}

	return c.Send(h.t.Tf("status.text", status.Remaining, premium))
}

func (h *handlers) premium(c telebot.Context) error {
	ctx, cancel := h.ctx()
	defer cancel()

	url, _, err := h.deps.Payments.CreateLink(ctx, c.Sender().ID, h.deps.Config.Price)
	if err != nil {
		return err
	}

	return c.Send(h.t.T("premium.offer"), keyboard.PayLink(h.t.T("premium.pay_button"), url))
}

func (h *handlers) newChat(c telebot.Context) error {
	ctx, cancel := h.ctx()
	defer cancel()

	if err := c.Send(h.t.T("new_chat.started")); err != nil {
		return err
	}

	status, err := h.deps.Entitlements.Status(ctx, c.Sender().ID)
	if err != nil {
		return err
	}
	if status.Premium {
		return nil
	}

	return h.sendBuyOffer(ctx, c, h.t.T("premium.upsell"))
}

func (h *handlers) tips(c telebot.Context) error {
	return c.Send(h.t.T("tips.text"))
}

// feedback opens the feedback conversation for premium users outside the cooldown.
func (h *handlers) feedback(c telebot.Context) error {
	ctx, cancel := h.ctx()
	defer cancel()

	userID := c.Sender().ID
	decision, err := h.deps.Entitlements.TryFeedback(ctx, userID)
	if err != nil {
		return err
	}

	switch decision.Reason {
	case entitlement.FeedbackPremiumOnly:
		return c.Send(h.t.T("feedback.premium_only"))
	case entitlement.FeedbackCooldown:
		hours := int(math.Ceil(decision.RetryAfter.Hours()))
		return c.Send(h.t.Tf("feedback.cooldown", hours))
	}

	if err := h.fsm.TransitionTo(ctx, userID, state.StateAwaitingFeedback); err != nil && !errors.Is(err, state.ErrInvalidTransition) {
		return err
	}

	return c.Send(h.t.T("feedback.prompt"))
}

// collectFeedback forwards the awaited feedback message to the admin.
func (h *handlers) collectFeedback(c telebot.Context) error {
	ctx, cancel := h.ctx()
	defer cancel()

	sender := c.Sender()
	text := h.t.Tf("feedback.admin", sender.Username, sender.FirstName, sender.LastName, c.Text())

	if h.deps.Config.AdminID != 0 {
		if err := h.deps.Notifications.Enqueue(ctx, h.deps.Config.AdminID, text); err != nil {
			return err
		}
	} else {
		h.log.Warn("feedback received without admin configured", slog.Int64("user_id", sender.ID))
	}

	if err := h.fsm.TransitionTo(ctx, sender.ID, state.StateIdle); err != nil {
		h.log.Warn("failed to reset conversation state", slog.Int64("user_id", sender.ID), slog.Any("error", err))
	}

	return c.Send(h.t.T("feedback.thanks"))
}

// broadcast queues a message to every known user. Only the admin may use it; everyone else
// gets no reply, as for an unknown command.
func (h *handlers) broadcast(c telebot.Context) error {
	if h.deps.Config.AdminID == 0 || c.Sender().ID != h.deps.Config.AdminID {
		return nil
	}

	text := commandPayload(c)
	if text == "" {
		return c.Send(h.t.T("broadcast.usage"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	ids, err := h.deps.Directory.ListUserIDs(ctx)
	if err != nil {
		return err
	}

	enqueued, err := h.deps.Notifications.Broadcast(ctx, ids, text)
	if err != nil {
		h.log.Error("broadcast partially failed", slog.Int("enqueued", enqueued), slog.Int("total", len(ids)), slog.Any("error", err))
	}

	return c.Send(h.t.Tf("broadcast.done", enqueued, len(ids)))
}

// ask is the quota gate in front of the assistant: the message is counted only when allowed.
func (h *handlers) ask(c telebot.Context) error {
	ctx, cancel := h.ctx()
	defer cancel()

	userID := c.Sender().ID
	quota, err := h.deps.Entitlements.CheckAndRecord(ctx, userID)
	if err != nil {
		return err
	}

	if !quota.Allowed {
		if quota.Premium {
			return c.Send(h.t.T("quota.exceeded_premium"))
		}
		return h.sendBuyOffer(ctx, c, h.t.T("quota.exceeded"))
	}

	if h.deps.Responder == nil {
		return c.Send(h.t.T("errors.assistant_unavailable"))
	}

	answer, err := h.deps.Responder.Respond(ctx, userID, c.Text())
	if err != nil {
		h.log.Error("assistant failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return c.Send(h.t.T("errors.assistant_unavailable"))
	}

	return c.Send(answer)
}

func (h *handlers) sendBuyOffer(ctx context.Context, c telebot.Context, text string) error {
	url, _, err := h.deps.Payments.CreateLink(ctx, c.Sender().ID, h.deps.Config.Price)
	if err != nil {
		return err
	}
	return c.Send(text, keyboard.PayLink(h.t.T("premium.buy_button"), url))
}
