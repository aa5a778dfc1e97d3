// Package bot is the thin Telegram surface: commands, menu buttons and the quota gate in
// front of the assistant.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/premium-bot/internal/domain"
	"github.com/Proton-105/premium-bot/internal/entitlement"
	apperrors "github.com/Proton-105/premium-bot/internal/errors"
	"github.com/Proton-105/premium-bot/internal/i18n"
	"github.com/Proton-105/premium-bot/internal/idempotency"
	"github.com/Proton-105/premium-bot/internal/ratelimit"
	"github.com/Proton-105/premium-bot/internal/state"
)

type Entitlements interface {
	EnsureUser(ctx context.Context, profile domain.Profile) (bool, error)
	CheckAndRecord(ctx context.Context, userID int64) (entitlement.Quota, error)
	Status(ctx context.Context, userID int64) (entitlement.Status, error)
	TryFeedback(ctx context.Context, userID int64) (entitlement.FeedbackDecision, error)
}

type Payments interface {
	CreateLink(ctx context.Context, userID int64, amount int64) (string, *domain.PaymentLink, error)
}

type Notifications interface {
	Enqueue(ctx context.Context, userID int64, text string) error
	Broadcast(ctx context.Context, userIDs []int64, text string) (int, error)
}

// Directory lists broadcast recipients.
type Directory interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
}

type ChatCache interface {
	SetChatID(ctx context.Context, userID, chatID int64) error
}

// Responder produces the assistant's answer. It lives outside this module.
type Responder interface {
	Respond(ctx context.Context, userID int64, text string) (string, error)
}

type Config struct {
	AdminID        int64
	Price          int64
	PremiumDays    int
	MaxPremium     int
	HandlerTimeout time.Duration
	FloodLimit     int
	FloodWindow    time.Duration
}

type Deps struct {
	Config        Config
	Entitlements  Entitlements
	Payments      Payments
	Notifications Notifications
	Directory     Directory
	States        state.StateMachine
	Translator    i18n.Translator
	Responder     Responder
	ChatCache     ChatCache
	Guard         idempotency.Manager
	Flood         ratelimit.Limiter
	ErrHandler    *apperrors.Handler
}

// Bot wraps telebot.Bot with the application router.
type Bot struct {
	telebot *telebot.Bot
	router  *Router
	log     *slog.Logger
}

// New wires the router onto tb. tb may be nil for tests that drive Router directly.
func New(tb *telebot.Bot, deps Deps, log *slog.Logger) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Entitlements == nil || deps.Payments == nil || deps.Notifications == nil || deps.States == nil || deps.Translator == nil || deps.Directory == nil {
		return nil, fmt.Errorf("bot: missing required dependency")
	}
	if deps.Config.HandlerTimeout <= 0 {
		deps.Config.HandlerTimeout = 10 * time.Second
	}

	log = log.With(slog.String("component", "bot"))
	b := &Bot{
		telebot: tb,
		router:  newRouter(deps, log),
		log:     log,
	}

	if tb != nil {
		tb.Handle(telebot.OnText, b.router.Route)
	}

	return b, nil
}

func newRouter(deps Deps, log *slog.Logger) *Router {
	h := &handlers{deps: deps, t: deps.Translator, fsm: deps.States, log: log}

	dispatcher := NewDispatcher(deps.States, log)
	dispatcher.RegisterStateHandler(state.StateAwaitingFeedback, h.collectFeedback)

	router := NewRouter(dispatcher, log)
	router.Use(RecoveryMiddleware(log, deps.ErrHandler, deps.Translator))
	router.Use(IdempotencyMiddleware(deps.Guard, log))
	router.Use(ErrorHandlingMiddleware(deps.ErrHandler, deps.Translator))
	router.Use(LoggingMiddleware(log))
	router.Use(RateLimitMiddleware(deps.Flood, deps.Config.FloodLimit, deps.Config.FloodWindow, deps.Translator, log))
	router.Use(RegisterMiddleware(deps.Entitlements, deps.ChatCache, log))
	router.Use(MetricsMiddleware)

	router.RegisterCommand(CommandStart, h.start)
	router.RegisterCommand(CommandStatus, h.status)
	router.RegisterCommand(CommandPremium, h.premium)
	router.RegisterCommand(CommandPayment, h.premium)
	router.RegisterCommand(CommandFeedback, h.feedback)
	router.RegisterCommand(CommandBroadcast, h.broadcast)

	router.RegisterButton(deps.Translator.T(ButtonNewChat), h.newChat)
	router.RegisterButton(deps.Translator.T(ButtonTips), h.tips)
	router.RegisterButton(deps.Translator.T(ButtonFeedback), h.feedback)

	router.SetDefault(h.ask)

	return router
}

// Router exposes the update router.
func (b *Bot) Router() *Router {
	return b.router
}

// Start runs the long-polling loop and blocks until Stop.
func (b *Bot) Start() {
	if b.telebot != nil {
		b.log.Info("starting telegram bot")
		b.telebot.Start()
	}
}

// Stop stops polling. Handlers already running finish on their own.
func (b *Bot) Stop(context.Context) error {
	if b.telebot == nil {
		return nil
	}

	b.log.Info("stopping telegram bot")
	b.telebot.Stop()
	return nil
}
