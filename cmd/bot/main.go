package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/Proton-105/premium-bot/internal/bot"
	"github.com/Proton-105/premium-bot/internal/database"
	"github.com/Proton-105/premium-bot/internal/database/migrations"
	"github.com/Proton-105/premium-bot/internal/entitlement"
	apperrors "github.com/Proton-105/premium-bot/internal/errors"
	"github.com/Proton-105/premium-bot/internal/health"
	"github.com/Proton-105/premium-bot/internal/httpapi"
	"github.com/Proton-105/premium-bot/internal/i18n"
	"github.com/Proton-105/premium-bot/internal/idempotency"
	"github.com/Proton-105/premium-bot/internal/jobs"
	"github.com/Proton-105/premium-bot/internal/lifecycle"
	"github.com/Proton-105/premium-bot/internal/notify"
	"github.com/Proton-105/premium-bot/internal/payment"
	"github.com/Proton-105/premium-bot/internal/ratelimit"
	"github.com/Proton-105/premium-bot/internal/repository"
	"github.com/Proton-105/premium-bot/internal/repository/memstore"
	"github.com/Proton-105/premium-bot/internal/state"
	"github.com/Proton-105/premium-bot/internal/sweep"
	"github.com/Proton-105/premium-bot/internal/telegram"
	"github.com/Proton-105/premium-bot/internal/usercache"
	"github.com/Proton-105/premium-bot/internal/webhook"
	"github.com/Proton-105/premium-bot/pkg/config"
	"github.com/Proton-105/premium-bot/pkg/graceful"
	"github.com/Proton-105/premium-bot/pkg/logger"
	pkgredis "github.com/Proton-105/premium-bot/pkg/redis"
)

const (
	healthTimeout   = 2 * time.Second
	sendWindow      = time.Second
	sendThrottleKey = "telegram:send"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "premium-bot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return err
	}

	appLogger, err := logger.New(*cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	config.WatchLogLevel(v, appLogger.SetLevel)
	log := appLogger.Logger

	log.Info("starting premium bot",
		slog.String("env", cfg.AppEnv),
		slog.String("http_port", cfg.Server.Port),
		slog.String("db_driver", cfg.Database.Driver),
	)

	shutdown := lifecycle.NewShutdown(log)
	shutdown.Register(lifecycle.PhaseStorage, "logger", func(context.Context) error {
		return appLogger.Close()
	})

	if err := start(ctx, cfg, log, shutdown); err != nil {
		log.Error("startup failed", slog.Any("error", err))
		_ = shutdown.Execute(context.Background())
		return err
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+cfg.Queue.ShutdownTimeout)
	defer cancel()

	return shutdown.Execute(shutdownCtx)
}

// start builds every component and registers its stop hook. Hooks registered before a failure
// still run, so a partial start is unwound by the caller.
func start(ctx context.Context, cfg *config.Config, log *slog.Logger, shutdown *lifecycle.Shutdown) error {
	store, err := openStore(ctx, cfg.Database, log, shutdown)
	if err != nil {
		return err
	}

	rdb, err := pkgredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	shutdown.Register(lifecycle.PhaseStorage, "redis", func(context.Context) error {
		return rdb.Close()
	})

	redisOpt := pkgredis.AsynqOpt(cfg.Redis)
	jobManager := jobs.NewManager(redisOpt, log)
	shutdown.Register(lifecycle.PhaseClients, "job_client", func(context.Context) error {
		return jobManager.Close()
	})

	queue := notify.NewQueue(jobManager, cfg.Queue.Name, log)

	entitlements := entitlement.NewService(store, entitlement.Limits{
		MaxRegular:       cfg.Limits.MaxRegular,
		MaxPremium:       cfg.Limits.MaxPremium,
		Window:           cfg.Limits.Window,
		FeedbackCooldown: cfg.Limits.FeedbackCooldown,
	}, log, entitlement.WithAdminNotifier(cfg.Bot.AdminID, queue))

	registry := payment.NewRegistry(store, payment.Config{
		MerchantID: cfg.Payment.MerchantID,
		Secret1:    cfg.Payment.Secret1,
		Currency:   cfg.Payment.Currency,
		Lang:       cfg.Payment.Lang,
		BaseURL:    cfg.Payment.BaseURL,
		LinkTTL:    cfg.Payment.LinkTTL,
	}, log)

	tb, err := telegram.NewBot(cfg.Bot.Token, cfg.Bot.Timeout, cfg.Bot.Offline)
	if err != nil {
		return err
	}
	sender := telegram.NewSender(tb, apperrors.NewCircuitBreaker(apperrors.BreakerSettings{}), log)

	limiter := ratelimit.NewAdaptiveLimiter(
		ratelimit.NewRedisLimiter(rdb, log),
		ratelimit.NewMemoryLimiter(log),
		log,
	)

	deliverer := notify.NewDeliverer(store.Users(), sender, apperrors.RetryPolicy{
		MaxRetries:     cfg.Queue.MaxAttempts - 1,
		InitialBackoff: cfg.Queue.InitialBackoff,
		MaxBackoff:     cfg.Queue.MaxBackoff,
	}, log,
		notify.WithChatCache(usercache.NewCache(rdb, cfg.Queue.ChatCacheTTL)),
		notify.WithThrottle(ratelimit.NewThrottle(limiter, sendThrottleKey, cfg.Queue.SendRate, sendWindow, log)),
	)

	worker := jobs.NewWorker(redisOpt, jobs.WorkerConfig{
		Queue:           cfg.Queue.Name,
		Concurrency:     cfg.Queue.MaxInFlight,
		ShutdownTimeout: cfg.Queue.ShutdownTimeout,
	}, log)
	worker.RegisterHandler(jobs.TaskTypeNotify, deliverer)
	worker.RegisterHandler(jobs.TaskTypeSweep, sweep.New(entitlements, registry, log))
	if err := worker.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	shutdown.Register(lifecycle.PhaseWorkers, "worker", func(context.Context) error {
		worker.Shutdown()
		return nil
	})

	scheduler := jobs.NewScheduler(redisOpt, cfg.Queue.Name, log)
	if err := scheduler.RegisterSweep(cfg.Sweep.Interval); err != nil {
		return fmt.Errorf("register sweep: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	shutdown.Register(lifecycle.PhaseIngress, "scheduler", func(context.Context) error {
		scheduler.Shutdown()
		return nil
	})

	guard := idempotency.NewManager(idempotency.NewRedisStore(rdb, log), cfg.Payment.InFlightGuard, log)

	verifier := webhook.NewVerifier(webhook.Config{
		MerchantID:  cfg.Payment.MerchantID,
		Secret2:     cfg.Payment.Secret2,
		Currency:    cfg.Payment.Currency,
		PremiumDays: cfg.Payment.PremiumDays,
	}, store, registry, entitlements, queue, log, webhook.WithGuard(guard))

	checker := health.NewChecker(log, healthTimeout)
	checker.AddCheck("database", store)
	checker.AddCheck("redis", health.NewRedisChecker(rdb))
	checker.AddCheck("telegram", health.NewTelegramChecker(tb))

	server := graceful.NewServer(log, cfg.Server, httpapi.NewRouter(httpapi.Deps{
		Webhook:     webhook.NewHandler(verifier, cfg.Payment.AllowedIPs, log),
		WebhookPath: cfg.Payment.WebhookPath,
		Health:      checker,
		Log:         log,
	}))
	if err := server.Start(); err != nil {
		return err
	}
	shutdown.Register(lifecycle.PhaseIngress, "http_server", server.Shutdown)
	go func() {
		for err := range server.Errors() {
			log.Error("http server stopped", slog.Any("error", err))
		}
	}()

	catalog, err := i18n.Load(cfg.Bot.Lang)
	if err != nil {
		return err
	}

	b, err := bot.New(tb, bot.Deps{
		Config: bot.Config{
			AdminID:        cfg.Bot.AdminID,
			Price:          cfg.Payment.Price,
			PremiumDays:    cfg.Payment.PremiumDays,
			MaxPremium:     cfg.Limits.MaxPremium,
			HandlerTimeout: cfg.Bot.HandlerTimeout,
			FloodLimit:     cfg.Bot.FloodLimit,
			FloodWindow:    cfg.Bot.FloodWindow,
		},
		Entitlements:  entitlements,
		Payments:      registry,
		Notifications: queue,
		Directory:     store.Users(),
		States:        state.NewStateMachine(state.NewRedisStorage(rdb, cfg.Bot.StateTTL, log), log, rdb),
		Translator:    catalog.Translator(cfg.Bot.Lang),
		ChatCache:     usercache.NewCache(rdb, cfg.Queue.ChatCacheTTL),
		Guard:         idempotency.NewManager(idempotency.NewRedisStore(rdb, log), cfg.Bot.HandlerTimeout, log),
		Flood:         limiter,
		ErrHandler:    apperrors.NewHandler(log, cfg.Sentry.Enabled),
	}, log)
	if err != nil {
		return err
	}

	if cfg.Bot.Offline {
		log.Warn("telegram bot is offline, long polling disabled")
		return nil
	}

	go b.Start()
	shutdown.Register(lifecycle.PhaseIngress, "telegram_bot", b.Stop)

	return nil
}

// openStore picks the persistence backend. Postgres gets its schema applied before use.
func openStore(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger, shutdown *lifecycle.Shutdown) (repository.Store, error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory store, data is lost on restart")
		return memstore.New(), nil
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	shutdown.Register(lifecycle.PhaseStorage, "database", func(context.Context) error {
		return db.Close()
	})

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := database.NewMigrator(db, log).ApplyFS(ctx, migrations.FS, "."); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("database migrations applied")

	return repository.NewPostgresStore(db, log), nil
}
