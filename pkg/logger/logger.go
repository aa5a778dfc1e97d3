// Package logger builds the structured slog logger shared by every component.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"
	slogsentry "github.com/samber/slog-sentry/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Proton-105/premium-bot/pkg/config"
)

// Logger wraps slog.Logger with a runtime-adjustable level and owned outputs.
type Logger struct {
	*slog.Logger
	level   *slog.LevelVar
	closers []io.Closer
}

// New creates a Logger writing to stdout (and optionally a rotated file), masking
// sensitive attributes and forwarding errors to Sentry when it is enabled.
func New(cfg config.Config) (*Logger, error) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Logger.Level))

	l := &Logger{level: level}

	var out io.Writer = os.Stdout
	if cfg.Logger.File.Path != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.Logger.File.Path,
			MaxSize:    cfg.Logger.File.MaxSizeMB,
			MaxBackups: cfg.Logger.File.MaxBackups,
			MaxAge:     cfg.Logger.File.MaxAgeDays,
			Compress:   true,
		}
		l.closers = append(l.closers, file)
		out = io.MultiWriter(os.Stdout, file)
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: true}

	var base slog.Handler
	if strings.EqualFold(cfg.Logger.Format, "text") {
		base = slog.NewTextHandler(out, opts)
	} else {
		base = slog.NewJSONHandler(out, opts)
	}

	handlers := []slog.Handler{base}
	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: firstNonEmpty(cfg.Sentry.Environment, cfg.AppEnv),
			SampleRate:  cfg.Sentry.SampleRate,
		}); err != nil {
			return nil, fmt.Errorf("init sentry: %w", err)
		}
		handlers = append(handlers, slogsentry.Option{Level: slog.LevelError}.NewSentryHandler())
	}

	l.Logger = slog.New(NewMaskingHandler(newFanoutHandler(handlers...))).With(
		slog.String("env", cfg.AppEnv),
	)

	return l, nil
}

// SetLevel changes the minimum level at runtime. Unknown names fall back to info.
func (l *Logger) SetLevel(name string) {
	l.level.Set(ParseLevel(name))
}

// Close flushes Sentry and closes file outputs.
func (l *Logger) Close() error {
	sentry.Flush(sentryFlushTimeout)

	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ParseLevel maps a config level name to a slog.Level.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
