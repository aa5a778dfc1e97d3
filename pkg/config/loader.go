// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	// missing env files are fine outside local development
	_ = godotenv.Load(".env.local", ".env")

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	v := viper.New()
	v.SetConfigFile(fmt.Sprintf("./configs/%s.yaml", env))

	cfg, err := LoadFrom(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.AppEnv = env

	return cfg, v, nil
}

// LoadFrom reads, defaults, unmarshals and validates configuration from a prepared viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// WatchLogLevel invokes apply with the new logger.level whenever the config file changes.
func WatchLogLevel(v *viper.Viper, apply func(level string)) {
	if v == nil || apply == nil {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		apply(v.GetString("logger.level"))
	})
	v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("bot.timeout", 10*time.Second)
	v.SetDefault("bot.lang", "ru")
	v.SetDefault("bot.handler_timeout", 60*time.Second)
	v.SetDefault("bot.flood_limit", 20)
	v.SetDefault("bot.flood_window", time.Minute)
	v.SetDefault("bot.state_ttl", 24*time.Hour)

	v.SetDefault("limits.max_regular", 1)
	v.SetDefault("limits.max_premium", 10)
	v.SetDefault("limits.window", time.Hour)
	v.SetDefault("limits.feedback_cooldown", 24*time.Hour)

	v.SetDefault("payment.currency", "RUB")
	v.SetDefault("payment.lang", "ru")
	v.SetDefault("payment.base_url", "https://pay.kassa.shop/")
	v.SetDefault("payment.price", 10)
	v.SetDefault("payment.link_ttl", 30*time.Minute)
	v.SetDefault("payment.premium_days", 30)
	v.SetDefault("payment.webhook_path", "/payment_webhook")
	v.SetDefault("payment.in_flight_guard", 30*time.Second)

	v.SetDefault("queue.name", "notifications")
	v.SetDefault("queue.max_in_flight", 5)
	v.SetDefault("queue.max_attempts", 4)
	v.SetDefault("queue.initial_backoff", 500*time.Millisecond)
	v.SetDefault("queue.max_backoff", 10*time.Second)
	v.SetDefault("queue.send_rate", 25)
	v.SetDefault("queue.shutdown_timeout", 20*time.Second)
	v.SetDefault("queue.chat_cache_ttl", 10*time.Minute)

	v.SetDefault("sweep.interval", 24*time.Hour)
}
