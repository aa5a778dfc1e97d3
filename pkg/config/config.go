package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the premium bot.
type Config struct {
	AppEnv string `mapstructure:"app_env"`

	Logger   LoggerConfig   `mapstructure:"logger"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Bot      BotConfig      `mapstructure:"bot"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
}

type LoggerConfig struct {
	Level  string        `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string        `mapstructure:"format" validate:"omitempty,oneof=json text"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig enables rotated file output next to stdout.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=postgres memory"`
	Host         string `mapstructure:"host" validate:"required_if=Driver postgres"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user" validate:"required_if=Driver postgres"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name" validate:"required_if=Driver postgres"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// BotConfig configures the Telegram surface. Offline skips the getMe call
// and long polling, which is useful with the memory driver.
type BotConfig struct {
	Token          string        `mapstructure:"token" validate:"required"`
	Timeout        time.Duration `mapstructure:"timeout"`
	AdminID        int64         `mapstructure:"admin_id"`
	Offline        bool          `mapstructure:"offline"`
	Lang           string        `mapstructure:"lang" validate:"omitempty,oneof=ru en"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	FloodLimit     int           `mapstructure:"flood_limit" validate:"gte=0"`
	FloodWindow    time.Duration `mapstructure:"flood_window"`
	StateTTL       time.Duration `mapstructure:"state_ttl"`
}

// LimitsConfig holds the hourly message quotas.
type LimitsConfig struct {
	MaxRegular       int           `mapstructure:"max_regular" validate:"gte=0"`
	MaxPremium       int           `mapstructure:"max_premium" validate:"gtefield=MaxRegular"`
	Window           time.Duration `mapstructure:"window"`
	FeedbackCooldown time.Duration `mapstructure:"feedback_cooldown"`
}

type PaymentConfig struct {
	MerchantID    string        `mapstructure:"merchant_id" validate:"required"`
	Secret1       string        `mapstructure:"secret1" validate:"required"`
	Secret2       string        `mapstructure:"secret2" validate:"required"`
	Currency      string        `mapstructure:"currency" validate:"required,len=3"`
	Lang          string        `mapstructure:"lang"`
	BaseURL       string        `mapstructure:"base_url" validate:"required,url"`
	Price         int64         `mapstructure:"price" validate:"gt=0"`
	LinkTTL       time.Duration `mapstructure:"link_ttl"`
	PremiumDays   int           `mapstructure:"premium_days" validate:"gt=0"`
	AllowedIPs    []string      `mapstructure:"allowed_ips" validate:"dive,ip"`
	WebhookPath   string        `mapstructure:"webhook_path"`
	InFlightGuard time.Duration `mapstructure:"in_flight_guard"`
}

type QueueConfig struct {
	Name            string        `mapstructure:"name"`
	MaxInFlight     int           `mapstructure:"max_in_flight" validate:"gt=0"`
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gt=0"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	SendRate        int           `mapstructure:"send_rate"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ChatCacheTTL    time.Duration `mapstructure:"chat_cache_ttl"`
}

type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// DSN returns the PostgreSQL connection string based on config values.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}
