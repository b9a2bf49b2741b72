package config

import "time"

// Config holds runtime configuration for the FSM storage service.
type Config struct {
	AppEnv  string        `mapstructure:"app_env"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Sentry  SentryConfig  `mapstructure:"sentry"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Server  ServerConfig  `mapstructure:"server"`
	Bot     BotConfig     `mapstructure:"bot"`
}

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// SentryConfig enables error reporting.
type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// StorageConfig selects the backing store and payload serializer.
//
// Changing Serializer on an existing store is unsupported: payloads written
// with one serializer cannot be read with another, so a fresh store is needed.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=sqlite postgres redis bolt"`
	Path            string        `mapstructure:"path" validate:"required_unless=Driver redis"`
	Serializer      string        `mapstructure:"serializer" validate:"oneof=json gob pickle msgpack"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RedisConfig is used when Storage.Driver is redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Prefix   string `mapstructure:"prefix"`
	PoolSize int    `mapstructure:"pool_size" validate:"gte=0"`
	Enabled  bool   `mapstructure:"enabled"`
}

// ServerConfig is the HTTP listener for /metrics and /healthz.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BotConfig configures the optional Telegram bot.
type BotConfig struct {
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}
