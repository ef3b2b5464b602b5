// Package config loads server configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Listener
	Host string `env:"SERVER_HOST" envDefault:"127.0.0.1"`
	Port int    `env:"SERVER_PORT" envDefault:"8000"`

	// Chat tunables
	DefaultNamePrefix string        `env:"CHAT_DEFAULT_NAME" envDefault:"Anonymous"`
	GreetingMessage   string        `env:"CHAT_GREETING" envDefault:"Welcome to Test Server"`
	HistorySize       int           `env:"CHAT_HISTORY_SIZE" envDefault:"20"`
	ReportsForBan     int           `env:"CHAT_REPORTS_FOR_BAN" envDefault:"2"`
	BanDuration       time.Duration `env:"CHAT_BAN_DURATION" envDefault:"600s"`
	SpamMessageLimit  int           `env:"CHAT_SPAM_MESSAGE_LIMIT" envDefault:"5"`
	SpamPeriod        time.Duration `env:"CHAT_SPAM_PERIOD" envDefault:"10s"`

	// Connection rate limiting (accept-time DoS guard)
	ConnIPBurst     int     `env:"CHAT_CONN_IP_BURST" envDefault:"10"`
	ConnIPRate      float64 `env:"CHAT_CONN_IP_RATE" envDefault:"1.0"`
	ConnGlobalBurst int     `env:"CHAT_CONN_GLOBAL_BURST" envDefault:"300"`
	ConnGlobalRate  float64 `env:"CHAT_CONN_GLOBAL_RATE" envDefault:"50.0"`

	// Monitoring
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9100"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file (if present) and environment
// variables. Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	// .env is a development convenience; in production env vars are set
	// directly and the file is absent.
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SERVER_HOST is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be 1-65535, got %d", c.Port)
	}

	if c.HistorySize < 0 {
		return fmt.Errorf("CHAT_HISTORY_SIZE must be >= 0, got %d", c.HistorySize)
	}
	if c.ReportsForBan < 1 {
		return fmt.Errorf("CHAT_REPORTS_FOR_BAN must be > 0, got %d", c.ReportsForBan)
	}
	if c.BanDuration <= 0 {
		return fmt.Errorf("CHAT_BAN_DURATION must be positive, got %s", c.BanDuration)
	}
	if c.SpamMessageLimit < 1 {
		return fmt.Errorf("CHAT_SPAM_MESSAGE_LIMIT must be > 0, got %d", c.SpamMessageLimit)
	}
	if c.SpamPeriod <= 0 {
		return fmt.Errorf("CHAT_SPAM_PERIOD must be positive, got %s", c.SpamPeriod)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// Addr returns the host:port string the listener binds to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LogConfig logs the loaded configuration with structured fields.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr()).
		Str("default_name_prefix", c.DefaultNamePrefix).
		Int("history_size", c.HistorySize).
		Int("reports_for_ban", c.ReportsForBan).
		Dur("ban_duration", c.BanDuration).
		Int("spam_message_limit", c.SpamMessageLimit).
		Dur("spam_period", c.SpamPeriod).
		Str("metrics_addr", c.MetricsAddr).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
