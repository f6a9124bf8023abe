// Package config provides the chat server configuration: where to listen,
// how moderation behaves, and which optional infrastructure is enabled.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all server configuration.
type Config struct {
	Host            string        // bind host, e.g. "127.0.0.1"
	Port            int           // bind port
	BanDuration     time.Duration // how long a ban lasts once the report threshold is hit
	ReportThreshold int           // distinct reporters needed to impose a ban
	HistorySize     int           // broadcast messages returned on first registration
	MaxLineBytes    int           // longest accepted request line
	DelayUnit       time.Duration // unit of the integer delay in /send_delayed

	OpsAddr   string // ops HTTP listen address; empty disables it
	NATSURL   string // NATS server URL; empty disables event publishing
	RedisAddr string // Redis address; empty selects in-process rate limiting
	LogLevel  string

	RateLimit RateLimitConfig
}

// RateLimitConfig bounds how many request lines one connection may send.
type RateLimitConfig struct {
	Commands int
	Window   time.Duration
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Host:            "127.0.0.1",
		Port:            8000,
		BanDuration:     4 * time.Hour,
		ReportThreshold: 3,
		HistorySize:     20,
		MaxLineBytes:    4096,
		DelayUnit:       time.Second,
		OpsAddr:         ":9090",
		LogLevel:        "info",
		RateLimit: RateLimitConfig{
			Commands: 20,
			Window:   10 * time.Second,
		},
	}
}

// Load reads configuration from environment variables, falling back to
// Default for anything unset or unparsable.
func Load() (*Config, error) {
	d := Default()

	cfg := &Config{
		Host:            getEnv("CHAT_HOST", d.Host),
		Port:            getEnvInt("CHAT_PORT", d.Port),
		BanDuration:     getEnvDuration("BAN_DURATION", d.BanDuration),
		ReportThreshold: getEnvInt("REPORT_THRESHOLD", d.ReportThreshold),
		HistorySize:     getEnvInt("HISTORY_SIZE", d.HistorySize),
		MaxLineBytes:    getEnvInt("MAX_LINE_BYTES", d.MaxLineBytes),
		DelayUnit:       d.DelayUnit,
		OpsAddr:         getEnv("OPS_ADDR", d.OpsAddr),
		NATSURL:         getEnv("NATS_URL", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		LogLevel:        getEnv("LOG_LEVEL", d.LogLevel),
		RateLimit: RateLimitConfig{
			Commands: getEnvInt("RATE_LIMIT_COMMANDS", d.RateLimit.Commands),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", d.RateLimit.Window),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("CHAT_PORT must be in 1..65535, got %d", c.Port)
	}
	if c.ReportThreshold < 1 {
		return fmt.Errorf("REPORT_THRESHOLD must be >= 1, got %d", c.ReportThreshold)
	}
	if c.BanDuration <= 0 {
		return fmt.Errorf("BAN_DURATION must be > 0, got %s", c.BanDuration)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("HISTORY_SIZE must be >= 0, got %d", c.HistorySize)
	}
	if c.MaxLineBytes < 64 {
		return fmt.Errorf("MAX_LINE_BYTES must be >= 64, got %d", c.MaxLineBytes)
	}
	if c.DelayUnit <= 0 {
		return fmt.Errorf("delay unit must be > 0, got %s", c.DelayUnit)
	}
	if c.RateLimit.Commands < 1 {
		return fmt.Errorf("RATE_LIMIT_COMMANDS must be >= 1, got %d", c.RateLimit.Commands)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0, got %s", c.RateLimit.Window)
	}
	return nil
}

// ListenAddr joins Host and Port into a dialable address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
