// Package config loads the process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultFreezeThreshold is the quorum used when neither the environment nor
// the project sets one.
const DefaultFreezeThreshold = 5

// Store backends for project channels.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`

	// Directory persistence
	DatabaseDSN string `envconfig:"DATABASE_DSN" default:"host=localhost user=user password=password dbname=fundchatdb port=5432 sslmode=disable"`

	// Channel store
	StoreBackend  string `envconfig:"STORE_BACKEND" default:"redis"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6380"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// WebSocket tickets
	JWTSecret string        `envconfig:"JWT_SECRET" default:"change-me"`
	TicketTTL time.Duration `envconfig:"TICKET_TTL" default:"2m"`

	// Freeze vote quorum when a project does not override it.
	FreezeThreshold int `envconfig:"FREEZE_THRESHOLD" default:"5"`

	// Payment rail
	StacksNetwork string `envconfig:"STACKS_NETWORK" default:"mainnet"`

	// Remote directory (empty = serve the directory from DATABASE_DSN)
	DirectoryURL     string        `envconfig:"DIRECTORY_URL"`
	DirectoryTimeout time.Duration `envconfig:"DIRECTORY_TIMEOUT" default:"5s"`
	// Service identity sent when a call carries no caller headers.
	DirectoryPublicKey string `envconfig:"DIRECTORY_PUBLICKEY"`
	DirectorySignature string `envconfig:"DIRECTORY_SIGNATURE"`

	// Telegram (empty = bot disabled)
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.StoreBackend != StoreRedis && c.StoreBackend != StoreMemory {
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreRedis, StoreMemory, c.StoreBackend)
	}
	if c.FreezeThreshold <= 0 {
		c.FreezeThreshold = DefaultFreezeThreshold
	}
	return nil
}

// TelegramEnabled returns true if a bot token is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// RemoteDirectory returns true when project records come from another service.
func (c *Config) RemoteDirectory() bool {
	return c.DirectoryURL != ""
}
