// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	ListenAddr   string
	DataDir      string
	PollInterval time.Duration

	BessaBaseURL    string
	BessaGuestToken string
	ClientVersion   string
	VenueID         int
	MenuID          int

	LogLevel    string
	Environment string
}

// Load reads configuration from environment variables and a .env file if one
// is present. godotenv never overrides variables already set in the process.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:    getEnv("KANTINE_ADDR", ":3005"),
		DataDir:       getEnv("KANTINE_DATA_DIR", "./data"),
		BessaBaseURL:  getEnv("BESSA_API_BASE", "https://api.bessa.app/v1"),
		ClientVersion: getEnv("BESSA_CLIENT_VERSION", "1.7.0_prod/2026-01-26"),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Environment:   strings.ToLower(getEnv("ENVIRONMENT", "development")),
	}

	cfg.BessaGuestToken = os.Getenv("BESSA_GUEST_TOKEN")
	if cfg.BessaGuestToken == "" {
		return nil, fmt.Errorf("BESSA_GUEST_TOKEN is not set")
	}

	var err error
	cfg.PollInterval, err = time.ParseDuration(getEnv("KANTINE_POLL_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid KANTINE_POLL_INTERVAL: %w", err)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("KANTINE_POLL_INTERVAL must be positive")
	}

	cfg.VenueID, err = getEnvInt("BESSA_VENUE_ID", 591)
	if err != nil {
		return nil, err
	}
	cfg.MenuID, err = getEnvInt("BESSA_MENU_ID", 7)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// FlagsPath is the location of the persisted flag set.
func (c *Config) FlagsPath() string {
	return filepath.Join(c.DataDir, "flags.json")
}

// MenuDBPath is the location of the SQLite menu cache.
func (c *Config) MenuDBPath() string {
	return filepath.Join(c.DataDir, "menus.db")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
