package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment configuration
type Config struct {
	// Server
	Port       string
	MaxPayload int64

	// Logging
	Verbosity int

	// Registry fetches for shrinkwrapped packages
	FetchTimeout time.Duration

	// Dependency kinds left out of the plan: "dev", "optional", "peer"
	Omit []string
}

// Load reads .env files (if present) and then the process environment
func Load(files ...string) (*Config, error) {
	// Missing .env files are fine
	_ = godotenv.Load(files...)

	config := &Config{
		Port: getEnv("PORT", "8080"),
		Omit: splitList(getEnv("SPR_OMIT", "")),
	}

	var err error
	if config.Verbosity, err = strconv.Atoi(getEnv("SPR_VERBOSITY", "0")); err != nil {
		return nil, fmt.Errorf("invalid SPR_VERBOSITY: %w", err)
	}
	if config.FetchTimeout, err = time.ParseDuration(getEnv("SPR_FETCH_TIMEOUT", "60s")); err != nil {
		return nil, fmt.Errorf("invalid SPR_FETCH_TIMEOUT: %w", err)
	}
	if config.MaxPayload, err = strconv.ParseInt(getEnv("SPR_MAX_PAYLOAD", "33554432"), 10, 64); err != nil {
		return nil, fmt.Errorf("invalid SPR_MAX_PAYLOAD: %w", err)
	}

	for _, kind := range config.Omit {
		switch kind {
		case "dev", "optional", "peer":
		default:
			return nil, fmt.Errorf("invalid SPR_OMIT entry %q (expected dev, optional or peer)", kind)
		}
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
