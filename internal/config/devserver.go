package config

import (
	"fmt"
	"os"
	"time"
)

type DevServerConfig struct {
	Port        string
	JWTSecret   string
	PushEnabled bool
	TokenTTL    time.Duration
	// SeedFile is an optional JSON file with an initial list of flag definitions
	SeedFile string
}

func LoadDevServerConfig() (*DevServerConfig, error) {
	// Parse token lifetime
	ttlStr := getEnvOrDefault("DEVSERVER_TOKEN_TTL", "1h")
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		ttl = time.Hour // Default to 1h on parse error
	}

	cfg := &DevServerConfig{
		Port:        getEnvOrDefault("PORT", "8080"),
		JWTSecret:   getEnvOrDefault("DEVSERVER_JWT_SECRET", "flagsync-dev-secret"),
		PushEnabled: getEnvOrDefault("DEVSERVER_PUSH_ENABLED", "true") == "true",
		TokenTTL:    ttl,
		SeedFile:    os.Getenv("DEVSERVER_SEED_FILE"),
	}

	// Validate
	if cfg.TokenTTL < time.Minute {
		return nil, fmt.Errorf("invalid DEVSERVER_TOKEN_TTL: %s (must be at least 1m)", cfg.TokenTTL)
	}
	if cfg.SeedFile != "" {
		if _, err := os.Stat(cfg.SeedFile); err != nil {
			return nil, fmt.Errorf("checking DEVSERVER_SEED_FILE: %w", err)
		}
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
