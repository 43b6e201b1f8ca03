// Package config loads process configuration from the environment. Required
// values that are missing abort startup; everything else has a default.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/relaydata/stripebridge/pkg/logx"
)

// Config is the full process configuration, loaded once at startup and
// treated as immutable afterwards.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Crypto       CryptoConfig
	Stripe       StripeConfig
	Supabase     SupabaseConfig
	Provisioning ProvisioningConfig
	Sweeper      SweeperConfig
}

// Load reads every section from the environment.
func Load() *Config {
	return &Config{
		Server:       loadServerConfig(),
		Database:     loadDatabaseConfig(),
		Redis:        loadRedisConfig(),
		Crypto:       loadCryptoConfig(),
		Stripe:       loadStripeConfig(),
		Supabase:     loadSupabaseConfig(),
		Provisioning: loadProvisioningConfig(),
		Sweeper:      loadSweeperConfig(),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		logx.Fatalf("config: required environment variable %s is not set", key)
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logx.Warnf("config: invalid integer for %s, using default %d", key, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logx.Warnf("config: invalid duration for %s, using default %s", key, fallback)
	}
	return fallback
}

// getEnvMillis reads a duration expressed as integer milliseconds.
func getEnvMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
		logx.Warnf("config: invalid milliseconds for %s, using default %s", key, fallback)
	}
	return fallback
}

func getEnvStringSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
