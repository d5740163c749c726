package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the flat environment-backed configuration record. It is
// immutable after FromEnv; anything mutable belongs in the database.
type Config struct {
	HTTPAddr string
	LogLevel string

	DBDriver string
	DBDSN    string

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration

	BlobBasePath string
	CORSOrigins  []string
}

func FromEnv() Config {
	return Config{
		HTTPAddr: envOr("HTTP_ADDR", ":8080"),
		LogLevel: envOr("LOG_LEVEL", "info"),

		DBDriver: envOr("DATABASE_DRIVER", "sqlite"),
		DBDSN:    envOr("DATABASE_URL", ""),

		JWTSecret:       envOr("JWT_SECRET", "changeme-use-a-real-secret-in-production"),
		AccessTokenTTL:  envDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		RefreshTokenTTL: envDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ResetTokenTTL:   envDuration("RESET_TOKEN_TTL", time.Hour),

		BlobBasePath: envOr("BLOB_BASE_PATH", "./data"),
		CORSOrigins:  csvOr("CORS_ORIGINS", "http://localhost:3000"),
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare integers are hours, for parity with older deployments.
	if h, err := strconv.Atoi(v); err == nil {
		return time.Duration(h) * time.Hour
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
