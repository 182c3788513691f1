package main

import (
	"log/slog"
	"os"
)

// Config holds the server configuration, all sourced from the environment.
type Config struct {
	Addr        string
	MongoURI    string
	MongoDB     string
	JWTSecret   string
	NatsURL     string // optional; enables the cross-instance event relay
	Environment string // development | production
	LogLevel    string
}

func loadConfig() Config {
	return Config{
		Addr:        envOrDefault("ADDR", ":4000"),
		MongoURI:    os.Getenv("MONGO_URI"),
		MongoDB:     envOrDefault("MONGO_DB", "open-network"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		NatsURL:     os.Getenv("NATS_URL"),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
	}
}

// validate exits on missing required settings: these are startup
// misconfigurations, never per-request errors.
func (c Config) validate() {
	if c.JWTSecret == "" {
		slog.Error("JWT_SECRET is not set")
		os.Exit(1)
	}
	if c.MongoURI == "" {
		slog.Error("MONGO_URI is not set")
		os.Exit(1)
	}
}

func (c Config) development() bool {
	return c.Environment == "development"
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
