package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type ApplicationSettings struct {
	ServerPort         string
	RedisConnectionURL string
	GatewayBaseURL     string
	JWTSecret          string
	JournalPath        string

	// ChunkLimit is the conservative per-transaction ceiling; the true
	// gateway limit is account-specific and discovered by rejection.
	ChunkLimit int64
	// RetryFloor is the smallest chunk a limit rejection may shrink to.
	RetryFloor int64
	// Pacing is the delay between gateway calls.
	Pacing time.Duration

	BreakerMaxFailures int
	BreakerCooldown    time.Duration
}

func LoadEnvironmentConfig() *ApplicationSettings {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	return &ApplicationSettings{
		ServerPort:         getEnvironmentVariable("PORT", "9090"),
		RedisConnectionURL: getEnvironmentVariable("REDIS_ADDR", "localhost:6379"),
		GatewayBaseURL:     getEnvironmentVariable("GATEWAY_BASE_URL", "http://localhost:8001"),
		JWTSecret:          getEnvironmentVariable("JWT_SECRET", "dev-secret-change-me"),
		JournalPath:        getEnvironmentVariable("JOURNAL_PATH", "./data/recon.db"),
		ChunkLimit:         getInt64EnvironmentVariable("CHUNK_LIMIT", 25000),
		RetryFloor:         getInt64EnvironmentVariable("RETRY_FLOOR", 1000),
		Pacing:             time.Duration(getInt64EnvironmentVariable("PACING_MS", 1000)) * time.Millisecond,
		BreakerMaxFailures: int(getInt64EnvironmentVariable("BREAKER_MAX_FAILURES", 10)),
		BreakerCooldown:    time.Duration(getInt64EnvironmentVariable("BREAKER_COOLDOWN_S", 60)) * time.Second,
	}
}

func getEnvironmentVariable(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64EnvironmentVariable(key string, defaultValue int64) int64 {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
			return value
		}
	}
	return defaultValue
}
