package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"chunkpay/internal/auth"
	"chunkpay/internal/checkout"
	"chunkpay/internal/circuitbreaker"
	"chunkpay/internal/config"
	"chunkpay/internal/gateway"
	"chunkpay/internal/httpapi"
	"chunkpay/internal/orchestrator"
	"chunkpay/internal/recon"
	"chunkpay/internal/storage"
	"chunkpay/pkg/logging"
)

func main() {
	logging.Setup()
	settings := config.LoadEnvironmentConfig()

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     120 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
		Timeout: 15 * time.Second,
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: settings.RedisConnectionURL,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		slog.Error("redis failed", "err", err)
		os.Exit(1)
	}
	store := storage.NewRedisStore(rdb)

	journal, err := recon.Open(settings.JournalPath)
	if err != nil {
		slog.Error("reconciliation journal failed", "err", err)
		os.Exit(1)
	}
	defer journal.Close()

	breaker := circuitbreaker.New(settings.BreakerMaxFailures, settings.BreakerCooldown, 3)
	gw := gateway.NewClient(client, settings.GatewayBaseURL, breaker)
	registry := checkout.NewRegistry()

	runCtx, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()

	orch := orchestrator.New(gw, registry, store, journal, orchestrator.Config{
		ChunkLimit: settings.ChunkLimit,
		RetryFloor: settings.RetryFloor,
		Pacing:     settings.Pacing,
	})
	manager := orchestrator.NewManager(runCtx, orch, store)

	jwtManager := auth.NewJWTManager(settings.JWTSecret, 24*time.Hour)

	app := fiber.New(fiber.Config{
		JSONEncoder: sonic.Marshal,
		JSONDecoder: sonic.Unmarshal,
	})
	httpapi.NewHandler(manager, registry, store, journal, jwtManager).Register(app)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down")
		stopRuns()
		app.Shutdown()
	}()

	slog.Info("server running",
		"port", settings.ServerPort,
		"gateway", settings.GatewayBaseURL,
		"chunkLimit", settings.ChunkLimit,
		"retryFloor", settings.RetryFloor,
	)
	if err := app.Listen(":" + settings.ServerPort); err != nil {
		slog.Error("server failed", "err", err)
	}
}
