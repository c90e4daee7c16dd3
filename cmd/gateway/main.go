package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gpt4free/pollinations"
	"github.com/gpt4free/pollinations/internal/handlers"
	"github.com/gpt4free/pollinations/internal/httpserver"
	"github.com/gpt4free/pollinations/internal/metrics"
	"github.com/gpt4free/pollinations/pkg/logging"
)

// Config defines all environment-driven runtime options.
type Config struct {
	Port         string        `env:"PORT" envDefault:"8080"`
	APIKey       string        `env:"POLLINATIONS_API_KEY"`
	CacheBackend string        `env:"CACHE_BACKEND" envDefault:"memory"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	Timeout      time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"600s"`
}

// LoadConfig reads .env (if present) and parses environment variables.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Bool("authenticated", cfg.APIKey != ""),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Pollinations client -----
	client, err := pollinations.New(pollinations.Config{
		APIKey:       cfg.APIKey,
		Timeout:      cfg.Timeout,
		CacheBackend: cfg.CacheBackend,
		CacheTTL:     cfg.CacheTTL,
		RedisClient:  redisClient,
	}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	// ----- Handlers -----
	chatHandler := handlers.NewChatHandler(client)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, chatHandler)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: streamed completions hold the response open.
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.CacheBackend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
