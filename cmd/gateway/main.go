package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aimerfeng/PoolGate/internal/cache"
	"github.com/aimerfeng/PoolGate/internal/config"
	"github.com/aimerfeng/PoolGate/internal/database"
	"github.com/aimerfeng/PoolGate/internal/logging"
	"github.com/aimerfeng/PoolGate/internal/monitoring"
	"github.com/aimerfeng/PoolGate/internal/server"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.SetupFromConfig(cfg)

	log.Info().
		Str("env", cfg.Server.Env).
		Msg("Starting PoolGate gateway")

	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	redis, err := cache.New(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer redis.Close()

	monitoring.Init()

	srv := server.NewGatewayServer(cfg, db.Pool, redis)

	// WriteTimeout stays at zero so streaming responses are never cut off
	// mid-body; the upstream timeout bounds each forward instead.
	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:     srv.Router(),
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Gateway.Port).Msg("Gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start gateway")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Gateway forced to shutdown")
	}

	log.Info().Msg("Gateway exited gracefully")
}
