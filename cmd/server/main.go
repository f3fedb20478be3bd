package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/koios/device-bridge/internal/amqp"
	"github.com/koios/device-bridge/internal/bridge"
	"github.com/koios/device-bridge/internal/config"
	"github.com/koios/device-bridge/internal/device"
	"github.com/koios/device-bridge/internal/handlers"
	"github.com/koios/device-bridge/internal/redis"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	dev, err := device.NewPlatform(cfg.Bridge, logger)
	if err != nil {
		logger.Fatal("Failed to initialize device platform", zap.Error(err))
	}

	registry := bridge.NewRegistry(logger.Named("registry"))
	device.Register(registry, dev, device.Options{
		VibrateDuration: cfg.Bridge.VibrateDuration,
		Logger:          logger.Named("device"),
	})

	pool := bridge.NewWorkerPool(cfg.Bridge.Workers, registry, cfg.Bridge.CallTimeout, logger.Named("pool"))
	pool.Start()
	defer pool.Stop()

	eventHandler := handlers.NewEventHandler(pool, logger.Named("events"))
	apiHandler := handlers.NewAPIHandler(pool, dev.Platform(), cfg.Server, logger.Named("api"))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiHandler.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis, logger.Named("redis"))
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()

		consumer := redis.NewConsumer(redisClient, eventHandler, logger.Named("redis"))
		g.Go(consumer.Start)
		g.Go(func() error {
			<-gctx.Done()
			consumer.Stop()
			return nil
		})
	}

	if cfg.AMQP.Enabled {
		conn, err := amqp.NewConnection(cfg.AMQP, logger.Named("amqp"))
		if err != nil {
			logger.Fatal("Failed to connect to AMQP", zap.Error(err))
		}
		defer conn.Close()

		consumer := amqp.NewConsumer(conn, eventHandler, logger.Named("amqp"))
		g.Go(func() error {
			if err := consumer.Start(gctx, cfg.AMQP.QueueName); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	logger.Info("Server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("platform", dev.Platform()),
		zap.Strings("functions", registry.Names()),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("amqp", cfg.AMQP.Enabled))

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		apiHandler.CloseConnections()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}
	logger.Info("Server shutdown complete")
}

// newLogger builds a production logger at the given level
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
