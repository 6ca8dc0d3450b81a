package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kpmajid/chat-app/internal/api"
	"github.com/kpmajid/chat-app/internal/auth"
	"github.com/kpmajid/chat-app/internal/cache"
	cfgpkg "github.com/kpmajid/chat-app/internal/config"
	"github.com/kpmajid/chat-app/internal/engine"
	"github.com/kpmajid/chat-app/internal/events"
	"github.com/kpmajid/chat-app/internal/fanout"
	"github.com/kpmajid/chat-app/internal/presence"
	"github.com/kpmajid/chat-app/internal/repository"
	"github.com/kpmajid/chat-app/internal/ws"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	var zl *zap.Logger
	if cfg.Development() {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	// Mongo
	mc, err := repository.NewMongoClient(cfg.Mongo.URI)
	if err != nil {
		logger.Fatalw("mongo init", "err", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()

	store, err := repository.NewMongoStore(mc.Database(cfg.Mongo.Database))
	if err != nil {
		logger.Fatalw("store init", "err", err)
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	mirror := cache.NewPresenceStore(rdb, cfg.Redis.Prefix, 24*time.Hour)
	limiter := api.NewRateLimiter(rdb, cfg.Redis.Prefix, cfg.RateLimit.Requests, cfg.RateLimitWindow)

	// Kafka
	var producer *events.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer producer.Close()
	}

	// Core
	registry := presence.NewRegistry()
	dispatcher := fanout.NewDispatcher(registry, store, logger)
	eng := engine.New(store, registry, dispatcher, logger,
		engine.WithStoreTimeout(cfg.StoreTimeout),
		engine.WithProducer(producer),
		engine.WithPresenceMirror(mirror),
	)

	validator := auth.NewValidator(cfg.JWT.Secret)
	wsh := ws.NewHandler(eng, validator, cfg, logger)
	app := api.NewServer(cfg, eng, wsh, validator, limiter, logger)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.App.Port)
		logger.Infow("chat-app listening", "addr", addr)
		errs <- app.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		logger.Fatalw("server error", "err", err)
	case sig := <-quit:
		logger.Infow("signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warnw("shutdown", "err", err)
	}
	logger.Info("chat-app stopped")
}
