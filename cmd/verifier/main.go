// Package main wires together the presence verifier service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zzpscan/presence-verifier/internal/api"
	"github.com/zzpscan/presence-verifier/internal/clock/system"
	"github.com/zzpscan/presence-verifier/internal/collector/dnsprobe"
	"github.com/zzpscan/presence-verifier/internal/collector/httpprobe"
	"github.com/zzpscan/presence-verifier/internal/collector/searchprobe"
	"github.com/zzpscan/presence-verifier/internal/collector/whoisprobe"
	"github.com/zzpscan/presence-verifier/internal/config"
	"github.com/zzpscan/presence-verifier/internal/discover/directory"
	"github.com/zzpscan/presence-verifier/internal/engine"
	"github.com/zzpscan/presence-verifier/internal/id/uuid"
	memorylocker "github.com/zzpscan/presence-verifier/internal/locker/memory"
	redislocker "github.com/zzpscan/presence-verifier/internal/locker/redis"
	"github.com/zzpscan/presence-verifier/internal/logging"
	"github.com/zzpscan/presence-verifier/internal/metrics"
	"github.com/zzpscan/presence-verifier/internal/progress"
	"github.com/zzpscan/presence-verifier/internal/progress/sinks"
	memorypublisher "github.com/zzpscan/presence-verifier/internal/publisher/memory"
	pubsubpublisher "github.com/zzpscan/presence-verifier/internal/publisher/pubsub"
	"github.com/zzpscan/presence-verifier/internal/ratelimit"
	"github.com/zzpscan/presence-verifier/internal/scheduler"
	"github.com/zzpscan/presence-verifier/internal/service"
	memorystorage "github.com/zzpscan/presence-verifier/internal/storage/memory"
	"github.com/zzpscan/presence-verifier/internal/storage/postgres"
	"github.com/zzpscan/presence-verifier/internal/verify"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	directoryURL := flag.String("directory-url", "", "Business directory listing endpoint for crawl jobs")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, storeCleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer storeCleanup()

	locker, lockerCleanup, err := buildLocker(ctx, cfg)
	if err != nil {
		logger.Fatal("locker init failed", zap.Error(err))
	}
	defer lockerCleanup()

	publisher, publisherCleanup, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer publisherCleanup()

	clock := system.New()
	idGen := uuid.New()

	collectors := []verify.Collector{
		dnsprobe.New(nil),
		httpprobe.New(httpprobe.Config{
			UserAgent: cfg.Collectors.UserAgent,
			Timeout:   cfg.ProbeTimeout(),
		}),
		whoisprobe.New(whoisprobe.Config{
			Server:  cfg.Collectors.WhoisServer,
			Timeout: cfg.ProbeTimeout(),
		}, nil),
		searchprobe.New(searchprobe.Config{
			Endpoint:  cfg.Collectors.SearchEndpoint,
			UserAgent: cfg.Collectors.UserAgent,
			Timeout:   cfg.ProbeTimeout(),
		}),
	}

	unit := engine.New(collectors, store, publisher, clock, idGen, engine.Config{
		ProbeTimeout: cfg.ProbeTimeout(),
		Topic:        cfg.PubSub.TopicName,
	}, logger.Named("engine"))

	limiter := ratelimit.New(ratelimit.Config{
		RPS:     cfg.RateLimit.RPS,
		Burst:   cfg.RateLimit.Burst,
		MaxWait: cfg.RateLimitMaxWait(),
	})

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		logger.Fatal("progress sink init failed", zap.Error(err))
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")), promSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	var discoverer verify.Discoverer
	if *directoryURL != "" {
		discoverer = directory.New(directory.Config{
			BaseURL:   *directoryURL,
			UserAgent: cfg.Collectors.UserAgent,
			Timeout:   cfg.ProbeTimeout(),
			MaxPages:  10,
			Source:    "directory",
		})
	}

	sched := scheduler.New(store, unit, discoverer, locker, limiter, clock, idGen, hub,
		scheduler.Config{
			Workers:       cfg.Scheduler.Workers,
			ClaimInterval: cfg.ClaimInterval(),
			ItemRetries:   cfg.Scheduler.ItemRetries,
		}, logger.Named("scheduler"))

	svc := service.New(store, clock, idGen, logger.Named("service"))
	apiServer := api.NewServer(svc, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		logger.Info("scheduler started")
		sched.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-schedulerDone
	logger.Info("shutdown complete")
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (verify.Store, func(), error) {
	switch cfg.DB.Provider {
	case "postgres":
		if err := postgres.Migrate(cfg.DB.DSN); err != nil {
			return nil, nil, err
		}
		pool, err := postgres.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewStore(pool, logger.Named("postgres"))
		return store, store.Close, nil
	default:
		return memorystorage.New(), func() {}, nil
	}
}

func buildLocker(ctx context.Context, cfg config.Config) (verify.BusinessLocker, func(), error) {
	if !cfg.Redis.Enabled {
		return memorylocker.New(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return redislocker.New(client, cfg.LockTTL()), func() { _ = client.Close() }, nil
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (verify.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		logger.Info("pubsub project not configured, outcome events stay in memory")
		return memorypublisher.New(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	return pub, func() { _ = pub.Close() }, nil
}
