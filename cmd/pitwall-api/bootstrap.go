package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/PitWall/config"
	"github.com/BearBump/PitWall/internal/broker/kafka"
	"github.com/BearBump/PitWall/internal/cache"
	"github.com/BearBump/PitWall/internal/cache/rediscache"
	"github.com/BearBump/PitWall/internal/logger"
	"github.com/BearBump/PitWall/internal/metrics"
	"github.com/BearBump/PitWall/internal/services/f1data"
	"github.com/BearBump/PitWall/internal/storage/pgf1"
)

type apiApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   apiOpts
	deps   apiDeps
	closer []func()
}

func apiSettings(cfg *config.Config) (apiOpts, time.Duration) {
	opts := apiOpts{
		httpAddr:      cfg.PitWall.APIHTTPAddr,
		topic:         cfg.Kafka.IngestCompletedTopicName,
		consumerGroup: cfg.PitWall.KafkaConsumerGroup,
	}
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}
	if opts.topic == "" {
		opts.topic = "ingest.completed"
	}
	if opts.consumerGroup == "" {
		opts.consumerGroup = "pitwall-api"
	}
	ttl := time.Duration(cfg.PitWall.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return opts, ttl
}

func mustBootstrapAPI() *apiApp {
	if _, err := logger.Setup(os.Stderr, os.Getenv("logLevel")); err != nil {
		panic(err)
	}
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	if err := config.Validate(cfg); err != nil {
		panic(err)
	}

	opts, ttl := apiSettings(cfg)
	opts.swaggerPath = swaggerPath

	a := &apiApp{opts: opts}
	st := mustOpenPostgresWithRetry(cfg.Database.DSN(), 60*time.Second)
	a.closer = append(a.closer, st.Close)

	m := metrics.New()
	var c cache.BytesCache
	if cfg.Redis.Enabled() {
		rc := rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		a.closer = append(a.closer, func() { _ = rc.Close() })
		c = rc
	} else {
		slog.Warn("redis is not configured, responses are not cached")
	}
	svc := f1data.New(st, c, ttl).WithCacheObserver(m.ObserveCache)

	a.deps = apiDeps{svc: svc, metrics: m, ready: st.Ping}
	if cfg.Kafka.Enabled() {
		consumer := kafka.NewConsumer([]string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}, opts.topic, opts.consumerGroup)
		a.closer = append(a.closer, func() { _ = consumer.Close() })
		a.deps.consumer = consumer
	}

	a.ctx, a.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return a
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgf1.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgf1.New(context.Background(), connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *apiApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closer) - 1; i >= 0; i-- {
		a.closer[i]()
	}
}

func (a *apiApp) Run() error {
	return runAPI(a.ctx, a.opts, a.deps)
}
