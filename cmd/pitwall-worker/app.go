package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/PitWall/config"
	"github.com/BearBump/PitWall/internal/broker/kafka"
	"github.com/BearBump/PitWall/internal/cache/rediscache"
	"github.com/BearBump/PitWall/internal/integrations/openf1"
	"github.com/BearBump/PitWall/internal/metrics"
	"github.com/BearBump/PitWall/internal/pipeline"
	"github.com/BearBump/PitWall/internal/services/poller"
	"github.com/BearBump/PitWall/internal/services/runs"
	"github.com/BearBump/PitWall/internal/storage/pgf1"
)

type workerStore interface {
	pipeline.Store
	poller.SessionLister
	Ping(ctx context.Context) error
}

type workerFactories struct {
	newStorage     func(ctx context.Context, cfg *config.Config) (st workerStore, closeFn func(), err error)
	newProducer    func(cfg *config.Config) (runs.Producer, func())
	newRateLimiter func(cfg *config.Config) (openf1.RateLimiter, func())
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (workerStore, func(), error) {
			st, err := pgf1.New(ctx, cfg.Database.DSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) (runs.Producer, func()) {
			p := kafka.NewProducer([]string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)})
			return p, func() { _ = p.Close() }
		},
		newRateLimiter: func(cfg *config.Config) (openf1.RateLimiter, func()) {
			rl := rediscache.NewRateLimiter(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
			return rl, func() { _ = rl.Close() }
		},
	}
}

type workerOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)
}

func plannerConfig(cfg config.PitWallConfig) poller.PlannerConfig {
	pc := poller.DefaultPlannerConfig()
	if cfg.WorkerPollIntervalSeconds > 0 {
		pc.PollInterval = time.Duration(cfg.WorkerPollIntervalSeconds) * time.Second
	}
	if cfg.WorkerIdleIntervalSeconds > 0 {
		pc.IdleInterval = time.Duration(cfg.WorkerIdleIntervalSeconds) * time.Second
	}
	return pc
}

// RunWorker imports telemetry of finished sessions until ctx is done and
// serves the side HTTP server alongside.
func RunWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerOpts) error {
	st, closeFn, err := f.newStorage(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	if closeFn != nil {
		defer closeFn()
	}

	m := metrics.New()
	deps := pipeline.Deps{Store: st, Metrics: m}
	if cfg.Kafka.Enabled() && f.newProducer != nil {
		p, closeP := f.newProducer(cfg)
		deps.Producer = p
		if closeP != nil {
			defer closeP()
		}
	}
	if cfg.Redis.Enabled() && cfg.OpenF1.RateLimitPerMinute > 0 && f.newRateLimiter != nil {
		rl, closeRL := f.newRateLimiter(cfg)
		deps.RateLimiter = rl
		if closeRL != nil {
			defer closeRL()
		}
	}

	pl, err := pipeline.New(cfg, deps)
	if err != nil {
		return err
	}
	if err := pl.Verify(ctx); err != nil {
		return err
	}

	p := poller.New(st, pl.Telemetry).
		WithSettings(
			time.Duration(cfg.PitWall.WorkerLookbackHours)*time.Hour,
			time.Duration(cfg.PitWall.WorkerSettleMinutes)*time.Minute,
		).
		WithPlanner(plannerConfig(cfg.PitWall))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    opts.httpAddr,
			swaggerPath: opts.swaggerPath,
			onListen:    opts.onListen,
			poller:      p,
			reporter:    pl.Reporter,
			metrics:     m,
			ready:       st.Ping,
			cfg:         cfg,
		})
	}()

	pollErr := make(chan error, 1)
	go func() { pollErr <- p.Run(ctx) }()

	select {
	case err := <-pollErr:
		return err
	case err := <-httpErr:
		if err == nil {
			return <-pollErr
		}
		cancel()
		<-pollErr
		return errors.Wrap(err, "worker http server")
	}
}
