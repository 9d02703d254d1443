package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/BearBump/PitWall/config"
	"github.com/BearBump/PitWall/internal/broker/kafka"
	"github.com/BearBump/PitWall/internal/cache/rediscache"
	"github.com/BearBump/PitWall/internal/integrations/openf1"
	"github.com/BearBump/PitWall/internal/models"
	"github.com/BearBump/PitWall/internal/pipeline"
	"github.com/BearBump/PitWall/internal/services/runs"
	"github.com/BearBump/PitWall/internal/storage/pgf1"
)

type importFactories struct {
	openStore      func(ctx context.Context, cfg *config.Config) (st pipeline.Store, closeFn func(), err error)
	newProducer    func(cfg *config.Config) (runs.Producer, func())
	newRateLimiter func(cfg *config.Config) (openf1.RateLimiter, func())
}

func defaultImportFactories() importFactories {
	return importFactories{
		openStore: func(ctx context.Context, cfg *config.Config) (pipeline.Store, func(), error) {
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

// importFunc runs one import against an assembled pipeline.
type importFunc func(ctx context.Context, p *pipeline.Pipeline, mode models.ImportMode) (models.ImportSummary, error)

type app struct {
	f          importFactories
	out        io.Writer
	configPath string
	logLevel   string
}

// run loads config, wires the pipeline and executes fn. The run summary is
// printed by the reporter; only configuration, connection and aborted-run
// errors are returned.
func (a *app) run(ctx context.Context, modeFlag string, fn importFunc) error {
	mode, err := models.ParseImportMode(modeFlag)
	if err != nil {
		return err
	}
	if a.configPath == "" {
		return errors.New("config path is required (--config or configPath env var)")
	}
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	st, closeFn, err := a.f.openStore(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	if closeFn != nil {
		defer closeFn()
	}

	deps := pipeline.Deps{Store: st, Output: a.out}
	if cfg.Kafka.Enabled() && a.f.newProducer != nil {
		p, closeP := a.f.newProducer(cfg)
		deps.Producer = p
		if closeP != nil {
			defer closeP()
		}
	}
	if cfg.Redis.Enabled() && cfg.OpenF1.RateLimitPerMinute > 0 && a.f.newRateLimiter != nil {
		rl, closeRL := a.f.newRateLimiter(cfg)
		deps.RateLimiter = rl
		if closeRL != nil {
			defer closeRL()
		}
	}

	p, err := pipeline.New(cfg, deps)
	if err != nil {
		return err
	}
	if err := p.Verify(ctx); err != nil {
		return err
	}

	sum, err := fn(ctx, p, mode)
	if err != nil {
		return errors.Wrapf(err, "%s import aborted", sum.Dataset)
	}
	return nil
}
