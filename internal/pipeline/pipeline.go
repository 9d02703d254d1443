// Package pipeline assembles the import services from configuration. It is
// shared by the importer CLI and the worker daemon.
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/PitWall/config"
	"github.com/BearBump/PitWall/internal/integrations/openf1"
	"github.com/BearBump/PitWall/internal/metrics"
	"github.com/BearBump/PitWall/internal/services/catalog"
	"github.com/BearBump/PitWall/internal/services/runs"
	"github.com/BearBump/PitWall/internal/services/telemetry"
)

// Store is everything the importers read from and write to.
type Store interface {
	catalog.Store
	telemetry.SampleStore
	telemetry.SessionSource
	telemetry.DriverSource
}

type Deps struct {
	Store       Store
	Producer    runs.Producer // nil disables ingest.completed events
	RateLimiter openf1.RateLimiter
	Metrics     *metrics.Registry
	Output      io.Writer
}

type Pipeline struct {
	Client    *openf1.Client
	Catalog   *catalog.Importer
	Telemetry *telemetry.Importer
	Reporter  *runs.Reporter
}

// NewClient builds the upstream client with token auth, retry policy and
// optional shared rate limiting. A token setup problem is a configuration error.
func NewClient(cfg *config.Config, rl openf1.RateLimiter, m *metrics.Registry) (*openf1.Client, error) {
	timeout := time.Duration(cfg.OpenF1.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := openf1.New(cfg.OpenF1.BaseURL, timeout)

	policy := openf1.DefaultRetryPolicy()
	if cfg.Ingest.RetryMaxAttempts > 0 {
		policy.MaxAttempts = cfg.Ingest.RetryMaxAttempts
	}
	if cfg.Ingest.RetryBaseDelaySeconds > 0 {
		policy.Backoff = openf1.ExponentialBackoff(time.Duration(cfg.Ingest.RetryBaseDelaySeconds) * time.Second)
	}
	c = c.WithRetryPolicy(policy)

	if cfg.OpenF1.UseToken {
		tokenURL := cfg.OpenF1.TokenURL
		if tokenURL == "" {
			tokenURL = openf1.DefaultTokenURL
		}
		tp, err := openf1.NewTokenProvider(tokenURL, cfg.OpenF1.Username, cfg.OpenF1.Password, timeout)
		if err != nil {
			return nil, errors.Wrap(err, "openf1 token provider")
		}
		c = c.WithTokens(tp)
	}
	if rl != nil && cfg.OpenF1.RateLimitPerMinute > 0 {
		c = c.WithRateLimiter(rl, int64(cfg.OpenF1.RateLimitPerMinute))
	}
	if m != nil {
		c = c.WithObserver(m.ObserveRequest)
	}
	return c, nil
}

// WindowConfig reads the window margins and reporting zone.
func WindowConfig(cfg config.IngestConfig) (telemetry.WindowConfig, error) {
	wc := telemetry.DefaultWindowConfig()
	if cfg.WindowMarginMinutes > 0 {
		wc.Margin = time.Duration(cfg.WindowMarginMinutes) * time.Minute
	}
	if cfg.QualifyingExtraMinutes > 0 {
		wc.QualifyingExtra = time.Duration(cfg.QualifyingExtraMinutes) * time.Minute
	}
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return wc, errors.Wrapf(err, "ingest timezone %q", cfg.Timezone)
		}
		wc.Location = loc
	}
	return wc, nil
}

func New(cfg *config.Config, d Deps) (*Pipeline, error) {
	if d.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	client, err := NewClient(cfg, d.RateLimiter, d.Metrics)
	if err != nil {
		return nil, err
	}
	wc, err := WindowConfig(cfg.Ingest)
	if err != nil {
		return nil, err
	}

	rep := runs.NewReporter()
	if d.Output != nil {
		rep = rep.WithOutput(d.Output)
	}
	if d.Metrics != nil {
		rep = rep.WithMetrics(d.Metrics)
	}
	if d.Producer != nil {
		topic := cfg.Kafka.IngestCompletedTopicName
		if topic == "" {
			topic = "ingest.completed"
		}
		rep = rep.WithProducer(d.Producer, topic)
	}

	cat := catalog.New(client, d.Store, rep).
		WithRequestDelay(time.Duration(cfg.OpenF1.RequestDelayMillis) * time.Millisecond)

	enum := telemetry.NewEnumerator(d.Store, telemetry.NewResolver(d.Store, wc))
	tel := telemetry.NewImporter(enum, client, d.Store, rep).
		WithSettings(time.Duration(cfg.Ingest.ChunkMinutes)*time.Minute, cfg.Ingest.Workers)
	if d.Metrics != nil {
		tel = tel.WithResultHook(runs.ChunkObserver(d.Metrics))
	}

	return &Pipeline{Client: client, Catalog: cat, Telemetry: tel, Reporter: rep}, nil
}

// Verify checks upstream credentials. Call it before starting any import.
func (p *Pipeline) Verify(ctx context.Context) error {
	return errors.Wrap(p.Client.CheckAuth(ctx), "openf1 credentials")
}
