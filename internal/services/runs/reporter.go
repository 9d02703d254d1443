// Package runs fans a finished import summary out to the log, the console,
// Prometheus and Kafka.
package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/PitWall/internal/broker/messages"
	"github.com/BearBump/PitWall/internal/metrics"
	"github.com/BearBump/PitWall/internal/models"
	"github.com/BearBump/PitWall/internal/services/telemetry"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Reporter struct {
	out      io.Writer
	producer Producer
	topic    string
	metrics  *metrics.Registry

	publishTimeout  time.Duration
	publishAttempts int
	sleep           func(time.Duration)

	mu   sync.Mutex
	last map[string]models.ImportSummary
}

func NewReporter() *Reporter {
	return &Reporter{
		publishTimeout:  10 * time.Second,
		publishAttempts: 5,
		sleep:           time.Sleep,
		last:            make(map[string]models.ImportSummary),
	}
}

// WithOutput prints every summary line to w.
func (r *Reporter) WithOutput(w io.Writer) *Reporter {
	r.out = w
	return r
}

// WithProducer publishes an ingest.completed event per run to topic.
func (r *Reporter) WithProducer(p Producer, topic string) *Reporter {
	r.producer = p
	r.topic = topic
	return r
}

func (r *Reporter) WithMetrics(m *metrics.Registry) *Reporter {
	r.metrics = m
	return r
}

func (r *Reporter) Report(ctx context.Context, s models.ImportSummary) {
	r.mu.Lock()
	r.last[s.Dataset] = s
	r.mu.Unlock()

	attrs := []any{
		"run_id", s.RunID,
		"dataset", s.Dataset,
		"mode", string(s.Mode),
		"sessions", len(s.Sessions),
		"fetched", s.Fetched,
		"inserted", s.Inserted,
		"skipped", s.Skipped,
		"deleted", s.Deleted,
		"errors", s.Errors(),
		"duration", s.FinishedAt.Sub(s.StartedAt).String(),
	}
	if s.Aborted != "" {
		slog.Warn("import aborted", append(attrs, "reason", s.Aborted)...)
	} else {
		slog.Info("import finished", attrs...)
	}

	if r.out != nil {
		fmt.Fprintln(r.out, s.String())
	}

	if r.metrics != nil {
		_, isTelemetry := telemetry.DatasetByName(s.Dataset)
		r.metrics.ObserveRun(s, !isTelemetry)
	}

	if r.producer != nil && r.topic != "" {
		// The run may have ended because ctx was cancelled; the event still goes out.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.publishTimeout)
		defer cancel()
		if err := r.publish(pctx, s); err != nil {
			slog.Error("publish ingest completed", "run_id", s.RunID, "error", err.Error())
		}
	}
}

func (r *Reporter) publish(ctx context.Context, s models.ImportSummary) error {
	b, err := json.Marshal(messages.FromSummary(s))
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}

	// Kafka may not accept writes right after docker compose starts.
	var pubErr error
	for i := 0; i < r.publishAttempts; i++ {
		if pubErr = r.producer.Publish(ctx, r.topic, []byte(s.RunID), b); pubErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		r.sleep(time.Duration(150*(i+1)) * time.Millisecond)
	}
	return pubErr
}

// Last returns the most recent summary of every dataset seen so far.
func (r *Reporter) Last() map[string]models.ImportSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]models.ImportSummary, len(r.last))
	for k, v := range r.last {
		out[k] = v
	}
	return out
}

// ChunkObserver adapts the metrics registry to telemetry.Importer.WithResultHook.
func ChunkObserver(m *metrics.Registry) func(ds string, res telemetry.ChunkResult) {
	return func(ds string, res telemetry.ChunkResult) {
		m.ObserveChunk(ds, res.Inserted, res.Skipped, res.Deleted, boolToInt(res.APIError), res.BuildErrors, boolToInt(res.DBError))
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
