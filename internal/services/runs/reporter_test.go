package runs

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/PitWall/internal/broker/messages"
	"github.com/BearBump/PitWall/internal/metrics"
	"github.com/BearBump/PitWall/internal/models"
	"github.com/BearBump/PitWall/internal/services/telemetry"
)

type fakeProducer struct {
	fails int
	calls int
	topic string
	key   []byte
	value []byte
	ctxOK bool
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.calls++
	p.ctxOK = ctx.Err() == nil
	if p.calls <= p.fails {
		return errors.New("leader not available")
	}
	p.topic, p.key, p.value = topic, key, value
	return nil
}

func summary() models.ImportSummary {
	start := time.Date(2024, 3, 2, 18, 0, 0, 0, time.UTC)
	return models.ImportSummary{
		RunID:      "run-1",
		Dataset:    models.DatasetCarData,
		Mode:       models.ModeInsert,
		Sessions:   []models.SessionRef{{MeetingKey: 1229, SessionKey: 9472}},
		Requests:   12,
		Fetched:    100,
		Inserted:   90,
		Skipped:    10,
		APIErrors:  1,
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
	}
}

func TestReport_PublishesAfterRetry(t *testing.T) {
	p := &fakeProducer{fails: 2}
	var out bytes.Buffer
	r := NewReporter().WithOutput(&out).WithProducer(p, "ingest.completed")
	var waits []time.Duration
	r.sleep = func(d time.Duration) { waits = append(waits, d) }

	r.Report(context.Background(), summary())

	require.Equal(t, 3, p.calls)
	require.Equal(t, []time.Duration{150 * time.Millisecond, 300 * time.Millisecond}, waits)
	require.Equal(t, "ingest.completed", p.topic)
	require.Equal(t, []byte("run-1"), p.key)

	var msg messages.IngestCompleted
	require.NoError(t, json.Unmarshal(p.value, &msg))
	require.Equal(t, int64(90), msg.Inserted)
	require.Equal(t, int64(1), msg.Errors)
	require.Equal(t, []models.SessionRef{{MeetingKey: 1229, SessionKey: 9472}}, msg.Sessions)
	require.Nil(t, msg.Aborted)

	require.Contains(t, out.String(), "car_data [I]: requests=12 fetched=100 inserted=90 skipped=10")
}

func TestReport_CancelledRunStillPublished(t *testing.T) {
	p := &fakeProducer{}
	r := NewReporter().WithProducer(p, "ingest.completed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := summary()
	s.Aborted = context.Canceled.Error()
	r.Report(ctx, s)

	require.Equal(t, 1, p.calls)
	require.True(t, p.ctxOK)
	var msg messages.IngestCompleted
	require.NoError(t, json.Unmarshal(p.value, &msg))
	require.NotNil(t, msg.Aborted)
}

func TestReport_GivesUp(t *testing.T) {
	p := &fakeProducer{fails: 100}
	r := NewReporter().WithProducer(p, "t")
	r.sleep = func(time.Duration) {}

	r.Report(context.Background(), summary())
	require.Equal(t, 5, p.calls)
}

func TestReport_MetricsAndLast(t *testing.T) {
	m := metrics.New()
	r := NewReporter().WithMetrics(m)

	r.Report(context.Background(), summary())
	drivers := models.ImportSummary{Dataset: models.DatasetDrivers, Inserted: 20}
	r.Report(context.Background(), drivers)

	require.Equal(t, 1.0, testutil.ToFloat64(m.ImportRuns.WithLabelValues("car_data", "partial")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ImportRuns.WithLabelValues("drivers", "ok")))
	// Telemetry rows come from the chunk hook, not the run summary.
	require.Equal(t, 1, testutil.CollectAndCount(m.Rows))
	require.Equal(t, 20.0, testutil.ToFloat64(m.Rows.WithLabelValues("drivers", metrics.OutcomeInserted)))

	last := r.Last()
	require.Len(t, last, 2)
	require.Equal(t, "run-1", last[models.DatasetCarData].RunID)
}

func TestChunkObserver(t *testing.T) {
	m := metrics.New()
	obs := ChunkObserver(m)
	obs(models.DatasetLocation, telemetry.ChunkResult{Inserted: 4, Skipped: 1})
	obs(models.DatasetLocation, telemetry.ChunkResult{APIError: true})

	require.Equal(t, 4.0, testutil.ToFloat64(m.Rows.WithLabelValues("location", metrics.OutcomeInserted)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("location", metrics.KindAPI)))
}
