package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BearBump/PitWall/internal/integrations/openf1"
	"github.com/BearBump/PitWall/internal/models"
)

// Fetcher is the upstream query surface (see openf1.Client).
type Fetcher interface {
	Get(ctx context.Context, endpoint string, filters ...openf1.Filter) ([]json.RawMessage, error)
}

// SampleStore persists telemetry, one transaction per call.
type SampleStore interface {
	InsertSamples(ctx context.Context, table string, samples []models.Sample) (int64, error)
	ReplaceSamples(ctx context.Context, table string, t models.Triplet, samples []models.Sample) (deleted, inserted int64, err error)
}

// Dataset ties an OpenF1 endpoint (and table of the same name) to its parser.
type Dataset struct {
	Name  string
	Parse func(raw json.RawMessage) (models.Sample, error)
}

var (
	CarData = Dataset{
		Name: models.DatasetCarData,
		Parse: func(raw json.RawMessage) (models.Sample, error) {
			return openf1.ParseCarData(raw)
		},
	}
	Location = Dataset{
		Name: models.DatasetLocation,
		Parse: func(raw json.RawMessage) (models.Sample, error) {
			return openf1.ParseLocation(raw)
		},
	}
)

func DatasetByName(name string) (Dataset, bool) {
	switch name {
	case CarData.Name:
		return CarData, true
	case Location.Name:
		return Location, true
	}
	return Dataset{}, false
}

// Unit is one (triplet, chunk) fetch.
type Unit struct {
	Triplet models.Triplet
	Chunk   Chunk
}

// ChunkResult is what one unit contributed to the run.
type ChunkResult struct {
	Unit Unit

	Fetched     int64
	Inserted    int64
	Skipped     int64
	Deleted     int64
	BuildErrors int64

	APIError bool
	DBError  bool
	Err      error
}

type Worker struct {
	api   Fetcher
	store SampleStore
	ds    Dataset
	mode  models.ImportMode
}

func NewWorker(api Fetcher, store SampleStore, ds Dataset, mode models.ImportMode) *Worker {
	return &Worker{api: api, store: store, ds: ds, mode: mode}
}

// Process fetches one chunk with strict date bounds, parses what came back
// and writes it. Failures are reported in the result, never returned.
func (w *Worker) Process(ctx context.Context, u Unit) ChunkResult {
	res := ChunkResult{Unit: u}
	t := u.Triplet

	recs, err := w.api.Get(ctx, w.ds.Name,
		openf1.Eq("meeting_key", t.MeetingKey),
		openf1.Eq("session_key", t.SessionKey),
		openf1.Eq("driver_number", t.DriverNumber),
		openf1.After("date", u.Chunk.Start),
		openf1.Before("date", u.Chunk.End),
	)
	if err != nil {
		res.APIError = true
		res.Err = err
		slog.Warn("fetch chunk", "dataset", w.ds.Name,
			"meeting_key", t.MeetingKey, "session_key", t.SessionKey, "driver_number", t.DriverNumber,
			"chunk_start", u.Chunk.Start, "chunk_end", u.Chunk.End, "error", err.Error())
		return res
	}
	res.Fetched = int64(len(recs))

	samples := make([]models.Sample, 0, len(recs))
	for _, raw := range recs {
		s, err := w.ds.Parse(raw)
		if err != nil {
			res.BuildErrors++
			slog.Debug("drop record", "dataset", w.ds.Name, "error", err.Error())
			continue
		}
		samples = append(samples, s)
	}
	if res.BuildErrors > 0 {
		slog.Warn("records dropped", "dataset", w.ds.Name,
			"session_key", t.SessionKey, "driver_number", t.DriverNumber, "count", res.BuildErrors)
	}
	if len(samples) == 0 {
		return res
	}

	if w.mode == models.ModeUpdate {
		res.Deleted, res.Inserted, err = w.store.ReplaceSamples(ctx, w.ds.Name, t, samples)
	} else {
		res.Inserted, err = w.store.InsertSamples(ctx, w.ds.Name, samples)
	}
	if err != nil {
		res.Deleted, res.Inserted = 0, 0
		res.DBError = true
		res.Err = err
		slog.Error("write chunk", "dataset", w.ds.Name,
			"meeting_key", t.MeetingKey, "session_key", t.SessionKey, "driver_number", t.DriverNumber, "error", err.Error())
		return res
	}
	res.Skipped = int64(len(samples)) - res.Inserted
	return res
}
