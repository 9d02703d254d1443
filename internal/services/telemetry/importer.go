package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/BearBump/PitWall/internal/models"
)

// Reporter receives the summary of every run, aborted ones included.
type Reporter interface {
	Report(ctx context.Context, s models.ImportSummary)
}

type Enumerating interface {
	Enumerate(ctx context.Context, table string, f models.SessionFilter, mode models.ImportMode) (Enumeration, error)
}

type Options struct {
	Filter  models.SessionFilter
	Mode    models.ImportMode
	Workers int
}

// Importer runs a whole telemetry import: enumerate, chunk, dispatch, report.
type Importer struct {
	enum     Enumerating
	api      Fetcher
	store    SampleStore
	reporter Reporter

	chunkSize time.Duration
	workers   int
	counters  *Counters
	onResult  func(ds string, r ChunkResult)
	now       func() time.Time
}

func NewImporter(enum Enumerating, api Fetcher, store SampleStore, reporter Reporter) *Importer {
	return &Importer{
		enum:      enum,
		api:       api,
		store:     store,
		reporter:  reporter,
		chunkSize: DefaultChunkSize,
		workers:   DefaultWorkers,
		counters:  &Counters{},
		now:       time.Now,
	}
}

func (im *Importer) WithSettings(chunkSize time.Duration, workers int) *Importer {
	if chunkSize > 0 {
		im.chunkSize = chunkSize
	}
	if workers > 0 {
		im.workers = workers
	}
	return im
}

func (im *Importer) WithResultHook(fn func(ds string, r ChunkResult)) *Importer {
	im.onResult = fn
	return im
}

func (im *Importer) Stats() Stats { return im.counters.Stats() }

// Import runs one dataset. The summary is always reported, and returned
// alongside any error that cut the run short.
func (im *Importer) Import(ctx context.Context, ds Dataset, opts Options) (sum models.ImportSummary, err error) {
	mode := opts.Mode
	if mode == "" {
		mode = models.ModeInsert
	}
	sum = models.ImportSummary{
		RunID:     uuid.NewString(),
		Dataset:   ds.Name,
		Mode:      mode,
		StartedAt: im.now().UTC(),
	}
	defer func() {
		sum.FinishedAt = im.now().UTC()
		if err != nil {
			sum.Aborted = err.Error()
		}
		if im.reporter != nil {
			im.reporter.Report(ctx, sum)
		}
	}()

	en, err := im.enum.Enumerate(ctx, ds.Name, opts.Filter, mode)
	if err != nil {
		return sum, err
	}
	for _, ref := range en.Sessions {
		sum.AddSession(ref)
	}
	sum.SkippedSessions = en.SkippedSessions
	sum.Triplets = len(en.Jobs)

	workers := im.workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	d := NewDispatcher(NewWorker(im.api, im.store, ds, mode)).
		WithWorkers(workers).
		WithCounters(im.counters)
	if im.onResult != nil {
		d = d.WithResultHook(func(r ChunkResult) { im.onResult(ds.Name, r) })
	}

	totals, err := d.Run(ctx, UnitsOf(en.Jobs, im.chunkSize))
	totals.applyTo(&sum)
	return sum, err
}
