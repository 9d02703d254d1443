package telemetry

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/PitWall/internal/models"
)

const DefaultWorkers = 4

type Processor interface {
	Process(ctx context.Context, u Unit) ChunkResult
}

// Totals is the reduction of every ChunkResult of a run.
type Totals struct {
	Units       int64
	Fetched     int64
	Inserted    int64
	Skipped     int64
	Deleted     int64
	APIErrors   int64
	BuildErrors int64
	DBErrors    int64
}

func (t *Totals) add(r ChunkResult) {
	t.Units++
	t.Fetched += r.Fetched
	t.Inserted += r.Inserted
	t.Skipped += r.Skipped
	t.Deleted += r.Deleted
	t.BuildErrors += r.BuildErrors
	if r.APIError {
		t.APIErrors++
	}
	if r.DBError {
		t.DBErrors++
	}
}

func (t Totals) applyTo(s *models.ImportSummary) {
	s.Requests += t.Units
	s.Fetched += t.Fetched
	s.Inserted += t.Inserted
	s.Skipped += t.Skipped
	s.Deleted += t.Deleted
	s.APIErrors += t.APIErrors
	s.BuildErrors += t.BuildErrors
	s.DBErrors += t.DBErrors
}

// Counters are live progress numbers, safe to read while a run is going.
type Counters struct {
	submitted atomic.Int64
	completed atomic.Int64
	inFlight  atomic.Int64
	inserted  atomic.Int64
	errors    atomic.Int64
	lastRunAt atomic.Int64
}

type Stats struct {
	Submitted int64      `json:"submitted"`
	Completed int64      `json:"completed"`
	InFlight  int64      `json:"inFlight"`
	Inserted  int64      `json:"inserted"`
	Errors    int64      `json:"errors"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
}

func (c *Counters) Stats() Stats {
	st := Stats{
		Submitted: c.submitted.Load(),
		Completed: c.completed.Load(),
		InFlight:  c.inFlight.Load(),
		Inserted:  c.inserted.Load(),
		Errors:    c.errors.Load(),
	}
	if n := c.lastRunAt.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	return st
}

type Dispatcher struct {
	proc     Processor
	workers  int
	counters *Counters
	onResult func(ChunkResult)
}

func NewDispatcher(proc Processor) *Dispatcher {
	return &Dispatcher{proc: proc, workers: DefaultWorkers, counters: &Counters{}}
}

func (d *Dispatcher) WithWorkers(n int) *Dispatcher {
	if n > 0 {
		d.workers = n
	}
	return d
}

// WithCounters shares live counters across dispatchers.
func (d *Dispatcher) WithCounters(c *Counters) *Dispatcher {
	if c != nil {
		d.counters = c
	}
	return d
}

// WithResultHook is called once per finished unit from the reducing goroutine.
func (d *Dispatcher) WithResultHook(fn func(ChunkResult)) *Dispatcher {
	d.onResult = fn
	return d
}

func (d *Dispatcher) Stats() Stats { return d.counters.Stats() }

// Run processes every unit on at most d.workers goroutines and waits for all
// of them. Cancelling ctx stops dispatching new units; units already started
// run to completion. The returned error is ctx's when dispatch was cut short.
func (d *Dispatcher) Run(ctx context.Context, units iter.Seq[Unit]) (Totals, error) {
	d.counters.lastRunAt.Store(time.Now().UTC().UnixNano())

	results := make(chan ChunkResult, d.workers)
	var totals Totals
	reduced := make(chan struct{})
	go func() {
		defer close(reduced)
		for r := range results {
			totals.add(r)
			if d.onResult != nil {
				d.onResult(r)
			}
		}
	}()

	runCtx := context.WithoutCancel(ctx)
	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	var stopErr error

	for u := range units {
		// select picks randomly among ready cases, so a cancelled ctx is
		// checked on its own before and after taking a slot.
		if stopErr = ctx.Err(); stopErr != nil {
			break
		}
		select {
		case <-ctx.Done():
			stopErr = ctx.Err()
		case sem <- struct{}{}:
			if stopErr = ctx.Err(); stopErr != nil {
				<-sem
			}
		}
		if stopErr != nil {
			break
		}

		wg.Add(1)
		d.counters.submitted.Add(1)
		d.counters.inFlight.Add(1)
		go func() {
			defer func() {
				d.counters.inFlight.Add(-1)
				d.counters.completed.Add(1)
				<-sem
				wg.Done()
			}()
			r := d.processSafe(runCtx, u)
			d.counters.inserted.Add(r.Inserted)
			if r.APIError || r.DBError || r.BuildErrors > 0 {
				d.counters.errors.Add(1)
			}
			results <- r
		}()
	}

	wg.Wait()
	close(results)
	<-reduced

	if stopErr != nil {
		slog.Warn("dispatch stopped", "dispatched", totals.Units, "error", stopErr.Error())
	}
	return totals, stopErr
}

// processSafe turns a panic inside one unit into a failed result.
func (d *Dispatcher) processSafe(ctx context.Context, u Unit) (r ChunkResult) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("unit panicked", "session_key", u.Triplet.SessionKey, "driver_number", u.Triplet.DriverNumber, "panic", p)
			r = ChunkResult{Unit: u, DBError: true, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return d.proc.Process(ctx, u)
}

// UnitsOf expands jobs into (triplet, chunk) units lazily.
func UnitsOf(jobs []Job, chunkSize time.Duration) iter.Seq[Unit] {
	return func(yield func(Unit) bool) {
		for _, j := range jobs {
			for c := range Chunks(j.Window, chunkSize) {
				if !yield(Unit{Triplet: j.Triplet, Chunk: c}) {
					return
				}
			}
		}
	}
}
