package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/PitWall/internal/models"
)

type funcProcessor func(ctx context.Context, u Unit) ChunkResult

func (f funcProcessor) Process(ctx context.Context, u Unit) ChunkResult { return f(ctx, u) }

func unitsN(n int) []Job {
	start := at("2024-03-01T10:00:00Z")
	var jobs []Job
	for i := 0; i < n; i++ {
		jobs = append(jobs, Job{
			Triplet: models.Triplet{MeetingKey: 1, SessionKey: 2, DriverNumber: i + 1},
			Window:  Window{Start: start, End: start.Add(50 * time.Minute)},
		})
	}
	return jobs
}

func TestDispatcher_BoundedAndReduced(t *testing.T) {
	var cur, peak atomic.Int32
	proc := funcProcessor(func(ctx context.Context, u Unit) ChunkResult {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		cur.Add(-1)

		r := ChunkResult{Unit: u, Fetched: 10, Inserted: 8, Skipped: 2}
		if u.Triplet.DriverNumber == 3 {
			r = ChunkResult{Unit: u, APIError: true}
		}
		return r
	})

	var hooked atomic.Int32
	d := NewDispatcher(proc).WithWorkers(3).WithResultHook(func(ChunkResult) { hooked.Add(1) })
	// 5 triplets x 3 chunks.
	totals, err := d.Run(context.Background(), UnitsOf(unitsN(5), 20*time.Minute))
	require.NoError(t, err)

	require.LessOrEqual(t, peak.Load(), int32(3))
	require.Equal(t, int64(15), totals.Units)
	require.Equal(t, int64(12*8), totals.Inserted)
	require.Equal(t, int64(12*2), totals.Skipped)
	require.Equal(t, int64(3), totals.APIErrors)
	require.Equal(t, int32(15), hooked.Load())

	st := d.Stats()
	require.Equal(t, int64(15), st.Submitted)
	require.Equal(t, int64(15), st.Completed)
	require.Zero(t, st.InFlight)
	require.Equal(t, int64(3), st.Errors)
	require.NotNil(t, st.LastRunAt)
}

func TestDispatcher_DefaultsToFourWorkers(t *testing.T) {
	require.Equal(t, 4, NewDispatcher(nil).workers)
	require.Equal(t, 4, NewDispatcher(nil).WithWorkers(0).workers)
}

func TestDispatcher_CancelStopsDispatchButFinishesStarted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	var started, finished atomic.Int32
	var once sync.Once

	proc := funcProcessor(func(pctx context.Context, u Unit) ChunkResult {
		started.Add(1)
		once.Do(cancel)
		<-release
		// Started units keep a live context.
		assert.NoError(t, pctx.Err())
		finished.Add(1)
		return ChunkResult{Unit: u, Inserted: 1}
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	totals, err := NewDispatcher(proc).WithWorkers(2).Run(ctx, UnitsOf(unitsN(10), 20*time.Minute))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, started.Load(), finished.Load())
	// Only units dispatched before the cancel ran; no new slot is taken after it.
	require.LessOrEqual(t, started.Load(), int32(2))
	require.Equal(t, int64(started.Load()), totals.Units)
}

func TestDispatcher_PreCancelledContextStartsNothing(t *testing.T) {
	for i := 0; i < 200; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var started atomic.Int32
		proc := funcProcessor(func(ctx context.Context, u Unit) ChunkResult {
			started.Add(1)
			return ChunkResult{Unit: u, Inserted: 1}
		})

		d := NewDispatcher(proc).WithWorkers(4)
		totals, err := d.Run(ctx, UnitsOf(unitsN(10), time.Hour))
		require.ErrorIs(t, err, context.Canceled)
		require.Zero(t, started.Load(), "run %d", i)
		require.Zero(t, totals.Units)
		require.Zero(t, d.Stats().Submitted)
	}
}

func TestDispatcher_PanicBecomesFailedUnit(t *testing.T) {
	proc := funcProcessor(func(ctx context.Context, u Unit) ChunkResult {
		if u.Triplet.DriverNumber == 1 {
			panic("boom")
		}
		return ChunkResult{Unit: u, Inserted: 1}
	})

	totals, err := NewDispatcher(proc).Run(context.Background(), UnitsOf(unitsN(2), time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), totals.Units)
	require.Equal(t, int64(1), totals.Inserted)
	require.Equal(t, int64(1), totals.DBErrors)
}
