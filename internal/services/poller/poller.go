// Package poller keeps telemetry of recently finished sessions imported.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/PitWall/internal/models"
	"github.com/BearBump/PitWall/internal/services/telemetry"
)

type SessionLister interface {
	EndedSessions(ctx context.Context, since, until time.Time) ([]*models.Session, error)
}

type Importer interface {
	Import(ctx context.Context, ds telemetry.Dataset, opts telemetry.Options) (models.ImportSummary, error)
}

// settledKey names one dataset of one session.
type settledKey struct {
	sessionKey int
	dataset    string
}

type Poller struct {
	sessions SessionLister
	imp      Importer
	datasets []telemetry.Dataset

	planner *Planner

	lookback time.Duration
	settle   time.Duration
	now      func() time.Time

	triggerCh chan struct{}

	// settled holds session datasets whose last clean insert-mode run wrote
	// nothing. Triplets without upstream data (a driver who did not start)
	// would otherwise be re-fetched every cycle for the whole lookback.
	// Only touched by runOnce.
	settled map[settledKey]struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	nextCycleUnixNano   atomic.Int64
	totalCycles         atomic.Int64
	totalSessions       atomic.Int64
	totalRuns           atomic.Int64
	totalInserted       atomic.Int64
	totalErrors         atomic.Int64
	totalSkipped        atomic.Int64
	running             atomic.Bool
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(sessions SessionLister, imp Importer) *Poller {
	return &Poller{
		sessions:          sessions,
		imp:               imp,
		datasets:          []telemetry.Dataset{telemetry.CarData, telemetry.Location},
		planner:           NewPlanner(DefaultPlannerConfig()),
		lookback:          72 * time.Hour,
		settle:            30 * time.Minute,
		now:               time.Now,
		triggerCh:         make(chan struct{}, 1),
		settled:           make(map[settledKey]struct{}),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

// WithSettings: sessions that ended between lookback and settle ago are
// eligible for import.
func (p *Poller) WithSettings(lookback, settle time.Duration) *Poller {
	if lookback > 0 {
		p.lookback = lookback
	}
	if settle > 0 {
		p.settle = settle
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg)
	return p
}

func (p *Poller) WithDatasets(ds ...telemetry.Dataset) *Poller {
	if len(ds) > 0 {
		p.datasets = ds
	}
	return p
}

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	NextCycleAt   *time.Time `json:"nextCycleAt,omitempty"`
	TotalCycles   int64      `json:"totalCycles"`
	TotalSessions int64      `json:"totalSessions"`
	TotalRuns     int64      `json:"totalRuns"`
	TotalInserted int64      `json:"totalInserted"`
	TotalErrors   int64      `json:"totalErrors"`
	TotalSkipped  int64      `json:"totalSkipped"`
	Running       bool       `json:"running"`
	LastError     string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalCycles:   p.totalCycles.Load(),
		TotalSessions: p.totalSessions.Load(),
		TotalRuns:     p.totalRuns.Load(),
		TotalInserted: p.totalInserted.Load(),
		TotalErrors:   p.totalErrors.Load(),
		TotalSkipped:  p.totalSkipped.Load(),
		Running:       p.running.Load(),
	}
	st.LastCycleAt = unixPtr(p.lastCycleUnixNano.Load())
	st.LastTriggerAt = unixPtr(p.lastTriggerUnixNano.Load())
	st.NextCycleAt = unixPtr(p.nextCycleUnixNano.Load())
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func unixPtr(n int64) *time.Time {
	if n <= 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

// Run cycles until ctx is done. The first cycle starts immediately.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTimer(0)
	defer t.Stop()

	fails := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		case <-p.triggerCh:
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
		}

		found, err := p.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var delay time.Duration
		if err != nil {
			fails++
			delay = p.planner.BackoffDelay(fails)
		} else {
			fails = 0
			delay = p.planner.NextDelay(found)
		}
		p.nextCycleUnixNano.Store(time.Now().UTC().Add(delay).UnixNano())
		t.Reset(delay)
	}
}

// runOnce imports every eligible session. It reports whether any rows were
// written and fails only when the session list could not be read.
func (p *Poller) runOnce(ctx context.Context) (bool, error) {
	p.running.Store(true)
	defer p.running.Store(false)

	now := p.now().UTC()
	p.lastCycleUnixNano.Store(now.UnixNano())
	p.totalCycles.Add(1)

	sessions, err := p.sessions.EndedSessions(ctx, now.Add(-p.lookback), now.Add(-p.settle))
	if err != nil {
		err = errors.Wrap(err, "list ended sessions")
		slog.Error("poll cycle", "error", err.Error())
		p.setLastError(err)
		p.totalErrors.Add(1)
		return false, err
	}
	p.totalSessions.Add(int64(len(sessions)))
	p.pruneSettled(sessions)

	found := false
	for _, s := range sessions {
		for _, ds := range p.datasets {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			key := settledKey{sessionKey: s.SessionKey, dataset: ds.Name}
			if _, ok := p.settled[key]; ok {
				p.totalSkipped.Add(1)
				continue
			}
			sum, err := p.imp.Import(ctx, ds, telemetry.Options{
				Filter: models.SessionFilter{MeetingKey: s.MeetingKey, SessionKey: s.SessionKey},
				Mode:   models.ModeInsert,
			})
			p.totalRuns.Add(1)
			p.totalInserted.Add(sum.Inserted)
			if sum.Inserted > 0 {
				found = true
			}
			if err != nil {
				p.totalErrors.Add(1)
				p.setLastError(err)
				slog.Error("import session", "dataset", ds.Name, "session_key", s.SessionKey, "error", err.Error())
				continue
			}
			if n := sum.Errors(); n > 0 {
				p.totalErrors.Add(n)
				p.setLastError(errors.Errorf("%s session %d: %d errors", ds.Name, s.SessionKey, n))
				continue
			}
			if sum.Inserted == 0 {
				p.settled[key] = struct{}{}
			}
		}
	}
	return found, nil
}

// pruneSettled forgets sessions that left the lookback window.
func (p *Poller) pruneSettled(sessions []*models.Session) {
	listed := make(map[int]struct{}, len(sessions))
	for _, s := range sessions {
		listed[s.SessionKey] = struct{}{}
	}
	for k := range p.settled {
		if _, ok := listed[k.sessionKey]; !ok {
			delete(p.settled, k)
		}
	}
}
