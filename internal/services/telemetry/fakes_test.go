package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/PitWall/internal/models"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func atPtr(s string) *time.Time {
	t := at(s)
	return &t
}

var errNotFound = errors.New("not found")

type fakeSessions struct {
	sessions map[models.SessionRef]*models.Session
	flags    map[models.SessionRef]map[string]time.Time // flag -> time
	flagErr  error
	calls    int
}

func (f *fakeSessions) GetSession(ctx context.Context, ref models.SessionRef) (*models.Session, error) {
	f.calls++
	s, ok := f.sessions[ref]
	if !ok {
		return nil, errNotFound
	}
	return s, nil
}

func (f *fakeSessions) FindFlagEvent(ctx context.Context, ref models.SessionRef, flag, messageContains string, latest bool) (time.Time, error) {
	if f.flagErr != nil {
		return time.Time{}, f.flagErr
	}
	t, ok := f.flags[ref][flag]
	if !ok {
		return time.Time{}, errNotFound
	}
	return t, nil
}

// memStore mimics the composite-key uniqueness of the telemetry tables.
type memStore struct {
	mu      sync.Mutex
	rows    map[models.SampleKey]models.Sample
	failErr error
	calls   int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[models.SampleKey]models.Sample)}
}

func (m *memStore) InsertSamples(ctx context.Context, table string, samples []models.Sample) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failErr != nil {
		return 0, m.failErr
	}
	return m.insertLocked(samples), nil
}

func (m *memStore) insertLocked(samples []models.Sample) int64 {
	var n int64
	for _, s := range samples {
		k := s.Key()
		if _, ok := m.rows[k]; ok {
			continue
		}
		m.rows[k] = s
		n++
	}
	return n
}

func (m *memStore) ReplaceSamples(ctx context.Context, table string, t models.Triplet, samples []models.Sample) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failErr != nil {
		return 0, 0, m.failErr
	}
	from, to := samples[0].Key().Date, samples[0].Key().Date
	for _, s := range samples {
		d := s.Key().Date
		if d.Before(from) {
			from = d
		}
		if d.After(to) {
			to = d
		}
	}
	var deleted int64
	for k := range m.rows {
		if k.Triplet == t && !k.Date.Before(from) && !k.Date.After(to) {
			delete(m.rows, k)
			deleted++
		}
	}
	return deleted, m.insertLocked(samples), nil
}

func (m *memStore) dates(t models.Triplet) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for k := range m.rows {
		if k.Triplet == t {
			out = append(out, k.Date)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

type fakeDrivers struct {
	drivers  []*models.Driver
	imported map[models.Triplet]struct{}
	err      error
}

func (f *fakeDrivers) ListDrivers(ctx context.Context, flt models.SessionFilter) ([]*models.Driver, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.Driver
	for _, d := range f.drivers {
		if flt.Matches(d.Triplet().Session()) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDrivers) ImportedTriplets(ctx context.Context, table string, flt models.SessionFilter) (map[models.Triplet]struct{}, error) {
	return f.imported, nil
}

type fakeWindows struct {
	windows map[models.SessionRef]Window
	calls   map[models.SessionRef]int
}

func (f *fakeWindows) Resolve(ctx context.Context, ref models.SessionRef) (Window, error) {
	if f.calls == nil {
		f.calls = make(map[models.SessionRef]int)
	}
	f.calls[ref]++
	w, ok := f.windows[ref]
	if !ok {
		return Window{}, ErrUnresolved
	}
	return w, nil
}

type recordingReporter struct {
	mu        sync.Mutex
	summaries []models.ImportSummary
}

func (r *recordingReporter) Report(ctx context.Context, s models.ImportSummary) {
	r.mu.Lock()
	r.summaries = append(r.summaries, s)
	r.mu.Unlock()
}
