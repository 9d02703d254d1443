// Package f1data serves the imported data to API clients, caching encoded
// responses per session.
package f1data

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/PitWall/internal/broker/messages"
	"github.com/BearBump/PitWall/internal/cache"
	"github.com/BearBump/PitWall/internal/models"
)

// ErrInvalid marks queries rejected before touching the database.
var ErrInvalid = errors.New("invalid query")

type Repository interface {
	ListMeetings(ctx context.Context, year int) ([]*models.Meeting, error)
	ListSessions(ctx context.Context, meetingKey int, sessionType string) ([]*models.Session, error)
	ListDrivers(ctx context.Context, f models.SessionFilter) ([]*models.Driver, error)
	ListRaceControl(ctx context.Context, f models.SessionFilter, flag string) ([]*models.RaceControlEvent, error)
	ListCarData(ctx context.Context, q models.SampleQuery) ([]*models.CarData, error)
	ListLocation(ctx context.Context, q models.SampleQuery) ([]*models.Location, error)
}

type Service struct {
	repo  Repository
	cache cache.BytesCache
	ttl   time.Duration

	observe func(hit bool)
}

func New(repo Repository, c cache.BytesCache, ttl time.Duration) *Service {
	return &Service{repo: repo, cache: c, ttl: ttl}
}

// WithCacheObserver is told whether each cacheable lookup hit.
func (s *Service) WithCacheObserver(fn func(hit bool)) *Service {
	s.observe = fn
	return s
}

func (s *Service) cacheOn() bool {
	return s.cache != nil && s.ttl > 0
}

// cached returns the value stored under key or loads, stores and returns it.
// The cache is best effort: its failures only cost a database round trip.
func cached[T any](ctx context.Context, s *Service, key string, load func() (T, error)) (T, error) {
	if s.cacheOn() {
		b, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("cache get", "key", key, "error", err.Error())
		}
		if ok {
			var v T
			if json.Unmarshal(b, &v) == nil {
				s.hit(true)
				return v, nil
			}
		}
		s.hit(false)
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	if s.cacheOn() {
		if b, err := json.Marshal(v); err == nil {
			if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
				slog.Warn("cache set", "key", key, "error", err.Error())
			}
		}
	}
	return v, nil
}

func (s *Service) hit(ok bool) {
	if s.observe != nil {
		s.observe(ok)
	}
}

func (s *Service) Meetings(ctx context.Context, year int) ([]*models.Meeting, error) {
	return cached(ctx, s, fmt.Sprintf("%sy%d", meetingsPrefix, year), func() ([]*models.Meeting, error) {
		return s.repo.ListMeetings(ctx, year)
	})
}

func (s *Service) Sessions(ctx context.Context, meetingKey int, sessionType string) ([]*models.Session, error) {
	return cached(ctx, s, fmt.Sprintf("%sm%d:t%s", sessionsPrefix, meetingKey, sessionType), func() ([]*models.Session, error) {
		return s.repo.ListSessions(ctx, meetingKey, sessionType)
	})
}

func (s *Service) Drivers(ctx context.Context, f models.SessionFilter) ([]*models.Driver, error) {
	if f.MeetingKey == 0 && f.SessionKey == 0 {
		return nil, errors.Wrap(ErrInvalid, "meeting_key or session_key is required")
	}
	key := sessionKey(f.SessionKey, models.DatasetDrivers) + fmt.Sprintf("m%d", f.MeetingKey)
	return cached(ctx, s, key, func() ([]*models.Driver, error) {
		return s.repo.ListDrivers(ctx, f)
	})
}

func (s *Service) RaceControl(ctx context.Context, f models.SessionFilter, flag string) ([]*models.RaceControlEvent, error) {
	if f.MeetingKey == 0 && f.SessionKey == 0 {
		return nil, errors.Wrap(ErrInvalid, "meeting_key or session_key is required")
	}
	key := sessionKey(f.SessionKey, models.DatasetRaceControl) + fmt.Sprintf("m%d:f%s", f.MeetingKey, flag)
	return cached(ctx, s, key, func() ([]*models.RaceControlEvent, error) {
		return s.repo.ListRaceControl(ctx, f, flag)
	})
}

func (s *Service) CarData(ctx context.Context, q models.SampleQuery) ([]*models.CarData, error) {
	if err := checkSampleQuery(q); err != nil {
		return nil, err
	}
	return cached(ctx, s, sampleKey(models.DatasetCarData, q), func() ([]*models.CarData, error) {
		return s.repo.ListCarData(ctx, q)
	})
}

func (s *Service) Location(ctx context.Context, q models.SampleQuery) ([]*models.Location, error) {
	if err := checkSampleQuery(q); err != nil {
		return nil, err
	}
	return cached(ctx, s, sampleKey(models.DatasetLocation, q), func() ([]*models.Location, error) {
		return s.repo.ListLocation(ctx, q)
	})
}

func checkSampleQuery(q models.SampleQuery) error {
	if q.SessionKey <= 0 {
		return errors.Wrap(ErrInvalid, "session_key is required")
	}
	if q.From != nil && q.To != nil && !q.From.Before(*q.To) {
		return errors.Wrap(ErrInvalid, "date_from must be before date_to")
	}
	return nil
}

// ApplyIngestCompleted drops the cached responses a finished run made stale.
func (s *Service) ApplyIngestCompleted(ctx context.Context, msg messages.IngestCompleted) error {
	if msg.Dataset == "" {
		return errors.New("dataset is required")
	}
	if !s.cacheOn() || !msg.Changed() {
		return nil
	}

	for _, p := range invalidationPrefixes(msg) {
		n, err := s.cache.DeletePrefix(ctx, p)
		if err != nil {
			return errors.Wrapf(err, "invalidate %s", p)
		}
		slog.Debug("cache invalidated", "run_id", msg.RunID, "prefix", p, "keys", n)
	}
	return nil
}
