package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/PitWall/internal/models"
)

// ErrUnresolved means no usable start/end could be found for a session.
var ErrUnresolved = errors.New("session window unresolved")

// Window is the period telemetry is requested for, margins included.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// Empty reports a zero or negative duration.
func (w Window) Empty() bool { return !w.End.After(w.Start) }

type WindowConfig struct {
	Margin          time.Duration // subtracted from start, added to end
	QualifyingExtra time.Duration // added to the end of qualifying sessions only
	Location        *time.Location
}

func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Margin:          10 * time.Minute,
		QualifyingExtra: 5 * time.Minute,
		Location:        time.UTC,
	}
}

// SessionSource is the read side of the catalog the resolver needs.
type SessionSource interface {
	GetSession(ctx context.Context, ref models.SessionRef) (*models.Session, error)
	FindFlagEvent(ctx context.Context, ref models.SessionRef, flag, messageContains string, latest bool) (time.Time, error)
}

type Resolver struct {
	src SessionSource
	cfg WindowConfig
}

func NewResolver(src SessionSource, cfg WindowConfig) *Resolver {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Resolver{src: src, cfg: cfg}
}

// Resolve returns the telemetry window of a session. Races and qualifying
// sessions are bounded by the first green light and the last chequered flag
// when both are on record; everything else uses the scheduled dates.
func (r *Resolver) Resolve(ctx context.Context, ref models.SessionRef) (Window, error) {
	s, err := r.src.GetSession(ctx, ref)
	if err != nil {
		return Window{}, errors.Wrapf(err, "session %d/%d", ref.MeetingKey, ref.SessionKey)
	}

	start, end := s.DateStart, s.DateEnd
	typ := s.NormalizedType()

	if typ == models.SessionTypeRace || typ == models.SessionTypeQualifying {
		green, chequered, err := r.flagBounds(ctx, ref)
		switch {
		case err == nil:
			start, end = &green, &chequered
		case ctx.Err() != nil:
			return Window{}, ctx.Err()
		default:
			slog.Warn("race control bounds unavailable, using session dates",
				"meeting_key", ref.MeetingKey, "session_key", ref.SessionKey, "session_type", typ, "error", err.Error())
		}
	}

	if start == nil || end == nil {
		return Window{}, errors.Wrapf(ErrUnresolved, "session %d/%d has no start or end", ref.MeetingKey, ref.SessionKey)
	}

	w := Window{
		Start: start.In(r.cfg.Location).Add(-r.cfg.Margin),
		End:   end.In(r.cfg.Location).Add(r.cfg.Margin),
	}
	if typ == models.SessionTypeQualifying {
		w.End = w.End.Add(r.cfg.QualifyingExtra)
	}
	return w, nil
}

func (r *Resolver) flagBounds(ctx context.Context, ref models.SessionRef) (time.Time, time.Time, error) {
	green, err := r.src.FindFlagEvent(ctx, ref, models.FlagGreen, "GREEN LIGHT", false)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrap(err, "green light")
	}
	chequered, err := r.src.FindFlagEvent(ctx, ref, models.FlagChequered, "CHEQUERED FLAG", true)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrap(err, "chequered flag")
	}
	return green, chequered, nil
}
