package telemetry

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/BearBump/PitWall/internal/models"
)

// DriverSource lists drivers and the triplets a telemetry table already holds.
type DriverSource interface {
	ListDrivers(ctx context.Context, f models.SessionFilter) ([]*models.Driver, error)
	ImportedTriplets(ctx context.Context, table string, f models.SessionFilter) (map[models.Triplet]struct{}, error)
}

type WindowResolver interface {
	Resolve(ctx context.Context, ref models.SessionRef) (Window, error)
}

// Job is one triplet paired with the window of its session.
type Job struct {
	Triplet models.Triplet
	Window  Window
}

type Enumeration struct {
	Jobs            []Job
	Sessions        []models.SessionRef
	SkippedSessions int
}

type Enumerator struct {
	drivers DriverSource
	windows WindowResolver
}

func NewEnumerator(drivers DriverSource, windows WindowResolver) *Enumerator {
	return &Enumerator{drivers: drivers, windows: windows}
}

// Enumerate returns the triplets of table that need fetching. In insert mode
// triplets already present in table are left out. Each session's window is
// resolved once; sessions that fail to resolve or have an empty window are
// dropped with one warning each.
func (e *Enumerator) Enumerate(ctx context.Context, table string, f models.SessionFilter, mode models.ImportMode) (Enumeration, error) {
	drivers, err := e.drivers.ListDrivers(ctx, f)
	if err != nil {
		return Enumeration{}, errors.Wrap(err, "list drivers")
	}

	var done map[models.Triplet]struct{}
	if mode == models.ModeInsert {
		done, err = e.drivers.ImportedTriplets(ctx, table, f)
		if err != nil {
			return Enumeration{}, errors.Wrap(err, "imported triplets")
		}
	}

	type group struct {
		ref      models.SessionRef
		triplets []models.Triplet
	}
	var groups []*group
	byRef := make(map[models.SessionRef]*group)
	for _, d := range drivers {
		t := d.Triplet()
		if _, ok := done[t]; ok {
			continue
		}
		g, ok := byRef[t.Session()]
		if !ok {
			g = &group{ref: t.Session()}
			byRef[g.ref] = g
			groups = append(groups, g)
		}
		g.triplets = append(g.triplets, t)
	}

	var out Enumeration
	for _, g := range groups {
		w, err := e.windows.Resolve(ctx, g.ref)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			slog.Warn("skip session: window not resolved",
				"meeting_key", g.ref.MeetingKey, "session_key", g.ref.SessionKey, "drivers", len(g.triplets), "error", err.Error())
			out.SkippedSessions++
			continue
		}
		if err := CheckWindow(w); err != nil {
			slog.Warn("skip session: empty window",
				"meeting_key", g.ref.MeetingKey, "session_key", g.ref.SessionKey, "drivers", len(g.triplets), "error", err.Error())
			out.SkippedSessions++
			continue
		}

		out.Sessions = append(out.Sessions, g.ref)
		for _, t := range g.triplets {
			out.Jobs = append(out.Jobs, Job{Triplet: t, Window: w})
		}
	}
	return out, nil
}
