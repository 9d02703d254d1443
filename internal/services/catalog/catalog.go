package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BearBump/PitWall/internal/integrations/openf1"
	"github.com/BearBump/PitWall/internal/models"
)

type Fetcher interface {
	Get(ctx context.Context, endpoint string, filters ...openf1.Filter) ([]json.RawMessage, error)
}

type Store interface {
	UpsertMeetings(ctx context.Context, items []*models.Meeting, mode models.ImportMode) (int64, error)
	UpsertSessions(ctx context.Context, items []*models.Session, mode models.ImportMode) (int64, error)
	UpsertDrivers(ctx context.Context, items []*models.Driver, mode models.ImportMode) (int64, error)
	UpsertRaceControl(ctx context.Context, items []*models.RaceControlEvent, mode models.ImportMode) (int64, error)

	MeetingsWithoutSessions(ctx context.Context, meetingKey int) ([]int, error)
	SessionsMissing(ctx context.Context, table string, f models.SessionFilter) ([]models.SessionRef, error)
}

type Reporter interface {
	Report(ctx context.Context, s models.ImportSummary)
}

// Importer loads the small reference datasets one request at a time.
type Importer struct {
	api      Fetcher
	store    Store
	reporter Reporter

	delay time.Duration
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(api Fetcher, store Store, reporter Reporter) *Importer {
	return &Importer{
		api:      api,
		store:    store,
		reporter: reporter,
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// WithRequestDelay pauses between consecutive upstream calls of one run.
func (im *Importer) WithRequestDelay(d time.Duration) *Importer {
	if d > 0 {
		im.delay = d
	}
	return im
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run wraps one import: a fresh summary, reported on every exit path.
func (im *Importer) run(ctx context.Context, dataset string, mode models.ImportMode, body func(sum *models.ImportSummary) error) (sum models.ImportSummary, err error) {
	if mode == "" {
		mode = models.ModeInsert
	}
	sum = models.ImportSummary{
		RunID:     uuid.NewString(),
		Dataset:   dataset,
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
	err = body(&sum)
	return sum, err
}

// request is the filter set of one upstream call.
type request []openf1.Filter

// fetchEach issues requests in order, with the configured delay between
// them, and hands every successful response to handle. Upstream failures
// are counted; only cancellation stops the loop.
func (im *Importer) fetchEach(ctx context.Context, sum *models.ImportSummary, reqs []request, handle func(recs []json.RawMessage)) error {
	for i, r := range reqs {
		if i > 0 && im.delay > 0 {
			if err := im.sleep(ctx, im.delay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		sum.Requests++
		recs, err := im.api.Get(ctx, sum.Dataset, r...)
		if err != nil {
			sum.APIErrors++
			slog.Warn("fetch catalog", "dataset", sum.Dataset, "filters", describe(r), "error", err.Error())
			continue
		}
		sum.Fetched += int64(len(recs))
		handle(recs)
	}
	return nil
}

// persist writes one parsed batch and folds the outcome into sum.
func persist[T any](ctx context.Context, sum *models.ImportSummary, items []*T, upsert func(context.Context, []*T, models.ImportMode) (int64, error)) {
	if len(items) == 0 {
		return
	}
	n, err := upsert(ctx, items, sum.Mode)
	if err != nil {
		sum.DBErrors++
		slog.Error("store catalog", "dataset", sum.Dataset, "rows", len(items), "error", err.Error())
		return
	}
	sum.Inserted += n
	sum.Skipped += int64(len(items)) - n
}

// parseAll decodes recs, dropping and counting the ones that fail.
func parseAll[T any](sum *models.ImportSummary, recs []json.RawMessage, parse func(json.RawMessage) (T, error)) []*T {
	out := make([]*T, 0, len(recs))
	for _, raw := range recs {
		v, err := parse(raw)
		if err != nil {
			sum.BuildErrors++
			slog.Debug("drop record", "dataset", sum.Dataset, "error", err.Error())
			continue
		}
		out = append(out, &v)
	}
	return out
}

func describe(r request) string {
	s := ""
	for i, f := range r {
		if i > 0 {
			s += "&"
		}
		s += f.String()
	}
	return s
}

func sessionFilters(f models.SessionFilter) request {
	var r request
	if f.MeetingKey > 0 {
		r = append(r, openf1.Eq("meeting_key", f.MeetingKey))
	}
	if f.SessionKey > 0 {
		r = append(r, openf1.Eq("session_key", f.SessionKey))
	}
	return r
}

// ImportMeetings fetches the meetings of a year and/or a single meeting.
// With neither, the whole calendar is fetched.
func (im *Importer) ImportMeetings(ctx context.Context, year, meetingKey int, mode models.ImportMode) (models.ImportSummary, error) {
	return im.run(ctx, models.DatasetMeetings, mode, func(sum *models.ImportSummary) error {
		var r request
		if year > 0 {
			r = append(r, openf1.Eq("year", year))
		}
		if meetingKey > 0 {
			r = append(r, openf1.Eq("meeting_key", meetingKey))
		}
		return im.fetchEach(ctx, sum, []request{r}, func(recs []json.RawMessage) {
			persist(ctx, sum, parseAll(sum, recs, openf1.ParseMeeting), im.store.UpsertMeetings)
		})
	})
}

// ImportSessions fetches sessions for the given keys. Without keys, insert
// mode asks for each meeting that has no sessions yet and update mode
// refreshes everything in one call.
func (im *Importer) ImportSessions(ctx context.Context, f models.SessionFilter, mode models.ImportMode) (models.ImportSummary, error) {
	return im.run(ctx, models.DatasetSessions, mode, func(sum *models.ImportSummary) error {
		reqs := []request{sessionFilters(f)}
		if f.MeetingKey == 0 && f.SessionKey == 0 && sum.Mode == models.ModeInsert {
			keys, err := im.store.MeetingsWithoutSessions(ctx, 0)
			if err != nil {
				return err
			}
			reqs = reqs[:0]
			for _, mk := range keys {
				reqs = append(reqs, request{openf1.Eq("meeting_key", mk)})
			}
		}
		return im.fetchEach(ctx, sum, reqs, func(recs []json.RawMessage) {
			items := parseAll(sum, recs, openf1.ParseSession)
			for _, s := range items {
				sum.AddSession(s.Ref())
			}
			persist(ctx, sum, items, im.store.UpsertSessions)
		})
	})
}

func (im *Importer) ImportDrivers(ctx context.Context, f models.SessionFilter, mode models.ImportMode) (models.ImportSummary, error) {
	return im.run(ctx, models.DatasetDrivers, mode, func(sum *models.ImportSummary) error {
		reqs, err := im.perSessionRequests(ctx, models.DatasetDrivers, f, sum.Mode)
		if err != nil {
			return err
		}
		return im.fetchEach(ctx, sum, reqs, func(recs []json.RawMessage) {
			items := parseAll(sum, recs, openf1.ParseDriver)
			for _, d := range items {
				sum.AddSession(d.Triplet().Session())
			}
			persist(ctx, sum, items, im.store.UpsertDrivers)
		})
	})
}

func (im *Importer) ImportRaceControl(ctx context.Context, f models.SessionFilter, mode models.ImportMode) (models.ImportSummary, error) {
	return im.run(ctx, models.DatasetRaceControl, mode, func(sum *models.ImportSummary) error {
		reqs, err := im.perSessionRequests(ctx, models.DatasetRaceControl, f, sum.Mode)
		if err != nil {
			return err
		}
		return im.fetchEach(ctx, sum, reqs, func(recs []json.RawMessage) {
			items := parseAll(sum, recs, openf1.ParseRaceControl)
			for _, e := range items {
				sum.AddSession(models.SessionRef{MeetingKey: e.MeetingKey, SessionKey: e.SessionKey})
			}
			persist(ctx, sum, items, im.store.UpsertRaceControl)
		})
	})
}

// perSessionRequests: explicit keys give one request. Otherwise insert mode
// asks once per session missing rows in table, within f's meeting.
func (im *Importer) perSessionRequests(ctx context.Context, table string, f models.SessionFilter, mode models.ImportMode) ([]request, error) {
	if f.SessionKey > 0 || mode == models.ModeUpdate {
		return []request{sessionFilters(f)}, nil
	}
	refs, err := im.store.SessionsMissing(ctx, table, f)
	if err != nil {
		return nil, err
	}
	reqs := make([]request, 0, len(refs))
	for _, ref := range refs {
		reqs = append(reqs, request{
			openf1.Eq("meeting_key", ref.MeetingKey),
			openf1.Eq("session_key", ref.SessionKey),
		})
	}
	return reqs, nil
}
