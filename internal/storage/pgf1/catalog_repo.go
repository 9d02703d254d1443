package pgf1

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/PitWall/internal/models"
)

type catalogTable struct {
	name     string
	columns  []string
	conflict []string
}

var (
	meetingsTable = catalogTable{
		name: "meetings",
		columns: []string{
			"meeting_key", "meeting_name", "meeting_official_name", "location", "country_code",
			"country_name", "circuit_short_name", "gmt_offset", "date_start", "year",
		},
		conflict: []string{"meeting_key"},
	}
	sessionsTable = catalogTable{
		name: "sessions",
		columns: []string{
			"meeting_key", "session_key", "session_name", "session_type", "date_start", "date_end",
			"gmt_offset", "location", "country_name", "circuit_short_name", "year",
		},
		conflict: []string{"meeting_key", "session_key"},
	}
	driversTable = catalogTable{
		name: "drivers",
		columns: []string{
			"meeting_key", "session_key", "driver_number", "broadcast_name", "full_name", "name_acronym",
			"first_name", "last_name", "team_name", "team_colour", "headshot_url", "country_code",
		},
		conflict: []string{"meeting_key", "session_key", "driver_number"},
	}
	raceControlTable = catalogTable{
		name: "race_control",
		columns: []string{
			"meeting_key", "session_key", "session_date", "category", "flag", "scope",
			"sector", "driver_number", "lap_number", "message",
		},
		conflict: []string{"meeting_key", "session_key", "session_date"},
	}
)

// upsertSQL: insert mode skips conflicting rows, update mode overwrites them.
func (t catalogTable) upsertSQL(mode models.ImportMode) string {
	ph := make([]string, len(t.columns))
	for i := range t.columns {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		t.name, strings.Join(t.columns, ", "), strings.Join(ph, ", "), strings.Join(t.conflict, ", "))
	if mode != models.ModeUpdate {
		return q + "DO NOTHING"
	}

	isKey := make(map[string]bool, len(t.conflict))
	for _, c := range t.conflict {
		isKey[c] = true
	}
	var sets []string
	for _, c := range t.columns {
		if !isKey[c] {
			sets = append(sets, c+" = EXCLUDED."+c)
		}
	}
	return q + "DO UPDATE SET " + strings.Join(sets, ", ")
}

// upsert writes rows in one transaction and returns how many were inserted
// (or, in update mode, inserted or updated).
func (s *Storage) upsert(ctx context.Context, t catalogTable, mode models.ImportMode, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := t.upsertSQL(mode)
	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(q, r...)
	}
	br := tx.SendBatch(ctx, b)
	var affected int64
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, errors.Wrapf(err, "upsert %s", t.name)
		}
		affected += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, errors.Wrap(err, "close batch")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return affected, nil
}

func (s *Storage) UpsertMeetings(ctx context.Context, items []*models.Meeting, mode models.ImportMode) (int64, error) {
	rows := make([][]any, 0, len(items))
	for _, m := range items {
		rows = append(rows, []any{
			m.MeetingKey, m.MeetingName, m.MeetingOfficialName, m.Location, m.CountryCode,
			m.CountryName, m.CircuitShortName, m.GMTOffset, utcPtr(m.DateStart), m.Year,
		})
	}
	return s.upsert(ctx, meetingsTable, mode, rows)
}

func (s *Storage) UpsertSessions(ctx context.Context, items []*models.Session, mode models.ImportMode) (int64, error) {
	rows := make([][]any, 0, len(items))
	for _, m := range items {
		rows = append(rows, []any{
			m.MeetingKey, m.SessionKey, m.SessionName, m.SessionType, utcPtr(m.DateStart), utcPtr(m.DateEnd),
			m.GMTOffset, m.Location, m.CountryName, m.CircuitShortName, m.Year,
		})
	}
	return s.upsert(ctx, sessionsTable, mode, rows)
}

func (s *Storage) UpsertDrivers(ctx context.Context, items []*models.Driver, mode models.ImportMode) (int64, error) {
	rows := make([][]any, 0, len(items))
	for _, d := range items {
		rows = append(rows, []any{
			d.MeetingKey, d.SessionKey, d.DriverNumber, d.BroadcastName, d.FullName, d.NameAcronym,
			d.FirstName, d.LastName, d.TeamName, d.TeamColour, d.HeadshotURL, d.CountryCode,
		})
	}
	return s.upsert(ctx, driversTable, mode, rows)
}

func (s *Storage) UpsertRaceControl(ctx context.Context, items []*models.RaceControlEvent, mode models.ImportMode) (int64, error) {
	rows := make([][]any, 0, len(items))
	for _, e := range items {
		rows = append(rows, []any{
			e.MeetingKey, e.SessionKey, e.SessionDate.UTC(), e.Category, e.Flag, e.Scope,
			e.Sector, e.DriverNumber, e.LapNumber, e.Message,
		})
	}
	return s.upsert(ctx, raceControlTable, mode, rows)
}

const sessionColumns = `meeting_key, session_key, session_name, session_type, date_start, date_end,
  gmt_offset, location, country_name, circuit_short_name, year`

func scanSession(row pgx.Row) (*models.Session, error) {
	var m models.Session
	if err := row.Scan(
		&m.MeetingKey, &m.SessionKey, &m.SessionName, &m.SessionType, &m.DateStart, &m.DateEnd,
		&m.GMTOffset, &m.Location, &m.CountryName, &m.CircuitShortName, &m.Year,
	); err != nil {
		return nil, err
	}
	m.DateStart = utcPtr(m.DateStart)
	m.DateEnd = utcPtr(m.DateEnd)
	return &m, nil
}

func (s *Storage) GetSession(ctx context.Context, ref models.SessionRef) (*models.Session, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+sessionColumns+`
FROM sessions
WHERE meeting_key = $1 AND session_key = $2
`, ref.MeetingKey, ref.SessionKey)
	m, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select session")
	}
	return m, nil
}

// FindFlagEvent returns the time of the earliest (or, with latest, the last)
// race control event of the session carrying flag whose message contains
// messageContains, case-insensitively.
func (s *Storage) FindFlagEvent(ctx context.Context, ref models.SessionRef, flag, messageContains string, latest bool) (time.Time, error) {
	order := "ASC"
	if latest {
		order = "DESC"
	}
	var at time.Time
	err := s.db.QueryRow(ctx, `
SELECT session_date
FROM race_control
WHERE meeting_key = $1 AND session_key = $2
  AND flag = $3
  AND message ILIKE '%' || $4::text || '%'
ORDER BY session_date `+order+`
LIMIT 1
`, ref.MeetingKey, ref.SessionKey, flag, messageContains).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, "select flag event")
	}
	return at.UTC(), nil
}

func (s *Storage) ListMeetings(ctx context.Context, year int) ([]*models.Meeting, error) {
	rows, err := s.db.Query(ctx, `
SELECT meeting_key, meeting_name, meeting_official_name, location, country_code,
  country_name, circuit_short_name, gmt_offset, date_start, year
FROM meetings
WHERE ($1 = 0 OR year = $1)
ORDER BY date_start NULLS LAST, meeting_key
`, year)
	if err != nil {
		return nil, errors.Wrap(err, "select meetings")
	}
	defer rows.Close()

	var out []*models.Meeting
	for rows.Next() {
		var m models.Meeting
		if err := rows.Scan(
			&m.MeetingKey, &m.MeetingName, &m.MeetingOfficialName, &m.Location, &m.CountryCode,
			&m.CountryName, &m.CircuitShortName, &m.GMTOffset, &m.DateStart, &m.Year,
		); err != nil {
			return nil, errors.Wrap(err, "scan meeting")
		}
		m.DateStart = utcPtr(m.DateStart)
		out = append(out, &m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ListSessions filters by meeting (0 = any) and session type (case-insensitive, "" = any).
func (s *Storage) ListSessions(ctx context.Context, meetingKey int, sessionType string) ([]*models.Session, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+sessionColumns+`
FROM sessions
WHERE ($1 = 0 OR meeting_key = $1)
  AND ($2 = '' OR lower(session_type) = lower($2))
ORDER BY date_start NULLS LAST, session_key
`, meetingKey, sessionType)
	if err != nil {
		return nil, errors.Wrap(err, "select sessions")
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		m, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// EndedSessions returns sessions whose date_end falls in [since, until).
func (s *Storage) EndedSessions(ctx context.Context, since, until time.Time) ([]*models.Session, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+sessionColumns+`
FROM sessions
WHERE date_end >= $1 AND date_end < $2
ORDER BY date_end
`, since.UTC(), until.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "select ended sessions")
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		m, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListDrivers(ctx context.Context, f models.SessionFilter) ([]*models.Driver, error) {
	rows, err := s.db.Query(ctx, `
SELECT meeting_key, session_key, driver_number, broadcast_name, full_name, name_acronym,
  first_name, last_name, team_name, team_colour, headshot_url, country_code
FROM drivers
WHERE ($1 = 0 OR meeting_key = $1)
  AND ($2 = 0 OR session_key = $2)
ORDER BY meeting_key, session_key, driver_number
`, f.MeetingKey, f.SessionKey)
	if err != nil {
		return nil, errors.Wrap(err, "select drivers")
	}
	defer rows.Close()

	var out []*models.Driver
	for rows.Next() {
		var d models.Driver
		if err := rows.Scan(
			&d.MeetingKey, &d.SessionKey, &d.DriverNumber, &d.BroadcastName, &d.FullName, &d.NameAcronym,
			&d.FirstName, &d.LastName, &d.TeamName, &d.TeamColour, &d.HeadshotURL, &d.CountryCode,
		); err != nil {
			return nil, errors.Wrap(err, "scan driver")
		}
		out = append(out, &d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ListRaceControl returns events in session order. flag is matched exactly, "" = any.
func (s *Storage) ListRaceControl(ctx context.Context, f models.SessionFilter, flag string) ([]*models.RaceControlEvent, error) {
	rows, err := s.db.Query(ctx, `
SELECT meeting_key, session_key, session_date, category, flag, scope,
  sector, driver_number, lap_number, message
FROM race_control
WHERE ($1 = 0 OR meeting_key = $1)
  AND ($2 = 0 OR session_key = $2)
  AND ($3 = '' OR flag = $3)
ORDER BY meeting_key, session_key, session_date
`, f.MeetingKey, f.SessionKey, flag)
	if err != nil {
		return nil, errors.Wrap(err, "select race control")
	}
	defer rows.Close()

	var out []*models.RaceControlEvent
	for rows.Next() {
		var e models.RaceControlEvent
		if err := rows.Scan(
			&e.MeetingKey, &e.SessionKey, &e.SessionDate, &e.Category, &e.Flag, &e.Scope,
			&e.Sector, &e.DriverNumber, &e.LapNumber, &e.Message,
		); err != nil {
			return nil, errors.Wrap(err, "scan race control")
		}
		e.SessionDate = e.SessionDate.UTC()
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// MeetingsWithoutSessions lists meeting keys that have no session rows yet.
func (s *Storage) MeetingsWithoutSessions(ctx context.Context, meetingKey int) ([]int, error) {
	rows, err := s.db.Query(ctx, `
SELECT m.meeting_key
FROM meetings m
WHERE ($1 = 0 OR m.meeting_key = $1)
  AND NOT EXISTS (SELECT 1 FROM sessions s WHERE s.meeting_key = m.meeting_key)
ORDER BY m.meeting_key
`, meetingKey)
	if err != nil {
		return nil, errors.Wrap(err, "select meetings without sessions")
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, errors.Wrap(err, "collect meeting keys")
	}
	return keys, nil
}

// SessionsMissing lists sessions that have no rows in table (drivers or race_control).
func (s *Storage) SessionsMissing(ctx context.Context, table string, f models.SessionFilter) ([]models.SessionRef, error) {
	if table != driversTable.name && table != raceControlTable.name {
		return nil, errors.Errorf("unsupported table %q", table)
	}
	rows, err := s.db.Query(ctx, `
SELECT s.meeting_key, s.session_key
FROM sessions s
WHERE ($1 = 0 OR s.meeting_key = $1)
  AND ($2 = 0 OR s.session_key = $2)
  AND NOT EXISTS (
    SELECT 1 FROM `+table+` t
    WHERE t.meeting_key = s.meeting_key AND t.session_key = s.session_key
  )
ORDER BY s.meeting_key, s.session_key
`, f.MeetingKey, f.SessionKey)
	if err != nil {
		return nil, errors.Wrapf(err, "select sessions missing %s", table)
	}
	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SessionRef, error) {
		var r models.SessionRef
		err := row.Scan(&r.MeetingKey, &r.SessionKey)
		return r, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect session refs")
	}
	return refs, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
