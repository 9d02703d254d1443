package pgf1

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/PitWall/internal/models"
)

// sampleColumns lists the columns of each telemetry table in the order
// returned by models.Sample.Values.
var sampleColumns = map[string][]string{
	models.DatasetCarData:  {"date", "session_key", "meeting_key", "driver_number", "rpm", "speed", "n_gear", "throttle", "drs", "brake"},
	models.DatasetLocation: {"date", "session_key", "meeting_key", "driver_number", "x", "y", "z"},
}

func columnsFor(table string) ([]string, error) {
	cols, ok := sampleColumns[table]
	if !ok {
		return nil, errors.Errorf("unsupported telemetry table %q", table)
	}
	return cols, nil
}

// InsertSamples writes samples into table, skipping rows whose
// (date, session_key, meeting_key, driver_number) already exists.
// Returns the number of rows actually inserted.
func (s *Storage) InsertSamples(ctx context.Context, table string, samples []models.Sample) (int64, error) {
	cols, err := columnsFor(table)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted, err := copyIgnoringConflicts(ctx, tx, table, cols, samples)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return inserted, nil
}

// ReplaceSamples deletes the rows of t whose date lies within
// [min, max] of the batch dates, then inserts the batch. Rows of t outside
// that range are left alone even if they fall inside the requested chunk.
func (s *Storage) ReplaceSamples(ctx context.Context, table string, t models.Triplet, samples []models.Sample) (deleted, inserted int64, err error) {
	cols, err := columnsFor(table)
	if err != nil {
		return 0, 0, err
	}
	if len(samples) == 0 {
		return 0, 0, nil
	}

	from, to := dateRange(samples)

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
DELETE FROM `+table+`
WHERE meeting_key = $1 AND session_key = $2 AND driver_number = $3
  AND date >= $4 AND date <= $5
`, t.MeetingKey, t.SessionKey, t.DriverNumber, from, to)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "delete %s range", table)
	}

	inserted, err = copyIgnoringConflicts(ctx, tx, table, cols, samples)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, errors.Wrap(err, "commit tx")
	}
	return tag.RowsAffected(), inserted, nil
}

// copyIgnoringConflicts streams samples into a transaction-scoped temp table
// with COPY and moves them into table with ON CONFLICT DO NOTHING.
func copyIgnoringConflicts(ctx context.Context, tx pgx.Tx, table string, cols []string, samples []models.Sample) (int64, error) {
	tmp := "tmp_" + table
	colList := strings.Join(cols, ", ")

	if _, err := tx.Exec(ctx, `CREATE TEMP TABLE `+tmp+` ON COMMIT DROP AS SELECT `+colList+` FROM `+table+` WITH NO DATA`); err != nil {
		return 0, errors.Wrap(err, "create temp table")
	}

	_, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, cols, pgx.CopyFromSlice(len(samples), func(i int) ([]any, error) {
		return samples[i].Values(), nil
	}))
	if err != nil {
		return 0, errors.Wrap(err, "copy samples")
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO `+table+` (`+colList+`)
SELECT `+colList+` FROM `+tmp+`
ON CONFLICT (date, session_key, meeting_key, driver_number) DO NOTHING
`)
	if err != nil {
		return 0, errors.Wrapf(err, "insert %s", table)
	}

	if _, err := tx.Exec(ctx, `DROP TABLE `+tmp); err != nil {
		return 0, errors.Wrap(err, "drop temp table")
	}
	return tag.RowsAffected(), nil
}

func dateRange(samples []models.Sample) (time.Time, time.Time) {
	from := samples[0].Key().Date
	to := from
	for _, smp := range samples[1:] {
		d := smp.Key().Date
		if d.Before(from) {
			from = d
		}
		if d.After(to) {
			to = d
		}
	}
	return from.UTC(), to.UTC()
}

// ImportedTriplets returns the distinct (meeting, session, driver) keys
// already present in table.
func (s *Storage) ImportedTriplets(ctx context.Context, table string, f models.SessionFilter) (map[models.Triplet]struct{}, error) {
	if _, err := columnsFor(table); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
SELECT DISTINCT meeting_key, session_key, driver_number
FROM `+table+`
WHERE ($1 = 0 OR meeting_key = $1)
  AND ($2 = 0 OR session_key = $2)
`, f.MeetingKey, f.SessionKey)
	if err != nil {
		return nil, errors.Wrapf(err, "select %s triplets", table)
	}
	defer rows.Close()

	out := make(map[models.Triplet]struct{})
	for rows.Next() {
		var t models.Triplet
		if err := rows.Scan(&t.MeetingKey, &t.SessionKey, &t.DriverNumber); err != nil {
			return nil, errors.Wrap(err, "scan triplet")
		}
		out[t] = struct{}{}
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

const defaultSampleLimit = 1000

// sampleWhere builds the shared filter of the telemetry read queries.
func sampleWhere(q models.SampleQuery) (string, []any) {
	limit := q.Limit
	if limit <= 0 || limit > 10000 {
		limit = defaultSampleLimit
	}
	var from, to *time.Time
	if q.From != nil {
		f := q.From.UTC()
		from = &f
	}
	if q.To != nil {
		t := q.To.UTC()
		to = &t
	}
	return `
WHERE session_key = $1
  AND ($2 = 0 OR driver_number = $2)
  AND ($3::timestamptz IS NULL OR date >= $3)
  AND ($4::timestamptz IS NULL OR date < $4)
ORDER BY driver_number, date
LIMIT $5
`, []any{q.SessionKey, q.DriverNumber, from, to, limit}
}

func (s *Storage) ListCarData(ctx context.Context, q models.SampleQuery) ([]*models.CarData, error) {
	where, args := sampleWhere(q)
	rows, err := s.db.Query(ctx, `
SELECT date, session_key, meeting_key, driver_number, rpm, speed, n_gear, throttle, drs, brake
FROM car_data`+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select car data")
	}
	defer rows.Close()

	var out []*models.CarData
	for rows.Next() {
		var c models.CarData
		if err := rows.Scan(
			&c.Date, &c.SessionKey, &c.MeetingKey, &c.DriverNumber,
			&c.RPM, &c.Speed, &c.NGear, &c.Throttle, &c.DRS, &c.Brake,
		); err != nil {
			return nil, errors.Wrap(err, "scan car data")
		}
		c.Date = c.Date.UTC()
		out = append(out, &c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListLocation(ctx context.Context, q models.SampleQuery) ([]*models.Location, error) {
	where, args := sampleWhere(q)
	rows, err := s.db.Query(ctx, `
SELECT date, session_key, meeting_key, driver_number, x, y, z
FROM location`+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select location")
	}
	defer rows.Close()

	var out []*models.Location
	for rows.Next() {
		var l models.Location
		if err := rows.Scan(&l.Date, &l.SessionKey, &l.MeetingKey, &l.DriverNumber, &l.X, &l.Y, &l.Z); err != nil {
			return nil, errors.Wrap(err, "scan location")
		}
		l.Date = l.Date.UTC()
		out = append(out, &l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
