package pgf1

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS meetings (
  meeting_key INT PRIMARY KEY,
  meeting_name TEXT NOT NULL DEFAULT '',
  meeting_official_name TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  country_code TEXT NOT NULL DEFAULT '',
  country_name TEXT NOT NULL DEFAULT '',
  circuit_short_name TEXT NOT NULL DEFAULT '',
  gmt_offset TEXT NOT NULL DEFAULT '',
  date_start TIMESTAMPTZ NULL,
  year INT NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_meetings_year ON meetings(year)`,
		`
CREATE TABLE IF NOT EXISTS sessions (
  id BIGSERIAL PRIMARY KEY,
  meeting_key INT NOT NULL,
  session_key INT NOT NULL,
  session_name TEXT NOT NULL DEFAULT '',
  session_type TEXT NOT NULL DEFAULT '',
  date_start TIMESTAMPTZ NULL,
  date_end TIMESTAMPTZ NULL,
  gmt_offset TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  country_name TEXT NOT NULL DEFAULT '',
  circuit_short_name TEXT NOT NULL DEFAULT '',
  year INT NOT NULL DEFAULT 0,
  UNIQUE (meeting_key, session_key)
)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_date_end ON sessions(date_end)`,
		`
CREATE TABLE IF NOT EXISTS drivers (
  id BIGSERIAL PRIMARY KEY,
  meeting_key INT NOT NULL,
  session_key INT NOT NULL,
  driver_number INT NOT NULL,
  broadcast_name TEXT NOT NULL DEFAULT '',
  full_name TEXT NOT NULL DEFAULT '',
  name_acronym TEXT NOT NULL DEFAULT '',
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  team_name TEXT NOT NULL DEFAULT '',
  team_colour TEXT NOT NULL DEFAULT '',
  headshot_url TEXT NOT NULL DEFAULT '',
  country_code TEXT NOT NULL DEFAULT '',
  UNIQUE (meeting_key, session_key, driver_number)
)`,
		`
CREATE TABLE IF NOT EXISTS race_control (
  id BIGSERIAL PRIMARY KEY,
  meeting_key INT NOT NULL,
  session_key INT NOT NULL,
  session_date TIMESTAMPTZ NOT NULL,
  category TEXT NOT NULL DEFAULT '',
  flag TEXT NOT NULL DEFAULT '',
  scope TEXT NOT NULL DEFAULT '',
  sector INT NULL,
  driver_number INT NULL,
  lap_number INT NULL,
  message TEXT NOT NULL DEFAULT '',
  UNIQUE (meeting_key, session_key, session_date)
)`,
		`CREATE INDEX IF NOT EXISTS idx_race_control_flag ON race_control(meeting_key, session_key, flag, session_date)`,
		`
CREATE TABLE IF NOT EXISTS car_data (
  id BIGSERIAL PRIMARY KEY,
  date TIMESTAMPTZ NOT NULL,
  session_key INT NOT NULL,
  meeting_key INT NOT NULL,
  driver_number INT NOT NULL,
  rpm INT NOT NULL DEFAULT 0,
  speed INT NOT NULL DEFAULT 0,
  n_gear INT NOT NULL DEFAULT 0,
  throttle INT NOT NULL DEFAULT 0,
  drs INT NOT NULL DEFAULT 0,
  brake INT NOT NULL DEFAULT 0,
  UNIQUE (date, session_key, meeting_key, driver_number)
)`,
		`CREATE INDEX IF NOT EXISTS idx_car_data_triplet_date ON car_data(meeting_key, session_key, driver_number, date)`,
		`
CREATE TABLE IF NOT EXISTS location (
  id BIGSERIAL PRIMARY KEY,
  date TIMESTAMPTZ NOT NULL,
  session_key INT NOT NULL,
  meeting_key INT NOT NULL,
  driver_number INT NOT NULL,
  x INT NOT NULL DEFAULT 0,
  y INT NOT NULL DEFAULT 0,
  z INT NOT NULL DEFAULT 0,
  UNIQUE (date, session_key, meeting_key, driver_number)
)`,
		`CREATE INDEX IF NOT EXISTS idx_location_triplet_date ON location(meeting_key, session_key, driver_number, date)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
