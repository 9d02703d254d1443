package models

import (
	"fmt"
	"strings"
	"time"
)

// ImportMode selects how conflicting rows are handled.
type ImportMode string

const (
	ModeInsert ImportMode = "I" // skip rows that already exist
	ModeUpdate ImportMode = "U" // replace existing rows
)

func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ModeInsert:
		return ModeInsert, nil
	case ModeUpdate:
		return ModeUpdate, nil
	default:
		return "", fmt.Errorf("unknown import mode %q (want I or U)", s)
	}
}

// Dataset names double as OpenF1 endpoint names and table names.
const (
	DatasetMeetings    = "meetings"
	DatasetSessions    = "sessions"
	DatasetDrivers     = "drivers"
	DatasetRaceControl = "race_control"
	DatasetCarData     = "car_data"
	DatasetLocation    = "location"
)

// ImportSummary is the outcome of one import run.
type ImportSummary struct {
	RunID   string     `json:"run_id"`
	Dataset string     `json:"dataset"`
	Mode    ImportMode `json:"mode"`

	Sessions        []SessionRef `json:"sessions,omitempty"`
	SkippedSessions int          `json:"skipped_sessions"`
	Triplets        int          `json:"triplets"`
	Requests        int64        `json:"requests"`

	Fetched     int64 `json:"fetched"`
	Inserted    int64 `json:"inserted"`
	Skipped     int64 `json:"skipped"`
	Deleted     int64 `json:"deleted"`
	APIErrors   int64 `json:"api_errors"`
	BuildErrors int64 `json:"build_errors"`
	DBErrors    int64 `json:"db_errors"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Aborted    string    `json:"aborted,omitempty"`
}

func (s ImportSummary) Errors() int64 {
	return s.APIErrors + s.BuildErrors + s.DBErrors
}

func (s ImportSummary) String() string {
	return fmt.Sprintf(
		"%s [%s]: requests=%d fetched=%d inserted=%d skipped=%d deleted=%d api_errors=%d build_errors=%d db_errors=%d skipped_sessions=%d duration=%s",
		s.Dataset, s.Mode, s.Requests, s.Fetched, s.Inserted, s.Skipped, s.Deleted,
		s.APIErrors, s.BuildErrors, s.DBErrors, s.SkippedSessions, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond),
	)
}

// AddSession records a session touched by the run, once.
func (s *ImportSummary) AddSession(ref SessionRef) {
	for _, r := range s.Sessions {
		if r == ref {
			return
		}
	}
	s.Sessions = append(s.Sessions, ref)
}
