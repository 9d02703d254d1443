package messages

import (
	"time"

	"github.com/BearBump/PitWall/internal/models"
)

// IngestCompleted is published once per finished import run.
type IngestCompleted struct {
	RunID   string            `json:"run_id"`
	Dataset string            `json:"dataset"`
	Mode    models.ImportMode `json:"mode"`

	Sessions []models.SessionRef `json:"sessions,omitempty"`

	Fetched  int64 `json:"fetched"`
	Inserted int64 `json:"inserted"`
	Skipped  int64 `json:"skipped"`
	Deleted  int64 `json:"deleted"`
	Errors   int64 `json:"errors"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Aborted *string `json:"aborted,omitempty"`
}

func FromSummary(s models.ImportSummary) IngestCompleted {
	m := IngestCompleted{
		RunID:      s.RunID,
		Dataset:    s.Dataset,
		Mode:       s.Mode,
		Sessions:   s.Sessions,
		Fetched:    s.Fetched,
		Inserted:   s.Inserted,
		Skipped:    s.Skipped,
		Deleted:    s.Deleted,
		Errors:     s.Errors(),
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
	if s.Aborted != "" {
		a := s.Aborted
		m.Aborted = &a
	}
	return m
}

// Changed reports whether the run wrote or removed any rows.
func (m IngestCompleted) Changed() bool {
	return m.Inserted > 0 || m.Deleted > 0
}
